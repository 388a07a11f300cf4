package game

import (
	"github.com/gammazero/deque"
)

// scratch holds reusable traversal buffers. Visited flags are stamped with an
// epoch so clearing them is a single increment.
type scratch struct {
	marks  []uint32
	epoch  uint32
	stack  []int
	queue  deque.Deque[int]
	dist   []int
	parent []int
	ends   []int
}

func (s *scratch) init(size int) {
	s.marks = make([]uint32, size)
	s.epoch = 0
	s.stack = make([]int, 0, 16)
	s.dist = make([]int, size)
	s.parent = make([]int, size)
}

func (s *scratch) reset() {
	s.epoch++
	if s.epoch == 0 {
		clear(s.marks)
		s.epoch = 1
	}
	s.stack = s.stack[:0]
	s.queue.Clear()
}

func (s *scratch) seen(n int) bool { return s.marks[n] == s.epoch }
func (s *scratch) mark(n int)      { s.marks[n] = s.epoch }

func (s *scratch) pop() int {
	n := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	return n
}

// GoalReachable reports whether the mover can carry the ball, within the
// current turn, into p's goal or onto a node adjacent to its mouth.
func (b *Board) GoalReachable(p Player) bool {
	s := &b.scratch
	s.reset()
	s.stack = append(s.stack, b.ball)
	s.mark(b.ball)
	for len(s.stack) > 0 {
		q := s.pop()
		row := b.matrix[q*b.size:]
		for _, v := range b.layout.neighbors[q] {
			if s.seen(v) || row[v] != cellAdjacent {
				continue
			}
			if b.layout.almostGoal[v] == p {
				return true
			}
			if f := b.Free(v); f > 1 && f < b.Total(v) {
				s.stack = append(s.stack, v)
			}
			s.mark(v)
		}
		s.mark(q)
	}
	return false
}

// CutOffFromOpponentGoal reports that no path of free edges leads from the
// ball to the area in front of the goal p attacks.
func (b *Board) CutOffFromOpponentGoal(p Player) bool {
	target := p.Opponent()
	s := &b.scratch
	s.reset()
	s.stack = append(s.stack, b.ball)
	s.mark(b.ball)
	for len(s.stack) > 0 {
		q := s.pop()
		row := b.matrix[q*b.size:]
		for _, v := range b.layout.neighbors[q] {
			if s.seen(v) || row[v] != cellAdjacent {
				continue
			}
			if b.layout.cutOff[v] == target {
				return false
			}
			if b.Free(v) > 1 {
				s.stack = append(s.stack, v)
			}
			s.mark(v)
		}
		s.mark(q)
	}
	return true
}

// OnlyOneEmpty reports that every way the mover can go ends the turn on a
// dead end or hands the move over with no alternatives, i.e. the mover has
// no stopping point that is not almost blocked and no route to a goal.
func (b *Board) OnlyOneEmpty() bool {
	return b.fewStops(0)
}

// OnlyTwoEmpty is OnlyOneEmpty allowing a single open stopping point.
func (b *Board) OnlyTwoEmpty() bool {
	return b.fewStops(1)
}

func (b *Board) fewStops(allowed int) bool {
	s := &b.scratch
	s.reset()
	s.stack = append(s.stack, b.ball)
	s.mark(b.ball)
	stops := 0
	for len(s.stack) > 0 {
		q := s.pop()
		row := b.matrix[q*b.size:]
		for _, v := range b.layout.neighbors[q] {
			if s.seen(v) || row[v] != cellAdjacent {
				continue
			}
			if !b.AlmostBlocked(v) {
				if !b.MustContinue(v) {
					stops++
					if stops > allowed {
						return false
					}
				}
				s.stack = append(s.stack, v)
			} else if b.layout.goal[v] != None {
				return false
			}
			s.mark(v)
		}
	}
	return true
}

// FillForcedEdges draws the dead-end corridors reachable from the ball: every
// almost blocked node that can only be entered as the end of a move gets its
// entry edge drawn, followed back while the parent has a single free edge
// left. The drawn edges are returned flattened as (a, b) pairs so the caller
// can remove them afterwards.
func (b *Board) FillForcedEdges(dst []int) []int {
	s := &b.scratch
	s.reset()
	for i := range s.parent {
		s.parent[i] = -1
	}
	s.ends = s.ends[:0]
	s.stack = append(s.stack, b.ball)
	for len(s.stack) > 0 {
		q := s.pop()
		row := b.matrix[q*b.size:]
		for _, v := range b.layout.neighbors[q] {
			if s.seen(v) || row[v] != cellAdjacent {
				continue
			}
			if b.layout.goal[v] == None {
				switch {
				case b.MustContinue(v) && !b.AlmostBlocked(v):
					s.parent[v] = q
					s.stack = append(s.stack, v)
				case b.AlmostBlocked(v):
					s.parent[v] = q
					s.ends = append(s.ends, v)
				}
			}
			s.mark(v)
		}
		s.mark(q)
	}

	for _, k := range s.ends {
		b.AddEdge(k, s.parent[k], None)
		dst = append(dst, k, s.parent[k])
		t := s.parent[k]
		for b.Free(t) == 1 && s.parent[t] != -1 {
			b.AddEdge(t, s.parent[t], None)
			dst = append(dst, t, s.parent[t])
			t = s.parent[t]
		}
	}
	return dst
}

// relax runs the 0-1 search from src over free edges. Entering a node where
// the mover continues costs nothing. visit is called for every relaxed node
// and may stop the search by returning false. The search also stops before
// expanding a node whose distance exceeds limit (limit <= 0 disables it).
func (b *Board) relax(src int, skipGoals bool, limit int, visit func(v int) bool) bool {
	s := &b.scratch
	dist := s.dist
	s.queue.PushBack(src)
	dist[src] = 1
	for s.queue.Len() > 0 {
		q := s.queue.PopFront()
		if limit > 0 && dist[q] > limit {
			return false
		}
		pq := b.MustContinue(q)
		row := b.matrix[q*b.size:]
		for _, v := range b.layout.neighbors[q] {
			if row[v] != cellAdjacent || s.seen(v) {
				continue
			}
			d := dist[q] + 1
			if pq {
				d = dist[q]
			}
			if dist[v] > d {
				dist[v] = d
				if !skipGoals || b.layout.goal[v] == None {
					if b.MustContinue(v) {
						s.queue.PushFront(v)
					} else {
						s.queue.PushBack(v)
					}
				}
			}
			if !visit(v) {
				return true
			}
			s.mark(v)
		}
		s.mark(q)
	}
	return true
}

func goalSource(l *Layout, p Player) int {
	if p == One {
		return l.size - 5
	}
	return l.size - 2
}

// ShouldCheckForGameOver is a cheap pre-filter: it reports whether the ball
// lies within two turns of p's goal. The enumerator only runs GoalReachable
// when this holds.
func (b *Board) ShouldCheckForGameOver(p Player) bool {
	s := &b.scratch
	s.reset()
	for i := range s.dist {
		s.dist[i] = 1 << 15
	}
	found := false
	done := b.relax(goalSource(b.layout, p), true, 2, func(v int) bool {
		if v == b.ball {
			found = true
			return false
		}
		return true
	})
	return found || done
}

// DistanceToGoal returns the number of turns needed to bring the ball from
// its position into p's goal, capped at the pitch height.
func (b *Board) DistanceToGoal(p Player) int {
	s := &b.scratch
	s.reset()
	for i := range s.dist {
		s.dist[i] = b.layout.height
	}
	result := b.layout.height
	b.relax(goalSource(b.layout, p), false, 0, func(v int) bool {
		if v == b.ball {
			result = s.dist[v]
			return false
		}
		return true
	})
	return result
}

// Distances fills dist with the number of turns needed to reach every node
// from src. Entries must be initialised by the caller; unreachable nodes keep
// their initial value.
func (b *Board) Distances(src int, dist []int) {
	s := &b.scratch
	s.reset()
	copy(s.dist, dist)
	b.relax(src, false, 0, func(int) bool { return true })
	copy(dist, s.dist)
}

// ShortWinningMove returns the shortest move sequence for the mover that puts
// the ball into the goal p attacks, or "" when no such sequence exists.
func (b *Board) ShortWinningMove(p Player) string {
	target := p.Opponent()
	s := &b.scratch
	s.reset()
	for i := range s.dist {
		s.dist[i] = 99
		s.parent[i] = -1
	}
	s.queue.PushBack(b.ball)
	s.dist[b.ball] = 0
	end := -1
	for s.queue.Len() > 0 {
		q := s.queue.PopFront()
		row := b.matrix[q*b.size:]
		for _, v := range b.layout.neighbors[q] {
			if row[v] != cellAdjacent {
				continue
			}
			g := b.layout.goal[v]
			switch {
			case g == None && b.MustContinue(v) && s.dist[q]+1 < s.dist[v]:
				s.parent[v] = q
				s.dist[v] = s.dist[q] + 1
				s.queue.PushBack(v)
			case g == target && (end == -1 || s.dist[q]+1 < s.dist[end]):
				end = v
				s.parent[v] = q
				s.dist[v] = s.dist[q] + 1
			}
		}
	}
	if end == -1 {
		return ""
	}

	var out []byte
	for e := end; s.parent[e] != -1; e = s.parent[e] {
		out = append(out, b.layout.Direction(s.parent[e], e))
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}
