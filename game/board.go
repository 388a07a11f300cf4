package game

// Board is the mutable edge state of a pitch plus the ball position. Cells of
// the adjacency matrix carry bit 1 for adjacency, bit 2 once drawn and bits
// 4/8 for the player who drew the segment. Node counters keep the number of
// free edges in the low nibble and the total in the high nibble.
//
// A Board is not safe for concurrent use; searches clone one per worker.
type Board struct {
	layout *Layout
	size   int
	matrix []uint8
	nodes  []uint16
	ball   int

	scratch scratch
}

func (b *Board) Layout() *Layout { return b.layout }

func (b *Board) Ball() int { return b.ball }

func (b *Board) SetBall(n int) { b.ball = n }

// Clone returns an independent copy with fresh traversal scratch.
func (b *Board) Clone() *Board {
	c := &Board{
		layout: b.layout,
		size:   b.size,
		matrix: make([]uint8, len(b.matrix)),
		nodes:  make([]uint16, len(b.nodes)),
		ball:   b.ball,
	}
	copy(c.matrix, b.matrix)
	copy(c.nodes, b.nodes)
	c.scratch.init(b.size)
	return c
}

// CopyFrom overwrites b with the state of src. Both must share a layout.
func (b *Board) CopyFrom(src *Board) {
	copy(b.matrix, src.matrix)
	copy(b.nodes, src.nodes)
	b.ball = src.ball
}

// Reset returns the board to the kick-off position.
func (b *Board) Reset() {
	copy(b.matrix, b.layout.matrix)
	copy(b.nodes, b.layout.nodes)
	b.ball = b.layout.start
}

func (b *Board) Free(n int) int  { return int(b.nodes[n] & 0xF) }
func (b *Board) Total(n int) int { return int(b.nodes[n] >> 4) }

// Blocked reports that no free edge leaves n.
func (b *Board) Blocked(n int) bool { return b.nodes[n]&0xF == 0 }

func (b *Board) AlmostBlocked(n int) bool { return b.nodes[n]&0xF <= 1 }

// MustContinue reports that landing on n lets the mover keep going, which is
// the case once any edge at n has been drawn.
func (b *Board) MustContinue(n int) bool { return b.Free(n) < b.Total(n) }

// MustContinueAfterArrival is MustContinue for the node the ball has just
// reached: the arriving edge itself does not count.
func (b *Board) MustContinueAfterArrival(n int) bool { return b.Free(n) < b.Total(n)-1 }

// MustContinueTwice holds when n touched at least two drawn edges before the
// last hop left it.
func (b *Board) MustContinueTwice(n int) bool { return b.Free(n) < b.Total(n)-2 }

// IsFree reports whether a-b is adjacent and undrawn.
func (b *Board) IsFree(a, c int) bool { return b.matrix[a*b.size+c] == cellAdjacent }

func (b *Board) IsDrawn(a, c int) bool { return b.matrix[a*b.size+c]&cellDrawn != 0 }

// EdgeOwner returns who drew a-b. Border segments and free edges return None.
func (b *Board) EdgeOwner(a, c int) Player {
	switch v := b.matrix[a*b.size+c]; {
	case v&cellOne != 0:
		return One
	case v&cellTwo != 0:
		return Two
	}
	return None
}

// AddEdge draws a-b for owner. The caller guarantees the edge is free.
func (b *Board) AddEdge(a, c int, owner Player) {
	v := cellAdjacent | cellDrawn
	switch owner {
	case One:
		v |= cellOne
	case Two:
		v |= cellTwo
	}
	b.matrix[a*b.size+c] = v
	b.matrix[c*b.size+a] = v
	b.nodes[a]--
	b.nodes[c]--
}

// RemoveEdge undraws a-b. Only edges drawn with AddEdge may be removed.
func (b *Board) RemoveEdge(a, c int) {
	b.matrix[a*b.size+c] = cellAdjacent
	b.matrix[c*b.size+a] = cellAdjacent
	b.nodes[a]++
	b.nodes[c]++
}

// Step returns the node reached from the ball with direction code c, or -1 if
// the code is invalid, the target is off the pitch or the edge is drawn.
func (b *Board) Step(c byte) int {
	n := b.layout.Toward(b.ball, c)
	if n < 0 || !b.IsFree(b.ball, n) {
		return -1
	}
	return n
}

// FreeNeighbors appends the nodes joined to n by a free edge.
func (b *Board) FreeNeighbors(dst []int, n int) []int {
	row := b.matrix[n*b.size : (n+1)*b.size]
	for _, v := range b.layout.neighbors[n] {
		if row[v] == cellAdjacent {
			dst = append(dst, v)
		}
	}
	return dst
}

// DrawnEdges appends the indices of the drawable edges currently drawn.
func (b *Board) DrawnEdges(dst []int) []int {
	for k, e := range b.layout.edges {
		if b.matrix[e.A*b.size+e.B]&cellDrawn != 0 {
			dst = append(dst, k)
		}
	}
	return dst
}

// IsOver reports a terminal position: the ball is stuck or in a goal.
func (b *Board) IsOver() bool {
	return b.Blocked(b.ball) || b.layout.goal[b.ball] != None
}
