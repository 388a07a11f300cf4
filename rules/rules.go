// Package rules enumerates the legal whole-turn moves of a Paper Soccer
// position and classifies each landing with a static score band.
package rules

import (
	"slices"

	"github.com/gammazero/deque"

	"github.com/brensch/papersoccer/game"
)

const (
	// Inf bounds every band score.
	Inf = 1000
	// ProofThreshold separates proven results from heuristic ones during
	// backpropagation.
	ProofThreshold = Inf / 2
	// TerminalThreshold marks candidates whose band already decides the game.
	TerminalThreshold = 100

	DefaultLimit = 250
	NegamaxLimit = 100
)

// Band values, offset by the round number so quicker results rank higher.
const (
	goalForOpp     = 1000
	goalForSelf    = -950
	deadEnd        = -1000
	nextTurnGoal   = -900
	onlyOneEmpty   = 850
	onlyTwoEmpty   = -850
	cutOffSelf     = -800
	cutOffOpponent = 800
)

// NoMoveScore values a position where the side to move has no candidate.
func NoMoveScore(rounds int) float32 { return onlyTwoEmpty - float32(rounds) }

// Band names the rule that produced a candidate's score.
type Band uint8

const (
	Generic Band = iota
	GoalForOpponent
	GoalForSelf
	DeadEnd
	NextTurnGoal
	OnlyOneEmpty
	OnlyTwoEmpty
	CutOffSelf
	CutOffOpponent
)

var bandNames = [...]string{
	Generic:         "generic",
	GoalForOpponent: "goal",
	GoalForSelf:     "own-goal",
	DeadEnd:         "dead-end",
	NextTurnGoal:    "next-turn-goal",
	OnlyOneEmpty:    "only-one-empty",
	OnlyTwoEmpty:    "only-two-empty",
	CutOffSelf:      "cut-off-self",
	CutOffOpponent:  "cut-off-opponent",
}

func (b Band) String() string {
	if int(b) < len(bandNames) {
		return bandNames[b]
	}
	return "unknown"
}

// Candidate is one whole-turn move. Score is from the mover's perspective:
// band values in (-Inf, Inf) or a negated evaluator value in [-1, 1].
type Candidate struct {
	Notation string
	Score    float32
	Band     Band
	Terminal bool
}

// LandingScorer values positions that no band decides. Prime is called once
// per enumeration with the mover still to move; Score is called with the
// landing applied and the opponent to move, and returns the value for the
// side to move.
type LandingScorer interface {
	Prime(g *game.Game)
	Score(g *game.Game, path []game.Edge, last game.Edge) float32
}

type Options struct {
	// Limit caps the number of candidates per call.
	Limit int
	// AssumeCutoffsKnown skips the cut-off bands outside EnumerateExact.
	AssumeCutoffsKnown bool
}

func DefaultOptions() Options {
	return Options{Limit: DefaultLimit, AssumeCutoffsKnown: true}
}

type step struct {
	node int
	path []game.Edge
}

// Enumerator generates candidates using the game's board as scratch space;
// every edge it draws is removed before it returns. It is not safe for
// concurrent use.
type Enumerator struct {
	opts   Options
	rng    *Rand
	scorer LandingScorer

	work     deque.Deque[step]
	vertices []int
	cycles   []uint64
	blocked  []uint64
	forced   []int
	ns       []int
	str      []byte
}

func NewEnumerator(scorer LandingScorer, rng *Rand, opts Options) *Enumerator {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if rng == nil {
		rng = NewRand(0)
	}
	return &Enumerator{
		opts:     opts,
		rng:      rng,
		scorer:   scorer,
		vertices: make([]int, 0, 32),
		ns:       make([]int, 0, 8),
	}
}

func (e *Enumerator) Options() Options { return e.opts }

// Enumerate appends the candidates for the side to move to dst.
func (e *Enumerator) Enumerate(g *game.Game, dst []Candidate) []Candidate {
	return e.enumerate(g, !e.opts.AssumeCutoffsKnown, dst)
}

// EnumerateExact is Enumerate with the cut-off bands always evaluated.
func (e *Enumerator) EnumerateExact(g *game.Game, dst []Candidate) []Candidate {
	return e.enumerate(g, true, dst)
}

func (e *Enumerator) enumerate(g *game.Game, exact bool, dst []Candidate) []Candidate {
	b := g.Board
	if b.IsOver() {
		return dst
	}
	l := b.Layout()
	player := g.Current
	start := len(dst)
	limit := e.opts.Limit

	alreadyBlocking, alreadyBlocked := true, true
	if exact {
		alreadyBlocking = b.CutOffFromOpponentGoal(player.Opponent())
		alreadyBlocked = b.CutOffFromOpponentGoal(player)
	}

	ball := b.Ball()
	e.vertices = append(e.vertices[:0], ball)
	e.cycles = e.cycles[:0]
	e.blocked = e.blocked[:0]
	e.forced = e.forced[:0]
	e.work.Clear()
	e.work.PushBack(step{node: ball})

	check := true
	if !b.OnlyOneEmpty() {
		e.forced = b.FillForcedEdges(e.forced)
		check = b.ShouldCheckForGameOver(player)
	}
	if e.scorer != nil {
		e.scorer.Prime(g)
	}

	loop := 0
	for e.work.Len() > 0 && len(dst)-start < limit {
		loop++
		var st step
		if loop&15 == 0 {
			st = e.work.PopFront()
		} else {
			st = e.work.PopBack()
		}
		t := st.node
		e.str = e.str[:0]
		for _, p := range st.path {
			e.str = append(e.str, l.Direction(p.A, p.B))
			b.AddEdge(p.A, p.B, game.None)
			e.vertices = append(e.vertices, p.B)
		}
		b.SetBall(t)
		e.ns = b.FreeNeighbors(e.ns[:0], t)
		e.rng.Shuffle(e.ns)

		for _, n := range e.ns {
			if !b.AlmostBlocked(n) && b.MustContinue(n) {
				next := extendPath(st.path, t, n)
				if slices.Contains(e.vertices, n) {
					h := pathHash(next)
					if slices.Contains(e.cycles, h) {
						continue
					}
					e.cycles = append(e.cycles, h)
				}
				e.work.PushBack(step{node: n, path: next})
				continue
			}

			score, band, ok := e.land(g, st.path, t, n, check, alreadyBlocked, alreadyBlocking)
			if !ok {
				continue
			}
			dst = append(dst, Candidate{
				Notation: string(append(e.str, l.Direction(t, n))),
				Score:    score,
				Band:     band,
				Terminal: score > TerminalThreshold || score < -TerminalThreshold,
			})
			if len(dst)-start >= limit {
				break
			}
		}

		e.vertices = e.vertices[:1]
		for _, p := range st.path {
			b.RemoveEdge(p.A, p.B)
		}
		b.SetBall(ball)
	}
	e.work.Clear()

	for i := 0; i+1 < len(e.forced); i += 2 {
		b.RemoveEdge(e.forced[i], e.forced[i+1])
	}
	return dst
}

// land scores the turn ending with the hop t->n. It returns ok=false for a
// dead end already reached through the same set of edges.
func (e *Enumerator) land(g *game.Game, path []game.Edge, t, n int, check, alreadyBlocked, alreadyBlocking bool) (float32, Band, bool) {
	b := g.Board
	player := g.Current
	goal := b.Layout().GoalOwner(n)
	r := float32(g.Rounds)

	b.AddEdge(t, n, game.None)
	b.SetBall(n)
	defer func() {
		b.SetBall(t)
		b.RemoveEdge(t, n)
	}()

	switch {
	case goal == player:
		return goalForSelf + r, GoalForSelf, true
	case goal != game.None:
		return goalForOpp - r, GoalForOpponent, true
	case b.Blocked(n):
		h := pathHash(path) + edgeHash(game.Edge{A: t, B: n})
		if slices.Contains(e.blocked, h) {
			return 0, DeadEnd, false
		}
		e.blocked = append(e.blocked, h)
		return deadEnd + r, DeadEnd, true
	case check && b.GoalReachable(player):
		return nextTurnGoal + r, NextTurnGoal, true
	case b.OnlyOneEmpty():
		return onlyOneEmpty - r, OnlyOneEmpty, true
	case b.OnlyTwoEmpty():
		return onlyTwoEmpty + r, OnlyTwoEmpty, true
	case !alreadyBlocked && b.MustContinueTwice(t) && b.CutOffFromOpponentGoal(player):
		return cutOffSelf + r, CutOffSelf, true
	case !alreadyBlocking && b.MustContinueTwice(t) && b.CutOffFromOpponentGoal(player.Opponent()):
		return cutOffOpponent - r, CutOffOpponent, true
	}

	if e.scorer == nil {
		return 0, Generic, true
	}
	g.ChangePlayer()
	g.Rounds++
	v := e.scorer.Score(g, path, game.Edge{A: t, B: n})
	g.ChangePlayer()
	g.Rounds--
	return -v, Generic, true
}

func extendPath(path []game.Edge, a, b int) []game.Edge {
	next := make([]game.Edge, len(path), len(path)+1)
	copy(next, path)
	return append(next, game.Edge{A: a, B: b})
}

func edgeHash(e game.Edge) uint64 {
	h := 573453117 * e.Key()
	h ^= h << 13
	h ^= h >> 7
	h ^= h << 17
	return h
}

// pathHash is order independent, so two routes over the same edges collide.
func pathHash(path []game.Edge) uint64 {
	var sum uint64
	for _, e := range path {
		sum += edgeHash(e)
	}
	return sum
}
