package mcts

import (
	"context"
	"errors"
	"math"
	"slices"
	"time"

	"github.com/brensch/papersoccer/game"
	"github.com/brensch/papersoccer/rules"
)

// errAborted unwinds a negamax iteration once the deadline passes.
var errAborted = errors.New("negamax aborted")

// NegamaxResult is the move chosen by the last complete, or partially
// searched, iteration.
type NegamaxResult struct {
	Move    string        `json:"move"`
	Score   float32       `json:"score"`
	Depth   int           `json:"depth"`
	Nodes   int64         `json:"nodes"`
	Aborted bool          `json:"aborted"`
	Elapsed time.Duration `json:"elapsed"`
}

// Negamax is an iterative deepening alpha-beta search over whole-turn
// candidates. Leaves use the candidates' own scores.
type Negamax struct {
	rng      *rules.Rand
	enum     *rules.Enumerator
	ctx      context.Context
	deadline time.Time
	nodes    int64
	bufs     [][]rules.Candidate
}

// NewNegamax builds a searcher; a nil scorer uses the distance scorer.
func NewNegamax(scorer rules.LandingScorer, seed uint64) *Negamax {
	if scorer == nil {
		scorer = rules.DistanceScorer{}
	}
	rng := rules.NewRand(seed)
	return &Negamax{
		rng:  rng,
		enum: rules.NewEnumerator(scorer, rng, rules.Options{Limit: rules.NegamaxLimit}),
	}
}

// Search deepens up to maxDepth plies of turns or until budget runs out.
func (n *Negamax) Search(ctx context.Context, g *game.Game, budget time.Duration, maxDepth int) (NegamaxResult, error) {
	start := time.Now()
	if g.IsOver() {
		return NegamaxResult{}, game.ErrGameOver
	}
	if maxDepth <= 0 {
		maxDepth = 50
	}
	n.ctx = ctx
	n.deadline = start.Add(budget)
	n.nodes = 0

	pos := g.Clone()
	moves := n.enum.EnumerateExact(pos, nil)
	if len(moves) == 0 {
		return NegamaxResult{}, ErrNoCandidates
	}
	best := n.bestSoFar(moves)
	res := NegamaxResult{Move: best.Notation, Score: best.Score}
	finish := func() (NegamaxResult, error) {
		res.Nodes = n.nodes
		res.Elapsed = time.Since(start)
		return res, nil
	}
	if best.Score > rules.TerminalThreshold {
		return finish()
	}

	for depth := 1; depth < maxDepth; depth++ {
		for i := range moves {
			m := &moves[i]
			if m.Score < -rules.TerminalThreshold {
				continue
			}
			if err := pos.MakeMove(m.Notation); err != nil {
				return NegamaxResult{}, err
			}
			v, err := n.score(pos, depth-1, -rules.Inf, rules.Inf)
			_ = pos.UndoMove()
			if errors.Is(err, errAborted) {
				res.Aborted = true
				return finish()
			}
			if err != nil {
				return NegamaxResult{}, err
			}
			m.Score = -v
			if m.Score > res.Score {
				res.Move, res.Score = m.Notation, m.Score
			}
		}
		best = n.bestSoFar(moves)
		res.Move, res.Score, res.Depth = best.Notation, best.Score, depth
		if math.Abs(float64(best.Score)) > rules.TerminalThreshold {
			break
		}
	}
	return finish()
}

// bestSoFar sorts moves by score and picks uniformly among the top ties.
func (n *Negamax) bestSoFar(moves []rules.Candidate) rules.Candidate {
	slices.SortStableFunc(moves, func(a, b rules.Candidate) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	ties := 1
	for ties < len(moves) && moves[ties].Score == moves[0].Score {
		ties++
	}
	return moves[n.rng.Intn(ties)]
}

// score is the negamax value of pos for its side to move.
func (n *Negamax) score(pos *game.Game, level int, alpha, beta float32) (float32, error) {
	if n.ctx.Err() != nil || !time.Now().Before(n.deadline) {
		return 0, errAborted
	}
	n.nodes++

	for len(n.bufs) <= level {
		n.bufs = append(n.bufs, nil)
	}
	cands := n.enum.EnumerateExact(pos, n.bufs[level][:0])
	n.bufs[level] = cands
	if len(cands) == 0 {
		return rules.NoMoveScore(pos.Rounds), nil
	}

	out := float32(-rules.Inf)
	for i := 0; i < len(cands); i++ {
		c := cands[i]
		v := c.Score
		if !c.Terminal && level > 0 {
			if err := pos.MakeMove(c.Notation); err != nil {
				return 0, err
			}
			child, err := n.score(pos, level-1, -beta, -alpha)
			_ = pos.UndoMove()
			if err != nil {
				return 0, err
			}
			v = -child
		}
		out = max(out, v)
		alpha = max(alpha, out)
		if alpha >= beta {
			break
		}
	}
	return out, nil
}
