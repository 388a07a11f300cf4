package convert

import "github.com/brensch/papersoccer/game"

// Evaluator is the part of an evaluator the scorer needs. Base features are
// cached per slot so each landing only sends its delta.
type Evaluator interface {
	CacheBaseFeatures(features []int32, slot int)
	ScoreDelta(added []int32, slot int) float32
}

// Scorer adapts an Evaluator to the move enumerator. One scorer per worker;
// the slot selects the evaluator cache the worker owns.
type Scorer struct {
	enc  *Encoder
	eval Evaluator
	slot int
	buf  []int32
}

func NewScorer(l *game.Layout, eval Evaluator, slot int) *Scorer {
	return &Scorer{
		enc:  NewEncoder(l),
		eval: eval,
		slot: slot,
		buf:  make([]int32, 0, InputSize(l)),
	}
}

// Prime caches the drawn edges seen by the side that will move after the
// landing.
func (s *Scorer) Prime(g *game.Game) {
	s.buf = s.enc.Base(g.Board, g.Current.Opponent(), s.buf[:0])
	s.eval.CacheBaseFeatures(s.buf, s.slot)
}

func (s *Scorer) Score(g *game.Game, path []game.Edge, last game.Edge) float32 {
	s.buf = s.enc.Delta(g.Board, g.Current, path, last, s.buf[:0])
	return s.eval.ScoreDelta(s.buf, s.slot)
}

// Value evaluates the whole position for the side to move. It overwrites
// the slot's cached base.
func (s *Scorer) Value(g *game.Game) float32 {
	s.buf = s.enc.Base(g.Board, g.Current, s.buf[:0])
	s.eval.CacheBaseFeatures(s.buf, s.slot)
	s.buf = s.enc.appendBall(g.Board, g.Current, s.buf[:0])
	return s.eval.ScoreDelta(s.buf, s.slot)
}
