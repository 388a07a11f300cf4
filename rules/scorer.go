package rules

import "github.com/brensch/papersoccer/game"

// DistanceScorer values a landing by how many turns each side needs to
// reach the goal it attacks. It needs no weights and backs the alpha-beta
// player and tests.
type DistanceScorer struct{}

func (DistanceScorer) Prime(*game.Game) {}

func (DistanceScorer) Score(g *game.Game, _ []game.Edge, _ game.Edge) float32 {
	return DistanceValue(g)
}

// DistanceValue is in [-1, 1] from the perspective of the side to move.
func DistanceValue(g *game.Game) float32 {
	b := g.Board
	h := float32(b.Layout().Height())
	attack := float32(b.DistanceToGoal(g.Current.Opponent()))
	defend := float32(b.DistanceToGoal(g.Current))
	v := (defend - attack) / h
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	}
	return v
}

// PositionScorer is the plain heuristic: progress of the ball along the
// pitch toward the goal the side to move attacks.
type PositionScorer struct{}

func (PositionScorer) Prime(*game.Game) {}

func (PositionScorer) Score(g *game.Game, _ []game.Edge, last game.Edge) float32 {
	l := g.Board.Layout()
	y := float32(l.Point(last.B).Y)
	half := float32(l.Height()) / 2
	// One attacks Two's goal at the bottom (large y).
	v := (y - half) / (half + 1)
	if g.Current == game.Two {
		v = -v
	}
	return v
}
