package inference

import (
	"github.com/brensch/papersoccer/engine/convert"
	"github.com/brensch/papersoccer/game"
)

// DistanceEvaluator reads the goal distance features and prefers positions
// where the attacked goal is fewer turns away than the defended one. It
// keeps no state, so every slot is safe to use concurrently.
type DistanceEvaluator struct {
	layout *game.Layout
	attack [3]int
	defend [3]int
}

func NewDistanceEvaluator(l *game.Layout) *DistanceEvaluator {
	// Features are always encoded as if for One, who attacks Two's goal.
	return &DistanceEvaluator{
		layout: l,
		attack: l.GoalNodes(game.Two),
		defend: l.GoalNodes(game.One),
	}
}

func (d *DistanceEvaluator) CacheBaseFeatures([]int32, int) {}

func (d *DistanceEvaluator) ScoreDelta(added []int32, _ int) float32 {
	attack := d.nearest(added, d.attack)
	defend := d.nearest(added, d.defend)
	return clampUnit(float32(defend-attack) / convert.MaxDistance)
}

func (d *DistanceEvaluator) nearest(fs []int32, goal [3]int) int {
	best := convert.MaxDistance
	for _, n := range goal {
		if v := convert.DecodeDistance(d.layout, fs, n); v >= 0 && v < best {
			best = v
		}
	}
	return best
}
