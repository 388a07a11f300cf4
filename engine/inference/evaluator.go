// Package inference provides the position evaluators used by the search:
// an in-memory sparse network, a weightless distance heuristic and an ONNX
// Runtime backed model.
package inference

import (
	"sync/atomic"
)

// MaxSlots is the number of per-worker caches every evaluator keeps.
const MaxSlots = 64

// Evaluator scores positions from sparse features. CacheBaseFeatures stores
// the features shared by a batch of sibling positions; ScoreDelta scores the
// cached base plus added for the side the features were encoded for, in
// [-1, 1]. Calls on distinct slots may run concurrently; a single slot must
// only be used by one goroutine.
type Evaluator interface {
	CacheBaseFeatures(features []int32, slot int)
	ScoreDelta(added []int32, slot int) float32
}

// RuntimeStats summarises evaluator work for the stats ticker.
type RuntimeStats struct {
	Primes        int64
	Evaluations   int64
	TotalBatches  int64
	TotalItems    int64
	TotalRunNanos int64
	LastBatchSize int64
	QueueLen      int
	AvgBatchSize  float64
	AvgRunMs      float64
}

// Instrumented counts the calls made to an evaluator.
type Instrumented struct {
	Evaluator
	primes atomic.Int64
	evals  atomic.Int64
}

func NewInstrumented(e Evaluator) *Instrumented {
	return &Instrumented{Evaluator: e}
}

func (i *Instrumented) CacheBaseFeatures(features []int32, slot int) {
	i.primes.Add(1)
	i.Evaluator.CacheBaseFeatures(features, slot)
}

func (i *Instrumented) ScoreDelta(added []int32, slot int) float32 {
	i.evals.Add(1)
	return i.Evaluator.ScoreDelta(added, slot)
}

func (i *Instrumented) Stats() RuntimeStats {
	st := RuntimeStats{
		Primes:      i.primes.Load(),
		Evaluations: i.evals.Load(),
	}
	if src, ok := i.Evaluator.(interface{ Stats() RuntimeStats }); ok {
		inner := src.Stats()
		st.TotalBatches = inner.TotalBatches
		st.TotalItems = inner.TotalItems
		st.TotalRunNanos = inner.TotalRunNanos
		st.LastBatchSize = inner.LastBatchSize
		st.QueueLen = inner.QueueLen
		st.AvgBatchSize = inner.AvgBatchSize
		st.AvgRunMs = inner.AvgRunMs
	}
	return st
}

func clampUnit(v float32) float32 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	}
	return v
}
