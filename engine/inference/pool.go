package inference

import (
	"fmt"
	"sync/atomic"

	"github.com/brensch/papersoccer/game"
)

// OnnxPool spreads slots over several sessions, each with its own batching
// loop. A slot is bound to a session when its base is cached so the delta
// goes to the session holding that base.
type OnnxPool struct {
	evals []*OnnxEvaluator
	rr    atomic.Uint64
	bound [MaxSlots]atomic.Int32
}

func NewOnnxPool(modelPath string, l *game.Layout, sessions int, cfg OnnxConfig) (*OnnxPool, error) {
	if sessions <= 0 {
		sessions = 1
	}

	evals := make([]*OnnxEvaluator, 0, sessions)
	for i := 0; i < sessions; i++ {
		e, err := NewOnnxEvaluator(modelPath, l, cfg)
		if err != nil {
			for _, created := range evals {
				_ = created.Close()
			}
			return nil, fmt.Errorf("create onnx session %d/%d: %w", i+1, sessions, err)
		}
		evals = append(evals, e)
	}
	return &OnnxPool{evals: evals}, nil
}

func (p *OnnxPool) CacheBaseFeatures(features []int32, slot int) {
	idx := int(p.rr.Add(1)-1) % len(p.evals)
	p.bound[slot].Store(int32(idx))
	p.evals[idx].CacheBaseFeatures(features, slot)
}

func (p *OnnxPool) ScoreDelta(added []int32, slot int) float32 {
	return p.evals[p.bound[slot].Load()].ScoreDelta(added, slot)
}

func (p *OnnxPool) Stats() RuntimeStats {
	var st RuntimeStats
	for _, e := range p.evals {
		s := e.Stats()
		st.TotalBatches += s.TotalBatches
		st.TotalItems += s.TotalItems
		st.TotalRunNanos += s.TotalRunNanos
		st.QueueLen += s.QueueLen
		if s.LastBatchSize > st.LastBatchSize {
			st.LastBatchSize = s.LastBatchSize
		}
	}
	st.fillAverages()
	return st
}

func (p *OnnxPool) Close() error {
	var firstErr error
	for _, e := range p.evals {
		if err := e.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
