// Package mcts is the parallel Monte Carlo tree search over whole-turn
// moves. Records live in a flat arena addressed by index; workers share the
// arena and each owns a private copy of the game.
package mcts

import (
	"errors"
	"fmt"
	"time"

	"github.com/brensch/papersoccer/engine/inference"
	"github.com/brensch/papersoccer/rules"
)

var (
	ErrNoCandidates   = errors.New("no legal moves")
	ErrArenaExhausted = errors.New("arena cannot hold the root expansion")
	ErrBadConfig      = errors.New("invalid search config")
)

const (
	MaxThreads          = inference.MaxSlots
	DefaultArenaSize    = 1 << 22
	DefaultLockStripes  = 4096
	DefaultProgressTick = 250 * time.Millisecond
)

// Config holds MCTS configuration.
type Config struct {
	Threads     int `json:"threads"`
	ArenaSize   int `json:"arena_size"`
	LockStripes int `json:"lock_stripes"`
	MoveLimit   int `json:"move_limit"`

	Alpha float32 `json:"alpha"`
	FPU   float32 `json:"fpu"`
	C     float32 `json:"c"`
	CRoot float32 `json:"c_root"`

	AssumeCutoffsKnown bool `json:"assume_cutoffs_known"`
	// SlotBase offsets the evaluator slots used by the workers so several
	// engines can share one evaluator.
	SlotBase int `json:"slot_base"`
	// Reuse keeps the subtree of the reply between calls. It forces a
	// single worker.
	Reuse bool `json:"reuse"`
	// MaxVisits stops the search after that many simulations; 0 means
	// only the time budget applies.
	MaxVisits int64 `json:"max_visits"`
	// Seed fixes the worker random streams; 0 draws a fresh seed per call.
	Seed uint64 `json:"seed"`

	ProgressInterval time.Duration `json:"progress_interval"`
}

func DefaultConfig() Config {
	return Config{
		Threads:            8,
		ArenaSize:          DefaultArenaSize,
		LockStripes:        DefaultLockStripes,
		MoveLimit:          rules.DefaultLimit,
		Alpha:              0.35,
		FPU:                0.5,
		C:                  0.95,
		CRoot:              1.0,
		AssumeCutoffsKnown: true,
		ProgressInterval:   DefaultProgressTick,
	}
}

// normalize fills zero values from DefaultConfig and checks ranges.
func (c Config) normalize() (Config, error) {
	def := DefaultConfig()
	if c.Threads == 0 {
		c.Threads = def.Threads
	}
	if c.ArenaSize == 0 {
		c.ArenaSize = def.ArenaSize
	}
	if c.LockStripes == 0 {
		c.LockStripes = def.LockStripes
	}
	if c.MoveLimit == 0 {
		c.MoveLimit = def.MoveLimit
	}
	if c.ProgressInterval == 0 {
		c.ProgressInterval = def.ProgressInterval
	}
	if c.Reuse {
		c.Threads = 1
	}
	if c.Threads < 1 || c.Threads > MaxThreads {
		return c, fmt.Errorf("%w: threads %d not in 1..%d", ErrBadConfig, c.Threads, MaxThreads)
	}
	if c.SlotBase < 0 || c.SlotBase+c.Threads > inference.MaxSlots {
		return c, fmt.Errorf("%w: slots %d..%d exceed %d", ErrBadConfig, c.SlotBase, c.SlotBase+c.Threads-1, inference.MaxSlots)
	}
	if c.MoveLimit < 1 {
		return c, fmt.Errorf("%w: move limit %d", ErrBadConfig, c.MoveLimit)
	}
	if c.ArenaSize/c.Threads < 4*c.MoveLimit {
		return c, fmt.Errorf("%w: arena of %d records is too small for %d threads", ErrBadConfig, c.ArenaSize, c.Threads)
	}
	return c, nil
}
