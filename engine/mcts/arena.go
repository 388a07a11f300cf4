package mcts

import (
	"math"
	"math/bits"
	"runtime"
	"sync/atomic"

	"github.com/brensch/papersoccer/game"
)

// None marks a missing parent.
const None int32 = -1

// Record is one move in the tree. Fields read during selection are atomics;
// compound updates happen under the record's lock stripe.
type Record struct {
	parent   int32
	player   game.Player
	notation string

	terminal   atomic.Bool
	heuristic  atomicFloat
	visits     atomic.Int32
	score      atomicFloat
	vloss      atomic.Int32
	childStart atomic.Int32
	childCount atomic.Int32 // -1 until expanded
}

func (r *Record) Parent() int32       { return r.parent }
func (r *Record) Player() game.Player { return r.player }
func (r *Record) Notation() string    { return r.notation }
func (r *Record) Terminal() bool      { return r.terminal.Load() }
func (r *Record) Heuristic() float32  { return r.heuristic.Load() }
func (r *Record) Visits() int32       { return r.visits.Load() }
func (r *Record) Score() float32      { return r.score.Load() }
func (r *Record) Children() (int32, int32) {
	return r.childStart.Load(), r.childCount.Load()
}

type atomicFloat struct{ bits atomic.Uint32 }

func (f *atomicFloat) Load() float32   { return math.Float32frombits(f.bits.Load()) }
func (f *atomicFloat) Store(v float32) { f.bits.Store(math.Float32bits(v)) }

type spinLock struct{ state atomic.Int32 }

func (l *spinLock) Lock() {
	for !l.state.CompareAndSwap(0, 1) {
		runtime.Gosched()
	}
}

func (l *spinLock) Unlock() { l.state.Store(0) }

// Arena is a fixed pool of records split into bands, one per worker. Only
// the owning worker advances a band's cursor; other goroutines may read it
// for stats while the search runs. Locks are striped over a table whose
// size does not depend on the capacity.
type Arena struct {
	records  []Record
	mask     int32
	bandSize int32
	cursors  []atomic.Int32
	locks    []spinLock
	lockMask int32
}

// NewArena rounds capacity and locks up to powers of two.
func NewArena(capacity, bands, locks int) *Arena {
	capacity = ceilPow2(capacity)
	locks = ceilPow2(locks)
	if bands < 1 {
		bands = 1
	}
	return &Arena{
		records:  make([]Record, capacity),
		mask:     int32(capacity - 1),
		bandSize: int32(capacity / bands),
		cursors:  make([]atomic.Int32, bands),
		locks:    make([]spinLock, locks),
		lockMask: int32(locks - 1),
	}
}

func ceilPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

func (a *Arena) Capacity() int { return len(a.records) }
func (a *Arena) Bands() int    { return len(a.cursors) }

// At resolves an index, wrapping at the capacity.
func (a *Arena) At(i int32) *Record { return &a.records[i&a.mask] }

// Allocate resets the record at the band's cursor and advances it, wrapping
// inside the band.
func (a *Arena) Allocate(band int, parent int32, player game.Player, notation string) int32 {
	cur := a.cursors[band].Load()
	idx := int32(band)*a.bandSize + cur
	r := &a.records[idx]
	r.parent = parent
	r.player = player
	r.notation = notation
	r.terminal.Store(false)
	r.heuristic.Store(0)
	r.visits.Store(0)
	r.score.Store(0)
	r.vloss.Store(0)
	r.childStart.Store(None)
	r.childCount.Store(-1)
	a.cursors[band].Store((cur + 1) % a.bandSize)
	return idx
}

// Headroom reports whether the band can take need more records without
// wrapping.
func (a *Arena) Headroom(band, need int) bool {
	return int(a.cursors[band].Load())+need < int(a.bandSize)
}

// Used is the number of records allocated in band since the last reset.
func (a *Arena) Used(band int) int { return int(a.cursors[band].Load()) }

func (a *Arena) Nodes() int {
	n := 0
	for i := range a.cursors {
		n += int(a.cursors[i].Load())
	}
	return n
}

func (a *Arena) ResetBand(band int) { a.cursors[band].Store(0) }

func (a *Arena) Reset() {
	for i := range a.cursors {
		a.cursors[i].Store(0)
	}
}

func (a *Arena) lockFor(i int32) *spinLock {
	return &a.locks[(91153*i+5)&a.lockMask]
}

func (a *Arena) Lock(i int32)   { a.lockFor(i).Lock() }
func (a *Arena) Unlock(i int32) { a.lockFor(i).Unlock() }
