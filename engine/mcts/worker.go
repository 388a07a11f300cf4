package mcts

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/brensch/papersoccer/game"
	"github.com/brensch/papersoccer/rules"
)

// worker runs simulations against the shared arena. Each worker owns one
// arena band, one evaluator slot and a private game.
type worker struct {
	id    int
	s     *search
	game  *game.Game
	rng   *rules.Rand
	enum  *rules.Enumerator
	cands []rules.Candidate
	ties  []int32
	sims  int64
}

func (w *worker) run(ctx context.Context) error {
	s := w.s
	cfg := s.cfg
	for !s.proven.Load() && ctx.Err() == nil && time.Now().Before(s.deadline) &&
		s.arena.Headroom(w.id, cfg.MoveLimit) {
		total, ok := s.visits.reserve(cfg.MaxVisits)
		if !ok {
			return nil
		}
		err := w.simulate(s.rootStart, s.rootCount, total+1)
		s.visits.commit()
		w.sims++
		if err != nil {
			return err
		}
		if err := w.game.SetFrom(s.root); err != nil {
			return err
		}
	}
	return nil
}

func terminalValue(h float32) float32 {
	switch {
	case h > rules.ProofThreshold:
		return 1
	case h < -rules.ProofThreshold:
		return -1
	}
	return 0
}

// pick returns the child with the best selection value, ties broken
// uniformly.
func (w *worker) pick(start, count, total int32, level int) int32 {
	a := w.s.arena
	cfg := w.s.cfg
	t := float32(math.Log(float64(total)))
	best := float32(-2 * rules.Inf)
	w.ties = w.ties[:0]
	for m := int32(0); m < count; m++ {
		i := (start + m) & a.mask
		r := a.At(i)
		var x, y float32
		h := r.heuristic.Load()
		visits := float32(r.visits.Load())
		if r.terminal.Load() {
			x = h
			if visits > 0 {
				x = h / visits
			}
			if x == 0 {
				x = -1.5
			}
		} else {
			v := 0.5 * float32(r.vloss.Load())
			if visits == 0 {
				x = (h - 0.01*v) * w.rng.Range(0.95, 1.05)
				y = cfg.FPU
				if level == 0 {
					y = 1.0
				}
			} else {
				x = (cfg.Alpha*h + (1-cfg.Alpha)*(r.score.Load()-v)/(visits+v)) * w.rng.Range(0.9, 1.1)
				c := cfg.C
				if level == 0 {
					c = cfg.CRoot
				}
				y = c * float32(math.Sqrt(float64(t/(visits+v))))
			}
		}
		switch {
		case x+y > best:
			best = x + y
			w.ties = append(w.ties[:0], i)
		case x+y == best:
			w.ties = append(w.ties, i)
		}
	}
	if len(w.ties) == 0 {
		return None
	}
	return w.ties[w.rng.Intn(len(w.ties))]
}

// simulate descends from the given children to a first visit or a terminal
// record and backpropagates its value.
func (w *worker) simulate(start, count, total int32) error {
	s := w.s
	a := s.arena
	for level := 0; ; level++ {
		s.noteDepth(level)
		idx := w.pick(start, count, total, level)
		if idx == None {
			return nil
		}
		r := a.At(idx)

		a.Lock(idx)
		r.vloss.Add(1)
		if r.terminal.Load() {
			h := r.heuristic.Load()
			tv := terminalValue(h)
			r.visits.Add(1)
			r.score.Store(r.score.Load() + tv)
			r.vloss.Add(-1)
			a.Unlock(idx)
			if level == 0 && (h > rules.ProofThreshold || w.allTerminal(start, count)) {
				s.proven.Store(true)
				return nil
			}
			w.backpropagate(r, tv)
			return nil
		}

		if err := w.game.MakeMove(r.notation); err != nil {
			r.vloss.Add(-1)
			a.Unlock(idx)
			return fmt.Errorf("replay %q at depth %d: %w", r.notation, level, err)
		}

		if r.visits.Load() == 0 {
			h := r.heuristic.Load()
			r.visits.Add(1)
			r.score.Store(r.score.Load() + h)
			r.vloss.Add(-1)
			a.Unlock(idx)
			w.backpropagate(r, h)
			return nil
		}

		if r.childCount.Load() == -1 {
			first, n := w.expand(idx)
			r.childStart.Store(first)
			r.childCount.Store(n)
		}
		start, count = r.Children()
		total = r.visits.Load() + 1
		if count == 0 {
			// The side to move has no landing, so r is a proven win for
			// its mover.
			h := -rules.NoMoveScore(w.game.Rounds)
			tv := terminalValue(h)
			r.heuristic.Store(h)
			r.terminal.Store(true)
			r.visits.Add(1)
			r.score.Store(r.score.Load() + tv)
			r.vloss.Add(-1)
			a.Unlock(idx)
			w.backpropagate(r, tv)
			return nil
		}
		a.Unlock(idx)
	}
}

func (w *worker) allTerminal(start, count int32) bool {
	a := w.s.arena
	for m := int32(0); m < count; m++ {
		if !a.At(start + m).terminal.Load() {
			return false
		}
	}
	return true
}

// expand allocates the candidates of the current position as children of
// parent in the worker's band.
func (w *worker) expand(parent int32) (int32, int32) {
	w.cands = w.enum.Enumerate(w.game, w.cands[:0])
	first := None
	for _, c := range w.cands {
		i := w.s.arena.Allocate(w.id, parent, w.game.Current, c.Notation)
		if first == None {
			first = i
		}
		r := w.s.arena.At(i)
		r.heuristic.Store(c.Score)
		r.terminal.Store(c.Terminal)
	}
	return first, int32(len(w.cands))
}

// backpropagate adds value, seen from leaf's mover, to every ancestor.
func (w *worker) backpropagate(leaf *Record, value float32) {
	for p := leaf.parent; p != None; {
		r := w.s.arena.At(p)
		v := value
		if r.player != leaf.player {
			v = -v
		}
		w.s.update(p, v)
		p = r.parent
	}
}

// update records a visit on an inner record and refreshes its heuristic
// from its children: the best child value, proven once every child is
// proven or one of them wins.
func (s *search) update(idx int32, value float32) {
	a := s.arena
	r := a.At(idx)
	a.Lock(idx)
	defer a.Unlock(idx)

	r.visits.Add(1)
	r.score.Store(r.score.Load() + value)
	r.vloss.Add(-1)

	start, count := r.Children()
	if count <= 0 {
		return
	}
	h := float32(-rules.Inf)
	all := true
	for m := int32(0); m < count; m++ {
		c := a.At(start + m)
		h = max(h, c.heuristic.Load())
		all = all && c.terminal.Load()
	}
	r.terminal.Store(all || h > rules.ProofThreshold)
	if r.player != a.At(start).player {
		h = -h
	}
	r.heuristic.Store(h)
}
