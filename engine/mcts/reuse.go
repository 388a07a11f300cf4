package mcts

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/brensch/papersoccer/game"
)

// remember stores the chosen root move so the next call can continue from
// the reply's subtree.
func (e *Engine) remember(g *game.Game, s *search, move string) {
	e.reuse = reuseState{}
	if !e.cfg.Reuse || move == "" {
		return
	}
	for m := int32(0); m < s.rootCount; m++ {
		i := s.rootStart + m
		if e.arena.At(i).notation != move {
			continue
		}
		cp := g.Clone()
		if err := cp.MakeMove(move); err != nil || cp.IsOver() {
			return
		}
		e.reuse = reuseState{valid: true, chosen: i, prefix: cp.Notation()}
		return
	}
}

// tryReuse re-roots s at the children of the opponent's reply to the last
// chosen move. The old records are only kept while the band has more than
// half its space left; otherwise the arena starts over.
func (e *Engine) tryReuse(g *game.Game, s *search) bool {
	st := e.reuse
	e.reuse = reuseState{}
	if !e.cfg.Reuse || !st.valid || st.prefix == "" {
		return false
	}
	if e.arena.Used(0) > int(e.arena.bandSize)/2 {
		return false
	}
	notation := g.Notation()
	if !strings.HasPrefix(notation, st.prefix) {
		return false
	}
	reply := strings.TrimSuffix(notation[len(st.prefix):], ",")
	if reply == "" || strings.ContainsAny(reply, ", ") {
		return false
	}

	start, count := e.arena.At(st.chosen).Children()
	for m := int32(0); m < count; m++ {
		r := e.arena.At(start + m)
		if r.notation != reply {
			continue
		}
		gs, gc := r.Children()
		if gc <= 0 {
			return false
		}
		for k := int32(0); k < gc; k++ {
			e.arena.At(gs + k).parent = None
		}
		s.rootStart, s.rootCount = gs, gc
		s.reused = int64(r.visits.Load())
		s.visits.done = s.reused
		s.visits.reserved = s.reused
		log.Debug().Str("reply", reply).Int32("visits", r.visits.Load()).Msg("reusing subtree")
		return true
	}
	return false
}
