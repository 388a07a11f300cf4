// Package selfplay plays engine-versus-engine games and turns them into
// archive rows.
package selfplay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"lukechampine.com/frand"

	"github.com/brensch/papersoccer/engine/mcts"
	"github.com/brensch/papersoccer/game"
	"github.com/brensch/papersoccer/rules"
	"github.com/brensch/papersoccer/store"
)

const Source = "selfplay"

type Options struct {
	// Budget is the think time per move.
	Budget time.Duration
	// Threads per search; 0 uses the engine default.
	Threads int
	// RandomOpening plays that many turns uniformly at random before the
	// engine takes over, so games diverge.
	RandomOpening int
	// MaxTurns abandons a game that runs longer.
	MaxTurns int
	// OnStep is called after every move.
	OnStep func()
}

type Outcome struct {
	GameID    string
	Completed bool
	Winner    game.Player
	Turns     int
	Notation  string
	Rows      []store.TurnRow
}

// PlayGame plays one game with eng choosing every non-random move. A
// cancelled context abandons the game and returns the rows played so far
// with Completed false.
func PlayGame(ctx context.Context, eng *mcts.Engine, l *game.Layout, opts Options) (Outcome, error) {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = 400
	}
	if opts.Budget <= 0 {
		opts.Budget = 100 * time.Millisecond
	}

	g := game.NewGame(l)
	out := Outcome{GameID: uuid.NewString()}
	opening := rules.NewEnumerator(rules.DistanceScorer{}, rules.NewRand(frand.Uint64n(1<<62)), rules.DefaultOptions())
	var cands []rules.Candidate

	for turn := 0; !g.IsOver(); turn++ {
		if ctx.Err() != nil || turn >= opts.MaxTurns {
			out.Notation = g.Notation()
			return out, nil
		}

		history := g.Notation()
		mover := g.Current
		row := store.TurnRow{
			GameID:  out.GameID,
			Turn:    int32(turn),
			Player:  mover.Letter(),
			History: history,
			Source:  Source,
		}

		if turn < opts.RandomOpening {
			cands = opening.Enumerate(g, cands[:0])
			if len(cands) == 0 {
				return out, fmt.Errorf("turn %d: %w", turn, mcts.ErrNoCandidates)
			}
			row.Move = cands[frand.Intn(len(cands))].Notation
			row.Options = int32(len(cands))
			row.Win = 50
		} else {
			res, err := eng.Search(ctx, g, opts.Budget, opts.Threads)
			if err != nil {
				return out, fmt.Errorf("turn %d: %w", turn, err)
			}
			row.Move = res.Move
			row.Win = res.Win
			row.Visits = res.Visits
			row.Nodes = int32(res.Nodes)
			row.MaxDepth = int32(res.MaxDepth)
			row.Options = int32(len(res.Children))
			row.ThinkMs = int32(res.Elapsed.Milliseconds())
			if blob, err := json.Marshal(res.Children); err == nil {
				row.RootJSON = blob
			}
		}

		if err := g.MakeMove(row.Move); err != nil {
			return out, fmt.Errorf("turn %d move %q: %w", turn, row.Move, err)
		}
		out.Rows = append(out.Rows, row)
		out.Turns = turn + 1
		if opts.OnStep != nil {
			opts.OnStep()
		}
	}

	out.Completed = true
	out.Winner = g.Winner()
	out.Notation = g.Notation()
	for i := range out.Rows {
		out.Rows[i].Winner = out.Winner.Letter()
	}
	return out, nil
}

// RunConfig drives several games in parallel, one engine per slot.
type RunConfig struct {
	Games   int
	Options Options
	// OnGame receives every finished game; a returned error stops the run.
	OnGame func(worker int, o Outcome) error
}

// Run plays games on len(engines) concurrent workers until cfg.Games are
// done or ctx is cancelled. Games <= 0 plays until cancellation.
func Run(ctx context.Context, engines []*mcts.Engine, l *game.Layout, cfg RunConfig) error {
	if len(engines) == 0 {
		return errors.New("selfplay: no engines")
	}
	next := make(chan struct{})
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		defer close(next)
		for i := 0; cfg.Games <= 0 || i < cfg.Games; i++ {
			select {
			case next <- struct{}{}:
			case <-egCtx.Done():
				return nil
			}
		}
		return nil
	})

	for id, eng := range engines {
		eg.Go(func() error {
			for range next {
				o, err := PlayGame(egCtx, eng, l, cfg.Options)
				if err != nil {
					if egCtx.Err() != nil {
						return nil
					}
					return fmt.Errorf("worker %d: %w", id, err)
				}
				if !o.Completed {
					log.Debug().Int("worker", id).Str("game", o.GameID).Int("turns", o.Turns).Msg("game abandoned")
					continue
				}
				if cfg.OnGame != nil {
					if err := cfg.OnGame(id, o); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}
	return eg.Wait()
}
