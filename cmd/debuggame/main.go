// Command debuggame replays a move record and shows what the engine sees:
// the board, the enumerated candidates and optionally a search.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/brensch/papersoccer/config"
	"github.com/brensch/papersoccer/engine/convert"
	"github.com/brensch/papersoccer/engine/mcts"
	"github.com/brensch/papersoccer/engine/selfplay"
	"github.com/brensch/papersoccer/game"
	"github.com/brensch/papersoccer/logging"
	"github.com/brensch/papersoccer/rules"
	"github.com/brensch/papersoccer/store"
)

func main() {
	history := flag.String("history", "", "Move record to replay, e.g. \"0,2,17,\"")
	search := flag.Bool("search", false, "Run the tree search on the final position")
	negamax := flag.Bool("negamax", false, "Run the alpha-beta search on the final position")
	depth := flag.Int("depth", 0, "Max alpha-beta depth (0 uses the default)")
	play := flag.Bool("play", false, "Play one self-play game and write it as a debug batch")
	outDir := flag.String("out-dir", "debug_games", "Output directory for -play")

	s, err := config.Load(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if _, err := logging.Setup(os.Stderr, s.LogLevel, s.LogFormat(os.Stderr)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l := game.Standard()
	eval, closer, err := s.OpenEvaluator(l)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open evaluator")
	}
	defer func() { _ = closer.Close() }()

	if *play {
		if err := playDebugGame(ctx, l, eval, s, *outDir); err != nil {
			log.Fatal().Err(err).Msg("debug game failed")
		}
		return
	}

	g := game.NewGame(l)
	if err := g.ApplyHistory(*history); err != nil {
		log.Fatal().Err(err).Msg("replay failed")
	}
	describe(os.Stdout, g, eval, s)

	if g.IsOver() || !(*search || *negamax) {
		return
	}
	if *search {
		eng, err := mcts.New(l, eval, s.MCTS(s.Threads, 0))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build engine")
		}
		res, err := eng.Search(ctx, g, s.Budget, 0)
		if err != nil {
			log.Fatal().Err(err).Msg("search failed")
		}
		fmt.Println(res.Report)
		fmt.Printf("elapsed %s, max depth %d, worker visits %v\n", res.Elapsed.Round(time.Millisecond), res.MaxDepth, res.WorkerVisits)
	}
	if *negamax {
		var scorer rules.LandingScorer
		if eval != nil {
			scorer = convert.NewScorer(l, eval, 0)
		}
		res, err := mcts.NewNegamax(scorer, s.Seed).Search(ctx, g, s.Budget, *depth)
		if err != nil {
			log.Fatal().Err(err).Msg("negamax failed")
		}
		fmt.Printf("negamax: move %s score %.3f depth %d nodes %d aborted %v elapsed %s\n",
			res.Move, res.Score, res.Depth, res.Nodes, res.Aborted, res.Elapsed.Round(time.Millisecond))
	}
}

// describe prints the position and the candidates the search would start
// from.
func describe(w io.Writer, g *game.Game, eval convert.Evaluator, s config.Settings) {
	fmt.Fprintln(w, g.Render())
	fmt.Fprintf(w, "history: %s\n", g.Notation())
	if g.IsOver() {
		fmt.Fprintf(w, "game over, winner %s\n", g.Winner())
		return
	}
	fmt.Fprintf(w, "to move: %s, single hops: %v\n", g.Current, g.Moves())

	var scorer rules.LandingScorer = rules.DistanceScorer{}
	if eval != nil {
		scorer = convert.NewScorer(g.Layout(), eval, 0)
	}
	opts := rules.DefaultOptions()
	opts.Limit = s.MoveLimit
	enum := rules.NewEnumerator(scorer, rules.NewRand(s.Seed+1), opts)
	cands := enum.Enumerate(g, nil)
	fmt.Fprintf(w, "candidates: %d\n", len(cands))
	for _, c := range cands {
		fmt.Fprintf(w, "  %-16s %9.3f  %-12s terminal=%v\n", c.Notation, c.Score, c.Band, c.Terminal)
	}
}

func playDebugGame(ctx context.Context, l *game.Layout, eval convert.Evaluator, s config.Settings, outDir string) error {
	eng, err := mcts.New(l, eval, s.MCTS(s.Threads, 0))
	if err != nil {
		return err
	}
	o, err := selfplay.PlayGame(ctx, eng, l, selfplay.Options{
		Budget:        s.Budget,
		RandomOpening: 0,
		OnStep:        func() { fmt.Print(".") },
	})
	fmt.Println()
	if err != nil {
		return err
	}
	for i := range o.Rows {
		o.Rows[i].Source = "debug"
	}

	bw, err := store.NewBatchWriter(outDir)
	if err != nil {
		return err
	}
	if err := bw.WriteGame(o.Rows); err != nil {
		_, _, _, _ = bw.Finalize()
		return err
	}
	path, rows, _, err := bw.Finalize()
	if err != nil {
		return err
	}
	log.Info().
		Str("game", o.GameID).
		Bool("completed", o.Completed).
		Stringer("winner", o.Winner).
		Int("turns", o.Turns).
		Str("path", path).
		Int("rows", rows).
		Msg("debug game written")
	fmt.Println(o.Notation)
	return nil
}
