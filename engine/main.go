package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"

	"github.com/brensch/papersoccer/config"
	"github.com/brensch/papersoccer/engine/convert"
	"github.com/brensch/papersoccer/engine/inference"
	"github.com/brensch/papersoccer/engine/mcts"
	"github.com/brensch/papersoccer/engine/selfplay"
	"github.com/brensch/papersoccer/game"
	"github.com/brensch/papersoccer/logging"
	"github.com/brensch/papersoccer/store"
)

var totalMoves atomic.Int64
var totalGames atomic.Int64

type GameUpdate struct {
	WorkerID int
	Outcome  selfplay.Outcome
}

type gameWriteRequest struct {
	rows []store.TurnRow
}

type statsFunc func() (inference.RuntimeStats, bool)

type model struct {
	gamesPlayed int
	totalRows   int
	wins        [3]int
	moves       int64
	stats       statsFunc
	evals       int64
	startTime   time.Time
	recentGames []string
	updates     chan GameUpdate
}

func initialModel(updates chan GameUpdate, stats statsFunc) model {
	return model{
		startTime: time.Now(),
		updates:   updates,
		stats:     stats,
	}
}

type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*100, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.updates), tickCmd())
}

func waitForUpdate(updates chan GameUpdate) tea.Cmd {
	return func() tea.Msg {
		return <-updates
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case TickMsg:
		m.moves = totalMoves.Load()
		if st, ok := m.stats(); ok {
			m.evals = st.Evaluations
		}
		return m, tickCmd()
	case GameUpdate:
		m.gamesPlayed++
		m.totalRows += len(msg.Outcome.Rows)
		m.wins[msg.Outcome.Winner]++
		line := fmt.Sprintf("Worker %d: Winner %s, Turns %d", msg.WorkerID, msg.Outcome.Winner, msg.Outcome.Turns)
		m.recentGames = append([]string{line}, m.recentGames...)
		if len(m.recentGames) > 10 {
			m.recentGames = m.recentGames[:10]
		}
		return m, waitForUpdate(m.updates)
	}
	return m, nil
}

func (m model) View() string {
	duration := time.Since(m.startTime)
	gamesPerSec := float64(m.gamesPlayed) / duration.Seconds()
	movesPerSec := float64(m.moves) / duration.Seconds()
	evalsPerSec := float64(m.evals) / duration.Seconds()
	if duration.Seconds() < 1 {
		gamesPerSec = 0
		movesPerSec = 0
		evalsPerSec = 0
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Games Played:   %d (one %d, two %d)\n", m.gamesPlayed, m.wins[game.One], m.wins[game.Two])
	fmt.Fprintf(&b, "Total Rows:     %d\n", m.totalRows)
	fmt.Fprintf(&b, "Total Moves:    %d\n", m.moves)
	fmt.Fprintf(&b, "Evaluations:    %d\n", m.evals)
	fmt.Fprintf(&b, "Duration:       %s\n", duration.Round(time.Second))
	fmt.Fprintf(&b, "Games/Sec:      %.2f\n", gamesPerSec)
	fmt.Fprintf(&b, "Moves/Sec:      %.2f\n", movesPerSec)
	fmt.Fprintf(&b, "Evals/Sec:      %.2f\n\n", evalsPerSec)

	b.WriteString("Recent Games:\n")
	for _, g := range m.recentGames {
		b.WriteString(g + "\n")
	}

	b.WriteString("\nPress q to quit.\n")
	return b.String()
}

func main() {
	workers := flag.Int("workers", 4, "Number of self-play workers")
	games := flag.Int("games", 0, "If > 0, stop after this many completed games")
	gamesPerFlush := flag.Int("games-per-flush", 50, "Number of games to buffer per parquet flush")
	randomOpening := flag.Int("random-opening", 2, "Random turns played before the engine takes over")
	maxTurns := flag.Int("max-turns", 400, "Abandon games longer than this")
	reuse := flag.Bool("reuse", false, "Keep the reply subtree between moves (forces one thread per engine)")
	useTUI := flag.Bool("tui", false, "Show the terminal dashboard instead of log lines")

	s, err := config.Load(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	format := s.LogFormat(os.Stderr)
	logOut := os.Stderr
	if *useTUI {
		// Keep the dashboard readable.
		f, err := os.OpenFile("selfplay.log", os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer f.Close()
		logOut = f
		format = logging.FormatJSON
	}
	if _, err := logging.Setup(logOut, s.LogLevel, format); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	l := game.Standard()
	eval, closer, err := s.OpenEvaluator(l)
	if err != nil {
		log.Fatal().Err(err).Str("evaluator", s.Evaluator).Msg("failed to open evaluator")
	}
	defer func() { _ = closer.Close() }()

	engines, err := newEngines(l, eval, s, *workers, *reuse)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build engines")
	}
	stats := func() (inference.RuntimeStats, bool) {
		if sp, ok := eval.(interface{ Stats() inference.RuntimeStats }); ok {
			return sp.Stats(), true
		}
		return inference.RuntimeStats{}, false
	}

	log.Info().
		Int("workers", len(engines)).
		Int("threads", engines[0].Config().Threads).
		Dur("budget", s.Budget).
		Str("evaluator", s.Evaluator).
		Str("out_dir", s.DataDir).
		Msg("starting self-play")

	updates := make(chan GameUpdate, len(engines))
	writeReqs := make(chan gameWriteRequest, len(engines)*4)

	writerDone := make(chan struct{})
	go func() {
		parquetWriterLoop(s.DataDir, *gamesPerFlush, writeReqs)
		close(writerDone)
	}()

	runDone := make(chan error, 1)
	go func() {
		runDone <- selfplay.Run(ctx, engines, l, selfplay.RunConfig{
			Games: *games,
			Options: selfplay.Options{
				Budget:        s.Budget,
				RandomOpening: *randomOpening,
				MaxTurns:      *maxTurns,
				OnStep:        func() { totalMoves.Add(1) },
			},
			OnGame: func(worker int, o selfplay.Outcome) error {
				totalGames.Add(1)
				writeReqs <- gameWriteRequest{rows: o.Rows}
				// Avoid blocking shutdown if the UI loop stops consuming.
				select {
				case updates <- GameUpdate{WorkerID: worker, Outcome: o}:
				default:
				}
				return nil
			},
		})
	}()

	finish := func(err error) {
		if err != nil {
			log.Error().Err(err).Msg("self-play stopped")
		}
		close(writeReqs)
		<-writerDone
		log.Info().Int64("games", totalGames.Load()).Msg("shutdown complete: final parquet flush done")
	}

	if *useTUI {
		p := tea.NewProgram(initialModel(updates, stats), tea.WithAltScreen())
		go func() {
			<-ctx.Done()
			p.Quit()
		}()
		if _, err := p.Run(); err != nil {
			log.Error().Err(err).Msg("tui failed")
		}
		cancel()
		finish(<-runDone)
		return
	}

	startTime := time.Now()
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case err := <-runDone:
			finish(err)
			return
		case update := <-updates:
			log.Info().
				Int("worker", update.WorkerID).
				Str("game", update.Outcome.GameID).
				Stringer("winner", update.Outcome.Winner).
				Int("turns", update.Outcome.Turns).
				Msg("game finished")
		case <-ticker.C:
			secs := time.Since(startTime).Seconds()
			ev := log.Info().
				Float64("moves_per_sec", float64(totalMoves.Load())/secs).
				Int64("games", totalGames.Load())
			if st, ok := stats(); ok {
				ev = ev.Float64("evals_per_sec", float64(st.Evaluations)/secs).
					Float64("batch_avg", st.AvgBatchSize).
					Int64("batch_last", st.LastBatchSize).
					Int("queue", st.QueueLen).
					Float64("run_avg_ms", st.AvgRunMs)
			}
			ev.Msg("stats")
		}
	}
}

// newEngines builds one engine per worker. With a shared evaluator each
// engine gets its own range of evaluator slots.
func newEngines(l *game.Layout, eval convert.Evaluator, s config.Settings, workers int, reuse bool) ([]*mcts.Engine, error) {
	if workers < 1 {
		workers = 1
	}
	threads := s.Threads
	if reuse {
		threads = 1
	}
	if eval != nil && workers*threads > inference.MaxSlots {
		return nil, fmt.Errorf("%d workers x %d threads exceed %d evaluator slots", workers, threads, inference.MaxSlots)
	}
	engines := make([]*mcts.Engine, 0, workers)
	for i := 0; i < workers; i++ {
		base := 0
		if eval != nil {
			base = i * threads
		}
		cfg := s.MCTS(threads, base)
		cfg.Reuse = reuse
		cfg.ArenaSize = max(cfg.ArenaSize/workers, 1<<16)
		e, err := mcts.New(l, eval, cfg)
		if err != nil {
			return nil, fmt.Errorf("engine %d: %w", i, err)
		}
		engines = append(engines, e)
	}
	return engines, nil
}

func parquetWriterLoop(outDir string, gamesPerFlush int, in <-chan gameWriteRequest) {
	if gamesPerFlush <= 0 {
		gamesPerFlush = 50
	}

	pendingRows := make([]store.TurnRow, 0, 128*gamesPerFlush)
	pendingGames := 0

	flush := func(reason string) {
		outPath, err := store.WriteBatchParquetAtomic(outDir, pendingRows)
		if err != nil {
			log.Error().Err(err).Str("reason", reason).Int("games", pendingGames).Int("rows", len(pendingRows)).Msg("parquet flush failed")
		} else {
			log.Info().Str("path", outPath).Str("reason", reason).Int("games", pendingGames).Int("rows", len(pendingRows)).Msg("parquet flush ok")
		}
		pendingRows = pendingRows[:0]
		pendingGames = 0
	}

	for req := range in {
		if len(req.rows) == 0 {
			continue
		}
		pendingRows = append(pendingRows, req.rows...)
		pendingGames++

		if pendingGames >= gamesPerFlush {
			flush("count")
		}
	}

	if pendingGames > 0 && len(pendingRows) > 0 {
		flush("final")
	}
}
