package mcts

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"lukechampine.com/frand"

	"github.com/brensch/papersoccer/engine/convert"
	"github.com/brensch/papersoccer/game"
	"github.com/brensch/papersoccer/rules"
)

// ChildStat is the summary of one root move.
type ChildStat struct {
	Notation  string  `json:"notation"`
	Win       float32 `json:"win"`
	Visits    int32   `json:"visits"`
	Heuristic float32 `json:"heuristic"`
	Terminal  bool    `json:"terminal"`
}

// Result is the outcome of one search. Win is the estimated win
// percentage of Move for the side to move. Visits counts the simulations
// below the root, including ReusedVisits carried over from the previous
// search; Visits == ReusedVisits + sum(WorkerVisits).
type Result struct {
	Move         string        `json:"move"`
	Win          float32       `json:"win"`
	Visits       int64         `json:"visits"`
	Nodes        int           `json:"nodes"`
	MaxDepth     int           `json:"max_depth"`
	Proven       bool          `json:"proven"`
	Short        bool          `json:"short"`
	Reused       bool          `json:"reused"`
	ReusedVisits int64         `json:"reused_visits"`
	Elapsed      time.Duration `json:"elapsed"`
	Children     []ChildStat   `json:"children"`
	Report       string        `json:"report"`
	// WorkerVisits holds the simulations run by each worker in this call.
	WorkerVisits []int64 `json:"worker_visits"`
}

// visitCounter is the shared simulation count. reserve and commit bracket
// one simulation so MaxVisits is never exceeded.
type visitCounter struct {
	mu       sync.Mutex
	done     int64
	reserved int64
}

func (c *visitCounter) reserve(limit int64) (int32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit > 0 && c.reserved >= limit {
		return 0, false
	}
	c.reserved++
	return int32(min(c.done+1, math.MaxInt32-1)), true
}

func (c *visitCounter) commit() {
	c.mu.Lock()
	c.done++
	c.mu.Unlock()
}

func (c *visitCounter) load() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// search is the state shared by the workers of one Search call.
type search struct {
	cfg       Config
	arena     *Arena
	root      *game.Game
	rootStart int32
	rootCount int32
	deadline  time.Time
	proven    atomic.Bool
	maxDepth  atomic.Int32
	visits    visitCounter
	reused    int64
}

func (s *search) noteDepth(level int) {
	for {
		cur := s.maxDepth.Load()
		if int32(level) <= cur || s.maxDepth.CompareAndSwap(cur, int32(level)) {
			return
		}
	}
}

// Engine owns the arena and runs searches one at a time.
type Engine struct {
	cfg    Config
	layout *game.Layout
	eval   convert.Evaluator
	arena  *Arena

	mu    sync.Mutex
	reuse reuseState

	// OnProgress, when set, receives root snapshots every
	// Config.ProgressInterval while workers run.
	OnProgress func(Result)
}

// reuseState is the move chosen by the last search and the notation the
// game had after it.
type reuseState struct {
	valid  bool
	chosen int32
	prefix string
}

// New builds an engine. A nil evaluator falls back to the distance scorer.
func New(l *game.Layout, eval convert.Evaluator, cfg Config) (*Engine, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:    cfg,
		layout: l,
		eval:   eval,
		arena:  NewArena(cfg.ArenaSize, cfg.Threads, cfg.LockStripes),
	}, nil
}

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) newEnumerator(slot int, rng *rules.Rand) *rules.Enumerator {
	opts := rules.Options{Limit: e.cfg.MoveLimit, AssumeCutoffsKnown: e.cfg.AssumeCutoffsKnown}
	if e.eval == nil {
		return rules.NewEnumerator(rules.DistanceScorer{}, rng, opts)
	}
	return rules.NewEnumerator(convert.NewScorer(e.layout, e.eval, e.cfg.SlotBase+slot), rng, opts)
}

// Search picks a move for the side to move in g within budget. threads <= 0
// uses the configured count. g is not modified.
func (e *Engine) Search(ctx context.Context, g *game.Game, budget time.Duration, threads int) (Result, error) {
	return e.SearchWithProgress(ctx, g, budget, threads, e.OnProgress)
}

// SearchWithProgress is Search with a progress callback for this call only.
// A nil progress disables the snapshots.
func (e *Engine) SearchWithProgress(ctx context.Context, g *game.Game, budget time.Duration, threads int, progress func(Result)) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	if g.IsOver() {
		return Result{}, game.ErrGameOver
	}
	if threads <= 0 || threads > e.cfg.Threads {
		threads = e.cfg.Threads
	}

	if mv, ok := shortWin(g); ok {
		e.reuse = reuseState{}
		res := Result{Move: mv, Win: 100, Proven: true, Short: true, Elapsed: time.Since(start)}
		res.Children = []ChildStat{{Notation: mv, Win: 100, Terminal: true, Heuristic: rules.Inf}}
		res.Report = formatReport(res, 1)
		log.Debug().Str("move", mv).Msg("short winning move")
		return res, nil
	}

	seed := e.cfg.Seed
	if seed == 0 {
		seed = frand.Uint64n(math.MaxUint64)
	}

	s := &search{
		cfg:      e.cfg,
		arena:    e.arena,
		root:     g.Clone(),
		deadline: start.Add(budget),
	}

	reused := e.tryReuse(g, s)
	if !reused {
		e.arena.Reset()
		rng := rules.NewRand(seed)
		enum := e.newEnumerator(0, rng)
		cands := enum.Enumerate(s.root, nil)
		if len(cands) == 0 {
			return Result{}, ErrNoCandidates
		}
		if !e.arena.Headroom(0, len(cands)+e.cfg.MoveLimit) {
			return Result{}, ErrArenaExhausted
		}
		s.rootStart = None
		for _, c := range cands {
			i := e.arena.Allocate(0, None, s.root.Current, c.Notation)
			if s.rootStart == None {
				s.rootStart = i
			}
			r := e.arena.At(i)
			r.heuristic.Store(c.Score)
			r.terminal.Store(c.Terminal)
		}
		s.rootCount = int32(len(cands))
	}

	workers := make([]*worker, threads)
	for id := range workers {
		rng := rules.NewRand(seed + uint64(id+1)*0x9E3779B97F4A7C15)
		workers[id] = &worker{
			id:   id,
			s:    s,
			game: s.root.Clone(),
			rng:  rng,
			enum: e.newEnumerator(id, rng),
		}
	}

	stopProgress := e.startProgress(ctx, s, progress)
	eg, egCtx := errgroup.WithContext(ctx)
	for _, w := range workers {
		eg.Go(func() error { return w.run(egCtx) })
	}
	err := eg.Wait()
	stopProgress()
	if err != nil {
		e.reuse = reuseState{}
		return Result{}, fmt.Errorf("search: %w", err)
	}

	res := e.snapshot(s)
	res.Reused = reused
	res.ReusedVisits = s.reused
	res.Elapsed = time.Since(start)
	res.WorkerVisits = lo.Map(workers, func(w *worker, _ int) int64 { return w.sims })
	res.Report = formatReport(res, len(res.Children))
	e.remember(g, s, res.Move)

	log.Debug().
		Str("move", res.Move).
		Float32("win", res.Win).
		Int64("visits", res.Visits).
		Int("nodes", res.Nodes).
		Int("max_depth", res.MaxDepth).
		Bool("reused", reused).
		Dur("elapsed", res.Elapsed).
		Msg("search done")
	return res, nil
}

// shortWin returns a move that scores at once, when the goal the mover
// attacks is within reach this turn.
func shortWin(g *game.Game) (string, bool) {
	me := g.Current
	if !g.Board.GoalReachable(me.Opponent()) {
		return "", false
	}
	mv := g.Board.ShortWinningMove(me)
	if mv == "" {
		return "", false
	}
	cp := g.Clone()
	if err := cp.MakeMove(mv); err != nil || !cp.IsOver() || cp.Winner() != me {
		return "", false
	}
	return mv, true
}

func winPercent(r *Record) float32 {
	var h float32
	switch visits := r.visits.Load(); {
	case r.terminal.Load():
		if r.heuristic.Load() > rules.TerminalThreshold {
			h = 1
		}
	case visits == 0:
		h = 0.5 + r.heuristic.Load()/2
	default:
		h = 0.5 + r.score.Load()/float32(visits)/2
	}
	return float32(math.Round(float64(10000*h))) / 100
}

// snapshot reads the root children. Safe to call while workers run.
func (e *Engine) snapshot(s *search) Result {
	kids := make([]*Record, 0, s.rootCount)
	for m := int32(0); m < s.rootCount; m++ {
		kids = append(kids, e.arena.At(s.rootStart+m))
	}
	rank := func(r *Record) float64 {
		return float64(r.heuristic.Load()) + math.Log(float64(r.visits.Load())+3)
	}
	sort.SliceStable(kids, func(i, j int) bool { return rank(kids[i]) > rank(kids[j]) })

	res := Result{
		Visits:   s.visits.load(),
		Nodes:    e.arena.Nodes(),
		MaxDepth: int(s.maxDepth.Load()),
		Proven:   s.proven.Load(),
		Children: lo.Map(kids, func(r *Record, _ int) ChildStat {
			return ChildStat{
				Notation:  r.notation,
				Win:       winPercent(r),
				Visits:    r.visits.Load(),
				Heuristic: r.heuristic.Load(),
				Terminal:  r.terminal.Load(),
			}
		}),
	}
	if len(res.Children) > 0 {
		res.Move = res.Children[0].Notation
		res.Win = res.Children[0].Win
	}
	return res
}

const rule = "-------------------------------------------------"

func formatReport(res Result, possible int) string {
	var sb strings.Builder
	for _, c := range res.Children {
		fmt.Fprintf(&sb, "%s: %s%%\n", c.Notation, formatPercent(c.Win))
	}
	sb.WriteString(rule + "\n")
	fmt.Fprintf(&sb, "possible moves: %d\n", possible)
	fmt.Fprintf(&sb, "visits: %d\n", res.Visits)
	fmt.Fprintf(&sb, "nodes: %d\n", res.Nodes)
	fmt.Fprintf(&sb, "maxLevel: %d\n", res.MaxDepth)
	fmt.Fprintf(&sb, "best move: %s: %s%%\n", res.Move, formatPercent(res.Win))
	sb.WriteString(rule + "\n")
	return sb.String()
}

func formatPercent(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', -1, 32)
}

func (e *Engine) startProgress(ctx context.Context, s *search, progress func(Result)) func() {
	if progress == nil {
		return func() {}
	}
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(e.cfg.ProgressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				progress(e.snapshot(s))
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}
