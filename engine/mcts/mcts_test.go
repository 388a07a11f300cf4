package mcts

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brensch/papersoccer/engine/inference"
	"github.com/brensch/papersoccer/game"
	"github.com/brensch/papersoccer/rules"
)

func testConfig(threads int, visits int64) Config {
	cfg := DefaultConfig()
	cfg.Threads = threads
	cfg.ArenaSize = 1 << 18
	cfg.LockStripes = 256
	cfg.MaxVisits = visits
	cfg.Seed = 11
	return cfg
}

func newGame(t *testing.T, history string) *game.Game {
	t.Helper()
	g := game.NewGame(game.Standard())
	require.NoError(t, g.ApplyHistory(history))
	return g
}

func TestArena_Bands(t *testing.T) {
	a := NewArena(1000, 4, 100)
	require.Equal(t, 1024, a.Capacity())
	require.Equal(t, 4, a.Bands())
	require.Len(t, a.locks, 128)

	i := a.Allocate(2, None, game.One, "3")
	require.Equal(t, int32(512), i)
	j := a.Allocate(2, i, game.Two, "41")
	require.Equal(t, int32(513), j)
	r := a.At(j)
	require.Equal(t, i, r.Parent())
	require.Equal(t, "41", r.Notation())
	start, count := r.Children()
	require.Equal(t, None, start)
	require.Equal(t, int32(-1), count)

	require.True(t, a.Headroom(2, 253))
	require.False(t, a.Headroom(2, 254))
	require.Equal(t, 2, a.Nodes())

	for k := 0; k < 254; k++ {
		a.Allocate(2, None, game.One, "0")
	}
	// The cursor wraps inside the band.
	require.Equal(t, int32(512), a.Allocate(2, None, game.One, "0"))

	a.Reset()
	require.Zero(t, a.Nodes())
	a.Lock(7)
	a.Unlock(7)
}

func TestArena_NodesWhileAllocating(t *testing.T) {
	a := NewArena(1<<12, 2, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for k := 0; k < 1000; k++ {
			a.Allocate(1, None, game.One, "0")
		}
	}()
	seen := 0
	for {
		select {
		case <-done:
			require.Equal(t, 1000, a.Nodes())
			require.Equal(t, 1000, a.Used(1))
			require.GreaterOrEqual(t, 1000, seen)
			return
		default:
			seen = max(seen, a.Nodes())
			_ = a.Headroom(1, 10)
		}
	}
}

func TestConfig_Normalize(t *testing.T) {
	cfg := Config{Reuse: true, Threads: 8}
	got, err := cfg.normalize()
	require.NoError(t, err)
	require.Equal(t, 1, got.Threads)
	require.Equal(t, rules.DefaultLimit, got.MoveLimit)
	require.Equal(t, DefaultArenaSize, got.ArenaSize)

	_, err = Config{Threads: MaxThreads + 1}.normalize()
	require.ErrorIs(t, err, ErrBadConfig)
	_, err = Config{Threads: 8, ArenaSize: 64}.normalize()
	require.ErrorIs(t, err, ErrBadConfig)
}

func TestSearch_VisitCounterMatchesWorkers(t *testing.T) {
	for _, threads := range []int{1, 4} {
		e, err := New(game.Standard(), nil, testConfig(threads, 300))
		require.NoError(t, err)
		g := newGame(t, "")

		res, err := e.Search(context.Background(), g, time.Minute, 0)
		require.NoError(t, err)
		require.Equal(t, int64(300), res.Visits, "threads=%d", threads)
		require.Len(t, res.WorkerVisits, threads)
		var sum int64
		for _, v := range res.WorkerVisits {
			sum += v
		}
		require.Equal(t, res.Visits, sum)

		require.NoError(t, g.Clone().MakeMove(res.Move))
		require.Equal(t, "", g.Notation(), "search must not touch the caller's game")
		require.Len(t, res.Children, 8)
		require.Greater(t, res.Nodes, 8)
	}
}

func TestSearch_VisitsGrowWithBudget(t *testing.T) {
	g := newGame(t, "0,3,")
	var last int64
	for _, visits := range []int64{50, 150, 400} {
		e, err := New(game.Standard(), nil, testConfig(2, visits))
		require.NoError(t, err)
		res, err := e.Search(context.Background(), g, time.Minute, 0)
		require.NoError(t, err)
		require.GreaterOrEqual(t, res.Visits, last)
		last = res.Visits
	}
	require.Equal(t, int64(400), last)
}

func TestSearch_Report(t *testing.T) {
	e, err := New(game.Standard(), nil, testConfig(1, 100))
	require.NoError(t, err)
	res, err := e.Search(context.Background(), newGame(t, ""), time.Minute, 0)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(res.Report), "\n")
	require.Len(t, lines, len(res.Children)+7)
	require.True(t, strings.HasPrefix(lines[0], res.Move+": "))
	require.Contains(t, res.Report, "possible moves: 8\n")
	require.Contains(t, res.Report, "visits: 100\n")
	require.Contains(t, res.Report, "best move: "+res.Move+": ")
	for _, c := range res.Children {
		require.GreaterOrEqual(t, c.Win, float32(0))
		require.LessOrEqual(t, c.Win, float32(100))
	}
}

func TestSearch_ShortWinningMove(t *testing.T) {
	e, err := New(game.Standard(), nil, testConfig(2, 100))
	require.NoError(t, err)
	g := newGame(t, "0,0,0,0,0,")

	res, err := e.Search(context.Background(), g, time.Second, 0)
	require.NoError(t, err)
	require.True(t, res.Short)
	require.Equal(t, "7", res.Move)
	require.Equal(t, float32(100), res.Win)

	require.NoError(t, g.MakeMove(res.Move))
	require.True(t, g.IsOver())
	require.Equal(t, game.Two, g.Winner())
}

func TestSearch_GameOver(t *testing.T) {
	e, err := New(game.Standard(), nil, testConfig(1, 10))
	require.NoError(t, err)
	g := newGame(t, "0,0,0,0,0,0")
	_, err = e.Search(context.Background(), g, time.Second, 0)
	require.ErrorIs(t, err, game.ErrGameOver)
}

func TestSearch_WithNetworkEvaluator(t *testing.T) {
	l := game.Standard()
	net := inference.NewNetwork(1471, 16, 0, 5)
	eval := inference.NewInstrumented(net)
	e, err := New(l, eval, testConfig(3, 200))
	require.NoError(t, err)

	res, err := e.Search(context.Background(), newGame(t, "0,3,"), time.Minute, 0)
	require.NoError(t, err)
	require.Equal(t, int64(200), res.Visits)
	st := eval.Stats()
	require.Greater(t, st.Primes, int64(0))
	require.GreaterOrEqual(t, st.Evaluations, st.Primes)
}

func TestSearch_Progress(t *testing.T) {
	cfg := testConfig(2, 0)
	cfg.ProgressInterval = time.Millisecond
	e, err := New(game.Standard(), nil, cfg)
	require.NoError(t, err)
	var calls atomic.Int32
	e.OnProgress = func(r Result) {
		calls.Add(1)
	}
	_, err = e.Search(context.Background(), newGame(t, ""), 60*time.Millisecond, 0)
	require.NoError(t, err)
	require.Greater(t, calls.Load(), int32(0))
}

// Snapshots read the arena while workers allocate; run with -race.
func TestSearchWithProgress_SnapshotsWhileWorkersAllocate(t *testing.T) {
	cfg := testConfig(4, 0)
	cfg.ProgressInterval = time.Millisecond
	e, err := New(game.Standard(), nil, cfg)
	require.NoError(t, err)
	var maxNodes atomic.Int64
	res, err := e.SearchWithProgress(context.Background(), newGame(t, ""), 80*time.Millisecond, 0, func(r Result) {
		if int64(r.Nodes) > maxNodes.Load() {
			maxNodes.Store(int64(r.Nodes))
		}
	})
	require.NoError(t, err)
	require.Greater(t, maxNodes.Load(), int64(0))
	require.GreaterOrEqual(t, int64(res.Nodes), maxNodes.Load())
}

func TestSearch_Cancelled(t *testing.T) {
	e, err := New(game.Standard(), nil, testConfig(2, 0))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := e.Search(ctx, newGame(t, ""), time.Minute, 0)
	require.NoError(t, err)
	require.Zero(t, res.Visits)
	require.NotEmpty(t, res.Move)
}

func TestSearch_ReusesReplySubtree(t *testing.T) {
	cfg := testConfig(1, 500)
	cfg.Reuse = true
	e, err := New(game.Standard(), nil, cfg)
	require.NoError(t, err)
	g := newGame(t, "")

	res, err := e.Search(context.Background(), g, time.Minute, 0)
	require.NoError(t, err)
	require.False(t, res.Reused)
	require.True(t, e.reuse.valid)
	require.NoError(t, g.MakeMove(res.Move))

	// Reply with the most visited answer, which has been expanded.
	start, count := e.arena.At(e.reuse.chosen).Children()
	require.Greater(t, count, int32(0))
	var reply *Record
	for m := int32(0); m < count; m++ {
		r := e.arena.At(start + m)
		if reply == nil || r.Visits() > reply.Visits() {
			reply = r
		}
	}
	_, gc := reply.Children()
	require.Greater(t, gc, int32(0))
	require.NoError(t, g.MakeMove(reply.Notation()))

	res2, err := e.Search(context.Background(), g, time.Minute, 0)
	require.NoError(t, err)
	require.True(t, res2.Reused)
	require.Equal(t, int64(500), res2.Visits)
	require.Greater(t, res2.ReusedVisits, int64(0))
	var sum int64
	for _, v := range res2.WorkerVisits {
		sum += v
	}
	require.Equal(t, res2.Visits, res2.ReusedVisits+sum)
	require.NoError(t, g.Clone().MakeMove(res2.Move))
}

// buildRoot allocates root children with the given heuristics; terminal
// children are those with |h| > TerminalThreshold.
func buildRoot(a *Arena, player game.Player, hs ...float32) (int32, int32) {
	start := None
	for _, h := range hs {
		i := a.Allocate(0, None, player, "0")
		if start == None {
			start = i
		}
		a.At(i).heuristic.Store(h)
		a.At(i).terminal.Store(h > rules.TerminalThreshold || h < -rules.TerminalThreshold)
	}
	return start, int32(len(hs))
}

func newTestSearch(a *Arena) (*search, *worker) {
	s := &search{cfg: testConfig(1, 0), arena: a, root: game.NewGame(game.Standard()), deadline: time.Now().Add(time.Minute)}
	w := &worker{id: 0, s: s, game: s.root.Clone(), rng: rules.NewRand(3)}
	return s, w
}

func TestBackprop_ProvesParent(t *testing.T) {
	a := NewArena(1024, 1, 64)
	s, _ := newTestSearch(a)

	p := a.Allocate(0, None, game.One, "0")
	c1 := a.Allocate(0, p, game.Two, "1")
	c2 := a.Allocate(0, p, game.Two, "2")
	a.At(p).childStart.Store(c1)
	a.At(p).childCount.Store(2)
	a.At(c1).heuristic.Store(-990)
	a.At(c1).terminal.Store(true)
	a.At(c2).heuristic.Store(0.25)

	a.At(p).vloss.Add(1)
	s.update(p, 0.5)
	r := a.At(p)
	require.Equal(t, int32(1), r.Visits())
	require.Equal(t, float32(0.5), r.Score())
	require.Equal(t, float32(-0.25), r.Heuristic())
	require.False(t, r.Terminal())
	require.Zero(t, r.vloss.Load())

	// Once the opponent has a proven win the parent is proven lost.
	a.At(c2).heuristic.Store(995)
	a.At(c2).terminal.Store(true)
	s.update(p, -1)
	require.True(t, r.Terminal())
	require.Equal(t, float32(-995), r.Heuristic())
}

func TestBackprop_AllLosingChildrenProveParentWin(t *testing.T) {
	a := NewArena(1024, 1, 64)
	s, _ := newTestSearch(a)

	p := a.Allocate(0, None, game.One, "0")
	c1 := a.Allocate(0, p, game.Two, "1")
	c2 := a.Allocate(0, p, game.Two, "2")
	a.At(p).childStart.Store(c1)
	a.At(p).childCount.Store(2)
	a.At(c1).heuristic.Store(-990)
	a.At(c1).terminal.Store(true)
	a.At(c2).heuristic.Store(-960)
	a.At(c2).terminal.Store(true)

	a.At(p).vloss.Add(1)
	s.update(p, 1)
	r := a.At(p)
	require.True(t, r.Terminal())
	// The opponent's best reply still loses.
	require.Equal(t, float32(960), r.Heuristic())
}

func TestBackprop_SameMoverKeepsSign(t *testing.T) {
	a := NewArena(1024, 1, 64)
	s, _ := newTestSearch(a)

	p := a.Allocate(0, None, game.One, "0")
	c1 := a.Allocate(0, p, game.One, "1")
	c2 := a.Allocate(0, p, game.One, "2")
	a.At(p).childStart.Store(c1)
	a.At(p).childCount.Store(2)
	a.At(c1).heuristic.Store(0.3)
	a.At(c2).heuristic.Store(-0.1)

	a.At(p).vloss.Add(1)
	s.update(p, 0.2)
	require.False(t, a.At(p).Terminal())
	require.Equal(t, float32(0.3), a.At(p).Heuristic())
}

func TestBackpropagate_FlipsValueForOpponent(t *testing.T) {
	a := NewArena(1024, 1, 64)
	_, w := newTestSearch(a)

	root := a.Allocate(0, None, game.One, "0")
	mid := a.Allocate(0, root, game.Two, "1")
	leaf := a.Allocate(0, mid, game.One, "2")
	a.At(root).vloss.Add(1)
	a.At(mid).vloss.Add(1)

	w.backpropagate(a.At(leaf), 0.4)
	require.Equal(t, float32(-0.4), a.At(mid).Score())
	require.Equal(t, float32(0.4), a.At(root).Score())
	require.Equal(t, int32(1), a.At(root).Visits())
	require.Zero(t, a.At(mid).vloss.Load())
}

func TestSimulate_NoChildrenIsProvenWin(t *testing.T) {
	a := NewArena(1024, 1, 64)
	s, w := newTestSearch(a)
	s.rootStart, s.rootCount = buildRoot(a, game.One, 0.2)
	r := a.At(s.rootStart)
	r.visits.Store(1)
	r.childCount.Store(0)

	require.NoError(t, w.simulate(s.rootStart, s.rootCount, 2))
	require.True(t, r.Terminal())
	require.Greater(t, r.Heuristic(), float32(rules.ProofThreshold))
	require.Equal(t, int32(2), r.Visits())
	require.Equal(t, float32(1), r.Score())
	require.Zero(t, r.vloss.Load())
}

func TestSimulate_RootProof(t *testing.T) {
	a := NewArena(1024, 1, 64)
	s, w := newTestSearch(a)
	s.rootStart, s.rootCount = buildRoot(a, game.One, 0.1, 996, -0.2)

	require.NoError(t, w.simulate(s.rootStart, s.rootCount, 1))
	require.True(t, s.proven.Load())
	require.Equal(t, int32(1), a.At(s.rootStart+1).Visits())
}

func TestSimulate_AllChildrenProven(t *testing.T) {
	a := NewArena(1024, 1, 64)
	s, w := newTestSearch(a)
	s.rootStart, s.rootCount = buildRoot(a, game.One, -990, -980)

	require.NoError(t, w.simulate(s.rootStart, s.rootCount, 1))
	require.True(t, s.proven.Load())
}

func TestPick_UniformTieBreak(t *testing.T) {
	a := NewArena(1024, 1, 64)
	_, w := newTestSearch(a)
	start, count := buildRoot(a, game.One, -990, -990, -990, -990)

	hits := map[int32]int{}
	const draws = 4000
	for i := 0; i < draws; i++ {
		hits[w.pick(start, count, 1, 1)]++
	}
	require.Len(t, hits, 4)
	for idx, n := range hits {
		require.InDelta(t, draws/4, n, 250, "child %d", idx)
	}
}

func TestNegamax_FindsGoal(t *testing.T) {
	g := newGame(t, "0,0,0,0,0,")
	n := NewNegamax(nil, 5)
	res, err := n.Search(context.Background(), g, time.Second, 4)
	require.NoError(t, err)
	require.Greater(t, res.Score, float32(rules.TerminalThreshold))

	require.NoError(t, g.MakeMove(res.Move))
	require.True(t, g.IsOver())
	require.Equal(t, game.Two, g.Winner())
}

func TestNegamax_AbortKeepsBestSoFar(t *testing.T) {
	g := newGame(t, "")
	n := NewNegamax(nil, 5)
	res, err := n.Search(context.Background(), g, 0, 5)
	require.NoError(t, err)
	require.True(t, res.Aborted)
	require.Zero(t, res.Depth)
	require.NoError(t, g.MakeMove(res.Move))
}

func TestNegamax_Deepens(t *testing.T) {
	g := newGame(t, "0,3,")
	n := NewNegamax(nil, 9)
	res, err := n.Search(context.Background(), g, time.Minute, 3)
	require.NoError(t, err)
	require.False(t, res.Aborted)
	require.Equal(t, 2, res.Depth)
	require.Greater(t, res.Nodes, int64(0))
	require.NoError(t, g.Clone().MakeMove(res.Move))
}

func BenchmarkSearch(b *testing.B) {
	l := game.Standard()
	g := game.NewGame(l)
	_ = g.ApplyHistory("0,3,61,")
	cfg := testConfig(1, 1000)
	e, err := New(l, nil, cfg)
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Search(context.Background(), g, time.Minute, 0); err != nil {
			b.Fatal(err)
		}
	}
}
