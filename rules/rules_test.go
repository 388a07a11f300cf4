package rules

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brensch/papersoccer/game"
)

type recordingScorer struct {
	primed  int
	scored  int
	players []game.Player
	value   float32
}

func (s *recordingScorer) Prime(g *game.Game) { s.primed++ }

func (s *recordingScorer) Score(g *game.Game, _ []game.Edge, _ game.Edge) float32 {
	s.scored++
	s.players = append(s.players, g.Current)
	return s.value
}

func newGame(t *testing.T, history string) *game.Game {
	t.Helper()
	g := game.NewGame(game.Standard())
	require.NoError(t, g.ApplyHistory(history))
	return g
}

func find(cs []Candidate, notation string) (Candidate, bool) {
	for _, c := range cs {
		if c.Notation == notation {
			return c, true
		}
	}
	return Candidate{}, false
}

func TestEnumerate_KickOffHasEightSingleHops(t *testing.T) {
	g := newGame(t, "")
	hash := g.Board.Hash()
	e := NewEnumerator(nil, NewRand(7), DefaultOptions())

	cs := e.Enumerate(g, nil)
	require.Len(t, cs, 8)
	seen := map[string]bool{}
	for _, c := range cs {
		require.Len(t, c.Notation, 1)
		require.False(t, seen[c.Notation], "duplicate %q", c.Notation)
		seen[c.Notation] = true
		require.Equal(t, Generic, c.Band)
		require.False(t, c.Terminal)
	}
	require.Equal(t, hash, g.Board.Hash(), "enumeration must restore the board")
}

func TestEnumerate_ScorerSeesOpponentToMove(t *testing.T) {
	g := newGame(t, "")
	s := &recordingScorer{value: 0.25}
	e := NewEnumerator(s, NewRand(1), DefaultOptions())

	cs := e.Enumerate(g, nil)
	require.Equal(t, 1, s.primed)
	require.Equal(t, 8, s.scored)
	for _, p := range s.players {
		require.Equal(t, game.Two, p)
	}
	for _, c := range cs {
		require.InDelta(t, -0.25, c.Score, 1e-6)
	}
	require.Equal(t, game.One, g.Current)
	require.Equal(t, 0, g.Rounds)
}

func TestEnumerate_RespectsLimit(t *testing.T) {
	g := newGame(t, "0,3,")
	e := NewEnumerator(nil, NewRand(3), Options{Limit: 3})
	require.Len(t, e.Enumerate(g, nil), 3)
}

func TestEnumerate_CandidatesAreLegalAndUnique(t *testing.T) {
	for _, history := range []string{"0,3,", "0,0,0,0,", "2,2,2,3,"} {
		g := newGame(t, history)
		hash := g.Board.Hash()
		e := NewEnumerator(DistanceScorer{}, NewRand(11), DefaultOptions())
		cs := e.EnumerateExact(g, nil)
		require.NotEmpty(t, cs, history)
		require.Equal(t, hash, g.Board.Hash(), history)

		seen := map[string]bool{}
		for _, c := range cs {
			require.False(t, seen[c.Notation], "%s: duplicate %q", history, c.Notation)
			seen[c.Notation] = true

			replay := g.Clone()
			require.NoError(t, replay.MakeMove(c.Notation), "%s: %q", history, c.Notation)
			// Dead ends found through pre-filled forced chains may stop
			// short of closing the turn.
			if c.Band != DeadEnd {
				require.True(t, replay.IsOver() || replay.Current != g.Current, "%s: %q leaves the turn open", history, c.Notation)
			}
			require.NoError(t, replay.UndoMove())
			require.Equal(t, hash, replay.Board.Hash())
		}
	}
}

func TestEnumerate_GoalBands(t *testing.T) {
	// Two to move on (4,0), right in front of One's goal.
	g := newGame(t, "0,0,0,0,0,")
	e := NewEnumerator(nil, NewRand(5), DefaultOptions())
	cs := e.Enumerate(g, nil)
	for _, m := range []string{"7", "0", "1"} {
		c, ok := find(cs, m)
		require.True(t, ok, "missing %q", m)
		require.Equal(t, GoalForOpponent, c.Band)
		require.Equal(t, float32(1000-5), c.Score)
		require.True(t, c.Terminal)
	}

	// One to move on (4,1) can bounce off the post into its own goal.
	g = newGame(t, "0,0,0,0,")
	cs = e.Enumerate(g, nil)
	c, ok := find(cs, "71")
	require.True(t, ok)
	require.Equal(t, GoalForSelf, c.Band)
	require.Equal(t, float32(-950+4), c.Score)
}

// requireBandScore checks a candidate's score against its band for a
// position at round r.
func requireBandScore(t *testing.T, c Candidate, r float32, history string) {
	t.Helper()
	want := map[Band]float32{
		GoalForOpponent: goalForOpp - r,
		OnlyOneEmpty:    onlyOneEmpty - r,
		CutOffOpponent:  cutOffOpponent - r,
		CutOffSelf:      cutOffSelf + r,
		OnlyTwoEmpty:    onlyTwoEmpty + r,
		NextTurnGoal:    nextTurnGoal + r,
		GoalForSelf:     goalForSelf + r,
		DeadEnd:         deadEnd + r,
	}
	if c.Band == Generic {
		require.LessOrEqual(t, c.Score, float32(1), "%s: %q", history, c.Notation)
		require.GreaterOrEqual(t, c.Score, float32(-1), "%s: %q", history, c.Notation)
		require.False(t, c.Terminal)
		return
	}
	require.Equal(t, want[c.Band], c.Score, "%s: %q %s", history, c.Notation, c.Band)
	require.True(t, c.Terminal, "%s: %q %s", history, c.Notation, c.Band)
}

func TestBandScores_StrictOrder(t *testing.T) {
	for r := float32(0); r < 50; r++ {
		order := []float32{
			goalForOpp - r,
			onlyOneEmpty - r,
			cutOffOpponent - r,
			TerminalThreshold,
			-TerminalThreshold,
			cutOffSelf + r,
			onlyTwoEmpty + r,
			nextTurnGoal + r,
			goalForSelf + r,
			deadEnd + r,
		}
		for i := 1; i < len(order); i++ {
			require.Greater(t, order[i-1], order[i], "round %v position %d", r, i)
		}
	}
}

// Seeded random games walk into every band; scores must match the band
// they were produced by.
func TestEnumerate_RandomGamesReachEveryBand(t *testing.T) {
	l := game.Standard()
	pick := NewRand(20240601)
	e := NewEnumerator(DistanceScorer{}, NewRand(5), DefaultOptions())
	seen := map[Band]int{}
	gameOverCheck := false
	var cs []Candidate

	for games := 0; games < 3000 && (len(seen) < len(bandNames) || !gameOverCheck); games++ {
		g := game.NewGame(l)
		for turn := 0; !g.IsOver() && turn < 400; turn++ {
			if g.Board.ShouldCheckForGameOver(g.Current) {
				gameOverCheck = true
			}
			history := g.Notation()
			hash := g.Board.Hash()
			cs = e.EnumerateExact(g, cs[:0])
			require.Equal(t, hash, g.Board.Hash(), history)
			if len(cs) == 0 {
				break
			}
			r := float32(g.Rounds)
			for _, c := range cs {
				seen[c.Band]++
				requireBandScore(t, c, r, history)
			}
			mv := cs[pick.Intn(len(cs))].Notation
			require.NoError(t, g.MakeMove(mv), "%s: %q", history, mv)
		}
	}

	for b := range bandNames {
		require.Positive(t, seen[Band(b)], "band %s never produced", Band(b))
	}
	require.True(t, gameOverCheck, "ShouldCheckForGameOver never fired")
}

// With AssumeCutoffsKnown the traversal is identical; only the cut-off
// bands fall through to the generic score.
func TestEnumerate_AssumeCutoffsKnownOnlyHidesCutOffBands(t *testing.T) {
	l := game.Standard()
	pick := NewRand(77)
	var exact, assumed []Candidate
	hidden := 0

	for games := 0; games < 1000 && hidden == 0; games++ {
		g := game.NewGame(l)
		for turn := 0; !g.IsOver() && turn < 400; turn++ {
			seed := pick.Uint64()
			ex := NewEnumerator(DistanceScorer{}, NewRand(seed), Options{Limit: DefaultLimit})
			as := NewEnumerator(DistanceScorer{}, NewRand(seed), Options{Limit: DefaultLimit, AssumeCutoffsKnown: true})
			exact = ex.Enumerate(g, exact[:0])
			assumed = as.Enumerate(g, assumed[:0])
			require.Len(t, assumed, len(exact), g.Notation())
			if len(exact) == 0 {
				break
			}
			for i := range exact {
				require.Equal(t, exact[i].Notation, assumed[i].Notation)
				if exact[i].Band == assumed[i].Band {
					continue
				}
				require.Contains(t, []Band{CutOffSelf, CutOffOpponent}, exact[i].Band)
				require.Equal(t, Generic, assumed[i].Band)
				hidden++
			}
			require.NoError(t, g.MakeMove(exact[pick.Intn(len(exact))].Notation))
		}
	}
	require.Positive(t, hidden)
}

func TestEnumerate_BlockedBallYieldsNothing(t *testing.T) {
	g := newGame(t, "")
	g.Board.AddEdge(0, 12, game.One)
	g.Board.SetBall(0)
	e := NewEnumerator(nil, NewRand(5), DefaultOptions())
	require.Empty(t, e.Enumerate(g, nil))
}

func TestPathHash_IgnoresOrderAndDirection(t *testing.T) {
	a := []game.Edge{{A: 1, B: 2}, {A: 3, B: 4}}
	b := []game.Edge{{A: 4, B: 3}, {A: 2, B: 1}}
	require.Equal(t, pathHash(a), pathHash(b))
	require.NotEqual(t, pathHash(a), pathHash(a[:1]))
}

func TestRand_DeterministicAndBounded(t *testing.T) {
	a, b := NewRand(42), NewRand(42)
	for i := 0; i < 1000; i++ {
		x, y := a.Intn(7), b.Intn(7)
		require.Equal(t, x, y)
		require.GreaterOrEqual(t, x, 0)
		require.Less(t, x, 7)
		f := a.Range(0.9, 1.1)
		b.Range(0.9, 1.1)
		require.GreaterOrEqual(t, f, float32(0.9))
		require.Less(t, f, float32(1.1))
	}
	require.Equal(t, NewRand(0).Uint64(), NewRand(defaultSeed).Uint64())

	xs := []int{0, 1, 2, 3, 4, 5}
	NewRand(9).Shuffle(xs)
	require.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5}, xs)
}

func TestDistanceValue_FavoursAttacker(t *testing.T) {
	// Two to move right in front of One's goal.
	g := newGame(t, "0,0,0,0,0,")
	require.Greater(t, DistanceValue(g), float32(0))
}

func BenchmarkEnumerate(b *testing.B) {
	g := game.NewGame(game.Standard())
	if err := g.ApplyHistory("0,3,61,"); err != nil {
		b.Fatal(err)
	}
	e := NewEnumerator(DistanceScorer{}, NewRand(1), DefaultOptions())
	var buf []Candidate
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf = e.Enumerate(g, buf[:0])
	}
}
