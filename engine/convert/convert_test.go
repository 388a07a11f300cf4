package convert

import (
	"testing"

	"github.com/brensch/papersoccer/game"
)

type captureEvaluator struct {
	base  map[int][]int32
	delta []int32
}

func (c *captureEvaluator) CacheBaseFeatures(features []int32, slot int) {
	if c.base == nil {
		c.base = map[int][]int32{}
	}
	c.base[slot] = append([]int32(nil), features...)
}

func (c *captureEvaluator) ScoreDelta(added []int32, slot int) float32 {
	c.delta = append([]int32(nil), added...)
	return 0.5
}

func TestInputSize_Standard(t *testing.T) {
	l := game.Standard()
	if got := InputSize(l); got != 1471 {
		t.Fatalf("InputSize = %d, want 1471", got)
	}
	if BallOffset(l) != 1366 {
		t.Fatalf("BallOffset = %d", BallOffset(l))
	}
}

func TestFull_KickOff(t *testing.T) {
	l := game.Standard()
	g := game.NewGame(l)
	enc := NewEncoder(l)

	for _, p := range []game.Player{game.One, game.Two} {
		g.Current = p
		fs := enc.Full(g, nil)
		if len(fs) != l.Size()+1 {
			t.Fatalf("%v: %d features", p, len(fs))
		}
		if ball := DecodeBall(l, fs); ball != l.Start() {
			t.Fatalf("%v: ball = %d", p, ball)
		}
		if d := DecodeDistance(l, fs, l.Start()); d != 1 {
			t.Fatalf("%v: distance of ball node = %d", p, d)
		}
		for _, f := range fs {
			if int(f) >= InputSize(l) {
				t.Fatalf("feature %d out of range", f)
			}
		}
	}
}

func TestBase_MirrorsForTwo(t *testing.T) {
	l := game.Standard()
	b := l.NewBoard()
	b.AddEdge(49, 48, game.One)
	k := l.EdgeIndex(49, 48)
	enc := NewEncoder(l)

	one := enc.Base(b, game.One, nil)
	two := enc.Base(b, game.Two, nil)
	if len(one) != 1 || one[0] != int32(k) {
		t.Fatalf("base for One = %v, want [%d]", one, k)
	}
	if len(two) != 1 || two[0] != int32(l.MirrorEdge(k)) {
		t.Fatalf("base for Two = %v", two)
	}
	// (4,5)-(4,4) mirrors onto (4,5)-(4,6).
	if l.MirrorEdge(k) != l.EdgeIndex(49, 50) {
		t.Fatalf("mirror of %d = %d", k, l.MirrorEdge(k))
	}
}

func TestScorer_PrimesOpponentPerspective(t *testing.T) {
	l := game.Standard()
	g := game.NewGame(l)
	if err := g.ApplyHistory("0,"); err != nil {
		t.Fatal(err)
	}
	eval := &captureEvaluator{}
	s := NewScorer(l, eval, 3)

	// Two is to move; the landing is scored for One.
	s.Prime(g)
	k := l.EdgeIndex(49, 48)
	if got := eval.base[3]; len(got) != 1 || got[0] != int32(k) {
		t.Fatalf("primed base = %v", got)
	}

	g.Board.AddEdge(48, 59, game.Two)
	g.Board.SetBall(59)
	g.ChangePlayer()
	v := s.Score(g, nil, game.Edge{A: 48, B: 59})
	if v != 0.5 {
		t.Fatalf("score = %v", v)
	}
	if len(eval.delta) != 1+l.Size()+1 {
		t.Fatalf("delta has %d features", len(eval.delta))
	}
	if eval.delta[0] != int32(l.EdgeIndex(48, 59)) {
		t.Fatalf("delta edge = %d", eval.delta[0])
	}
	if DecodeBall(l, eval.delta) != 59 {
		t.Fatalf("delta ball = %d", DecodeBall(l, eval.delta))
	}
}

func TestDense(t *testing.T) {
	buf := make([]float32, 8)
	buf[0] = 3
	Dense([]int32{1, 5, 9, -1}, buf)
	want := []float32{0, 1, 0, 0, 0, 1, 0, 0}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("buf = %v", buf)
		}
	}
}

func BenchmarkDelta(b *testing.B) {
	l := game.Standard()
	g := game.NewGame(l)
	_ = g.ApplyHistory("0,3,61,")
	enc := NewEncoder(l)
	var buf []int32
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf = enc.Delta(g.Board, g.Current, nil, game.Edge{A: 49, B: 59}, buf[:0])
	}
}
