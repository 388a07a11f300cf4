package inference

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brensch/papersoccer/engine/convert"
	"github.com/brensch/papersoccer/game"
)

func TestFastTanh(t *testing.T) {
	for x := float32(-4.9); x < 4.9; x += 0.07 {
		want := math.Tanh(float64(x))
		require.InDelta(t, want, float64(FastTanh(x)), 1e-4, "x=%v", x)
	}
	require.Equal(t, float32(1), FastTanh(5))
	require.Equal(t, float32(-1), FastTanh(-100))
	require.Equal(t, float32(0), FastTanh(0))
}

func TestNetwork_DeltaMatchesFullScore(t *testing.T) {
	for _, deep := range []int{0, 6} {
		n := NewNetwork(40, 16, deep, 7)
		base := []int32{1, 3, 17}
		added := []int32{5, 22, 39}

		n.CacheBaseFeatures(base, 9)
		got := n.ScoreDelta(added, 9)
		want := n.Score(append(append([]int32{}, base...), added...))
		require.InDelta(t, want, got, 1e-6, "deep=%d", deep)
		require.LessOrEqual(t, got, float32(1))
		require.GreaterOrEqual(t, got, float32(-1))

		// Slots are independent.
		n.CacheBaseFeatures(nil, 10)
		require.InDelta(t, n.Score(added), n.ScoreDelta(added, 10), 1e-6)
		require.InDelta(t, got, n.ScoreDelta(added, 9), 1e-6)
	}
}

func TestNetwork_WeightsInRange(t *testing.T) {
	n := NewNetwork(10, 4, 3, 1)
	require.Len(t, n.HiddenWeights, 40)
	require.Len(t, n.DeepWeights, 12)
	require.Len(t, n.OutputWeights, 3)
	for _, w := range n.HiddenWeights {
		require.True(t, w >= -0.05 && w < 0.05, "weight %v", w)
	}

	flat := NewNetwork(10, 4, 0, 1)
	require.Len(t, flat.OutputWeights, 4)
	require.Empty(t, flat.DeepWeights)
}

func TestNetworkFromWeights_Shape(t *testing.T) {
	_, err := NewNetworkFromWeights(3, 2, 0, make([]float32, 6), nil, make([]float32, 2))
	require.NoError(t, err)
	_, err = NewNetworkFromWeights(3, 2, 0, make([]float32, 5), nil, make([]float32, 2))
	require.ErrorIs(t, err, ErrShape)
}

func TestNetwork_IgnoresOutOfRangeFeatures(t *testing.T) {
	n := NewNetwork(8, 4, 0, 3)
	require.Equal(t, n.Score([]int32{2}), n.Score([]int32{2, -1, 8, 100}))
}

func TestDistanceEvaluator(t *testing.T) {
	l := game.Standard()
	enc := convert.NewEncoder(l)
	d := NewDistanceEvaluator(l)

	g := game.NewGame(l)
	require.InDelta(t, 0, d.ScoreDelta(enc.Full(g, nil), 0), 1e-6)

	require.NoError(t, g.ApplyHistory("0,0,0,0,0,"))
	require.Equal(t, game.Two, g.Current)
	// The ball sits next to One's goal, which Two attacks.
	require.Greater(t, d.ScoreDelta(enc.Full(g, nil), 0), float32(0))
	g.Current = game.One
	require.Less(t, d.ScoreDelta(enc.Full(g, nil), 0), float32(0))
}

func TestInstrumented_Counts(t *testing.T) {
	in := NewInstrumented(NewDistanceEvaluator(game.Standard()))
	in.CacheBaseFeatures(nil, 0)
	in.ScoreDelta(nil, 0)
	in.ScoreDelta(nil, 1)
	st := in.Stats()
	require.Equal(t, int64(1), st.Primes)
	require.Equal(t, int64(2), st.Evaluations)
	require.Zero(t, st.TotalBatches)
}

func BenchmarkNetworkScoreDelta(b *testing.B) {
	l := game.Standard()
	g := game.NewGame(l)
	_ = g.ApplyHistory("0,3,61,")
	enc := convert.NewEncoder(l)
	n := NewNetwork(convert.InputSize(l), 64, 0, 1)
	n.CacheBaseFeatures(enc.Base(g.Board, g.Current, nil), 0)
	delta := enc.Delta(g.Board, g.Current, nil, game.Edge{A: 60, B: 59}, nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		n.ScoreDelta(delta, 0)
	}
}

func BenchmarkOnnxScoreDelta(b *testing.B) {
	modelPath := os.Getenv("PAPERSOCCER_BENCH_ONNX_MODEL")
	if modelPath == "" {
		modelPath = "../../models/value.onnx"
	}
	if _, err := os.Stat(modelPath); err != nil {
		b.Skip("ONNX model not found; set PAPERSOCCER_BENCH_ONNX_MODEL")
	}

	l := game.Standard()
	e, err := NewOnnxEvaluator(modelPath, l, OnnxConfig{BatchSize: 1})
	if err != nil {
		b.Skipf("onnxruntime unavailable: %v", err)
	}
	defer e.Close()

	g := game.NewGame(l)
	enc := convert.NewEncoder(l)
	e.CacheBaseFeatures(enc.Base(g.Board, g.Current, nil), 0)
	delta := enc.Delta(g.Board, g.Current, nil, game.Edge{}, nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.ScoreDelta(delta, 0)
	}
	b.ReportMetric(e.Stats().AvgRunMs, "ms/batch")
}

func TestFindSharedLibrary(t *testing.T) {
	t.Setenv("ORT_SHARED_LIBRARY_PATH", "")
	dir := t.TempDir()
	model := filepath.Join(dir, "value.onnx")

	require.Empty(t, findSharedLibrary("", model))

	lib := filepath.Join(dir, "libonnxruntime.so.1.20.0")
	require.NoError(t, os.WriteFile(lib, nil, 0o644))
	require.Equal(t, lib, findSharedLibrary("", model))

	t.Setenv("ORT_SHARED_LIBRARY_PATH", "/opt/ort/libonnxruntime.so")
	require.Equal(t, "/opt/ort/libonnxruntime.so", findSharedLibrary("", model))
	require.Equal(t, "/custom/lib.so", findSharedLibrary("/custom/lib.so", model))
}
