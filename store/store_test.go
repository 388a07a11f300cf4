package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleGame(id string, n int) []TurnRow {
	rows := make([]TurnRow, n)
	for i := range rows {
		player := "A"
		if i%2 == 1 {
			player = "B"
		}
		rows[i] = TurnRow{
			GameID: id,
			Turn:   int32(i),
			Player: player,
			Move:   "3",
			Win:    50,
			Visits: 1000,
			Winner: "B",
			Source: "selfplay",
		}
	}
	return rows
}

func TestWriteBatchParquetAtomic(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteBatchParquetAtomic(dir, sampleGame("g1", 5))
	require.NoError(t, err)
	require.Equal(t, dir, filepath.Dir(path))

	rows, err := ReadTurns(path)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	require.Equal(t, "g1", rows[4].GameID)
	require.Equal(t, int32(4), rows[4].Turn)

	tmp, err := os.ReadDir(filepath.Join(dir, "tmp"))
	require.NoError(t, err)
	require.Empty(t, tmp)

	batches, err := ListBatches(dir)
	require.NoError(t, err)
	require.Equal(t, []string{path}, batches)
}

func TestBatchWriter(t *testing.T) {
	dir := t.TempDir()
	w, err := NewBatchWriter(dir)
	require.NoError(t, err)
	require.NoError(t, w.WriteGame(sampleGame("a", 3)))
	require.NoError(t, w.WriteGame(nil))
	require.NoError(t, w.WriteGame(sampleGame("b", 4)))
	require.Equal(t, 2, w.Games())

	path, rows, games, err := w.Finalize()
	require.NoError(t, err)
	require.Equal(t, 7, rows)
	require.Equal(t, 2, games)

	got, err := ReadTurns(path)
	require.NoError(t, err)
	require.Len(t, got, 7)
	require.ErrorIs(t, w.WriteGame(sampleGame("c", 1)), ErrClosed)
}

func TestBatchWriter_EmptyLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	w, err := NewBatchWriter(dir)
	require.NoError(t, err)
	path, rows, _, err := w.Finalize()
	require.NoError(t, err)
	require.Empty(t, path)
	require.Zero(t, rows)

	batches, err := ListBatches(dir)
	require.NoError(t, err)
	require.Empty(t, batches)
}
