// Package store archives self-play turns as zstd-compressed Parquet files.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

const SchemaName = "turn_v1"

var ErrClosed = errors.New("batch writer is closed")

// TurnRow is one move of one archived game.
//
// History is the game notation before the move. Win is the engine's win
// estimate for the mover in percent. Winner is filled once the game ends:
// "A" for the first player, "B" for the second, empty for an abandoned game.
type TurnRow struct {
	GameID   string  `parquet:"game_id,dict"`
	Turn     int32   `parquet:"turn"`
	Player   string  `parquet:"player,dict"`
	Move     string  `parquet:"move"`
	History  string  `parquet:"history"`
	Win      float32 `parquet:"win"`
	Visits   int64   `parquet:"visits"`
	Nodes    int32   `parquet:"nodes"`
	MaxDepth int32   `parquet:"max_depth"`
	Options  int32   `parquet:"options"`
	ThinkMs  int32   `parquet:"think_ms"`
	Winner   string  `parquet:"winner,dict"`
	Source   string  `parquet:"source,dict"`

	// RootJSON is the root child summary of the search that chose Move.
	RootJSON []byte `parquet:"root_json,optional,zstd"`
}

func writerOptions() []parquet.WriterOption {
	return []parquet.WriterOption{
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.KeyValueMetadata("schema", SchemaName),
	}
}

// WriteBatchParquetAtomic writes rows into outDir/tmp and renames the file
// into outDir, so readers never see a partial file.
func WriteBatchParquetAtomic(outDir string, rows []TurnRow) (string, error) {
	tmpDir := filepath.Join(outDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("create tmp dir: %w", err)
	}

	name := fmt.Sprintf("batch_%d.parquet", time.Now().UnixNano())
	finalPath := filepath.Join(outDir, name)
	tmpPath := filepath.Join(tmpDir, name+".tmp")
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows, writerOptions()...); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write parquet: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename parquet: %w", err)
	}
	return finalPath, nil
}

// ReadTurns loads every row of one archive file.
func ReadTurns(path string) ([]TurnRow, error) {
	rows, err := parquet.ReadFile[TurnRow](path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}

// ListBatches returns the finished archive files in dir, oldest first.
func ListBatches(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "batch_*.parquet"))
}
