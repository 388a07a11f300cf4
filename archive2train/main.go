// Command archive2train turns self-play turn batches into value training
// rows: the sparse features of the position after each move and the final
// result for the side to move there.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/brensch/papersoccer/engine/convert"
	"github.com/brensch/papersoccer/game"
	"github.com/brensch/papersoccer/logging"
	"github.com/brensch/papersoccer/store"
)

type TrainingRow struct {
	GameID string `parquet:"game_id,dict"`
	Turn   int32  `parquet:"turn"`
	// Player is the side to move after the archived move.
	Player string `parquet:"player,dict"`

	Features  []int32 `parquet:"features,list"`
	InputSize int32   `parquet:"input_size"`
	// Value is 1 when Player went on to win and -1 otherwise.
	Value float32 `parquet:"value"`

	Source string `parquet:"source,dict"`
}

func main() {
	inDir := flag.String("in-dir", "", "Directory containing turn parquet batches")
	outDir := flag.String("out-dir", "", "Output directory for training parquet shards")
	flag.Parse()

	if _, err := logging.Setup(os.Stderr, "info", logging.DefaultFormat(os.Stderr)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *inDir == "" || *outDir == "" {
		fmt.Fprintln(os.Stderr, "-in-dir and -out-dir are required")
		os.Exit(2)
	}

	absIn, _ := filepath.Abs(*inDir)
	absOut, _ := filepath.Abs(*outDir)
	if absIn == absOut {
		fmt.Fprintln(os.Stderr, "out-dir must be different from in-dir")
		os.Exit(2)
	}
	if err := os.MkdirAll(absOut, 0o755); err != nil {
		log.Fatal().Err(err).Msg("create out-dir")
	}

	inputs := make([]string, 0, 1024)
	_ = filepath.WalkDir(absIn, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == "tmp" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(strings.ToLower(d.Name()), ".parquet") {
			inputs = append(inputs, path)
		}
		return nil
	})
	if len(inputs) == 0 {
		log.Fatal().Str("in_dir", absIn).Msg("no parquet inputs found")
	}

	l := game.Standard()
	converted := 0
	for _, inPath := range inputs {
		base := filepath.Base(inPath)
		outPath := filepath.Join(absOut, strings.TrimSuffix(base, filepath.Ext(base))+".train.parquet")
		n, err := convertOne(l, inPath, outPath)
		if err != nil {
			log.Error().Err(err).Str("path", inPath).Msg("convert failed")
			continue
		}
		if n > 0 {
			converted++
			log.Info().Str("path", outPath).Int("rows", n).Msg("converted")
		}
	}
	if converted == 0 {
		log.Fatal().Msg("no output written (no convertible rows)")
	}
}

// trainingRow encodes the position after row.Move. ok is false when that
// position ends the game or the row does not replay.
func trainingRow(enc *convert.Encoder, row store.TurnRow) (TrainingRow, bool) {
	g := game.NewGame(enc.Layout())
	if err := g.ApplyHistory(row.History); err != nil {
		return TrainingRow{}, false
	}
	if err := g.MakeMove(row.Move); err != nil || g.IsOver() {
		return TrainingRow{}, false
	}
	value := float32(-1)
	if g.Current.Letter() == row.Winner {
		value = 1
	}
	return TrainingRow{
		GameID:    row.GameID,
		Turn:      row.Turn,
		Player:    g.Current.Letter(),
		Features:  enc.Full(g, nil),
		InputSize: int32(convert.InputSize(enc.Layout())),
		Value:     value,
		Source:    row.Source,
	}, true
}

func convertOne(l *game.Layout, inPath string, outPath string) (int, error) {
	inF, err := os.Open(inPath)
	if err != nil {
		return 0, err
	}
	defer inF.Close()

	reader := parquet.NewGenericReader[store.TurnRow](inF)
	defer reader.Close()

	outTmp := outPath + ".tmp"
	_ = os.Remove(outTmp)
	outF, err := os.OpenFile(outTmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}

	writer := parquet.NewGenericWriter[TrainingRow](
		outF,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
	)
	writer.SetKeyValueMetadata("schema", "training_value_v1")

	closed := false
	defer func() {
		if !closed {
			_ = writer.Close()
			_ = outF.Close()
			_ = os.Remove(outTmp)
		}
	}()

	enc := convert.NewEncoder(l)
	buf := make([]store.TurnRow, 256)
	outBuf := make([]TrainingRow, 0, 2048)
	rowsWritten := 0

	flush := func() error {
		if len(outBuf) == 0 {
			return nil
		}
		if _, err := writer.Write(outBuf); err != nil {
			return err
		}
		rowsWritten += len(outBuf)
		outBuf = outBuf[:0]
		return nil
	}

	for {
		n, err := reader.Read(buf)
		for i := 0; i < n; i++ {
			if buf[i].Winner != game.One.Letter() && buf[i].Winner != game.Two.Letter() {
				continue
			}
			tr, ok := trainingRow(enc, buf[i])
			if !ok {
				continue
			}
			outBuf = append(outBuf, tr)
			if len(outBuf) >= 2048 {
				if err := flush(); err != nil {
					return 0, err
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, err
		}
	}

	if err := flush(); err != nil {
		return 0, err
	}
	closed = true
	if err := writer.Close(); err != nil {
		_ = outF.Close()
		_ = os.Remove(outTmp)
		return 0, err
	}
	if err := outF.Sync(); err != nil {
		_ = outF.Close()
		_ = os.Remove(outTmp)
		return 0, err
	}
	if err := outF.Close(); err != nil {
		_ = os.Remove(outTmp)
		return 0, err
	}

	if rowsWritten == 0 {
		_ = os.Remove(outTmp)
		return 0, nil
	}
	if err := os.Rename(outTmp, outPath); err != nil {
		_ = os.Remove(outTmp)
		return 0, err
	}
	return rowsWritten, nil
}
