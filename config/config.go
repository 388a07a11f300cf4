// Package config loads the settings shared by the binaries. Values come
// from the environment first and can be overridden on the command line.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brensch/papersoccer/engine/convert"
	"github.com/brensch/papersoccer/engine/inference"
	"github.com/brensch/papersoccer/engine/mcts"
	"github.com/brensch/papersoccer/game"
	"github.com/brensch/papersoccer/logging"
)

// Evaluator kinds accepted by -evaluator.
const (
	EvaluatorDistance = "distance"
	EvaluatorNetwork  = "network"
	EvaluatorOnnx     = "onnx"
)

// MaxInteractiveThreads caps the threads a single API request may ask for.
const MaxInteractiveThreads = 8

var ErrUnknownEvaluator = errors.New("unknown evaluator")

type Settings struct {
	Threads   int
	Budget    time.Duration
	ArenaSize int
	MoveLimit int
	Seed      uint64

	Evaluator        string
	ModelPath        string
	NetworkHidden    int
	OnnxSessions     int
	OnnxBatchSize    int
	OnnxBatchTimeout time.Duration
	OnnxCUDA         bool
	OnnxLibrary      string

	DataDir   string
	Addr      string
	LogLevel      string
	LogFormatName string
}

// Load reads the environment, registers every setting on fs and parses
// args. Flags win over the environment.
func Load(fs *flag.FlagSet, args []string) (Settings, error) {
	var s Settings
	fs.IntVar(&s.Threads, "threads", getEnvIntOrDefault("PS_THREADS", 8), "Search threads per move")
	fs.DurationVar(&s.Budget, "budget", getEnvDurationOrDefault("PS_BUDGET", 3*time.Second), "Think time per move")
	fs.IntVar(&s.ArenaSize, "arena-size", getEnvIntOrDefault("PS_ARENA_SIZE", mcts.DefaultArenaSize), "Search records per engine")
	fs.IntVar(&s.MoveLimit, "move-limit", getEnvIntOrDefault("PS_MOVE_LIMIT", mcts.DefaultConfig().MoveLimit), "Max candidate moves kept per position")
	fs.Uint64Var(&s.Seed, "seed", uint64(getEnvIntOrDefault("PS_SEED", 0)), "Search seed; 0 draws a fresh one per call")

	fs.StringVar(&s.Evaluator, "evaluator", getEnvOrDefault("PS_EVALUATOR", EvaluatorDistance), "Position evaluator: distance, network or onnx")
	fs.StringVar(&s.ModelPath, "model", getEnvOrDefault("PS_MODEL", "models/value.onnx"), "ONNX model path")
	fs.IntVar(&s.NetworkHidden, "network-hidden", getEnvIntOrDefault("PS_NETWORK_HIDDEN", 32), "Hidden width of the in-memory network")
	fs.IntVar(&s.OnnxSessions, "onnx-sessions", getEnvIntOrDefault("PS_ONNX_SESSIONS", 1), "ONNX Runtime sessions run in parallel")
	fs.IntVar(&s.OnnxBatchSize, "onnx-batch-size", getEnvIntOrDefault("PS_ONNX_BATCH_SIZE", inference.DefaultBatchSize), "ONNX inference batch size")
	fs.DurationVar(&s.OnnxBatchTimeout, "onnx-batch-timeout", getEnvDurationOrDefault("PS_ONNX_BATCH_TIMEOUT", inference.DefaultBatchTimeout), "Max wait for filling an ONNX batch")
	fs.BoolVar(&s.OnnxCUDA, "onnx-cuda", getEnvBoolOrDefault("PS_ONNX_CUDA", false), "Use the CUDA execution provider")
	fs.StringVar(&s.OnnxLibrary, "onnx-lib", getEnvOrDefault("PS_ONNX_LIB", ""), "onnxruntime shared library (default searches next to the model and the working directory)")

	fs.StringVar(&s.DataDir, "data-dir", getEnvOrDefault("PS_DATA_DIR", "data/selfplay"), "Directory of parquet batches")
	fs.StringVar(&s.Addr, "addr", getEnvOrDefault("PS_ADDR", ":8080"), "HTTP listen address")
	fs.StringVar(&s.LogLevel, "log-level", getEnvOrDefault("PS_LOG_LEVEL", "info"), "Log level")
	fs.StringVar(&s.LogFormatName, "log-format", getEnvOrDefault("PS_LOG_FORMAT", ""), "Log format: json, console or pretty (default picks by terminal)")

	if err := fs.Parse(args); err != nil {
		return s, err
	}
	return s, s.Validate()
}

func (s Settings) Validate() error {
	if s.Threads < 1 || s.Threads > mcts.MaxThreads {
		return fmt.Errorf("threads %d not in 1..%d", s.Threads, mcts.MaxThreads)
	}
	if s.Budget < 0 {
		return fmt.Errorf("negative budget %s", s.Budget)
	}
	switch s.Evaluator {
	case EvaluatorDistance, EvaluatorNetwork, EvaluatorOnnx:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvaluator, s.Evaluator)
	}
	switch logging.Format(s.LogFormatName) {
	case "", logging.FormatJSON, logging.FormatConsole, logging.FormatPretty:
	default:
		return fmt.Errorf("unknown log format %q", s.LogFormatName)
	}
	return nil
}

// MCTS returns the search config for an engine with the given thread count
// whose workers start at evaluator slot slotBase.
func (s Settings) MCTS(threads, slotBase int) mcts.Config {
	cfg := mcts.DefaultConfig()
	cfg.Threads = threads
	cfg.ArenaSize = s.ArenaSize
	cfg.MoveLimit = s.MoveLimit
	cfg.Seed = s.Seed
	cfg.SlotBase = slotBase
	return cfg
}

// OpenEvaluator builds the configured evaluator. The distance kind returns
// a nil evaluator so engines use the built-in distance scorer. The returned
// closer is never nil.
func (s Settings) OpenEvaluator(l *game.Layout) (convert.Evaluator, io.Closer, error) {
	switch s.Evaluator {
	case EvaluatorDistance:
		return nil, nopCloser{}, nil
	case EvaluatorNetwork:
		net := inference.NewNetwork(convert.InputSize(l), s.NetworkHidden, 0, s.Seed+1)
		return inference.NewInstrumented(net), nopCloser{}, nil
	case EvaluatorOnnx:
		if _, err := os.Stat(s.ModelPath); err != nil {
			return nil, nil, fmt.Errorf("onnx model: %w", err)
		}
		cfg := inference.OnnxConfig{
			BatchSize:    s.OnnxBatchSize,
			BatchTimeout: s.OnnxBatchTimeout,
			CUDA:         s.OnnxCUDA,
			LibraryPath:  s.OnnxLibrary,
		}
		if s.OnnxSessions <= 1 {
			e, err := inference.NewOnnxEvaluator(s.ModelPath, l, cfg)
			if err != nil {
				return nil, nil, err
			}
			return inference.NewInstrumented(e), e, nil
		}
		p, err := inference.NewOnnxPool(s.ModelPath, l, s.OnnxSessions, cfg)
		if err != nil {
			return nil, nil, err
		}
		return inference.NewInstrumented(p), p, nil
	}
	return nil, nil, fmt.Errorf("%w: %q", ErrUnknownEvaluator, s.Evaluator)
}

// LogFormat resolves the configured log format, picking one by terminal
// when unset.
func (s Settings) LogFormat(f *os.File) logging.Format {
	switch lf := logging.Format(s.LogFormatName); lf {
	case logging.FormatJSON, logging.FormatConsole, logging.FormatPretty:
		return lf
	}
	return logging.DefaultFormat(f)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Environment variable helpers
func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Bare numbers are seconds.
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return time.Duration(f * float64(time.Second))
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := strings.ToLower(os.Getenv(key)); val != "" {
		return val == "true" || val == "1" || val == "yes"
	}
	return defaultVal
}
