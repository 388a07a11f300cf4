package inference

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/brensch/papersoccer/engine/convert"
	"github.com/brensch/papersoccer/game"
)

const (
	DefaultBatchSize    = 128
	DefaultBatchTimeout = 1 * time.Millisecond
)

var ErrClosed = errors.New("onnx evaluator closed")

type OnnxConfig struct {
	BatchSize    int
	BatchTimeout time.Duration
	// CUDA appends the CUDA execution provider when it is available.
	CUDA bool
	// LibraryPath overrides the onnxruntime shared library lookup.
	LibraryPath string
}

type inferenceRequest struct {
	input    []float32
	respChan chan inferenceResponse
}

type inferenceResponse struct {
	value float32
	err   error
}

// OnnxEvaluator scores positions with an exported model taking a dense
// [batch, InputSize] "input" and producing a [batch, 1] "value". Requests
// from all slots are gathered into batches by a single loop.
type OnnxEvaluator struct {
	session      *ort.DynamicAdvancedSession
	inputSize    int
	requestsChan chan inferenceRequest
	done         chan struct{}
	stopped      chan struct{}
	closeOnce    sync.Once
	cfg          OnnxConfig

	base [MaxSlots][]int32

	batches  atomic.Int64
	items    atomic.Int64
	runNanos atomic.Int64
	last     atomic.Int64
}

var ortInitOnce sync.Once
var ortInitErr error

func NewOnnxEvaluator(modelPath string, l *game.Layout, cfg OnnxConfig) (*OnnxEvaluator, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}

	if lib := findSharedLibrary(cfg.LibraryPath, modelPath); lib != "" {
		ort.SetSharedLibraryPath(lib)
		log.Debug().Str("library", lib).Str("model", modelPath).Msg("onnxruntime library")
	}

	ortInitOnce.Do(func() {
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("init onnxruntime: %w", ortInitErr)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	// Search workers already saturate the cores.
	options.SetIntraOpNumThreads(1)
	options.SetInterOpNumThreads(1)

	if cfg.CUDA {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			log.Warn().Err(err).Msg("cuda provider unavailable")
		} else {
			defer cudaOptions.Destroy()
			if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
				log.Warn().Err(err).Msg("append cuda provider")
			} else {
				log.Info().Msg("cuda provider enabled")
			}
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{"input"}, []string{"value"}, options)
	if err != nil {
		return nil, fmt.Errorf("create session %s: %w", modelPath, err)
	}

	e := &OnnxEvaluator{
		session:      session,
		inputSize:    convert.InputSize(l),
		cfg:          cfg,
		requestsChan: make(chan inferenceRequest, cfg.BatchSize*2),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	go e.batchLoop()
	return e, nil
}

// libraryPatterns match the runtime library in a search directory.
var libraryPatterns = []string{"libonnxruntime.so*", "libonnxruntime*.dylib", "onnxruntime.dll"}

// findSharedLibrary picks the onnxruntime library to load: the configured
// path, then ORT_SHARED_LIBRARY_PATH, then the first match next to the
// model, in the working directory or in a local Python onnxruntime install.
// Empty leaves the choice to the library default.
func findSharedLibrary(configured, modelPath string) string {
	if configured != "" {
		return configured
	}
	if p := os.Getenv("ORT_SHARED_LIBRARY_PATH"); p != "" {
		return p
	}
	dirs := []string{filepath.Dir(modelPath)}
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
		capi, _ := filepath.Glob(filepath.Join(cwd, ".venv", "lib", "python*", "site-packages", "onnxruntime", "capi"))
		dirs = append(dirs, capi...)
	}
	for _, d := range dirs {
		for _, pat := range libraryPatterns {
			matches, _ := filepath.Glob(filepath.Join(d, pat))
			for _, m := range matches {
				if st, err := os.Stat(m); err == nil && !st.IsDir() {
					return m
				}
			}
		}
	}
	return ""
}

func (e *OnnxEvaluator) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.done)
		<-e.stopped
		err = e.session.Destroy()
	})
	return err
}

func (e *OnnxEvaluator) CacheBaseFeatures(features []int32, slot int) {
	e.base[slot] = append(e.base[slot][:0], features...)
}

// ScoreDelta blocks until the batch holding the request has run. Inference
// failures are logged and score as a draw.
func (e *OnnxEvaluator) ScoreDelta(added []int32, slot int) float32 {
	v, err := e.Predict(e.base[slot], added)
	if err != nil {
		log.Error().Err(err).Int("slot", slot).Msg("onnx predict")
		return 0
	}
	return v
}

// Predict scores the union of two feature lists.
func (e *OnnxEvaluator) Predict(base, added []int32) (float32, error) {
	input := make([]float32, e.inputSize)
	for _, fs := range [][]int32{base, added} {
		for _, f := range fs {
			if f >= 0 && int(f) < len(input) {
				input[f] = 1
			}
		}
	}

	respChan := make(chan inferenceResponse, 1)
	select {
	case e.requestsChan <- inferenceRequest{input: input, respChan: respChan}:
	case <-e.done:
		return 0, ErrClosed
	}
	select {
	case resp := <-respChan:
		return resp.value, resp.err
	case <-e.done:
		return 0, ErrClosed
	}
}

func (e *OnnxEvaluator) batchLoop() {
	batchInput := make([]float32, 0, e.cfg.BatchSize*e.inputSize)
	requests := make([]inferenceRequest, 0, e.cfg.BatchSize)

	ticker := time.NewTicker(e.cfg.BatchTimeout)
	defer ticker.Stop()
	defer close(e.stopped)

	flush := func() {
		e.runBatch(requests, batchInput)
		requests = requests[:0]
		batchInput = batchInput[:0]
	}

	for {
		select {
		case <-e.done:
			e.failBatch(requests, ErrClosed)
			return
		case req := <-e.requestsChan:
			requests = append(requests, req)
			batchInput = append(batchInput, req.input...)
			if len(requests) >= e.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			if len(requests) > 0 {
				flush()
			}
		}
	}
}

func (e *OnnxEvaluator) runBatch(requests []inferenceRequest, batchInput []float32) {
	n := int64(len(requests))
	start := time.Now()

	inputTensor, err := ort.NewTensor(ort.NewShape(n, int64(e.inputSize)), batchInput)
	if err != nil {
		e.failBatch(requests, err)
		return
	}
	defer inputTensor.Destroy()

	valueTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(n, 1))
	if err != nil {
		e.failBatch(requests, err)
		return
	}
	defer valueTensor.Destroy()

	if err := e.session.Run([]ort.Value{inputTensor}, []ort.Value{valueTensor}); err != nil {
		e.failBatch(requests, err)
		return
	}

	e.batches.Add(1)
	e.items.Add(n)
	e.runNanos.Add(time.Since(start).Nanoseconds())
	e.last.Store(n)

	values := valueTensor.GetData()
	for i, req := range requests {
		req.respChan <- inferenceResponse{value: clampUnit(values[i])}
	}
}

func (e *OnnxEvaluator) failBatch(requests []inferenceRequest, err error) {
	for _, req := range requests {
		req.respChan <- inferenceResponse{err: err}
	}
}

func (e *OnnxEvaluator) Stats() RuntimeStats {
	st := RuntimeStats{
		TotalBatches:  e.batches.Load(),
		TotalItems:    e.items.Load(),
		TotalRunNanos: e.runNanos.Load(),
		LastBatchSize: e.last.Load(),
		QueueLen:      len(e.requestsChan),
	}
	st.fillAverages()
	return st
}

func (st *RuntimeStats) fillAverages() {
	if st.TotalBatches > 0 {
		st.AvgBatchSize = float64(st.TotalItems) / float64(st.TotalBatches)
		st.AvgRunMs = (float64(st.TotalRunNanos) / 1e6) / float64(st.TotalBatches)
	}
}
