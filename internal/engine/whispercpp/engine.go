// Package whispercpp implements the primary ASR backend using the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.
//
// Models are GGML files named <model-id>.bin under the configured models
// directory, loaded lazily on first use and kept resident for the process
// lifetime.
package whispercpp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/hallqvist/lyssna/internal/engine"
	"github.com/hallqvist/lyssna/pkg/types"
)

// Compile-time assertion that Engine satisfies engine.Engine.
var _ engine.Engine = (*Engine)(nil)

// Engine is the primary (CPU) backend. It owns a lazy model cache keyed by
// model identifier. Models are shared across requests; each request gets its
// own whisper context since contexts are not thread-safe.
type Engine struct {
	modelsDir string
	threads   int

	mu     sync.Mutex
	models map[string]whisperlib.Model
}

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithThreads caps the decode thread count per request. 0 means the
// whisper.cpp default.
func WithThreads(n int) Option {
	return func(e *Engine) { e.threads = n }
}

// New creates a primary engine over the given models directory. The
// directory is probed lazily; a missing directory makes Available return
// false.
func New(modelsDir string, opts ...Option) *Engine {
	e := &Engine{
		modelsDir: modelsDir,
		models:    make(map[string]whisperlib.Model),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Name returns the primary backend tag.
func (e *Engine) Name() string { return engine.BackendPrimary }

// Available reports whether the models directory exists.
func (e *Engine) Available() bool {
	info, err := os.Stat(e.modelsDir)
	return err == nil && info.IsDir()
}

// Transcribe decodes the samples with the given model. BeamSize > 0 enables
// beam search; WordTimestamps maps token timestamps onto word entries.
func (e *Engine) Transcribe(ctx context.Context, samples []float32, model string, opts engine.Options) (*engine.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m, err := e.load(model)
	if err != nil {
		return nil, err
	}

	wctx, err := m.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whispercpp: create context: %w", err)
	}

	if opts.Language != "" {
		if err := wctx.SetLanguage(opts.Language); err != nil {
			slog.Warn("failed to set language, using model default",
				"language", opts.Language, "error", err)
		}
	}
	if opts.BeamSize > 0 {
		wctx.SetBeamSize(opts.BeamSize)
	}
	wctx.SetTokenTimestamps(opts.WordTimestamps)
	if e.threads > 0 {
		wctx.SetThreads(uint(e.threads))
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whispercpp: process audio: %w", err)
	}

	var segments []types.Segment
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whispercpp: read segment: %w", err)
		}
		segments = append(segments, convertSegment(seg, opts.WordTimestamps))
	}

	return &engine.Result{
		Segments: segments,
		Language: opts.Language,
	}, nil
}

// Warmup loads the model into the cache and returns how long the load took.
// Loading a GGML file materializes the full graph, so no decode pass is
// needed afterwards.
func (e *Engine) Warmup(ctx context.Context, model string) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	start := time.Now()
	if _, err := e.load(model); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// LoadedModels lists the model identifiers currently resident, sorted.
func (e *Engine) LoadedModels() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	names := make([]string, 0, len(e.models))
	for name := range e.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases all loaded models.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	for name, m := range e.models {
		if err := m.Close(); err != nil {
			errs = append(errs, fmt.Errorf("whispercpp: close model %q: %w", name, err))
		}
		delete(e.models, name)
	}
	return errors.Join(errs...)
}

// load returns the cached model, loading it from disk on first use. The lock
// is held across the load so concurrent callers wait instead of loading the
// same file twice.
func (e *Engine) load(model string) (whisperlib.Model, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if m, ok := e.models[model]; ok {
		return m, nil
	}

	path := filepath.Join(e.modelsDir, model+".bin")
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("whispercpp: model file %q: %w", path, err)
	}

	start := time.Now()
	m, err := whisperlib.New(path)
	if err != nil {
		return nil, fmt.Errorf("whispercpp: load model %q: %w", path, err)
	}
	slog.Info("model loaded", "backend", engine.BackendPrimary,
		"model", model, "load_time", time.Since(start))

	e.models[model] = m
	return m, nil
}

// convertSegment maps a whisper.cpp segment onto the shared segment shape,
// deriving per-word entries from token timestamps and the confidence
// statistics from token probabilities.
func convertSegment(seg whisperlib.Segment, wordTimestamps bool) types.Segment {
	out := types.Segment{
		Start: types.Round3(seg.Start.Seconds()),
		End:   types.Round3(seg.End.Seconds()),
		Text:  strings.TrimSpace(seg.Text),
	}

	var probs []float64
	for _, tok := range seg.Tokens {
		if isSpecialToken(tok.Text) {
			continue
		}
		probs = append(probs, float64(tok.P))
		if !wordTimestamps {
			continue
		}
		word := strings.TrimSpace(tok.Text)
		if word == "" {
			continue
		}
		out.Words = append(out.Words, types.Word{
			Start:       types.Round3(tok.Start.Seconds()),
			End:         types.Round3(tok.End.Seconds()),
			Word:        word,
			Probability: types.Round4(float64(tok.P)),
		})
	}

	if len(probs) > 0 {
		out.AvgLogProb = types.Float(types.Round4(engine.MeanLogProb(probs)))
	}
	if out.Text != "" {
		out.CompressionRatio = types.Float(types.Round4(engine.CompressionRatio(out.Text)))
	}
	return out
}

// isSpecialToken filters whisper marker tokens such as "[_BEG_]" and
// "<|endoftext|>" that carry no lexical content.
func isSpecialToken(text string) bool {
	return strings.HasPrefix(text, "[_") || strings.HasPrefix(text, "<|")
}
