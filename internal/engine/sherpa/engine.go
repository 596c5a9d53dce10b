// Package sherpa implements the accelerator ASR backend on the ONNX runtime
// via sherpa-onnx. Models are half-precision whisper exports, one directory
// per model identifier containing encoder.onnx, decoder.onnx and tokens.txt.
//
// Decoding is greedy only and the engine performs no voice-activity
// detection, so the gateway applies its noise filter to every segment this
// backend produces. When the models directory is absent the engine reports
// unavailable and the gateway falls back to the primary backend.
package sherpa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/hallqvist/lyssna/internal/engine"
	"github.com/hallqvist/lyssna/pkg/audio"
	"github.com/hallqvist/lyssna/pkg/types"
)

// ErrModelMissing indicates the per-model ONNX directory does not exist.
var ErrModelMissing = errors.New("sherpa: model directory missing")

// Compile-time assertion that Engine satisfies engine.Engine.
var _ engine.Engine = (*Engine)(nil)

// Engine is the accelerator backend. The model cache tracks each model
// through an explicit absent → loading → ready lifecycle: the first caller
// starts the load, concurrent callers for the same model wait on the same
// load instead of duplicating it, and a failed load resets the model to
// absent so a later call can retry.
type Engine struct {
	modelsDir string
	threads   int

	mu      sync.Mutex
	entries map[string]*modelEntry
}

// modelEntry is one cache slot. The ready channel is closed when loading
// finishes; rec/err are valid only afterwards.
type modelEntry struct {
	ready chan struct{}
	rec   *sherpa.OfflineRecognizer
	err   error
}

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithThreads sets the ONNX runtime intra-op thread count.
func WithThreads(n int) Option {
	return func(e *Engine) { e.threads = n }
}

// New creates an accelerator engine over the given ONNX models directory.
func New(modelsDir string, opts ...Option) *Engine {
	e := &Engine{
		modelsDir: modelsDir,
		threads:   4,
		entries:   make(map[string]*modelEntry),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Name returns the accelerator backend tag.
func (e *Engine) Name() string { return engine.BackendAccelerator }

// Available reports whether the ONNX models directory exists.
func (e *Engine) Available() bool {
	info, err := os.Stat(e.modelsDir)
	return err == nil && info.IsDir()
}

// ModelPath returns the directory a model is expected in. Used for
// user-facing diagnostics when the model is missing.
func (e *Engine) ModelPath(model string) string {
	return filepath.Join(e.modelsDir, model)
}

// Transcribe decodes the samples with the given model using greedy search.
// Greedy decode exposes no per-token probabilities, so words carry
// probability 1.0 and the confidence statistics are limited to the
// compression ratio.
func (e *Engine) Transcribe(ctx context.Context, samples []float32, model string, opts engine.Options) (*engine.Result, error) {
	rec, err := e.get(ctx, model)
	if err != nil {
		return nil, err
	}

	stream := sherpa.NewOfflineStream(rec)
	defer sherpa.DeleteOfflineStream(stream)

	stream.AcceptWaveform(audio.CanonicalSampleRate, samples)
	rec.Decode(stream)
	res := stream.GetResult()

	duration := float64(len(samples)) / audio.CanonicalSampleRate
	seg := convertResult(res, duration, opts.WordTimestamps)

	out := &engine.Result{Language: opts.Language}
	if seg.Text != "" {
		out.Segments = []types.Segment{seg}
	}
	return out, nil
}

// Warmup loads the model and forces full graph materialization by decoding
// 100 ms of silence. Returns the total load time.
func (e *Engine) Warmup(ctx context.Context, model string) (time.Duration, error) {
	start := time.Now()
	rec, err := e.get(ctx, model)
	if err != nil {
		return 0, err
	}

	silence := make([]float32, audio.CanonicalSampleRate/10)
	stream := sherpa.NewOfflineStream(rec)
	defer sherpa.DeleteOfflineStream(stream)
	stream.AcceptWaveform(audio.CanonicalSampleRate, silence)
	rec.Decode(stream)

	return time.Since(start), nil
}

// LoadedModels lists models in the ready state, sorted.
func (e *Engine) LoadedModels() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var names []string
	for name, ent := range e.entries {
		select {
		case <-ent.ready:
			if ent.err == nil {
				names = append(names, name)
			}
		default:
			// Still loading.
		}
	}
	sort.Strings(names)
	return names
}

// Close releases all loaded recognizers.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for name, ent := range e.entries {
		select {
		case <-ent.ready:
			if ent.rec != nil {
				sherpa.DeleteOfflineRecognizer(ent.rec)
			}
		default:
		}
		delete(e.entries, name)
	}
	return nil
}

// get returns a ready recognizer for the model, starting a load if the model
// is absent and waiting if another caller is already loading it.
func (e *Engine) get(ctx context.Context, model string) (*sherpa.OfflineRecognizer, error) {
	e.mu.Lock()
	ent, ok := e.entries[model]
	if !ok {
		ent = &modelEntry{ready: make(chan struct{})}
		e.entries[model] = ent
		go e.loadInto(ent, model)
	}
	e.mu.Unlock()

	select {
	case <-ent.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if ent.err != nil {
		// Reset to absent so a later call can retry the load.
		e.mu.Lock()
		if cur, ok := e.entries[model]; ok && cur == ent {
			delete(e.entries, model)
		}
		e.mu.Unlock()
		return nil, ent.err
	}
	return ent.rec, nil
}

// loadInto performs the actual recognizer construction and publishes the
// outcome by closing the entry's ready channel.
func (e *Engine) loadInto(ent *modelEntry, model string) {
	defer close(ent.ready)

	dir := e.ModelPath(model)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		ent.err = fmt.Errorf("%w: %s", ErrModelMissing, dir)
		return
	}

	cfg := sherpa.OfflineRecognizerConfig{
		FeatConfig: sherpa.FeatureConfig{
			SampleRate: audio.CanonicalSampleRate,
			FeatureDim: 80,
		},
		DecodingMethod: "greedy_search",
	}
	cfg.ModelConfig.Whisper.Encoder = filepath.Join(dir, "encoder.onnx")
	cfg.ModelConfig.Whisper.Decoder = filepath.Join(dir, "decoder.onnx")
	cfg.ModelConfig.Whisper.Task = "transcribe"
	cfg.ModelConfig.Tokens = filepath.Join(dir, "tokens.txt")
	cfg.ModelConfig.NumThreads = e.threads
	cfg.ModelConfig.Provider = "cpu"

	start := time.Now()
	rec := sherpa.NewOfflineRecognizer(&cfg)
	if rec == nil {
		ent.err = fmt.Errorf("sherpa: failed to create recognizer for %q", dir)
		return
	}
	slog.Info("model loaded", "backend", engine.BackendAccelerator,
		"model", model, "load_time", time.Since(start))
	ent.rec = rec
}

// convertResult maps a sherpa decode result onto a single segment spanning
// the decoded audio, deriving word entries from token timestamps.
func convertResult(res *sherpa.OfflineRecognizerResult, duration float64, wordTimestamps bool) types.Segment {
	text := strings.TrimSpace(res.Text)
	seg := types.Segment{
		Start: 0,
		End:   types.Round3(duration),
		Text:  text,
	}
	if text == "" {
		return seg
	}
	seg.CompressionRatio = types.Float(types.Round4(engine.CompressionRatio(text)))

	if !wordTimestamps || len(res.Tokens) == 0 || len(res.Timestamps) != len(res.Tokens) {
		return seg
	}
	for i, tok := range res.Tokens {
		word := strings.TrimSpace(tok)
		if word == "" || strings.HasPrefix(word, "<|") {
			continue
		}
		start := float64(res.Timestamps[i])
		end := duration
		if i+1 < len(res.Timestamps) {
			end = float64(res.Timestamps[i+1])
		}
		seg.Words = append(seg.Words, types.Word{
			Start:       types.Round3(start),
			End:         types.Round3(end),
			Word:        word,
			Probability: 1.0,
		})
	}
	return seg
}
