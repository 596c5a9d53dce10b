// Package engine defines the uniform ASR engine contract behind the
// transcription gateway.
//
// Two implementations exist: the primary backend (whisper.cpp, CPU,
// integer-quantized models, beam search) and the accelerator backend
// (ONNX runtime, half-precision models, greedy decoding only). The gateway
// dispatches per profile and hides which engine actually served a request,
// except for the backend tag echoed in responses.
//
// Engines consume decoded float32 mono 16 kHz samples rather than file
// paths so that callers decode once and may reuse the samples (warmup,
// diarization).
package engine

import (
	"context"
	"time"

	"github.com/hallqvist/lyssna/pkg/types"
)

// Backend tags reported in transcription responses.
const (
	BackendPrimary     = "primary"
	BackendAccelerator = "accelerator"
)

// Options carries the per-request decode parameters.
type Options struct {
	// Language is the BCP-47 code passed to the model (e.g. "sv").
	Language string

	// BeamSize sets the beam width for engines that support beam search.
	// 0 means greedy / engine default.
	BeamSize int

	// WordTimestamps requests per-word alignment where the engine supports
	// it.
	WordTimestamps bool
}

// Result is the raw output of one engine invocation, before gateway
// post-processing (noise filter, confidence heuristic).
type Result struct {
	Segments            []types.Segment
	Language            string
	LanguageProbability *float64
}

// Engine is the uniform ASR contract.
type Engine interface {
	// Name returns the backend tag, BackendPrimary or BackendAccelerator.
	Name() string

	// Available reports whether the engine can serve requests at all
	// (model directory present, runtime linked). An unavailable accelerator
	// makes the gateway fall back to the primary engine.
	Available() bool

	// Transcribe runs the given model over the samples.
	Transcribe(ctx context.Context, samples []float32, model string, opts Options) (*Result, error)

	// Warmup loads the model into the engine's cache, forcing full graph
	// materialization, and returns the load time.
	Warmup(ctx context.Context, model string) (time.Duration, error)

	// LoadedModels lists the model identifiers currently resident in the
	// cache.
	LoadedModels() []string

	// Close releases all loaded models.
	Close() error
}
