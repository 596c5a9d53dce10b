package pipeline

import (
	"context"
	"log/slog"

	"github.com/hallqvist/lyssna/internal/config"
	"github.com/hallqvist/lyssna/internal/gateway"
	"github.com/hallqvist/lyssna/pkg/types"
)

// Retrier re-transcribes a time window of the session audio at higher
// quality. Implemented by the gateway client.
type Retrier interface {
	RetryWindow(ctx context.Context, audioBase64 string, start, end float64, model, language string, beamSize int) (*types.RetryResult, error)
}

// RetryLowConfidence re-transcribes low-confidence segments. Strategy A uses
// the medium model at an elevated beam size and replaces the segment only
// when the retry is no longer low-confidence. Strategy B (when enabled)
// falls back to the large model and replaces unconditionally. Retry failures
// never fail the job; the original segment stays.
func RetryLowConfidence(ctx context.Context, segments []types.Segment, audioBase64, language string, cfg config.PipelineConfig, retrier Retrier) []types.Segment {
	if audioBase64 == "" {
		slog.Warn("no audio available, skipping retry stage")
		return segments
	}

	var lowIdx []int
	for i := range segments {
		if segments[i].LowConfidence {
			lowIdx = append(lowIdx, i)
		}
	}
	if len(lowIdx) == 0 {
		slog.Info("no low-confidence segments, skipping retry stage")
		return segments
	}
	slog.Info("retrying low-confidence segments", "count", len(lowIdx))

	for _, i := range lowIdx {
		seg := &segments[i]

		res, err := retrier.RetryWindow(ctx, audioBase64, seg.Start, seg.End,
			gateway.ModelMedium, language, cfg.RetryBeamSize)
		if err != nil {
			slog.Error("retry with medium model failed", "segment", i, "error", err)
		} else if len(res.Segments) > 0 {
			best := res.Segments[0]
			if !best.LowConfidence {
				seg.ApplyRetry(best, "medium")
				slog.Info("segment improved", "segment", i, "model", "medium",
					"beam_size", cfg.RetryBeamSize)
				continue
			}
		}

		if !cfg.RetryLarge {
			continue
		}
		res, err = retrier.RetryWindow(ctx, audioBase64, seg.Start, seg.End,
			gateway.ModelLarge, language, cfg.RetryBeamSize)
		if err != nil {
			slog.Error("retry with large model failed", "segment", i, "error", err)
			continue
		}
		if len(res.Segments) > 0 {
			seg.ApplyRetry(res.Segments[0], "large")
			slog.Info("segment re-transcribed", "segment", i, "model", "large")
		}
	}
	return segments
}
