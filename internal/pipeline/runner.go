package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hallqvist/lyssna/internal/config"
	"github.com/hallqvist/lyssna/internal/jobs"
	"github.com/hallqvist/lyssna/internal/observe"
	"github.com/hallqvist/lyssna/internal/session"
	"github.com/hallqvist/lyssna/pkg/types"
)

// jobInput is the document submitted with process_session and reinterpret
// jobs.
type jobInput struct {
	SessionID      string          `json:"session_id"`
	Language       string          `json:"language"`
	ContextProfile string          `json:"context_profile"`
	Segments       []types.Segment `json:"segments"`
	AudioBase64    string          `json:"audio_base64"`
	AudioPath      string          `json:"audio_path"`
}

// Runner executes pipeline jobs. It implements jobs.Runner.
type Runner struct {
	cfg        config.PipelineConfig
	store      *jobs.Store
	sessions   *session.Store
	retrier    Retrier
	diarizer   Diarizer
	summarizer *Summarizer
	metrics    *observe.Metrics
}

// NewRunner wires the pipeline dependencies. diarizer may be nil when no
// diarization models are installed; the stage then degrades to unknown
// speakers.
func NewRunner(cfg config.PipelineConfig, store *jobs.Store, sessions *session.Store, retrier Retrier, diarizer Diarizer, summarizer *Summarizer, metrics *observe.Metrics) *Runner {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Runner{
		cfg:        cfg,
		store:      store,
		sessions:   sessions,
		retrier:    retrier,
		diarizer:   diarizer,
		summarizer: summarizer,
		metrics:    metrics,
	}
}

// Run executes all enabled stages for one job and writes the result back to
// the job's session. The returned document becomes the job's result_data.
func (r *Runner) Run(ctx context.Context, job *jobs.Job) (any, error) {
	if err := r.store.SetStatus(job.ID, jobs.StatusProcessing, "init"); err != nil {
		return nil, err
	}

	var input jobInput
	if err := json.Unmarshal([]byte(job.InputData), &input); err != nil {
		return nil, fmt.Errorf("pipeline: decode job input: %w", err)
	}
	if input.Language == "" {
		input.Language = "sv"
	}

	result, err := r.process(ctx, job.ID, &input)
	if err != nil {
		r.markSessionFailed(input.SessionID, job.ID, err)
		return nil, err
	}

	// Result files land in the session before the job flips to completed,
	// so a poller that sees "completed" always finds the output on disk.
	if input.SessionID != "" {
		if err := r.writeback(input.SessionID, job.ID, &input, result); err != nil {
			r.markSessionFailed(input.SessionID, job.ID, err)
			return nil, err
		}
	}
	return result, nil
}

func (r *Runner) process(ctx context.Context, jobID string, input *jobInput) (*types.ProcessedResult, error) {
	var profile *ContextProfile
	if input.ContextProfile != "" {
		p, ok := LookupContextProfile(input.ContextProfile)
		if !ok {
			return nil, fmt.Errorf("pipeline: unknown context profile %q", input.ContextProfile)
		}
		profile = &p
	}
	flags := resolveFlags(r.cfg, profile)

	segments := input.Segments

	r.stage(ctx, jobID, "confidence", func() {
		segments = EvaluateConfidence(segments)
	})

	if r.cfg.Retry {
		r.stage(ctx, jobID, "retry", func() {
			segments = RetryLowConfidence(ctx, segments, input.AudioBase64, input.Language, r.cfg, r.retrier)
		})
	}

	if flags.Diarization {
		var derr error
		r.stage(ctx, jobID, "diarization", func() {
			audioPath := input.AudioPath
			if audioPath == "" && input.SessionID != "" {
				if p, err := r.sessions.AudioPath(input.SessionID); err == nil {
					audioPath = p
				}
			}
			if r.diarizer == nil {
				slog.Warn("no diarizer configured, labelling speakers unknown", "job_id", jobID)
				audioPath = ""
			}
			segments, derr = Diarize(segments, audioPath, r.diarizer)
		})
		if derr != nil {
			return nil, derr
		}
	}

	if r.cfg.LangDetect {
		r.stage(ctx, jobID, "language_detect", func() {
			segments = DetectLanguages(segments, input.Language)
		})
	}

	if flags.TextProcessing {
		r.stage(ctx, jobID, "text_processing", func() {
			segments = ProcessText(segments, flags.Casing, r.cfg.NormalizePunctuation)
		})
	}

	if flags.PII {
		r.stage(ctx, jobID, "pii_flagging", func() {
			segments = FlagPII(segments)
		})
	}

	var summary *types.Summary
	if flags.Summary {
		r.stage(ctx, jobID, "summary", func() {
			summary = r.summarizer.Summarize(ctx, segments, flags.Prompt)
		})
	}

	result := &types.ProcessedResult{
		Language: input.Language,
		Segments: segments,
		Summary:  summary,
	}
	if profile != nil {
		result.ContextProfile = profile.Name
	}
	slog.Info("pipeline finished", "job_id", jobID, "segments", len(segments))
	return result, nil
}

// stage updates the job's current step, runs fn and records its latency.
// Step bookkeeping failures are logged, not fatal: the pipeline result
// matters more than progress reporting.
func (r *Runner) stage(ctx context.Context, jobID, name string, fn func()) {
	if err := r.store.SetStep(jobID, name); err != nil {
		slog.Warn("failed to update job step", "job_id", jobID, "step", name, "error", err)
	}
	start := time.Now()
	fn()
	r.metrics.RecordStage(ctx, name, time.Since(start).Seconds())
}

func (r *Runner) writeback(sessionID, jobID string, input *jobInput, result *types.ProcessedResult) error {
	var err error
	if input.ContextProfile != "" {
		err = r.sessions.WriteInterpretation(sessionID, input.ContextProfile, result)
	} else {
		err = r.sessions.WriteProcessed(sessionID, result)
	}
	if err != nil {
		return fmt.Errorf("pipeline: write result for session %s: %w", sessionID, err)
	}

	merr := r.sessions.MergeMeta(sessionID, map[string]any{
		"job_id":            jobID,
		"processing_status": "completed",
		"processed_at":      time.Now().UTC().Format(time.RFC3339),
	})
	if merr != nil && !errors.Is(merr, session.ErrNotFound) {
		return fmt.Errorf("pipeline: update session %s: %w", sessionID, merr)
	}
	return nil
}

func (r *Runner) markSessionFailed(sessionID, jobID string, cause error) {
	if sessionID == "" {
		return
	}
	err := r.sessions.MergeMeta(sessionID, map[string]any{
		"job_id":            jobID,
		"processing_status": "failed",
		"processing_error":  cause.Error(),
	})
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		slog.Error("failed to record session failure", "session_id", sessionID, "error", err)
	}
}
