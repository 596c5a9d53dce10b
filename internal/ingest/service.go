// Package ingest implements the orchestrator that ties the platform together:
// it receives audio from clients, transcribes it through the gateway, persists
// the session on disk, and hands post-processing off to the pipeline worker.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/hallqvist/lyssna/internal/pipeline"
	"github.com/hallqvist/lyssna/internal/session"
	"github.com/hallqvist/lyssna/pkg/audio"
	"github.com/hallqvist/lyssna/pkg/types"
)

// Transcriber is the slice of the gateway client the service needs.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, profile, language string) (*types.TranscriptResult, error)
}

// JobSubmitter is the slice of the worker client the service needs.
type JobSubmitter interface {
	Submit(ctx context.Context, jobType string, input map[string]any) (string, error)
}

// ErrNoSegments is returned when a session cannot be re-interpreted because
// it holds no transcript segments.
var ErrNoSegments = errors.New("ingest: session has no segments")

// ErrUnknownContext is returned for context profile names the pipeline does
// not know.
var ErrUnknownContext = errors.New("ingest: unknown context profile")

// DefaultProfile is the transcription profile used when a request names none.
const DefaultProfile = "accurate"

// Service orchestrates ingest flows: transcribe, persist, submit.
type Service struct {
	sessions *session.Store
	gateway  Transcriber
	worker   JobSubmitter
}

// NewService wires the orchestrator to its session store and backends.
func NewService(sessions *session.Store, gateway Transcriber, worker JobSubmitter) *Service {
	return &Service{sessions: sessions, gateway: gateway, worker: worker}
}

// IngestResult is the response document for a completed file ingest.
type IngestResult struct {
	SessionID    string `json:"session_id"`
	JobID        string `json:"job_id,omitempty"`
	PollURL      string `json:"poll_url,omitempty"`
	Text         string `json:"text"`
	Language     string `json:"language"`
	SegmentCount int    `json:"segment_count"`
}

// IngestFile runs the unified ingest flow for one uploaded audio file:
// transcribe via the gateway, persist a session, and submit a pipeline job.
// The audio at audioPath may be in any container ffmpeg understands.
func (s *Service) IngestFile(ctx context.Context, audioPath, profile, contextProfile, source string) (*IngestResult, error) {
	if profile == "" {
		profile = DefaultProfile
	}
	if contextProfile != "" {
		if _, ok := pipeline.LookupContextProfile(contextProfile); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownContext, contextProfile)
		}
	}

	res, err := s.gateway.Transcribe(ctx, audioPath, profile, "")
	if err != nil {
		return nil, fmt.Errorf("ingest: transcribe upload: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	saved, err := s.saveSession(ctx, []string{audioPath}, []*types.TranscriptResult{res}, profile, now, now)
	if err != nil {
		return nil, err
	}

	language := res.Language
	if language == "" {
		language = "sv"
	}

	jobID := s.submitJob(ctx, saved, language, contextProfile, source)

	out := &IngestResult{
		SessionID:    saved.ID,
		JobID:        jobID,
		Text:         res.Text,
		Language:     language,
		SegmentCount: len(res.Segments),
	}
	if jobID != "" {
		out.PollURL = "/api/jobs/" + jobID
	}
	return out, nil
}

// ReinterpretResult is the response document for a re-interpretation request.
type ReinterpretResult struct {
	SessionID string `json:"session_id"`
	Context   string `json:"context"`
	JobID     string `json:"job_id"`
	PollURL   string `json:"poll_url"`
}

// Reinterpret submits a new pipeline job for an existing session under a
// different context profile. The raw session segments are reused, so no
// re-transcription happens.
func (s *Service) Reinterpret(ctx context.Context, sessionID, contextProfile string) (*ReinterpretResult, error) {
	if _, ok := pipeline.LookupContextProfile(contextProfile); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContext, contextProfile)
	}

	meta, err := s.sessions.Meta(sessionID)
	if err != nil {
		return nil, err
	}
	if len(meta.Segments) == 0 {
		return nil, ErrNoSegments
	}

	input := map[string]any{
		"session_id":      sessionID,
		"context_profile": contextProfile,
		"segments":        meta.Segments,
	}
	if audioPath, err := s.sessions.AudioPath(sessionID); err == nil {
		input["audio_path"] = audioPath
	}

	jobID, err := s.worker.Submit(ctx, "reinterpret", input)
	if err != nil {
		return nil, fmt.Errorf("ingest: submit reinterpret job: %w", err)
	}
	return &ReinterpretResult{
		SessionID: sessionID,
		Context:   contextProfile,
		JobID:     jobID,
		PollURL:   "/api/jobs/" + jobID,
	}, nil
}

// InterpretationInfo summarises one stored interpretation of a session.
type InterpretationInfo struct {
	ContextProfile string         `json:"context_profile"`
	Summary        *types.Summary `json:"summary"`
	SegmentCount   int            `json:"segment_count"`
}

// Interpretations returns a summary of every stored interpretation for a
// session, keyed by context profile name. Unknown sessions yield an empty map.
func (s *Service) Interpretations(sessionID string) map[string]InterpretationInfo {
	out := map[string]InterpretationInfo{}
	names, err := s.sessions.Interpretations(sessionID)
	if err != nil {
		return out
	}
	for _, name := range names {
		res, err := s.sessions.Interpretation(sessionID, name)
		if err != nil || res == nil {
			continue
		}
		profile := res.ContextProfile
		if profile == "" {
			profile = name
		}
		out[name] = InterpretationInfo{
			ContextProfile: profile,
			Summary:        res.Summary,
			SegmentCount:   len(res.Segments),
		}
	}
	return out
}

// FinalizeRealtime persists a finished realtime recording as a session and
// submits its pipeline job. chunkPaths are the raw audio chunks in arrival
// order; transcripts are the per-chunk gateway results that produced text.
// Returns the new session ID, or "" when there was nothing to save.
func (s *Service) FinalizeRealtime(ctx context.Context, chunkPaths []string, transcripts []*types.TranscriptResult, profile, startedAt, endedAt string) (string, error) {
	if len(chunkPaths) == 0 {
		return "", nil
	}
	if profile == "" {
		profile = DefaultProfile
	}

	saved, err := s.saveSession(ctx, chunkPaths, transcripts, profile, startedAt, endedAt)
	if err != nil {
		return "", err
	}
	s.submitJob(ctx, saved, "sv", "", "")
	return saved.ID, nil
}

// savedSession is the on-disk outcome of persisting one recording.
type savedSession struct {
	ID        string
	AudioPath string // empty when audio canonicalisation failed
	Segments  []types.Segment
}

// saveSession creates the session directory, canonicalises the audio chunks
// into a single 16 kHz mono WAV, and writes session.json. A failed audio
// conversion degrades the session (no audio, hence no diarization later)
// rather than failing the ingest.
func (s *Service) saveSession(ctx context.Context, chunkPaths []string, transcripts []*types.TranscriptResult, profile, startedAt, endedAt string) (*savedSession, error) {
	var (
		segments  []types.Segment
		textParts []string
	)
	for _, t := range transcripts {
		if t == nil {
			continue
		}
		if txt := strings.TrimSpace(t.Text); txt != "" {
			textParts = append(textParts, txt)
		}
		segments = append(segments, t.Segments...)
	}

	id := session.NewID(time.Now(), profile)
	meta := &types.SessionMeta{
		SessionID:   id,
		Profile:     profile,
		StartedAt:   startedAt,
		EndedAt:     endedAt,
		Chunks:      len(chunkPaths),
		Text:        strings.Join(textParts, " "),
		Segments:    segments,
		AudioFile:   session.AudioFile,
		AudioFormat: "wav",
		SampleRate:  audio.CanonicalSampleRate,
		Channels:    audio.CanonicalChannels,
	}
	if err := s.sessions.Create(meta); err != nil {
		return nil, fmt.Errorf("ingest: save session: %w", err)
	}

	saved := &savedSession{ID: id, Segments: segments}
	wavPath := filepath.Join(s.sessions.Dir(id), session.AudioFile)
	if err := audio.ConcatToWAV(ctx, chunkPaths, wavPath); err != nil {
		slog.Warn("audio canonicalisation failed, session saved without audio",
			"session_id", id, "error", err)
		return saved, nil
	}
	saved.AudioPath = wavPath

	duration, err := audio.ProbeDuration(ctx, wavPath)
	if err != nil {
		slog.Warn("duration probe failed", "session_id", id, "error", err)
	} else if err := s.sessions.MergeMeta(id, map[string]any{"duration": duration}); err != nil {
		slog.Warn("failed to record session duration", "session_id", id, "error", err)
	}
	return saved, nil
}

// submitJob hands a saved session to the pipeline worker and records the
// submission in session.json. A failed submission leaves the session intact;
// it can be re-submitted through /interpret later.
func (s *Service) submitJob(ctx context.Context, saved *savedSession, language, contextProfile, source string) string {
	input := map[string]any{
		"session_id": saved.ID,
		"segments":   saved.Segments,
		"language":   language,
	}
	if saved.AudioPath != "" {
		input["audio_path"] = saved.AudioPath
	}
	if contextProfile != "" {
		input["context_profile"] = contextProfile
	}

	jobID, err := s.worker.Submit(ctx, "process_session", input)
	if err != nil {
		slog.Error("pipeline job submission failed", "session_id", saved.ID, "error", err)
		return ""
	}

	fields := map[string]any{
		"job_id":            jobID,
		"processing_status": "submitted",
	}
	if source != "" {
		fields["source"] = source
	}
	if err := s.sessions.MergeMeta(saved.ID, fields); err != nil {
		slog.Warn("failed to record job submission", "session_id", saved.ID, "error", err)
	}
	return jobID
}
