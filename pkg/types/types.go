// Package types defines the shared data shapes used across all lyssna
// services: words, segments, transcription results, sessions, and pipeline
// outputs.
//
// These types form the lingua franca between the gateway, the pipeline worker,
// and the ingest orchestrator. Segments follow a strict enrichment discipline:
// the core ASR fields are written once by the transcription gateway, and
// pipeline stages only add fields on top. Optional fields are pointers (or
// omitempty values) so that "absent" and "zero" stay distinguishable across
// JSON round-trips.
package types

import "math"

// Word is a single recognized word with timestamps and decoder probability.
// Start/End are seconds rounded to 3 decimals; Probability is in [0,1]
// rounded to 4 decimals.
type Word struct {
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Word        string  `json:"word"`
	Probability float64 `json:"probability"`
}

// PIIFlag marks one personally-identifiable match inside a segment's text.
// Offsets are rune positions into the scanned text.
type PIIFlag struct {
	Type      string `json:"type"`
	StartChar int    `json:"start_char"`
	EndChar   int    `json:"end_char"`
	Text      string `json:"text"`
}

// Segment is a timestamped utterance produced by ASR and progressively
// enriched by the post-processing pipeline. Core fields (Start through
// LowConfidence) are never removed or cleared by any stage.
type Segment struct {
	Start            float64  `json:"start"`
	End              float64  `json:"end"`
	Text             string   `json:"text"`
	Words            []Word   `json:"words"`
	AvgLogProb       *float64 `json:"avg_logprob,omitempty"`
	CompressionRatio *float64 `json:"compression_ratio,omitempty"`
	NoSpeechProb     *float64 `json:"no_speech_prob,omitempty"`
	LowConfidence    bool     `json:"low_confidence"`

	// Confidence stage.
	WordConfidenceAvg  *float64 `json:"word_confidence_avg,omitempty"`
	WordConfidenceMin  *float64 `json:"word_confidence_min,omitempty"`
	LowConfidenceWords []Word   `json:"low_confidence_words,omitempty"`

	// Retry stage.
	Retried    bool   `json:"retried,omitempty"`
	RetryModel string `json:"retry_model,omitempty"`

	// Diarization stage.
	SpeakerID string `json:"speaker_id,omitempty"`

	// Language detection stage.
	DetectedLanguage   string   `json:"detected_language,omitempty"`
	LanguageConfidence *float64 `json:"language_confidence,omitempty"`
	LanguageSwitch     *bool    `json:"language_switch,omitempty"`

	// Text processing stage.
	ProcessedText string   `json:"processed_text,omitempty"`
	SubtitleLines []string `json:"subtitle_lines,omitempty"`

	// PII flagging stage. HasPII is a pointer so that "stage did not run"
	// and "stage ran, found nothing" remain distinguishable.
	PIIFlags []PIIFlag `json:"pii_flags,omitempty"`
	HasPII   *bool     `json:"has_pii,omitempty"`
}

// ApplyRetry overwrites the core ASR fields of s with those of a replacement
// segment obtained from a higher-tier retry transcription, preserving any
// enrichment fields already present on s. The segment is tagged with the
// model tier that produced the replacement.
func (s *Segment) ApplyRetry(replacement Segment, model string) {
	s.Start = replacement.Start
	s.End = replacement.End
	s.Text = replacement.Text
	s.Words = replacement.Words
	s.AvgLogProb = replacement.AvgLogProb
	s.CompressionRatio = replacement.CompressionRatio
	s.NoSpeechProb = replacement.NoSpeechProb
	s.LowConfidence = replacement.LowConfidence
	s.Retried = true
	s.RetryModel = model
}

// TranscriptResult is the gateway's response for one transcription request.
type TranscriptResult struct {
	Text                string    `json:"text"`
	Language            string    `json:"language"`
	LanguageProbability *float64  `json:"language_probability,omitempty"`
	Segments            []Segment `json:"segments,omitempty"`
	Duration            *float64  `json:"duration,omitempty"`
	Backend             string    `json:"backend,omitempty"`
	Profile             string    `json:"profile,omitempty"`
	InferenceTime       float64   `json:"inference_time,omitempty"`
}

// RetryResult is the gateway's response for a windowed retry transcription.
type RetryResult struct {
	Segments            []Segment `json:"segments"`
	Language            string    `json:"language"`
	LanguageProbability *float64  `json:"language_probability,omitempty"`
	Model               string    `json:"model"`
	BeamSize            int       `json:"beam_size"`
}

// WarmupResult reports the outcome of pre-loading a profile's model.
type WarmupResult struct {
	Status   string  `json:"status"`
	Profile  string  `json:"profile"`
	Model    string  `json:"model,omitempty"`
	Backend  string  `json:"backend,omitempty"`
	LoadTime float64 `json:"load_time,omitempty"`
	Detail   string  `json:"detail,omitempty"`
}

// Summary is the LLM-produced summary of a completed transcription.
type Summary struct {
	Summary     string   `json:"summary"`
	ActionItems []string `json:"action_items"`
}

// SpeakerTurn is one diarized speech interval attributed to a speaker.
type SpeakerTurn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// ProcessedResult is the pipeline output written to processed.json, or to
// interpreted_{context}.json for re-interpretation jobs.
type ProcessedResult struct {
	Language       string    `json:"language"`
	ContextProfile string    `json:"context_profile,omitempty"`
	Segments       []Segment `json:"segments"`
	Summary        *Summary  `json:"summary,omitempty"`
}

// SessionMeta is the metadata persisted as session.json inside a session
// directory. The pipeline tracking fields (JobID onwards) are merged in after
// creation and are therefore omitempty.
type SessionMeta struct {
	SessionID   string    `json:"session_id"`
	Profile     string    `json:"profile"`
	StartedAt   string    `json:"started_at"`
	EndedAt     string    `json:"ended_at"`
	Duration    float64   `json:"duration"`
	Chunks      int       `json:"chunks"`
	Text        string    `json:"text"`
	Segments    []Segment `json:"segments"`
	AudioFile   string    `json:"audio_file"`
	AudioFormat string    `json:"audio_format"`
	SampleRate  int       `json:"sample_rate"`
	Channels    int       `json:"channels"`

	JobID            string `json:"job_id,omitempty"`
	ProcessingStatus string `json:"processing_status,omitempty"`
	ProcessedAt      string `json:"processed_at,omitempty"`
	ProcessingError  string `json:"processing_error,omitempty"`
	Source           string `json:"source,omitempty"`
}

// Round3 rounds to 3 decimal places. Used for timestamps.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// Round4 rounds to 4 decimal places. Used for probabilities and log-probs.
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// Float returns a pointer to v, for optional float fields.
func Float(v float64) *float64 { return &v }

// Bool returns a pointer to v, for optional bool fields.
func Bool(v bool) *bool { return &v }
