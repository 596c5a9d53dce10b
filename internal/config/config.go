// Package config provides the configuration schema and loader for the lyssna
// services. Settings come from an optional YAML file; the pipeline knobs can
// additionally be overridden through environment variables, which win over
// file values.
package config

import "time"

// LogLevel controls log verbosity for a lyssna service.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// CasingProfile selects the text-processing casing style.
type CasingProfile string

const (
	CasingVerbatim         CasingProfile = "verbatim"
	CasingMeetingNotes     CasingProfile = "meeting_notes"
	CasingSubtitleFriendly CasingProfile = "subtitle_friendly"
)

// IsValid reports whether c is a recognised casing profile.
func (c CasingProfile) IsValid() bool {
	switch c {
	case CasingVerbatim, CasingMeetingNotes, CasingSubtitleFriendly:
		return true
	}
	return false
}

// Config is the root configuration structure shared by the three lyssna
// binaries. Each service reads its own section plus Pipeline where relevant;
// unused sections keep their defaults.
type Config struct {
	Gateway  GatewayConfig  `yaml:"gateway"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Worker   WorkerConfig   `yaml:"worker"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// GatewayConfig holds settings for the transcription gateway service.
type GatewayConfig struct {
	// ListenAddr is the TCP address the gateway listens on.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// DefaultProfile is used when a request names no profile or an unknown
	// one.
	DefaultProfile string `yaml:"default_profile"`

	// ModelsDir holds the primary backend's GGML model files, one per model
	// tier (e.g. kb-whisper-small.bin).
	ModelsDir string `yaml:"models_dir"`

	// ONNXModelsDir holds the accelerator backend's ONNX model directories.
	// When absent, the accelerator is unavailable and profiles requesting it
	// fall back to the primary backend.
	ONNXModelsDir string `yaml:"onnx_models_dir"`

	// Threads caps the primary backend's decode threads. 0 means the engine
	// default.
	Threads int `yaml:"threads"`
}

// IngestConfig holds settings for the ingest orchestrator service.
type IngestConfig struct {
	ListenAddr string   `yaml:"listen_addr"`
	LogLevel   LogLevel `yaml:"log_level"`

	// SessionsDir is the root of the on-disk session store.
	SessionsDir string `yaml:"sessions_dir"`

	// TranscriptionsDir holds saved plain-text transcription notes.
	TranscriptionsDir string `yaml:"transcriptions_dir"`

	// GatewayURL is the transcription gateway base URL.
	GatewayURL string `yaml:"gateway_url"`

	// WorkerURL is the pipeline worker base URL (loopback in production).
	WorkerURL string `yaml:"worker_url"`
}

// WorkerConfig holds settings for the pipeline worker service.
type WorkerConfig struct {
	ListenAddr string   `yaml:"listen_addr"`
	LogLevel   LogLevel `yaml:"log_level"`
}

// PipelineConfig carries the pipeline feature flags and knobs. Every field
// has an environment-variable override applied by [ApplyEnv]; the variable
// names are noted per field.
type PipelineConfig struct {
	// Feature flags.
	Retry          bool `yaml:"retry"`           // FEATURE_RETRY
	RetryLarge     bool `yaml:"retry_large"`     // FEATURE_RETRY_LARGE
	LangDetect     bool `yaml:"lang_detect"`     // FEATURE_LANG_DETECT
	TextProcessing bool `yaml:"text_processing"` // FEATURE_TEXT_PROCESSING
	PII            bool `yaml:"pii"`             // FEATURE_PII
	Summary        bool `yaml:"summary"`         // FEATURE_SUMMARY
	Diarization    bool `yaml:"diarization"`     // FEATURE_DIARIZATION

	// Knobs.
	RetryBeamSize        int           `yaml:"retry_beam_size"`       // RETRY_BEAM_SIZE
	Casing               CasingProfile `yaml:"casing_profile"`        // CASING_PROFILE
	NormalizePunctuation bool          `yaml:"normalize_punctuation"` // NORMALIZE_PUNCTUATION
	WhisperAPIURL        string        `yaml:"whisper_api_url"`       // WHISPER_API_URL
	LLMURL               string        `yaml:"llm_url"`               // LLM_URL
	LLMModel             string        `yaml:"llm_model"`             // LLM_MODEL
	HTTPTimeout          time.Duration `yaml:"http_timeout"`          // HTTP_TIMEOUT (seconds)
	HTTPRetries          int           `yaml:"http_retries"`          // HTTP_RETRIES
	HTTPRetryBackoff     time.Duration `yaml:"http_retry_backoff"`    // HTTP_RETRY_BACKOFF (seconds)
	MaxConcurrentJobs    int           `yaml:"max_concurrent_jobs"`   // MAX_CONCURRENT_JOBS
	SessionsDir          string        `yaml:"sessions_dir"`          // SESSIONS_DIR
	JobsDBPath           string        `yaml:"jobs_db_path"`          // JOBS_DB_PATH
	DiarizationSegModel  string        `yaml:"diarization_seg_model"` // DIARIZATION_SEG_MODEL
	DiarizationEmbModel  string        `yaml:"diarization_emb_model"` // DIARIZATION_EMB_MODEL
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			ListenAddr:     ":8123",
			LogLevel:       LogInfo,
			DefaultProfile: "accurate",
			ModelsDir:      "/app/models",
			ONNXModelsDir:  "/app/models/onnx",
		},
		Ingest: IngestConfig{
			ListenAddr:        ":8080",
			LogLevel:          LogInfo,
			SessionsDir:       "/app/transcriptions/sessions",
			TranscriptionsDir: "/app/transcriptions",
			GatewayURL:        "http://localhost:8123",
			WorkerURL:         "http://127.0.0.1:8400",
		},
		Worker: WorkerConfig{
			ListenAddr: "127.0.0.1:8400",
			LogLevel:   LogInfo,
		},
		Pipeline: PipelineConfig{
			Retry:                true,
			LangDetect:           true,
			TextProcessing:       true,
			PII:                  true,
			RetryBeamSize:        10,
			Casing:               CasingVerbatim,
			NormalizePunctuation: true,
			WhisperAPIURL:        "http://localhost:8123",
			HTTPTimeout:          60 * time.Second,
			HTTPRetries:          3,
			HTTPRetryBackoff:     time.Second,
			MaxConcurrentJobs:    1,
			SessionsDir:          "/app/transcriptions/sessions",
			JobsDBPath:           "/app/data/jobs.db",
		},
	}
}
