package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load returns the defaults overlaid with the YAML file at path (when path is
// non-empty), environment variables applied on top. A `.env` file in the
// working directory is honoured but never overrides already-set variables.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := decodeInto(cfg, f); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of the defaults and
// validates the result. Environment overrides are not applied. Useful in
// tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeInto(cfg, r); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeInto(cfg *Config, r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	err := dec.Decode(cfg)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// ApplyEnv overrides cfg's pipeline settings from the documented environment
// variables. Boolean variables accept true|1|yes (case-insensitive) as true;
// any other non-empty value is false; empty keeps the current value.
func ApplyEnv(cfg *Config) error {
	var errs []error

	envBool(&cfg.Pipeline.Retry, "FEATURE_RETRY")
	envBool(&cfg.Pipeline.RetryLarge, "FEATURE_RETRY_LARGE")
	envBool(&cfg.Pipeline.LangDetect, "FEATURE_LANG_DETECT")
	envBool(&cfg.Pipeline.TextProcessing, "FEATURE_TEXT_PROCESSING")
	envBool(&cfg.Pipeline.PII, "FEATURE_PII")
	envBool(&cfg.Pipeline.Summary, "FEATURE_SUMMARY")
	envBool(&cfg.Pipeline.Diarization, "FEATURE_DIARIZATION")
	envBool(&cfg.Pipeline.NormalizePunctuation, "NORMALIZE_PUNCTUATION")

	envInt(&cfg.Pipeline.RetryBeamSize, "RETRY_BEAM_SIZE", &errs)
	envInt(&cfg.Pipeline.HTTPRetries, "HTTP_RETRIES", &errs)
	envInt(&cfg.Pipeline.MaxConcurrentJobs, "MAX_CONCURRENT_JOBS", &errs)

	envSeconds(&cfg.Pipeline.HTTPTimeout, "HTTP_TIMEOUT", &errs)
	envSeconds(&cfg.Pipeline.HTTPRetryBackoff, "HTTP_RETRY_BACKOFF", &errs)

	envString((*string)(&cfg.Pipeline.Casing), "CASING_PROFILE")
	envString(&cfg.Pipeline.WhisperAPIURL, "WHISPER_API_URL")
	envString(&cfg.Pipeline.LLMURL, "LLM_URL")
	envString(&cfg.Pipeline.LLMModel, "LLM_MODEL")
	envString(&cfg.Pipeline.SessionsDir, "SESSIONS_DIR")
	envString(&cfg.Pipeline.JobsDBPath, "JOBS_DB_PATH")
	envString(&cfg.Pipeline.DiarizationSegModel, "DIARIZATION_SEG_MODEL")
	envString(&cfg.Pipeline.DiarizationEmbModel, "DIARIZATION_EMB_MODEL")

	// The ingest orchestrator shares the sessions root with the pipeline.
	envString(&cfg.Ingest.SessionsDir, "SESSIONS_DIR")
	envString(&cfg.Ingest.TranscriptionsDir, "TRANSCRIPTIONS_DIR")

	return errors.Join(errs...)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	for name, lvl := range map[string]LogLevel{
		"gateway.log_level": cfg.Gateway.LogLevel,
		"ingest.log_level":  cfg.Ingest.LogLevel,
		"worker.log_level":  cfg.Worker.LogLevel,
	} {
		if lvl != "" && !lvl.IsValid() {
			errs = append(errs, fmt.Errorf("%s %q is invalid; valid values: debug, info, warn, error", name, lvl))
		}
	}

	if cfg.Pipeline.Casing != "" && !cfg.Pipeline.Casing.IsValid() {
		errs = append(errs, fmt.Errorf("pipeline.casing_profile %q is invalid; valid values: verbatim, meeting_notes, subtitle_friendly", cfg.Pipeline.Casing))
	}
	if cfg.Pipeline.RetryBeamSize < 1 {
		errs = append(errs, fmt.Errorf("pipeline.retry_beam_size %d must be >= 1", cfg.Pipeline.RetryBeamSize))
	}
	if cfg.Pipeline.MaxConcurrentJobs < 1 {
		errs = append(errs, fmt.Errorf("pipeline.max_concurrent_jobs %d must be >= 1", cfg.Pipeline.MaxConcurrentJobs))
	}
	if cfg.Pipeline.HTTPRetries < 0 {
		errs = append(errs, fmt.Errorf("pipeline.http_retries %d must be >= 0", cfg.Pipeline.HTTPRetries))
	}
	if cfg.Pipeline.Summary && cfg.Pipeline.LLMURL == "" {
		errs = append(errs, errors.New("pipeline.summary is enabled but pipeline.llm_url is empty"))
	}

	return errors.Join(errs...)
}

// ParseBool implements the platform's boolean environment semantics:
// true|1|yes case-insensitive.
func ParseBool(val string) bool {
	switch strings.ToLower(val) {
	case "true", "1", "yes":
		return true
	}
	return false
}

func envBool(dst *bool, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = ParseBool(val)
	}
}

func envString(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func envInt(dst *int, key string, errs *[]error) {
	val := os.Getenv(key)
	if val == "" {
		return
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("config: %s=%q is not an integer", key, val))
		return
	}
	*dst = n
}

// envSeconds parses a float number of seconds into a duration.
func envSeconds(dst *time.Duration, key string, errs *[]error) {
	val := os.Getenv(key)
	if val == "" {
		return
	}
	secs, err := strconv.ParseFloat(val, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("config: %s=%q is not a number of seconds", key, val))
		return
	}
	*dst = time.Duration(secs * float64(time.Second))
}
