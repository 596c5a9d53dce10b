package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/hallqvist/lyssna/internal/engine"
	"github.com/hallqvist/lyssna/internal/observe"
	"github.com/hallqvist/lyssna/pkg/audio"
	"github.com/hallqvist/lyssna/pkg/types"
)

// DefaultLanguage is Swedish; language stays parameterized per request.
const DefaultLanguage = "sv"

// Accelerator reports model paths for warmup diagnostics. The sherpa engine
// implements it; the interface keeps the service testable with fakes.
type Accelerator interface {
	engine.Engine
	ModelPath(model string) string
}

// Service dispatches transcription requests to the right engine per profile
// and applies the gateway post-processing (noise filter, confidence
// heuristic, rounding).
type Service struct {
	primary        engine.Engine
	accelerator    Accelerator
	defaultProfile string
	metrics        *observe.Metrics
}

// NewService wires the two engines. accelerator may be unavailable (missing
// model dir); dispatch then falls back to primary transparently.
func NewService(primary engine.Engine, accelerator Accelerator, defaultProfile string, metrics *observe.Metrics) *Service {
	if defaultProfile == "" {
		defaultProfile = DefaultProfile
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Service{
		primary:        primary,
		accelerator:    accelerator,
		defaultProfile: defaultProfile,
		metrics:        metrics,
	}
}

// resolveProfile maps a requested profile name to its configuration, falling
// back to the default for unknown names.
func (s *Service) resolveProfile(name string) Profile {
	if name == "" {
		name = s.defaultProfile
	}
	p, ok := LookupProfile(name)
	if !ok {
		slog.Warn("unknown profile, falling back to default",
			"profile", name, "default", s.defaultProfile)
		p, _ = LookupProfile(s.defaultProfile)
	}
	return p
}

// pickEngine returns the engine serving the profile, honouring accelerator
// fallback.
func (s *Service) pickEngine(p Profile) engine.Engine {
	if p.Backend == engine.BackendAccelerator {
		if s.accelerator != nil && s.accelerator.Available() {
			return s.accelerator
		}
		slog.Info("accelerator unavailable, falling back to primary", "profile", p.Name)
	}
	return s.primary
}

// TranscribeFile canonicalizes the uploaded audio file (any format ffmpeg
// understands) and transcribes it under the given profile.
func (s *Service) TranscribeFile(ctx context.Context, path, profileName, language string) (*types.TranscriptResult, error) {
	wav := filepath.Join(os.TempDir(), fmt.Sprintf("lyssna-gw-%d.wav", time.Now().UnixNano()))
	if err := audio.ConvertToWAV(ctx, path, wav); err != nil {
		return nil, fmt.Errorf("gateway: canonicalize upload: %w", err)
	}
	defer os.Remove(wav)

	samples, err := audio.ReadSamples(wav)
	if err != nil {
		return nil, fmt.Errorf("gateway: decode upload: %w", err)
	}
	return s.Transcribe(ctx, samples, profileName, language)
}

// Transcribe runs decoded samples through the profile's engine and applies
// the gateway post-processing.
func (s *Service) Transcribe(ctx context.Context, samples []float32, profileName, language string) (*types.TranscriptResult, error) {
	p := s.resolveProfile(profileName)
	eng := s.pickEngine(p)
	if language == "" {
		language = DefaultLanguage
	}

	start := time.Now()
	res, err := eng.Transcribe(ctx, samples, p.Model, engine.Options{
		Language:       language,
		BeamSize:       p.BeamSize,
		WordTimestamps: true,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: transcribe with %s: %w", eng.Name(), err)
	}
	elapsed := time.Since(start)
	s.metrics.RecordTranscription(ctx, eng.Name(), p.Name, elapsed.Seconds())

	segments := res.Segments
	if eng.Name() == engine.BackendAccelerator {
		before := len(segments)
		segments = FilterNoise(segments)
		if dropped := before - len(segments); dropped > 0 {
			s.metrics.SegmentsDropped.Add(ctx, int64(dropped))
		}
	}
	for i := range segments {
		segments[i].LowConfidence = IsLowConfidence(segments[i])
	}

	out := &types.TranscriptResult{
		Text:                joinSegmentText(segments),
		Language:            res.Language,
		LanguageProbability: res.LanguageProbability,
		Segments:            segments,
		Backend:             eng.Name(),
		Profile:             p.Name,
		InferenceTime:       types.Round3(elapsed.Seconds()),
	}
	if len(segments) > 0 {
		out.Duration = types.Float(segments[len(segments)-1].End)
	}

	slog.Info("transcription served",
		"profile", p.Name, "backend", eng.Name(),
		"segments", len(segments), "inference_time", elapsed)
	return out, nil
}

// RetryRequest is the windowed retry input. The audio is a complete WAV; the
// model decodes the whole blob and only segments overlapping [Start, End]
// are kept.
type RetryRequest struct {
	AudioBase64 string  `json:"audio_base64"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	BeamSize    int     `json:"beam_size"`
	Model       string  `json:"model"`
	Language    string  `json:"language"`
}

// Retry re-transcribes a time window at higher quality. Always the primary
// engine: retry is batch context, not realtime.
func (s *Service) Retry(ctx context.Context, wavData []byte, req RetryRequest) (*types.RetryResult, error) {
	tmp := filepath.Join(os.TempDir(), fmt.Sprintf("lyssna-retry-%d.wav", time.Now().UnixNano()))
	if err := os.WriteFile(tmp, wavData, 0o600); err != nil {
		return nil, fmt.Errorf("gateway: write retry audio: %w", err)
	}
	defer os.Remove(tmp)

	samples, err := audio.ReadSamples(tmp)
	if err != nil {
		return nil, fmt.Errorf("gateway: decode retry audio: %w", err)
	}
	return s.retryFromSamples(ctx, samples, req)
}

func (s *Service) retryFromSamples(ctx context.Context, samples []float32, req RetryRequest) (*types.RetryResult, error) {
	if req.BeamSize <= 0 {
		req.BeamSize = 10
	}
	if req.Model == "" {
		req.Model = ModelMedium
	}
	if req.Language == "" {
		req.Language = DefaultLanguage
	}

	res, err := s.primary.Transcribe(ctx, samples, req.Model, engine.Options{
		Language:       req.Language,
		BeamSize:       req.BeamSize,
		WordTimestamps: true,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: retry transcribe: %w", err)
	}
	s.metrics.GatewayRetries.Add(ctx, 1)

	var kept []types.Segment
	for _, seg := range res.Segments {
		if seg.End < req.Start {
			continue
		}
		if seg.Start > req.End {
			break
		}
		seg.LowConfidence = IsLowConfidence(seg)
		kept = append(kept, seg)
	}

	return &types.RetryResult{
		Segments:            kept,
		Language:            res.Language,
		LanguageProbability: res.LanguageProbability,
		Model:               req.Model,
		BeamSize:            req.BeamSize,
	}, nil
}

// Warmup pre-loads the model behind a profile. Unlike transcription, an
// unknown profile here is a caller error. A missing accelerator model is
// reported in-band with status "error" so clients can show the path.
func (s *Service) Warmup(ctx context.Context, profileName string) (*types.WarmupResult, error) {
	if profileName == "" {
		profileName = s.defaultProfile
	}
	p, ok := LookupProfile(profileName)
	if !ok {
		return nil, fmt.Errorf("gateway: %w: %s", ErrUnknownProfile, profileName)
	}

	eng := s.pickEngine(p)
	if eng.Name() == engine.BackendAccelerator {
		if dir := s.accelerator.ModelPath(p.Model); !dirExists(dir) {
			return &types.WarmupResult{
				Status:  "error",
				Profile: p.Name,
				Detail:  "ONNX-modell saknas: " + dir,
			}, nil
		}
	}

	loadTime, err := eng.Warmup(ctx, p.Model)
	if err != nil {
		return nil, fmt.Errorf("gateway: warmup %s: %w", p.Name, err)
	}
	s.metrics.ModelLoadDuration.Record(ctx, loadTime.Seconds(),
		metric.WithAttributes(observe.Attr("backend", eng.Name()), observe.Attr("model", p.Model)))

	return &types.WarmupResult{
		Status:   "ready",
		Profile:  p.Name,
		Model:    p.Model,
		Backend:  eng.Name(),
		LoadTime: types.Round3(loadTime.Seconds()),
	}, nil
}

// ModelsInfo is the GET /models response.
type ModelsInfo struct {
	Profiles       map[string]ProfileInfo `json:"profiles"`
	DefaultProfile string                 `json:"default_profile"`
	Loaded         map[string][]string    `json:"loaded"`
}

// ProfileInfo is a profile plus its current availability.
type ProfileInfo struct {
	Profile
	Available bool `json:"available"`
}

// Models describes the profile table and the currently loaded models.
func (s *Service) Models() ModelsInfo {
	accAvailable := s.accelerator != nil && s.accelerator.Available()

	out := ModelsInfo{
		Profiles:       make(map[string]ProfileInfo, len(profiles)),
		DefaultProfile: s.defaultProfile,
		Loaded: map[string][]string{
			engine.BackendPrimary:     s.primary.LoadedModels(),
			engine.BackendAccelerator: {},
		},
	}
	if s.accelerator != nil {
		out.Loaded[engine.BackendAccelerator] = s.accelerator.LoadedModels()
	}
	for name, p := range profiles {
		out.Profiles[name] = ProfileInfo{
			Profile:   p,
			Available: p.Backend != engine.BackendAccelerator || accAvailable,
		}
	}
	return out
}

// HealthInfo is the GET /health response.
type HealthInfo struct {
	Status               string              `json:"status"`
	Version              string              `json:"version"`
	DefaultProfile       string              `json:"default_profile"`
	AcceleratorAvailable bool                `json:"accelerator_available"`
	LoadedModels         map[string][]string `json:"loaded_models"`
}

// Health reports service status and model cache contents.
func (s *Service) Health(version string) HealthInfo {
	info := HealthInfo{
		Status:               "ok",
		Version:              version,
		DefaultProfile:       s.defaultProfile,
		AcceleratorAvailable: s.accelerator != nil && s.accelerator.Available(),
		LoadedModels: map[string][]string{
			engine.BackendPrimary:     s.primary.LoadedModels(),
			engine.BackendAccelerator: {},
		},
	}
	if s.accelerator != nil {
		info.LoadedModels[engine.BackendAccelerator] = s.accelerator.LoadedModels()
	}
	return info
}

func joinSegmentText(segments []types.Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg.Text != "" {
			parts = append(parts, seg.Text)
		}
	}
	return strings.Join(parts, " ")
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
