// Package gateway implements the transcription gateway: profile-driven
// dispatch over the two ASR engines, confidence scoring, noise filtering,
// the windowed retry operation, warmup, and the REST + WebSocket surface.
package gateway

import (
	"errors"

	"github.com/hallqvist/lyssna/internal/engine"
)

// ErrUnknownProfile is returned by operations that treat an unrecognised
// profile name as a caller error (warmup). Transcription instead falls back
// to the default profile.
var ErrUnknownProfile = errors.New("okänd profil")

// Profile is the static configuration of one transcription profile.
type Profile struct {
	// Name is the profile identifier used in requests.
	Name string `json:"-"`

	// Model is the model identifier resolved by the backends
	// (<models dir>/<model>.bin for primary, <onnx dir>/<model>/ for the
	// accelerator).
	Model string `json:"model"`

	// Backend tags which engine serves this profile.
	Backend string `json:"backend"`

	// ComputeType describes the model precision, informational only.
	ComputeType string `json:"compute_type"`

	// BeamSize is the decode beam width. The accelerator ignores it
	// (greedy only).
	BeamSize int `json:"beam_size"`

	// ChunkMs is the recommended client-side chunk duration.
	ChunkMs int `json:"chunk_ms"`

	Description string `json:"description"`
}

// Model tiers used by profiles and the retry operation.
const (
	ModelSmall  = "kb-whisper-small"
	ModelMedium = "kb-whisper-medium"
	ModelLarge  = "kb-whisper-large"
)

// DefaultProfile is used when a request names no profile or an unknown one.
const DefaultProfile = "accurate"

// profiles is the static profile table. The two realtime profiles prefer the
// accelerator and fall back to the primary engine when it is unavailable.
var profiles = map[string]Profile{
	"ultra_realtime": {
		Name:        "ultra_realtime",
		Model:       ModelSmall,
		Backend:     engine.BackendAccelerator,
		ComputeType: "float16",
		BeamSize:    1,
		ChunkMs:     1000,
		Description: "Lägsta latens (~1s), ONNX, beam=1",
	},
	"fast": {
		Name:        "fast",
		Model:       ModelSmall,
		Backend:     engine.BackendAccelerator,
		ComputeType: "float16",
		BeamSize:    5,
		ChunkMs:     1000,
		Description: "Låg latens, ONNX, beam=5",
	},
	"accurate": {
		Name:        "accurate",
		Model:       ModelMedium,
		Backend:     engine.BackendPrimary,
		ComputeType: "int8",
		BeamSize:    5,
		ChunkMs:     3000,
		Description: "Hög kvalitet, CPU int8, beam=5",
	},
	"highest_quality": {
		Name:        "highest_quality",
		Model:       ModelLarge,
		Backend:     engine.BackendPrimary,
		ComputeType: "int8",
		BeamSize:    5,
		ChunkMs:     3000,
		Description: "Högsta kvalitet, large-modell, CPU int8, beam=5",
	},
}

// LookupProfile returns the named profile and whether it exists.
func LookupProfile(name string) (Profile, bool) {
	p, ok := profiles[name]
	return p, ok
}

// ProfileNames lists the recognised profile identifiers.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	return names
}
