package sherpa

import (
	"fmt"
	"os"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/hallqvist/lyssna/pkg/types"
)

// DiarizerConfig configures the offline speaker diarizer.
type DiarizerConfig struct {
	// SegmentationModel is the pyannote segmentation ONNX model path.
	SegmentationModel string

	// EmbeddingModel is the speaker embedding ONNX model path.
	EmbeddingModel string

	// NumThreads for the ONNX runtime. Default 4.
	NumThreads int

	// ClusteringThreshold in (0,1]; higher merges more aggressively.
	// Default 0.5.
	ClusteringThreshold float32
}

// Diarizer segments audio by speaker using sherpa-onnx offline speaker
// diarization. The underlying pipeline is not safe for concurrent use, so
// Process serializes callers.
type Diarizer struct {
	mu sync.Mutex
	sd *sherpa.OfflineSpeakerDiarization
}

// NewDiarizer builds a diarizer from the given models. Returns an error when
// either model file is missing or the pipeline cannot be constructed, so the
// diarization stage can degrade gracefully.
func NewDiarizer(cfg DiarizerConfig) (*Diarizer, error) {
	if _, err := os.Stat(cfg.SegmentationModel); err != nil {
		return nil, fmt.Errorf("sherpa: segmentation model %q: %w", cfg.SegmentationModel, err)
	}
	if _, err := os.Stat(cfg.EmbeddingModel); err != nil {
		return nil, fmt.Errorf("sherpa: embedding model %q: %w", cfg.EmbeddingModel, err)
	}
	if cfg.NumThreads <= 0 {
		cfg.NumThreads = 4
	}
	if cfg.ClusteringThreshold <= 0 {
		cfg.ClusteringThreshold = 0.5
	}

	sc := &sherpa.OfflineSpeakerDiarizationConfig{
		Segmentation: sherpa.OfflineSpeakerSegmentationModelConfig{
			Pyannote: sherpa.OfflineSpeakerSegmentationPyannoteModelConfig{
				Model: cfg.SegmentationModel,
			},
			NumThreads: cfg.NumThreads,
			Provider:   "cpu",
		},
		Embedding: sherpa.SpeakerEmbeddingExtractorConfig{
			Model:      cfg.EmbeddingModel,
			NumThreads: cfg.NumThreads,
			Provider:   "cpu",
		},
		Clustering: sherpa.FastClusteringConfig{
			NumClusters: -1, // infer the speaker count
			Threshold:   cfg.ClusteringThreshold,
		},
		MinDurationOn:  0.3,
		MinDurationOff: 0.5,
	}

	sd := sherpa.NewOfflineSpeakerDiarization(sc)
	if sd == nil {
		return nil, fmt.Errorf("sherpa: failed to create speaker diarization pipeline")
	}
	return &Diarizer{sd: sd}, nil
}

// Process diarizes the samples (16 kHz mono float32) and returns speaker
// turns labelled "SPEAKER_00", "SPEAKER_01", ... in first-appearance order.
func (d *Diarizer) Process(samples []float32) ([]types.SpeakerTurn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sd == nil {
		return nil, fmt.Errorf("sherpa: diarizer is closed")
	}
	if len(samples) == 0 {
		return nil, nil
	}

	segs := d.sd.Process(samples)
	turns := make([]types.SpeakerTurn, 0, len(segs))
	for _, s := range segs {
		turns = append(turns, types.SpeakerTurn{
			Start:   types.Round3(float64(s.Start)),
			End:     types.Round3(float64(s.End)),
			Speaker: fmt.Sprintf("SPEAKER_%02d", s.Speaker),
		})
	}
	return turns, nil
}

// Close releases the diarization pipeline.
func (d *Diarizer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sd != nil {
		sherpa.DeleteOfflineSpeakerDiarization(d.sd)
		d.sd = nil
	}
}
