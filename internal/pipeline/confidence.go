package pipeline

import (
	"github.com/hallqvist/lyssna/internal/gateway"
	"github.com/hallqvist/lyssna/pkg/types"
)

// lowWordProb is the per-word probability below which a word counts as weak.
const lowWordProb = 0.3

// EvaluateConfidence re-scores every segment and enriches it with aggregate
// word statistics. The gateway already sets low_confidence at transcription
// time; re-evaluating here keeps retried and externally submitted segments
// honest.
func EvaluateConfidence(segments []types.Segment) []types.Segment {
	for i := range segments {
		seg := &segments[i]
		seg.LowConfidence = gateway.IsLowConfidence(*seg)

		if len(seg.Words) == 0 {
			seg.WordConfidenceAvg = nil
			seg.WordConfidenceMin = nil
			seg.LowConfidenceWords = nil
			continue
		}

		sum := 0.0
		min := seg.Words[0].Probability
		var weak []types.Word
		for _, w := range seg.Words {
			sum += w.Probability
			if w.Probability < min {
				min = w.Probability
			}
			if w.Probability < lowWordProb {
				weak = append(weak, w)
			}
		}
		seg.WordConfidenceAvg = types.Float(types.Round4(sum / float64(len(seg.Words))))
		seg.WordConfidenceMin = types.Float(types.Round4(min))
		seg.LowConfidenceWords = weak
	}
	return segments
}
