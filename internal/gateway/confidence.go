package gateway

import (
	"regexp"

	"github.com/hallqvist/lyssna/pkg/types"
)

// Confidence thresholds from the original whisper paper. Pure arithmetic on
// already-computed attributes, zero extra latency.
const (
	avgLogProbFloor      = -1.0
	compressionRatioCeil = 2.4
	noSpeechProbCeil     = 0.6
	wordProbFloor        = 0.3
	lowWordFractionCeil  = 0.3
)

// IsLowConfidence reports whether a segment looks unreliable: the model is
// uncertain, the text is repetitive (decoding loop), silence was decoded as
// speech, or more than 30% of the words are weak. Missing statistics never
// trigger.
func IsLowConfidence(seg types.Segment) bool {
	if seg.AvgLogProb != nil && *seg.AvgLogProb < avgLogProbFloor {
		return true
	}
	if seg.CompressionRatio != nil && *seg.CompressionRatio > compressionRatioCeil {
		return true
	}
	if seg.NoSpeechProb != nil && *seg.NoSpeechProb > noSpeechProbCeil {
		return true
	}
	if len(seg.Words) > 0 {
		low := 0
		for _, w := range seg.Words {
			if w.Probability < wordProbFloor {
				low++
			}
		}
		if float64(low)/float64(len(seg.Words)) > lowWordFractionCeil {
			return true
		}
	}
	return false
}

// noiseRE matches text consisting solely of whitespace and punctuation —
// hallucinated output, not real speech.
var noiseRE = regexp.MustCompile(`^[\s.!?,;:\-—–…'"«»()\[\]]*$`)

// IsNoiseText reports whether text carries no lexical content.
func IsNoiseText(text string) bool {
	return noiseRE.MatchString(text)
}

// FilterNoise removes hallucinated segments: empty after trim, punctuation
// only, or every word below probability 0.01. Applied only to accelerator
// output, which has no voice-activity detection.
func FilterNoise(segments []types.Segment) []types.Segment {
	filtered := make([]types.Segment, 0, len(segments))
	for _, seg := range segments {
		if seg.Text == "" || IsNoiseText(seg.Text) {
			continue
		}
		if len(seg.Words) > 0 {
			allWeak := true
			for _, w := range seg.Words {
				if w.Probability >= 0.01 {
					allWeak = false
					break
				}
			}
			if allWeak {
				continue
			}
		}
		filtered = append(filtered, seg)
	}
	return filtered
}
