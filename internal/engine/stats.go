package engine

import (
	"bytes"
	"compress/zlib"
	"math"
)

// CompressionRatio returns len(text) / len(zlib(text)), the repetitiveness
// statistic whisper models use to detect decoding loops. Returns 0 for empty
// text.
func CompressionRatio(text string) float64 {
	if text == "" {
		return 0
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write([]byte(text)); err != nil {
		return 0
	}
	if err := zw.Close(); err != nil {
		return 0
	}
	return float64(len(text)) / float64(buf.Len())
}

// MeanLogProb returns the mean natural log of the given probabilities.
// Probabilities are clamped to a small positive floor so a zero-probability
// token yields a large negative value instead of -Inf.
func MeanLogProb(probs []float64) float64 {
	if len(probs) == 0 {
		return 0
	}
	const floor = 1e-10
	var sum float64
	for _, p := range probs {
		if p < floor {
			p = floor
		}
		sum += math.Log(p)
	}
	return sum / float64(len(probs))
}
