package pipeline

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/pemistahl/lingua-go"

	"github.com/hallqvist/lyssna/pkg/types"
)

// minTextLength is the shortest trimmed text worth language-detecting.
// Anything shorter inherits the file-level language.
const minTextLength = 10

// candidateLanguages bounds the detector to languages plausibly spoken in
// Swedish recordings. A narrow set keeps short-text detection reliable.
var candidateLanguages = []lingua.Language{
	lingua.Swedish,
	lingua.English,
	lingua.Bokmal,
	lingua.Danish,
	lingua.German,
	lingua.Finnish,
	lingua.French,
	lingua.Spanish,
}

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// languageDetector lazily builds the shared detector. Model loading is
// expensive; only jobs that reach this stage pay for it.
func languageDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(candidateLanguages...).
			Build()
	})
	return detector
}

// DetectLanguages runs text-based language identification per segment and
// flags segments that switch away from the file-level language.
func DetectLanguages(segments []types.Segment, fileLanguage string) []types.Segment {
	switches := 0
	for i := range segments {
		seg := &segments[i]
		text := strings.TrimSpace(seg.Text)

		if len([]rune(text)) < minTextLength {
			seg.DetectedLanguage = fileLanguage
			seg.LanguageConfidence = types.Float(1.0)
			seg.LanguageSwitch = types.Bool(false)
			continue
		}

		values := languageDetector().ComputeLanguageConfidenceValues(text)
		if len(values) == 0 {
			seg.DetectedLanguage = fileLanguage
			seg.LanguageConfidence = types.Float(0.0)
			seg.LanguageSwitch = types.Bool(false)
			continue
		}

		best := values[0]
		detected := isoCode(best.Language())
		seg.DetectedLanguage = detected
		seg.LanguageConfidence = types.Float(types.Round4(best.Value()))
		switched := detected != fileLanguage
		seg.LanguageSwitch = types.Bool(switched)
		if switched {
			switches++
		}
	}

	if switches > 0 {
		slog.Info("language switches detected", "switches", switches, "segments", len(segments))
	}
	return segments
}

func isoCode(lang lingua.Language) string {
	return strings.ToLower(lang.IsoCode639_1().String())
}
