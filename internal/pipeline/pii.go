package pipeline

import (
	"regexp"
	"sort"
	"strings"

	"github.com/hallqvist/lyssna/pkg/types"
)

// PII patterns for Swedish text. Flagging only, never masking.
var piiPatterns = []struct {
	kind string
	re   *regexp.Regexp
}{
	{"personnummer", regexp.MustCompile(`\d{6,8}[-\s]?\d{4}`)},
	{"email", regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)},
	{"telefon", regexp.MustCompile(`(?:\+46|0)\s*[1-9]\d{0,2}[\s-]?\d{2,3}[\s-]?\d{2}[\s-]?\d{2}`)},
}

// profanityWords are common Swedish profanities flagged alongside PII.
var profanityWords = []string{
	"fan", "jävla", "jävlar", "helvete", "skit", "skita",
	"förbannad", "förbannade", "satan", "satans",
	"jävel", "jävligt", "faen", "fy fan",
}

var profanityRE = buildProfanityRE()

func buildProfanityRE() *regexp.Regexp {
	// Longest first so multi-word entries win over their prefixes.
	words := append([]string(nil), profanityWords...)
	sort.Slice(words, func(i, j int) bool { return len(words[i]) > len(words[j]) })
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
}

// FlagPII scans each segment for personal data and profanity, recording
// match positions as rune offsets. The processed text is scanned when a text
// processing stage produced one, otherwise the raw text.
func FlagPII(segments []types.Segment) []types.Segment {
	for i := range segments {
		seg := &segments[i]
		text := seg.Text
		if seg.ProcessedText != "" {
			text = seg.ProcessedText
		}

		flags := []types.PIIFlag{}
		for _, p := range piiPatterns {
			flags = appendMatches(flags, p.kind, p.re, text)
		}
		flags = appendMatches(flags, "profanity", profanityRE, text)

		seg.PIIFlags = flags
		seg.HasPII = types.Bool(len(flags) > 0)
	}
	return segments
}

func appendMatches(flags []types.PIIFlag, kind string, re *regexp.Regexp, text string) []types.PIIFlag {
	for _, loc := range re.FindAllStringIndex(text, -1) {
		flags = append(flags, types.PIIFlag{
			Type:      kind,
			StartChar: len([]rune(text[:loc[0]])),
			EndChar:   len([]rune(text[:loc[1]])),
			Text:      text[loc[0]:loc[1]],
		})
	}
	return flags
}
