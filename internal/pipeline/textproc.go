package pipeline

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/hallqvist/lyssna/internal/config"
	"github.com/hallqvist/lyssna/pkg/types"
)

// Subtitle layout limits, per common subtitling guidelines.
const (
	subtitleMaxChars = 42
	subtitleMaxLines = 2
)

// ProcessText applies the casing profile to every segment. Verbatim is the
// identity; the other profiles normalize unicode punctuation, capitalize
// sentences and store the result in processed_text, leaving the raw text
// untouched. Subtitle-friendly additionally fills subtitle_lines.
func ProcessText(segments []types.Segment, casing config.CasingProfile, normalizePunct bool) []types.Segment {
	if casing == config.CasingVerbatim {
		return segments
	}

	for i := range segments {
		seg := &segments[i]
		text := seg.Text
		if normalizePunct {
			text = NormalizePunctuation(text)
		}
		text = CapitalizeSentences(text)

		if casing == config.CasingSubtitleFriendly {
			seg.SubtitleLines = SplitSubtitleLines(text)
		}
		seg.ProcessedText = text
	}
	return segments
}

// punctReplacer maps typographic unicode punctuation to ASCII equivalents.
var punctReplacer = strings.NewReplacer(
	"‘", "'", // left single quote
	"’", "'", // right single quote
	"“", `"`, // left double quote
	"”", `"`, // right double quote
	"–", "-", // en dash
	"—", "-", // em dash
	"…", "...", // ellipsis
	" ", " ", // non-breaking space
)

// NormalizePunctuation replaces typographic punctuation with ASCII.
func NormalizePunctuation(text string) string {
	return punctReplacer.Replace(text)
}

var sentenceStartRE = regexp.MustCompile(`([.!?]\s+)(\p{L})`)

// CapitalizeSentences upper-cases the first letter of the text and of every
// sentence after ., ! or ?.
func CapitalizeSentences(text string) string {
	out := sentenceStartRE.ReplaceAllStringFunc(text, func(m string) string {
		sub := sentenceStartRE.FindStringSubmatch(m)
		return sub[1] + strings.ToUpper(sub[2])
	})

	runes := []rune(out)
	for i, r := range runes {
		if unicode.IsLetter(r) {
			runes[i] = unicode.ToUpper(r)
			break
		}
		if !unicode.IsSpace(r) && !unicode.IsPunct(r) {
			break
		}
	}
	return string(runes)
}

// SplitSubtitleLines breaks text into at most two lines of at most 42
// characters each, splitting on word boundaries. Text that does not fit is
// appended to the last line rather than dropped.
func SplitSubtitleLines(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var lines []string
	current := ""
	for i, word := range words {
		candidate := word
		if current != "" {
			candidate = current + " " + word
		}
		if len([]rune(candidate)) <= subtitleMaxChars {
			current = candidate
			continue
		}
		if current != "" {
			lines = append(lines, current)
		}
		current = word
		if len(lines) >= subtitleMaxLines {
			// Both lines full: overflow goes onto the last line.
			rest := strings.Join(words[i:], " ")
			lines[subtitleMaxLines-1] += " " + rest
			return lines[:subtitleMaxLines]
		}
	}

	if current != "" {
		if len(lines) >= subtitleMaxLines {
			lines[subtitleMaxLines-1] += " " + current
		} else {
			lines = append(lines, current)
		}
	}
	if len(lines) > subtitleMaxLines {
		lines = lines[:subtitleMaxLines]
	}
	return lines
}
