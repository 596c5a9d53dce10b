package pipeline

import (
	"testing"

	"github.com/hallqvist/lyssna/pkg/types"
)

func flagTypes(flags []types.PIIFlag) []string {
	out := make([]string, len(flags))
	for i, f := range flags {
		out[i] = f.Type
	}
	return out
}

func TestFlagPII_Personnummer(t *testing.T) {
	t.Parallel()

	got := FlagPII([]types.Segment{{Text: "mitt personnummer är 19850412-1234"}})
	flags := got[0].PIIFlags
	if len(flags) != 1 || flags[0].Type != "personnummer" {
		t.Fatalf("flags = %+v", flags)
	}
	if flags[0].Text != "19850412-1234" {
		t.Errorf("match = %q", flags[0].Text)
	}
	if got[0].HasPII == nil || !*got[0].HasPII {
		t.Error("has_pii must be true")
	}
}

func TestFlagPII_EmailAndPhone(t *testing.T) {
	t.Parallel()

	got := FlagPII([]types.Segment{{Text: "maila anna.svensson@example.se eller ring 070-123 45 67"}})
	kinds := flagTypes(got[0].PIIFlags)
	if len(kinds) != 2 || kinds[0] != "email" || kinds[1] != "telefon" {
		t.Errorf("flags = %v (%+v)", kinds, got[0].PIIFlags)
	}
}

func TestFlagPII_Profanity(t *testing.T) {
	t.Parallel()

	got := FlagPII([]types.Segment{{Text: "fy fan vad jävligt det blev"}})
	kinds := flagTypes(got[0].PIIFlags)
	if len(kinds) != 2 {
		t.Fatalf("flags = %+v", got[0].PIIFlags)
	}
	// "fy fan" must match as the multi-word entry, not bare "fan".
	if got[0].PIIFlags[0].Text != "fy fan" {
		t.Errorf("first match = %q", got[0].PIIFlags[0].Text)
	}
	if got[0].PIIFlags[1].Text != "jävligt" {
		t.Errorf("second match = %q", got[0].PIIFlags[1].Text)
	}
}

func TestFlagPII_NoFalsePositiveInsideWords(t *testing.T) {
	t.Parallel()

	// "fantastisk" contains "fan" but is not profanity.
	got := FlagPII([]types.Segment{{Text: "en fantastisk dag"}})
	if len(got[0].PIIFlags) != 0 {
		t.Errorf("flags = %+v", got[0].PIIFlags)
	}
	if got[0].HasPII == nil || *got[0].HasPII {
		t.Error("has_pii must be explicitly false")
	}
}

func TestFlagPII_RuneOffsets(t *testing.T) {
	t.Parallel()

	// Multi-byte å/ä before the match must not skew the offsets.
	text := "hör av dig på test@example.com"
	got := FlagPII([]types.Segment{{Text: text}})
	if len(got[0].PIIFlags) != 1 {
		t.Fatalf("flags = %+v", got[0].PIIFlags)
	}
	f := got[0].PIIFlags[0]
	runes := []rune(text)
	if string(runes[f.StartChar:f.EndChar]) != "test@example.com" {
		t.Errorf("offsets %d..%d select %q", f.StartChar, f.EndChar,
			string(runes[f.StartChar:f.EndChar]))
	}
}

func TestFlagPII_ScansProcessedTextWhenPresent(t *testing.T) {
	t.Parallel()

	got := FlagPII([]types.Segment{{
		Text:          "ingen pii här",
		ProcessedText: "Ring 070-123 45 67.",
	}})
	if len(got[0].PIIFlags) != 1 || got[0].PIIFlags[0].Type != "telefon" {
		t.Errorf("flags = %+v", got[0].PIIFlags)
	}
}
