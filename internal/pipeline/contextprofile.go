// Package pipeline implements the post-processing pipeline that enriches
// raw transcriptions: confidence scoring, low-confidence retry, speaker
// diarization, language detection, text processing, PII flagging and LLM
// summarization. Stages run in a fixed order, each gated by configuration
// or by the job's context profile.
package pipeline

import (
	"sort"

	"github.com/hallqvist/lyssna/internal/config"
)

// ContextProfile tunes the interpretation layer for one kind of recording.
// Its flags override the configured defaults; Casing and Prompt fall back to
// configuration when empty.
type ContextProfile struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Description string `json:"description"`

	Summary        bool                 `json:"summary"`
	PII            bool                 `json:"pii"`
	Diarization    bool                 `json:"diarization"`
	TextProcessing bool                 `json:"text_processing"`
	Casing         config.CasingProfile `json:"casing,omitempty"`
	Prompt         string               `json:"-"`
}

var contextProfiles = map[string]ContextProfile{
	"raw": {
		Name:        "raw",
		Label:       "Rått transkript",
		Description: "Ingen efterbearbetning, rå text från ASR",
	},
	"meeting": {
		Name:           "meeting",
		Label:          "Möte",
		Description:    "Mötesanteckningar med beslut och actions",
		Summary:        true,
		PII:            true,
		Diarization:    true,
		TextProcessing: true,
		Casing:         config.CasingMeetingNotes,
		Prompt: "Du är en assistent som sammanfattar mötesanteckningar på svenska.\n\n" +
			"Identifiera:\n" +
			"1. Viktiga beslut som fattades\n" +
			"2. Action items (vem ska göra vad)\n" +
			"3. Nästa steg\n\n" +
			"Ge en kort sammanfattning (max 5 meningar) och lista alla action items.\n\n" +
			"Transkription:\n{text}\n\n" +
			`Svara i JSON-format: {"summary": "...", "action_items": ["..."]}`,
	},
	"brainstorm": {
		Name:           "brainstorm",
		Label:          "Brainstorm",
		Description:    "Lista och gruppera idéer från brainstorming",
		Summary:        true,
		TextProcessing: true,
		Casing:         config.CasingMeetingNotes,
		Prompt: "Du är en assistent som sammanfattar brainstorming-sessioner på svenska.\n\n" +
			"Identifiera alla idéer som diskuterats och gruppera dem i kategorier.\n" +
			"Lista varje idé kort och koncist.\n\n" +
			"Transkription:\n{text}\n\n" +
			`Svara i JSON-format: {"summary": "...", "action_items": ["idé 1", "idé 2", ...]}`,
	},
	"journal": {
		Name:           "journal",
		Label:          "Dagbok",
		Description:    "Dagboksanteckningar och reflektioner",
		Summary:        true,
		PII:            true,
		TextProcessing: true,
		Casing:         config.CasingMeetingNotes,
		Prompt: "Du är en assistent som sammanfattar dagboksanteckningar på svenska.\n\n" +
			"Fånga:\n" +
			"1. Huvudsakliga reflektioner och känslor\n" +
			"2. Viktiga händelser\n" +
			"3. Insikter och lärdomar\n\n" +
			"Skriv sammanfattningen i första person.\n\n" +
			"Transkription:\n{text}\n\n" +
			`Svara i JSON-format: {"summary": "...", "action_items": []}`,
	},
	"tech_notes": {
		Name:        "tech_notes",
		Label:       "Tekniska anteckningar",
		Description: "Teknisk dokumentation, bevara facktermer",
		Summary:     true,
		Casing:      config.CasingVerbatim,
		Prompt: "Du är en assistent som sammanfattar tekniska anteckningar på svenska.\n\n" +
			"Bevara alla tekniska termer, kodnamn och akronymer exakt som de nämnts.\n" +
			"Strukturera sammanfattningen med tydliga punkter.\n\n" +
			"Transkription:\n{text}\n\n" +
			`Svara i JSON-format: {"summary": "...", "action_items": []}`,
	},
}

// LookupContextProfile returns the named context profile and whether it
// exists.
func LookupContextProfile(name string) (ContextProfile, bool) {
	p, ok := contextProfiles[name]
	return p, ok
}

// ContextProfiles lists all context profiles sorted by name.
func ContextProfiles() []ContextProfile {
	out := make([]ContextProfile, 0, len(contextProfiles))
	for _, p := range contextProfiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// effectiveFlags is the resolved stage gating for one job: the context
// profile's flags when the job has one, otherwise the configured defaults.
type effectiveFlags struct {
	Summary        bool
	PII            bool
	Diarization    bool
	TextProcessing bool
	Casing         config.CasingProfile
	Prompt         string
}

func resolveFlags(cfg config.PipelineConfig, profile *ContextProfile) effectiveFlags {
	if profile == nil {
		return effectiveFlags{
			Summary:        cfg.Summary,
			PII:            cfg.PII,
			Diarization:    cfg.Diarization,
			TextProcessing: cfg.TextProcessing,
			Casing:         cfg.Casing,
		}
	}
	out := effectiveFlags{
		Summary:        profile.Summary,
		PII:            profile.PII,
		Diarization:    profile.Diarization,
		TextProcessing: profile.TextProcessing,
		Casing:         profile.Casing,
		Prompt:         profile.Prompt,
	}
	if out.Casing == "" {
		out.Casing = cfg.Casing
	}
	return out
}
