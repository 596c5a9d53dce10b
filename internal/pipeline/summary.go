package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/hallqvist/lyssna/internal/config"
	"github.com/hallqvist/lyssna/pkg/types"
)

const (
	summaryTimeout     = 30 * time.Second
	summaryMaxChars    = 8000
	summaryTemperature = 0.3
)

const defaultSummaryPrompt = "Du är en assistent som sammanfattar transkriptioner på svenska.\n\n" +
	"Ge en kort sammanfattning (max 3 meningar) och lista eventuella action items.\n\n" +
	"Transkription:\n{text}\n\n" +
	`Svara i JSON-format: {"summary": "...", "action_items": ["..."]}`

// Summarizer produces an LLM summary of a transcription. Implemented over
// any OpenAI-compatible chat completion endpoint (Ollama, vLLM, hosted).
type Summarizer struct {
	client oai.Client
	model  string
}

// NewSummarizer builds a summarizer against cfg.LLMURL. Returns nil when no
// LLM endpoint is configured; the stage then degrades to no summary.
func NewSummarizer(cfg config.PipelineConfig) *Summarizer {
	if cfg.LLMURL == "" {
		return nil
	}
	model := cfg.LLMModel
	if model == "" {
		model = "default"
	}
	client := oai.NewClient(
		option.WithBaseURL(strings.TrimSuffix(cfg.LLMURL, "/")+"/v1"),
		option.WithAPIKey("unused"), // local endpoints ignore the key
	)
	return &Summarizer{client: client, model: model}
}

// Summarize renders the prompt template over the concatenated segment text
// and asks the LLM for a JSON summary. Returns nil (not an error) on HTTP
// failure or empty input; a summary is an enhancement, never a requirement.
func (s *Summarizer) Summarize(ctx context.Context, segments []types.Segment, promptTemplate string) *types.Summary {
	if s == nil {
		slog.Warn("no LLM endpoint configured, skipping summary stage")
		return nil
	}

	parts := make([]string, 0, len(segments))
	for i := range segments {
		if segments[i].Text != "" {
			parts = append(parts, segments[i].Text)
		}
	}
	fullText := strings.TrimSpace(strings.Join(parts, " "))
	if fullText == "" {
		return nil
	}
	if runes := []rune(fullText); len(runes) > summaryMaxChars {
		fullText = string(runes[:summaryMaxChars])
	}

	template := promptTemplate
	if template == "" {
		template = defaultSummaryPrompt
	}
	prompt := strings.ReplaceAll(template, "{text}", fullText)

	ctx, cancel := context.WithTimeout(ctx, summaryTimeout)
	defer cancel()

	resp, err := s.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model:       shared.ChatModel(s.model),
		Messages:    []oai.ChatCompletionMessageParamUnion{oai.UserMessage(prompt)},
		Temperature: param.NewOpt(summaryTemperature),
	})
	if err != nil {
		slog.Error("summary request failed", "error", err)
		return nil
	}
	if len(resp.Choices) == 0 {
		slog.Error("summary response had no choices")
		return nil
	}

	return parseSummary(resp.Choices[0].Message.Content)
}

// parseSummary decodes the assistant content as a summary document, wrapping
// non-JSON answers as a plain summary.
func parseSummary(content string) *types.Summary {
	var out types.Summary
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return &types.Summary{Summary: content, ActionItems: []string{}}
	}
	if out.ActionItems == nil {
		out.ActionItems = []string{}
	}
	return &out
}
