package provider

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Scorer is the external model backend stages 1-4 prefer when configured.
// Implementations return decoded JSON objects; callers treat any error as a
// provider failure and fall back to heuristics.
type Scorer interface {
	ChatJSON(ctx context.Context, model, systemPrompt string, parts []llms.ContentPart) (map[string]any, error)
}

// OpenAIScorer scores listings with an OpenAI chat model in JSON mode.
type OpenAIScorer struct {
	llm llms.Model
}

func NewOpenAIScorer(apiKey string) (*OpenAIScorer, error) {
	model, err := openai.New(openai.WithToken(apiKey))
	if err != nil {
		return nil, errors.Wrap(err, "create openai model")
	}
	return &OpenAIScorer{llm: model}, nil
}

func (s *OpenAIScorer) ChatJSON(ctx context.Context, model, systemPrompt string, parts []llms.ContentPart) (map[string]any, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		{Role: llms.ChatMessageTypeHuman, Parts: parts},
	}
	resp, err := s.llm.GenerateContent(ctx, messages,
		llms.WithModel(model),
		llms.WithTemperature(0),
		llms.WithJSONMode(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "generate content")
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("model returned no choices")
	}
	return ExtractJSON(resp.Choices[0].Content)
}

var fenceOpenRe = regexp.MustCompile("(?i)^```(?:json)?\\s*")
var fenceCloseRe = regexp.MustCompile("\\s*```$")

// ExtractJSON pulls a JSON object out of model output, tolerating fenced code
// blocks and leading/trailing prose.
func ExtractJSON(raw string) (map[string]any, error) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = fenceOpenRe.ReplaceAllString(text, "")
		text = fenceCloseRe.ReplaceAllString(text, "")
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil {
		return obj, nil
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err == nil {
			return obj, nil
		}
	}
	return nil, errors.New("model response did not contain a valid JSON object")
}
