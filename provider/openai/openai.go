package openai_provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/samz905/wrrk-pilot/config"
	openai "github.com/sashabaranov/go-openai"
)

// Provider calls chat completions on OpenAI-compatible endpoints. Models are looked up
// by their configured key; the API name may differ from the key.
type Provider struct {
	client *openai.Client
	models map[string]config.LLMModel
}

// New creates a provider from configuration. The key falls back to OPENAI_API_KEY.
func New(cfg config.LLMProvider) (*Provider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("OpenAI API key not configured")
	}
	oc := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Provider{client: openai.NewClientWithConfig(oc), models: cfg.Models}, nil
}

// GenerateWithTokens sends a single user message and returns the reply with prompt and completion token counts.
func (p *Provider) GenerateWithTokens(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, int64, int64, error) {
	m, ok := p.models[model]
	if !ok {
		return "", 0, 0, fmt.Errorf("model %s not configured", model)
	}
	apiModel := m.APIName
	if apiModel == "" {
		apiModel = m.Name
	}

	temperature := m.Temperature
	if t, ok := options["temperature"].(float64); ok {
		temperature = t
	}
	maxTokens := m.MaxTokens
	if mt, ok := options["max_tokens"].(int); ok {
		maxTokens = mt
	}

	req := openai.ChatCompletionRequest{
		Model: apiModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You respond with a single JSON object and nothing else."},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature:    float32(temperature),
		MaxTokens:      maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}
	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", 0, 0, fmt.Errorf("openai chat completion: %w", err)
	}
	in := int64(resp.Usage.PromptTokens)
	out := int64(resp.Usage.CompletionTokens)
	if len(resp.Choices) == 0 {
		return "", in, out, nil
	}
	return resp.Choices[0].Message.Content, in, out, nil
}

// CalculateCost prices token usage with the configured per-1K rates. Unknown models cost nothing.
func (p *Provider) CalculateCost(inputTokens, outputTokens int64, model string) float64 {
	m, ok := p.models[model]
	if !ok {
		return 0
	}
	outRate := m.CostPer1KOutput
	if outRate == 0 {
		outRate = m.CostPer1K
	}
	return float64(inputTokens)/1000*m.CostPer1K + float64(outputTokens)/1000*outRate
}
