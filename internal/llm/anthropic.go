package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/emirozbir/erp-sentinel/internal/config"
)

type AnthropicClient struct {
	client      *anthropic.Client
	model       string
	maxTokens   int
	temperature float32
}

func NewAnthropicClient(cfg config.LLMConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key not configured")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &AnthropicClient{
		client:      anthropic.NewClient(opts...),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

func (a *AnthropicClient) Analyze(ctx context.Context, prompt string) (string, error) {
	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F(a.model),
		MaxTokens: anthropic.Int(int64(a.maxTokens)),
		Messages: anthropic.F([]anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		}),
		Temperature: anthropic.Float(float64(a.temperature)),
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}

	if len(message.Content) == 0 {
		return "", fmt.Errorf("empty response from Anthropic")
	}

	for _, block := range message.Content {
		if textBlock, ok := block.AsUnion().(anthropic.TextBlock); ok {
			return textBlock.Text, nil
		}
	}
	return "", fmt.Errorf("no text block in Anthropic response")
}
