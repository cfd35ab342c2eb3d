package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/emirozbir/erp-sentinel/internal/config"
)

type OpenAIClient struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

func NewOpenAIClient(cfg config.LLMConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key not configured")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	client := openai.NewClient(opts...)

	return &OpenAIClient{
		client:      &client,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

func (o *OpenAIClient) Analyze(ctx context.Context, prompt string) (string, error) {
	completion, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You are an incident triage assistant. Reply with a single JSON object."),
			openai.UserMessage(prompt),
		},
		MaxTokens:   openai.Int(int64(o.maxTokens)),
		Temperature: openai.Float(float64(o.temperature)),
	})
	if err != nil {
		return "", fmt.Errorf("openai API call failed: %w", err)
	}

	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("empty response from OpenAI")
	}

	return completion.Choices[0].Message.Content, nil
}
