package llm

import (
	"context"
	"fmt"

	"github.com/emirozbir/erp-sentinel/internal/config"
)

// Client sends a single prompt to a language model and returns its text reply.
type Client interface {
	Analyze(ctx context.Context, prompt string) (string, error)
}

func NewClient(cfg *config.Config) (Client, error) {
	switch cfg.LLM.Provider {
	case "anthropic":
		return NewAnthropicClient(cfg.LLM)
	case "openai":
		return NewOpenAIClient(cfg.LLM)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.LLM.Provider)
	}
}
