package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emirozbir/erp-sentinel/internal/config"
)

func TestNewClientSelectsProvider(t *testing.T) {
	cfg := &config.Config{LLM: config.LLMConfig{Provider: "anthropic", APIKey: "k", Model: "m", MaxTokens: 100}}
	client, err := NewClient(cfg)
	require.NoError(t, err)
	assert.IsType(t, &AnthropicClient{}, client)

	cfg.LLM.Provider = "openai"
	client, err = NewClient(cfg)
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, client)
}

func TestNewClientErrors(t *testing.T) {
	_, err := NewClient(&config.Config{LLM: config.LLMConfig{Provider: "mistral", APIKey: "k"}})
	assert.EqualError(t, err, "unknown LLM provider: mistral")

	_, err = NewClient(&config.Config{LLM: config.LLMConfig{Provider: "openai"}})
	assert.Error(t, err)
}
