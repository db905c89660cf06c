package ai_test

import (
	"context"
	"testing"

	"github.com/kiranshivaraju/pmengine/internal/ai"
	"github.com/kiranshivaraju/pmengine/internal/config"
	"github.com/kiranshivaraju/pmengine/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider_Mock(t *testing.T) {
	p, err := ai.NewProvider(config.AIConfig{Provider: "mock"}, 30)
	require.NoError(t, err)
	assert.Equal(t, "mock", p.Name())
}

func TestNewProvider_Ollama(t *testing.T) {
	cfg := config.AIConfig{
		Provider: "ollama",
		Ollama:   config.OllamaConfig{BaseURL: "http://localhost:11434", Model: "llama3"},
	}
	p, err := ai.NewProvider(cfg, 30)
	require.NoError(t, err)
	assert.Equal(t, "ollama", p.Name())
	assert.Equal(t, "llama3", p.Model())
}

func TestNewProvider_VLLM(t *testing.T) {
	cfg := config.AIConfig{
		Provider: "vllm",
		VLLM:     config.VLLMConfig{BaseURL: "http://localhost:8000/v1", Model: "mistral-7b"},
	}
	p, err := ai.NewProvider(cfg, 30)
	require.NoError(t, err)
	assert.Equal(t, "vllm", p.Name())
}

func TestNewProvider_OpenAI(t *testing.T) {
	cfg := config.AIConfig{
		Provider: "openai",
		OpenAI:   config.OpenAIConfig{APIKey: "sk-test", Model: "gpt-4o-mini"},
	}
	p, err := ai.NewProvider(cfg, 30)
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
}

func TestNewProvider_Anthropic(t *testing.T) {
	cfg := config.AIConfig{
		Provider:  "anthropic",
		Anthropic: config.AnthropicConfig{APIKey: "sk-ant-test", Model: "claude-sonnet-4-5-20250929"},
	}
	p, err := ai.NewProvider(cfg, 30)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())
}

func TestNewProvider_Unknown(t *testing.T) {
	cfg := config.AIConfig{Provider: "gemini"}
	_, err := ai.NewProvider(cfg, 30)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown AI provider")
	assert.Contains(t, err.Error(), "gemini")
}

func TestNewProvider_Empty(t *testing.T) {
	_, err := ai.NewProvider(config.AIConfig{Provider: ""}, 30)
	require.Error(t, err)
}

func TestNewBackend_DecoratesMock(t *testing.T) {
	b, err := ai.NewBackend(config.AIConfig{Provider: "mock", MaxRetries: 1}, 30)
	require.NoError(t, err)
	assert.Equal(t, "mock", b.Name())

	d, err := b.Decide(context.Background(), models.DecisionContext{
		Machine:     models.MachineSnapshot{DaysUntilPM: -5},
		DueSoonDays: 30,
	})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionCreateWorkOrder, d.Decision)
}
