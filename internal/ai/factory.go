// Package ai selects and decorates the configured reasoning backend.
package ai

import (
	"fmt"

	"github.com/kiranshivaraju/pmengine/internal/ai/anthropic"
	"github.com/kiranshivaraju/pmengine/internal/ai/mock"
	"github.com/kiranshivaraju/pmengine/internal/ai/ollama"
	"github.com/kiranshivaraju/pmengine/internal/ai/openai"
	"github.com/kiranshivaraju/pmengine/internal/ai/vllm"
	"github.com/kiranshivaraju/pmengine/internal/config"
	"github.com/kiranshivaraju/pmengine/pkg/models"
)

// NewProvider constructs the bare backend named by cfg.Provider.
// Called once at server startup.
func NewProvider(cfg config.AIConfig, dueSoonDays int) (models.ReasoningBackend, error) {
	switch cfg.Provider {
	case "mock":
		return mock.NewMockProvider(), nil
	case "ollama":
		return ollama.NewProvider(cfg.Ollama, dueSoonDays), nil
	case "vllm":
		return vllm.NewProvider(cfg.VLLM, dueSoonDays), nil
	case "openai":
		return openai.NewProvider(cfg.OpenAI, dueSoonDays), nil
	case "anthropic":
		return anthropic.NewProvider(cfg.Anthropic, dueSoonDays), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of mock, ollama, vllm, openai, anthropic", cfg.Provider)
	}
}

// NewBackend returns the configured backend wrapped with retries and
// instrumentation. Metrics and spans cover each call as a whole.
func NewBackend(cfg config.AIConfig, dueSoonDays int) (models.ReasoningBackend, error) {
	p, err := NewProvider(cfg, dueSoonDays)
	if err != nil {
		return nil, err
	}
	return Instrument(WithRetry(p, RetryPolicy{
		Timeout:    cfg.InferenceTimeout,
		MaxRetries: cfg.MaxRetries,
		Delay:      cfg.RetryDelay,
	})), nil
}
