// Package vllm serves models hosted on a vLLM server through its
// OpenAI-compatible API.
package vllm

import (
	"github.com/kiranshivaraju/pmengine/internal/ai/openai"
	"github.com/kiranshivaraju/pmengine/internal/config"
)

// NewProvider creates a vLLM backend. vLLM accepts any API key unless it was
// started with --api-key.
func NewProvider(cfg config.VLLMConfig, dueSoonDays int) *openai.Provider {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "EMPTY"
	}
	return openai.NewCompatible("vllm", cfg.BaseURL, apiKey, cfg.Model, dueSoonDays)
}
