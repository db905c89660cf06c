package openai

import (
	"context"
	"errors"

	"github.com/kiranshivaraju/pmengine/internal/ai/prompt"
	"github.com/kiranshivaraju/pmengine/internal/apperr"
	"github.com/kiranshivaraju/pmengine/internal/config"
	"github.com/kiranshivaraju/pmengine/pkg/models"
	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	defaultTemperature = 0.2
	defaultMaxTokens   = 500
)

// Provider implements models.ReasoningBackend over the Chat Completions API.
// It also serves any OpenAI-compatible server through NewCompatible.
type Provider struct {
	name        string
	model       string
	dueSoonDays int
	client      sdk.Client
}

// NewProvider creates a backend for api.openai.com.
func NewProvider(cfg config.OpenAIConfig, dueSoonDays int) *Provider {
	return NewCompatible("openai", "", cfg.APIKey, cfg.Model, dueSoonDays)
}

// NewCompatible creates a backend for an OpenAI-compatible endpoint.
// An empty baseURL uses the SDK default.
func NewCompatible(name, baseURL, apiKey, model string, dueSoonDays int) *Provider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Provider{
		name:        name,
		model:       model,
		dueSoonDays: dueSoonDays,
		client:      sdk.NewClient(opts...),
	}
}

func (p *Provider) Name() string  { return p.name }
func (p *Provider) Model() string { return p.model }

func (p *Provider) Decide(ctx context.Context, dc models.DecisionContext) (models.CanonicalDecision, error) {
	raw, err := p.complete(ctx, prompt.Instructions(p.dueSoonDays), prompt.RenderUser(dc))
	if err != nil {
		return models.CanonicalDecision{}, err
	}
	return prompt.ParseReply(raw)
}

func (p *Provider) ExtractDate(ctx context.Context, reply models.SupplierReply) (models.DateExtraction, error) {
	raw, err := p.complete(ctx, prompt.DateInstructions(), prompt.RenderReply(reply))
	if err != nil {
		return models.DateExtraction{}, err
	}
	return prompt.ParseDateReply(raw)
}

func (p *Provider) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, sdk.ChatCompletionNewParams{
		Model: sdk.ChatModel(p.model),
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.SystemMessage(system),
			sdk.UserMessage(user),
		},
		Temperature: sdk.Float(defaultTemperature),
		MaxTokens:   sdk.Int(defaultMaxTokens),
	})
	if err != nil {
		return "", p.classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return "", apperr.New(apperr.KindMalformedResponse, "%s returned no choices", p.name)
	}
	return resp.Choices[0].Message.Content, nil
}

// classifyError tags every API or transport failure as BACKEND_UNAVAILABLE,
// keeping the HTTP status in the message when there is one.
func (p *Provider) classifyError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apperr.Wrap(apperr.KindBackendUnavailable, err, "%s returned status %d", p.name, apiErr.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.Wrap(apperr.KindBackendUnavailable, err, "%s request timed out", p.name)
	}
	return apperr.Wrap(apperr.KindBackendUnavailable, err, "%s unreachable", p.name)
}

var _ models.ReasoningBackend = (*Provider)(nil)
