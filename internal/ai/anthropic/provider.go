package anthropic

import (
	"context"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/kiranshivaraju/pmengine/internal/ai/prompt"
	"github.com/kiranshivaraju/pmengine/internal/apperr"
	"github.com/kiranshivaraju/pmengine/internal/config"
	"github.com/kiranshivaraju/pmengine/pkg/models"
)

const (
	defaultTemperature = 0.2
	defaultMaxTokens   = 1024
)

// Provider implements models.ReasoningBackend using the Anthropic Messages API.
type Provider struct {
	model       string
	dueSoonDays int
	client      sdk.Client
}

func NewProvider(cfg config.AnthropicConfig, dueSoonDays int) *Provider {
	return newProvider(cfg, dueSoonDays)
}

func newProvider(cfg config.AnthropicConfig, dueSoonDays int, extra ...option.RequestOption) *Provider {
	opts := append([]option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}, extra...)
	return &Provider{
		model:       cfg.Model,
		dueSoonDays: dueSoonDays,
		client:      sdk.NewClient(opts...),
	}
}

func (p *Provider) Name() string  { return "anthropic" }
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
	msg, err := p.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:       sdk.Model(p.model),
		MaxTokens:   defaultMaxTokens,
		Temperature: sdk.Float(defaultTemperature),
		System:      []sdk.TextBlockParam{{Text: system}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(user)),
		},
	})
	if err != nil {
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) {
			return "", apperr.Wrap(apperr.KindBackendUnavailable, err,
				"anthropic returned status %d", apiErr.StatusCode)
		}
		return "", apperr.Wrap(apperr.KindBackendUnavailable, err, "anthropic unreachable")
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", apperr.New(apperr.KindMalformedResponse, "anthropic reply has no text content")
	}
	return text.String(), nil
}

var _ models.ReasoningBackend = (*Provider)(nil)
