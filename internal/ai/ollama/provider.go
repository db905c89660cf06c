package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/pmengine/internal/ai/prompt"
	"github.com/kiranshivaraju/pmengine/internal/apperr"
	"github.com/kiranshivaraju/pmengine/internal/config"
	"github.com/kiranshivaraju/pmengine/pkg/models"
)

const defaultTemperature = 0.2

// Provider implements models.ReasoningBackend using Ollama's chat API.
type Provider struct {
	baseURL     string
	model       string
	dueSoonDays int
	client      *http.Client
}

// NewProvider creates an Ollama backend. Per-call deadlines come from the
// caller's context.
func NewProvider(cfg config.OllamaConfig, dueSoonDays int) *Provider {
	return &Provider{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		dueSoonDays: dueSoonDays,
		client:      &http.Client{},
	}
}

func (p *Provider) Name() string  { return "ollama" }
func (p *Provider) Model() string { return p.model }

func (p *Provider) Decide(ctx context.Context, dc models.DecisionContext) (models.CanonicalDecision, error) {
	raw, err := p.chat(ctx, prompt.Instructions(p.dueSoonDays), prompt.RenderUser(dc))
	if err != nil {
		return models.CanonicalDecision{}, err
	}
	return prompt.ParseReply(raw)
}

func (p *Provider) ExtractDate(ctx context.Context, reply models.SupplierReply) (models.DateExtraction, error) {
	raw, err := p.chat(ctx, prompt.DateInstructions(), prompt.RenderReply(reply))
	if err != nil {
		return models.DateExtraction{}, err
	}
	return prompt.ParseDateReply(raw)
}

func (p *Provider) chat(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Stream:  false,
		Format:  "json",
		Options: chatOptions{Temperature: defaultTemperature},
	})
	if err != nil {
		return "", fmt.Errorf("encoding ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", apperr.New(apperr.KindBackendUnavailable,
			"ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", apperr.Wrap(apperr.KindMalformedResponse, err, "decoding ollama response")
	}
	return chatResp.Message.Content, nil
}

// Ready checks that the Ollama server answers.
func (p *Provider) Ready(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apperr.New(apperr.KindBackendUnavailable, "ollama not ready (status %d)", resp.StatusCode)
	}
	return nil
}

// classifyError maps transport-level errors to BACKEND_UNAVAILABLE with a
// message that tells timeouts apart from unreachable hosts.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.Wrap(apperr.KindBackendUnavailable, err, "ollama request timed out")
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperr.Wrap(apperr.KindBackendUnavailable, err, "ollama request timed out")
	}

	return apperr.Wrap(apperr.KindBackendUnavailable, err, "ollama unreachable")
}

// --- Ollama wire types ---

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
	Options  chatOptions   `json:"options"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
}

type chatResponse struct {
	Model   string      `json:"model"`
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
}

var _ models.ReasoningBackend = (*Provider)(nil)
