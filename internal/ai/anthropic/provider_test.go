package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/kiranshivaraju/pmengine/internal/apperr"
	"github.com/kiranshivaraju/pmengine/internal/config"
	"github.com/kiranshivaraju/pmengine/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messagesServer(t *testing.T, status int, text string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test", r.Header.Get("X-Api-Key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-sonnet-4-5", body["model"])
		assert.NotEmpty(t, body["system"])

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_1",
			"type":        "message",
			"role":        "assistant",
			"model":       "claude-sonnet-4-5",
			"stop_reason": "end_turn",
			"content":     []map[string]any{{"type": "text", "text": text}},
			"usage":       map[string]any{"input_tokens": 10, "output_tokens": 20},
		})
	}))
}

func testProvider(url string) *Provider {
	cfg := config.AnthropicConfig{APIKey: "sk-ant-test", Model: "claude-sonnet-4-5"}
	return newProvider(cfg, 30, option.WithBaseURL(url))
}

func TestProvider_Decide(t *testing.T) {
	ts := messagesServer(t, http.StatusOK,
		`Sure. {"decision":"WAIT","priority":"Medium","confidence":0.83,"explanation":"work order pending approval"}`)
	defer ts.Close()

	p := testProvider(ts.URL)
	d, err := p.Decide(context.Background(), models.DecisionContext{})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionWait, d.Decision)
	assert.Equal(t, models.PriorityMedium, d.Priority)
	assert.InDelta(t, 0.83, d.Confidence, 1e-9)
	assert.Equal(t, "anthropic", p.Name())
	assert.Equal(t, "claude-sonnet-4-5", p.Model())
}

func TestProvider_Decide_Overloaded(t *testing.T) {
	ts := messagesServer(t, 529, "")
	defer ts.Close()

	_, err := testProvider(ts.URL).Decide(context.Background(), models.DecisionContext{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindBackendUnavailable, apperr.KindOf(err))
}

func TestProvider_Decide_EmptyText(t *testing.T) {
	ts := messagesServer(t, http.StatusOK, "")
	defer ts.Close()

	_, err := testProvider(ts.URL).Decide(context.Background(), models.DecisionContext{})
	assert.Equal(t, apperr.KindMalformedResponse, apperr.KindOf(err))
}

func TestProvider_ExtractDate(t *testing.T) {
	ts := messagesServer(t, http.StatusOK,
		`{"selected_date":null,"confidence":0.2,"explanation":"no date offered"}`)
	defer ts.Close()

	x, err := testProvider(ts.URL).ExtractDate(context.Background(), models.SupplierReply{Body: "We will get back to you."})
	require.NoError(t, err)
	assert.Nil(t, x.Date)
	assert.InDelta(t, 0.2, x.Confidence, 1e-9)
	assert.Equal(t, "no date offered", x.Explanation)
}
