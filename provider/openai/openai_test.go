package openai_provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/samz905/wrrk-pilot/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p, err := New(config.LLMProvider{
		Type:    "openai",
		APIKey:  "test-key",
		BaseURL: srv.URL + "/v1",
		Models: map[string]config.LLMModel{
			"fast": {Name: "fast", APIName: "gpt-4o-mini", MaxTokens: 500, Temperature: 0.2, CostPer1K: 0.5, CostPer1KOutput: 1.5},
		},
	})
	require.NoError(t, err)
	return p
}

func TestGenerateWithTokens(t *testing.T) {
	var got map[string]interface{}
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"ok\":true}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 120, "completion_tokens": 30, "total_tokens": 150}
		}`))
	})

	out, in, outTok, err := p.GenerateWithTokens(context.Background(), "hello", "fast", map[string]interface{}{"max_tokens": 64})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
	assert.EqualValues(t, 120, in)
	assert.EqualValues(t, 30, outTok)
	assert.Equal(t, "gpt-4o-mini", got["model"])
	assert.EqualValues(t, 64, got["max_tokens"])
}

func TestGenerateWithTokensUnknownModel(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	_, _, _, err := p.GenerateWithTokens(context.Background(), "hello", "missing", nil)
	require.Error(t, err)
}

func TestGenerateWithTokensServerError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad","type":"invalid_request_error"}}`))
	})
	_, _, _, err := p.GenerateWithTokens(context.Background(), "hello", "fast", nil)
	require.Error(t, err)
}

func TestCalculateCost(t *testing.T) {
	p := newTestProvider(t, func(http.ResponseWriter, *http.Request) {})
	assert.InDelta(t, 0.5+3.0, p.CalculateCost(1000, 2000, "fast"), 1e-9)
	assert.Zero(t, p.CalculateCost(1000, 1000, "missing"))
}

func TestNewRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := New(config.LLMProvider{Type: "openai"})
	require.Error(t, err)
}
