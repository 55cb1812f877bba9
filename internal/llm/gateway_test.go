package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nelson-gpt/backend/pkg/config"
)

type chatBackend struct {
	server   *httptest.Server
	hits     atomic.Int32
	lastBody atomic.Value
}

func newChatBackend(t *testing.T, status int, content string, delay time.Duration) *chatBackend {
	t.Helper()
	b := &chatBackend{}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.hits.Add(1)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.lastBody.Store(body)

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"backend unavailable","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"model":  "test-model",
			"choices": []any{map[string]any{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	t.Cleanup(b.server.Close)
	return b
}

func (b *chatBackend) provider(name string) *Provider {
	return NewProvider(config.ProviderConfig{
		Name:    name,
		BaseURL: b.server.URL + "/v1",
		APIKey:  "test-key",
		Model:   name + "-model",
	})
}

func TestGatewayUsesPrimaryWhenHealthy(t *testing.T) {
	primary := newChatBackend(t, http.StatusOK, "primary answer", 0)
	secondary := newChatBackend(t, http.StatusOK, "secondary answer", 0)
	g := NewGateway(GatewayOptions{Temperature: 0.1}, primary.provider("mistral"), secondary.provider("openai"))

	got := g.Complete(context.Background(), Request{UserPrompt: "hello"})

	assert.Equal(t, Completion{Text: "primary answer", Provider: "mistral"}, got)
	assert.Equal(t, int32(0), secondary.hits.Load())

	body := primary.lastBody.Load().(map[string]any)
	assert.Equal(t, "mistral-model", body["model"])
	messages := body["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, SystemPrompt, messages[0].(map[string]any)["content"])
	assert.Equal(t, "hello", messages[1].(map[string]any)["content"])
	assert.EqualValues(t, 2000, body["max_tokens"])
}

func TestGatewayFallsThroughOnServerError(t *testing.T) {
	primary := newChatBackend(t, http.StatusInternalServerError, "", 0)
	secondary := newChatBackend(t, http.StatusOK, "secondary answer", 0)
	g := NewGateway(GatewayOptions{}, primary.provider("mistral"), secondary.provider("openai"))

	got := g.Complete(context.Background(), Request{UserPrompt: "hello"})

	assert.False(t, got.Fallback)
	assert.Equal(t, "secondary answer", got.Text)
	assert.Equal(t, "openai", got.Provider)
	assert.Equal(t, int32(1), primary.hits.Load(), "a failed backend is not retried within a call")
}

func TestGatewayFallsThroughOnTimeout(t *testing.T) {
	primary := newChatBackend(t, http.StatusOK, "too slow", time.Second)
	secondary := newChatBackend(t, http.StatusOK, "fast answer", 0)
	g := NewGateway(GatewayOptions{Timeout: 50 * time.Millisecond}, primary.provider("mistral"), secondary.provider("openai"))

	got := g.Complete(context.Background(), Request{UserPrompt: "hello"})

	assert.Equal(t, "fast answer", got.Text)
}

func TestGatewayReturnsFallbackWhenAllFail(t *testing.T) {
	primary := newChatBackend(t, http.StatusBadGateway, "", 0)
	secondary := newChatBackend(t, http.StatusServiceUnavailable, "", 0)
	g := NewGateway(GatewayOptions{}, primary.provider("mistral"), secondary.provider("openai"))

	got := g.Complete(context.Background(), Request{UserPrompt: "hello"})

	assert.True(t, got.Fallback)
	assert.Equal(t, FallbackAnswer, got.Text)
	assert.Empty(t, got.Provider)
}

func TestGatewayTreatsEmptyContentAsFailure(t *testing.T) {
	primary := newChatBackend(t, http.StatusOK, "   ", 0)
	secondary := newChatBackend(t, http.StatusOK, "real answer", 0)
	g := NewGateway(GatewayOptions{}, primary.provider("mistral"), secondary.provider("openai"))

	assert.Equal(t, "real answer", g.Complete(context.Background(), Request{UserPrompt: "x"}).Text)
}

func TestGatewaySkipsOpenBreaker(t *testing.T) {
	primary := newChatBackend(t, http.StatusInternalServerError, "", 0)
	secondary := newChatBackend(t, http.StatusOK, "ok", 0)
	g := NewGateway(GatewayOptions{}, primary.provider("mistral"), secondary.provider("openai"))

	for i := 0; i < 5; i++ {
		g.Complete(context.Background(), Request{UserPrompt: "x"})
	}
	require.Equal(t, int32(5), primary.hits.Load())

	got := g.Complete(context.Background(), Request{UserPrompt: "x"})
	assert.Equal(t, "ok", got.Text)
	assert.Equal(t, int32(5), primary.hits.Load(), "open breaker short-circuits the primary")
}

func TestGatewayWithoutProvidersFallsBack(t *testing.T) {
	g := NewGateway(GatewayOptions{})
	got := g.Complete(context.Background(), Request{UserPrompt: "x"})
	assert.True(t, got.Fallback)
}
