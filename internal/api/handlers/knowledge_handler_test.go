package handlers

import (
	"context"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nelson-gpt/backend/internal/retrieval"
)

type stubEmbedder struct{ vector []float32 }

func (s stubEmbedder) Embed(context.Context, string) []float32 { return s.vector }

type stubSearcher struct {
	topK    int
	keyword string
}

func (s *stubSearcher) Search(_ context.Context, embedding []float32, keyword string, topK int) []retrieval.Passage {
	s.topK, s.keyword = topK, keyword
	if len(embedding) == 0 {
		return []retrieval.Passage{}
	}
	return []retrieval.Passage{{ChunkID: "c1", Text: "Croup presents with a barking cough.", BookTitle: "Nelson", Similarity: 0.91}}
}

func TestKnowledgeSearch(t *testing.T) {
	searcher := &stubSearcher{}
	app := fiber.New()
	app.Post("/search", NewKnowledgeHandler(stubEmbedder{vector: []float32{1}}, searcher, 5).Search)

	status, body := doJSON(t, app, "POST", "/search", `{"query": "barking cough", "keywords": "respiratory"}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, 5, searcher.topK)
	assert.Equal(t, "respiratory", searcher.keyword)
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, false, body["degraded"])
	result := body["results"].([]any)[0].(map[string]any)
	assert.Equal(t, "c1", result["chunk_id"])

	_, _ = doJSON(t, app, "POST", "/search", `{"query": "croup", "top_k": 500}`)
	assert.Equal(t, maxTopK, searcher.topK)

	status, _ = doJSON(t, app, "POST", "/search", `{"query": "   "}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestKnowledgeSearchWithoutEmbedding(t *testing.T) {
	app := fiber.New()
	app.Post("/search", NewKnowledgeHandler(stubEmbedder{}, &stubSearcher{}, 0).Search)

	status, body := doJSON(t, app, "POST", "/search", `{"query": "croup"}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["degraded"])
	assert.Equal(t, []any{}, body["results"])
}
