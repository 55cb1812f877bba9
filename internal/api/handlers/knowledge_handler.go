package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/nelson-gpt/backend/internal/retrieval"
)

const maxTopK = 50

type Embedder interface {
	Embed(ctx context.Context, text string) []float32
}

type PassageSearcher interface {
	Search(ctx context.Context, embedding []float32, keyword string, topK int) []retrieval.Passage
}

type KnowledgeHandler struct {
	embedder    Embedder
	retriever   PassageSearcher
	defaultTopK int
}

func NewKnowledgeHandler(embedder Embedder, retriever PassageSearcher, defaultTopK int) *KnowledgeHandler {
	if defaultTopK <= 0 {
		defaultTopK = retrieval.DefaultTopK
	}
	return &KnowledgeHandler{embedder: embedder, retriever: retriever, defaultTopK: defaultTopK}
}

// Search embeds the query and returns the nearest textbook passages. An
// embedding outage yields an empty result, not an error.
func (h *KnowledgeHandler) Search(c *fiber.Ctx) error {
	var req struct {
		Query    string `json:"query"`
		Keywords string `json:"keywords"`
		TopK     int    `json:"top_k"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return badRequest(c, "query is required")
	}

	topK := req.TopK
	if topK <= 0 {
		topK = h.defaultTopK
	}
	topK = min(topK, maxTopK)

	embedding := h.embedder.Embed(c.UserContext(), req.Query)
	results := h.retriever.Search(c.UserContext(), embedding, req.Keywords, topK)

	return c.JSON(fiber.Map{
		"success":  true,
		"query":    req.Query,
		"results":  results,
		"count":    len(results),
		"degraded": len(embedding) == 0,
	})
}
