package redis

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nelson-gpt/backend/internal/metrics"
	"github.com/nelson-gpt/backend/pkg/logger"
	"github.com/nelson-gpt/backend/pkg/utils"
)

// Embedder is the subset of llm.Embedder the cache wraps.
type Embedder interface {
	Embed(ctx context.Context, text string) []float32
	Model() string
}

type embeddingStore interface {
	GetEmbedding(ctx context.Context, key string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, key string, embedding []float32, ttl time.Duration) error
}

// CachedEmbedder memoizes embeddings per (model, text). Cache failures are
// logged and bypassed; an empty vector is never cached.
type CachedEmbedder struct {
	next  Embedder
	store embeddingStore
	ttl   time.Duration
}

func NewCachedEmbedder(next Embedder, store *Client, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{next: next, store: store, ttl: ttl}
}

func (c *CachedEmbedder) Model() string { return c.next.Model() }

func (c *CachedEmbedder) Embed(ctx context.Context, text string) []float32 {
	key := utils.HashString(c.next.Model(), text)

	cached, ok, err := c.store.GetEmbedding(ctx, key)
	switch {
	case err != nil:
		logger.Warn("Embedding cache read failed", zap.Error(err))
	case ok && len(cached) > 0:
		metrics.CacheHits.WithLabelValues("embedding").Inc()
		return cached
	default:
		metrics.CacheMisses.WithLabelValues("embedding").Inc()
	}

	vector := c.next.Embed(ctx, text)
	if len(vector) == 0 {
		return vector
	}

	if err := c.store.SetEmbedding(ctx, key, vector, c.ttl); err != nil {
		logger.Warn("Embedding cache write failed", zap.Error(err))
	}
	return vector
}
