package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/nelson-gpt/backend/internal/metrics"
	"github.com/nelson-gpt/backend/pkg/circuitbreaker"
	"github.com/nelson-gpt/backend/pkg/config"
	"github.com/nelson-gpt/backend/pkg/logger"
	"github.com/nelson-gpt/backend/pkg/retry"
)

const embeddingBatchSize = 64

type Embedder struct {
	client      *openai.Client
	model       string
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewEmbedder(cfg config.EmbeddingConfig) *Embedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return newEmbedder(openai.NewClientWithConfig(clientCfg), cfg.Model, cfg.Timeout(), cfg.MaxAttempts)
}

func newEmbedder(client *openai.Client, model string, timeout time.Duration, maxAttempts int) *Embedder {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	logger.Info("Embedding gateway initialized", zap.String("model", model))

	return &Embedder{
		client:  client,
		model:   model,
		timeout: timeout,
		cb: circuitbreaker.NewCircuitBreaker("embedding", circuitbreaker.Config{
			MaxRequests:      1,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			OnStateChange:    metrics.ObserveBreakerState,
			Logger:           logger.GetLogger(),
		}),
		retryConfig: retry.Config{
			Name:           "embedding",
			MaxAttempts:    maxAttempts,
			InitialDelay:   250 * time.Millisecond,
			MaxDelay:       2 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.2,
			ShouldRetry:    isTransient,
			Logger:         logger.GetLogger(),
		},
	}
}

func (e *Embedder) Model() string { return e.model }

// Embed returns a unit-length vector for text, or nil when the backend is
// unavailable. Callers treat nil as "no retrieval".
func (e *Embedder) Embed(ctx context.Context, text string) []float32 {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	vectors, err := e.embed(ctx, []string{text})
	if err != nil {
		metrics.UpstreamFailures.WithLabelValues("embedding", e.model).Inc()
		logger.Warn("Embedding failed, continuing without retrieval", zap.Error(err))
		return nil
	}
	return vectors[0]
}

// EmbedBatch is used by offline ingestion, where failures must surface.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += embeddingBatchSize {
		end := i + embeddingBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		vectors, err := e.embed(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("embedding batch %d-%d: %w", i, end, err)
		}
		out = append(out, vectors...)
	}

	logger.Debug("Batch embeddings generated", zap.Int("count", len(out)))
	return out, nil
}

func (e *Embedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	var vectors [][]float32

	err := e.cb.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, e.retryConfig, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, e.timeout)
			defer cancel()

			resp, err := e.client.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
				Input: texts,
				Model: openai.EmbeddingModel(e.model),
			})
			if err != nil {
				return fmt.Errorf("create embeddings: %w", err)
			}
			if len(resp.Data) != len(texts) {
				return retry.Permanent(fmt.Errorf("embedding count mismatch: got %d, want %d", len(resp.Data), len(texts)))
			}

			vectors = make([][]float32, len(resp.Data))
			for _, d := range resp.Data {
				if d.Index < 0 || d.Index >= len(vectors) {
					return retry.Permanent(fmt.Errorf("embedding index %d out of range", d.Index))
				}
				vectors[d.Index] = normalize(d.Embedding)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.UpstreamDuration.WithLabelValues("embedding", e.model).Observe(time.Since(start).Seconds())
	return vectors, nil
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// isTransient retries rate limits, server errors and transport failures.
func isTransient(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	return !errors.Is(err, context.Canceled)
}

func retryableStatus(code int) bool {
	return code == 0 || code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
