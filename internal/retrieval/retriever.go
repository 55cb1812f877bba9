package retrieval

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nelson-gpt/backend/internal/metrics"
	"github.com/nelson-gpt/backend/internal/vector/milvus"
	"github.com/nelson-gpt/backend/pkg/logger"
)

// DefaultTopK is used by general knowledge search.
const DefaultTopK = 5

const defaultTimeout = 10 * time.Second

type Searcher interface {
	Search(ctx context.Context, embedding []float32, topK int, specialty string) ([]milvus.SearchResult, error)
}

type Passage struct {
	ChunkID      string  `json:"chunk_id"`
	Text         string  `json:"text"`
	BookTitle    string  `json:"book_title"`
	ChapterTitle string  `json:"chapter_title"`
	SectionTitle string  `json:"section_title,omitempty"`
	PageNumber   int     `json:"page_number"`
	Specialty    string  `json:"specialty"`
	Similarity   float64 `json:"similarity"`
}

type Retriever struct {
	store   Searcher
	timeout time.Duration
}

// NewRetriever bounds every store search by timeout.
func NewRetriever(store Searcher, timeout time.Duration) *Retriever {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Retriever{store: store, timeout: timeout}
}

// Search never fails: an empty embedding, an unreachable or slow store and
// no matches all yield an empty list.
func (r *Retriever) Search(ctx context.Context, embedding []float32, keyword string, topK int) []Passage {
	if len(embedding) == 0 || r.store == nil {
		return []Passage{}
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	results, err := r.store.Search(ctx, embedding, topK, keyword)
	if err != nil {
		metrics.UpstreamFailures.WithLabelValues("retrieval", "milvus").Inc()
		logger.Warn("Knowledge search failed, continuing without passages",
			zap.String("keyword", keyword),
			zap.Error(err),
		)
		return []Passage{}
	}
	metrics.UpstreamDuration.WithLabelValues("retrieval", "milvus").Observe(time.Since(start).Seconds())
	metrics.RetrievalResults.Observe(float64(len(results)))

	passages := make([]Passage, 0, len(results))
	for _, res := range results {
		if len(passages) == topK {
			break
		}
		passages = append(passages, Passage{
			ChunkID:      res.ChunkID,
			Text:         res.Text,
			BookTitle:    res.BookTitle,
			ChapterTitle: res.ChapterTitle,
			SectionTitle: res.SectionTitle,
			PageNumber:   res.PageNumber,
			Specialty:    res.Specialty,
			Similarity:   float64(res.Score),
		})
	}
	return passages
}
