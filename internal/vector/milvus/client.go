package milvus

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/nelson-gpt/backend/pkg/config"
	"github.com/nelson-gpt/backend/pkg/logger"
)

// GeneralSpecialty chunks match every specialty filter.
const GeneralSpecialty = "general_pediatrics"

const defaultTimeout = 10 * time.Second

var outputFields = []string{
	"chunk_id", "chunk_text", "book_title", "chapter_title", "section_title", "page_number", "specialty",
}

type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
	nlist          int
	nprobe         int
	timeout        time.Duration
}

type Chunk struct {
	ID              string
	Embedding       []float32
	Text            string
	BookTitle       string
	ChapterTitle    string
	SectionTitle    string
	PageNumber      int
	Specialty       string
	ConfidenceScore float64
}

type SearchResult struct {
	ChunkID      string
	Text         string
	BookTitle    string
	ChapterTitle string
	SectionTitle string
	PageNumber   int
	Specialty    string
	Score        float32
}

// NewClient dials Milvus. Every later call is bounded by cfg.Timeout().
func NewClient(ctx context.Context, cfg config.MilvusConfig) (*Client, error) {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c, err := client.NewClient(dialCtx, client.Config{
		Address: cfg.Endpoint,
		APIKey:  cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("collection", cfg.CollectionName),
	)

	return &Client{
		client:         c,
		collectionName: cfg.CollectionName,
		vectorDim:      cfg.VectorDim,
		nlist:          cfg.Nlist,
		nprobe:         cfg.Nprobe,
		timeout:        timeout,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if _, err := m.client.HasCollection(ctx, m.collectionName); err != nil {
		return fmt.Errorf("milvus unreachable: %w", err)
	}
	return nil
}

func varchar(name string, maxLen int) *entity.Field {
	return &entity.Field{
		Name:       name,
		DataType:   entity.FieldTypeVarChar,
		TypeParams: map[string]string{"max_length": strconv.Itoa(maxLen)},
	}
}

// EnsureCollection creates, indexes and loads the chunk collection if needed.
func (m *Client) EnsureCollection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if !has {
		primary := varchar("chunk_id", 64)
		primary.PrimaryKey = true

		schema := &entity.Schema{
			CollectionName: m.collectionName,
			Description:    "Pediatric textbook passages",
			Fields: []*entity.Field{
				primary,
				{
					Name:       "embedding",
					DataType:   entity.FieldTypeFloatVector,
					TypeParams: map[string]string{"dim": strconv.Itoa(m.vectorDim)},
				},
				varchar("chunk_text", 8192),
				varchar("book_title", 256),
				varchar("chapter_title", 512),
				varchar("section_title", 512),
				{Name: "page_number", DataType: entity.FieldTypeInt64},
				varchar("specialty", 64),
				{Name: "confidence_score", DataType: entity.FieldTypeDouble},
			},
		}

		if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		idx, err := entity.NewIndexIvfFlat(entity.IP, m.nlist)
		if err != nil {
			return fmt.Errorf("failed to build index params: %w", err)
		}
		if err := m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
		logger.Info("Collection created", zap.String("collection", m.collectionName))
	}

	if err := m.client.LoadCollection(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return nil
}

func (m *Client) Insert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	ids := make([]string, len(chunks))
	embeddings := make([][]float32, len(chunks))
	texts := make([]string, len(chunks))
	books := make([]string, len(chunks))
	chapters := make([]string, len(chunks))
	sections := make([]string, len(chunks))
	pages := make([]int64, len(chunks))
	specialties := make([]string, len(chunks))
	confidences := make([]float64, len(chunks))

	for i, chunk := range chunks {
		if len(chunk.Embedding) != m.vectorDim {
			return fmt.Errorf("chunk %s: embedding has %d dimensions, collection expects %d",
				chunk.ID, len(chunk.Embedding), m.vectorDim)
		}
		ids[i] = chunk.ID
		embeddings[i] = chunk.Embedding
		texts[i] = chunk.Text
		books[i] = chunk.BookTitle
		chapters[i] = chunk.ChapterTitle
		sections[i] = chunk.SectionTitle
		pages[i] = int64(chunk.PageNumber)
		specialties[i] = chunk.Specialty
		confidences[i] = chunk.ConfidenceScore
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar("chunk_id", ids),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
		entity.NewColumnVarChar("chunk_text", texts),
		entity.NewColumnVarChar("book_title", books),
		entity.NewColumnVarChar("chapter_title", chapters),
		entity.NewColumnVarChar("section_title", sections),
		entity.NewColumnInt64("page_number", pages),
		entity.NewColumnVarChar("specialty", specialties),
		entity.NewColumnDouble("confidence_score", confidences),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	if err := m.client.Flush(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Chunks inserted into vector DB", zap.Int("count", len(chunks)))
	return nil
}

// Search returns up to topK chunks ordered by descending inner product.
func (m *Client) Search(ctx context.Context, embedding []float32, topK int, specialty string) ([]SearchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	expr := SpecialtyFilter(specialty)

	sp, err := entity.NewIndexIvfFlatSearchParam(m.nprobe)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		expr,
		outputFields,
		[]entity.Vector{entity.FloatVector(embedding)},
		"embedding",
		entity.IP,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]SearchResult, 0, topK)
	for _, sr := range searchResult {
		for i := 0; i < sr.ResultCount; i++ {
			r, err := readResult(sr.Fields, i)
			if err != nil {
				return nil, err
			}
			r.Score = sr.Scores[i]
			results = append(results, r)
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	logger.Debug("Vector search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(results)),
		zap.String("filter", expr),
	)
	return results, nil
}

func readResult(fields client.ResultSet, i int) (SearchResult, error) {
	str := func(name string) (string, error) {
		col := fields.GetColumn(name)
		if col == nil {
			return "", fmt.Errorf("search result missing field %s", name)
		}
		return col.GetAsString(i)
	}

	var (
		r   SearchResult
		err error
	)
	if r.ChunkID, err = str("chunk_id"); err != nil {
		return r, err
	}
	if r.Text, err = str("chunk_text"); err != nil {
		return r, err
	}
	if r.BookTitle, err = str("book_title"); err != nil {
		return r, err
	}
	if r.ChapterTitle, err = str("chapter_title"); err != nil {
		return r, err
	}
	if r.SectionTitle, err = str("section_title"); err != nil {
		return r, err
	}
	if r.Specialty, err = str("specialty"); err != nil {
		return r, err
	}

	if col := fields.GetColumn("page_number"); col != nil {
		page, err := col.GetAsInt64(i)
		if err != nil {
			return r, err
		}
		r.PageNumber = int(page)
	}
	return r, nil
}

// SpecialtyFilter builds the boolean expression restricting a search to one
// specialty plus general chunks. Empty and general specialties match all.
func SpecialtyFilter(specialty string) string {
	specialty = strings.TrimSpace(specialty)
	if specialty == "" || specialty == GeneralSpecialty {
		return ""
	}
	return fmt.Sprintf("specialty in [%s, %s]", strconv.Quote(specialty), strconv.Quote(GeneralSpecialty))
}
