package ingestion

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/nelson-gpt/backend/internal/classifier"
	"github.com/nelson-gpt/backend/internal/metrics"
	"github.com/nelson-gpt/backend/internal/storage/models"
	"github.com/nelson-gpt/backend/internal/vector/milvus"
	"github.com/nelson-gpt/backend/pkg/logger"
	"github.com/nelson-gpt/backend/pkg/utils"
)

var (
	ErrEmptyPage  = errors.New("no text extracted from page")
	ErrNoVectors  = errors.New("vector store unavailable")
	whitespaceRun = regexp.MustCompile(`\s+`)
)

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type VectorStore interface {
	Insert(ctx context.Context, chunks []milvus.Chunk) error
}

type ChunkStore interface {
	InsertMedicalChunk(ctx context.Context, m *models.MedicalChunk) error
}

type Options struct {
	ChunkSize          int
	ChunkOverlap       int
	SpecialtyThreshold float64
}

type Processor struct {
	embedder  Embedder
	vectors   VectorStore
	store     ChunkStore
	chunkSize int
	overlap   int
	threshold float64
}

// Page is one textbook page. Either HTML or Text must be set; HTML wins.
type Page struct {
	BookTitle    string `json:"book_title"`
	ChapterTitle string `json:"chapter_title"`
	SectionTitle string `json:"section_title"`
	PageNumber   int    `json:"page_number"`
	SourceURL    string `json:"source_url"`
	HTML         string `json:"html_content"`
	Text         string `json:"text"`
}

type Report struct {
	Chunks      int            `json:"chunks"`
	Specialties map[string]int `json:"specialties"`
}

func NewProcessor(embedder Embedder, vectors VectorStore, store ChunkStore, opts Options) *Processor {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 200
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = 0
	}
	return &Processor{
		embedder:  embedder,
		vectors:   vectors,
		store:     store,
		chunkSize: opts.ChunkSize,
		overlap:   opts.ChunkOverlap,
		threshold: opts.SpecialtyThreshold,
	}
}

// ProcessPage cleans, chunks, tags, embeds and stores one page. Vectors are
// written before the metadata rows.
func (p *Processor) ProcessPage(ctx context.Context, page Page) (*Report, error) {
	if p.vectors == nil {
		return nil, ErrNoVectors
	}

	text := strings.TrimSpace(page.Text)
	if page.HTML != "" {
		var title string
		text, title = CleanHTML(page.HTML)
		if page.ChapterTitle == "" {
			page.ChapterTitle = title
		}
	}
	if text == "" {
		return nil, ErrEmptyPage
	}

	chunks, err := p.Chunk(text)
	if err != nil {
		return nil, fmt.Errorf("failed to chunk page: %w", err)
	}

	embeddings, err := p.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embeddings), len(chunks))
	}

	report := &Report{Specialties: make(map[string]int)}
	vectors := make([]milvus.Chunk, 0, len(chunks))
	rows := make([]*models.MedicalChunk, 0, len(chunks))
	now := time.Now()

	for i, chunk := range chunks {
		specialty, confidence := classifier.ScoreSpecialty(utils.NormalizeText(chunk), p.threshold)
		id := utils.HashString(page.BookTitle, page.ChapterTitle, fmt.Sprint(page.PageNumber), fmt.Sprint(i), chunk)[:32]

		vectors = append(vectors, milvus.Chunk{
			ID:              id,
			Embedding:       embeddings[i],
			Text:            chunk,
			BookTitle:       page.BookTitle,
			ChapterTitle:    page.ChapterTitle,
			SectionTitle:    page.SectionTitle,
			PageNumber:      page.PageNumber,
			Specialty:       specialty,
			ConfidenceScore: confidence,
		})
		rows = append(rows, &models.MedicalChunk{
			ID:              id,
			BookTitle:       page.BookTitle,
			ChapterTitle:    page.ChapterTitle,
			SectionTitle:    page.SectionTitle,
			PageNumber:      page.PageNumber,
			ChunkText:       chunk,
			Specialty:       specialty,
			SourceURL:       page.SourceURL,
			ConfidenceScore: confidence,
			CreatedAt:       now,
		})
		report.Specialties[specialty]++
	}

	if err := p.vectors.Insert(ctx, vectors); err != nil {
		return nil, fmt.Errorf("failed to insert vectors: %w", err)
	}

	for _, row := range rows {
		if err := p.store.InsertMedicalChunk(ctx, row); err != nil {
			return nil, fmt.Errorf("failed to insert chunk metadata: %w", err)
		}
		metrics.ChunksIngested.WithLabelValues(row.Specialty).Inc()
	}
	report.Chunks = len(rows)

	logger.Info("Page ingested",
		zap.String("book", page.BookTitle),
		zap.String("chapter", page.ChapterTitle),
		zap.Int("page", page.PageNumber),
		zap.Int("chunks", report.Chunks),
	)
	return report, nil
}

// CleanHTML returns the visible body text with whitespace collapsed, plus
// the page title (or first h1).
func CleanHTML(html string) (string, string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", ""
	}

	doc.Find("script, style, nav, footer, header, aside").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	text := whitespaceRun.ReplaceAllString(doc.Find("body").Text(), " ")
	return strings.TrimSpace(text), title
}

// Chunk groups whole sentences into chunks of at most chunkSize words. A
// single sentence longer than that becomes its own chunk. Trailing sentences
// worth up to overlap words are repeated at the start of the next chunk.
func (p *Processor) Chunk(text string) ([]string, error) {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return nil, err
	}

	var (
		chunks  []string
		current []string
		words   int
		fresh   bool
	)
	for _, sent := range doc.Sentences() {
		s := strings.TrimSpace(sent.Text)
		if s == "" {
			continue
		}
		n := len(strings.Fields(s))

		if fresh && words+n > p.chunkSize {
			chunks = append(chunks, strings.Join(current, " "))
			current, words = p.tail(current)
			fresh = false
			if words+n > p.chunkSize {
				current, words = nil, 0
			}
		}
		current = append(current, s)
		words += n
		fresh = true
	}
	if fresh {
		chunks = append(chunks, strings.Join(current, " "))
	}

	return chunks, nil
}

func (p *Processor) tail(sentences []string) ([]string, int) {
	var (
		carried []string
		words   int
	)
	for i := len(sentences) - 1; i >= 0 && p.overlap > 0; i-- {
		n := len(strings.Fields(sentences[i]))
		if words+n > p.overlap {
			break
		}
		carried = append([]string{sentences[i]}, carried...)
		words += n
	}
	return carried, words
}
