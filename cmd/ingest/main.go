package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nelson-gpt/backend/internal/ingestion"
	"github.com/nelson-gpt/backend/internal/llm"
	"github.com/nelson-gpt/backend/internal/metrics"
	"github.com/nelson-gpt/backend/internal/storage/sqlite"
	"github.com/nelson-gpt/backend/internal/vector/milvus"
	"github.com/nelson-gpt/backend/pkg/config"
	"github.com/nelson-gpt/backend/pkg/logger"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nelson-ingest",
		Short: "Load textbook pages into the Nelson-GPT knowledge base",
	}

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newPagesCmd())
	return cmd
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the SQLite schema and the Milvus collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			store, err := sqlite.NewClient(cfg.SQLite.Path, cfg.SQLite.BusyTimeoutMs, cfg.SQLite.MaxOpenConns)
			if err != nil {
				return fmt.Errorf("open sqlite: %w", err)
			}
			defer store.Close()
			if err := store.InitSchema(ctx); err != nil {
				return err
			}

			vectors, err := milvus.NewClient(ctx, cfg.Milvus)
			if err != nil {
				return fmt.Errorf("connect to milvus at %s: %w", cfg.Milvus.Endpoint, err)
			}
			defer vectors.Close()
			if err := vectors.EnsureCollection(ctx); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Knowledge base ready (collection %s)\n", cfg.Milvus.CollectionName)
			return nil
		},
	}
}

type pageFlags struct {
	book      string
	chapter   string
	section   string
	startPage int
	sourceURL string
}

func newPagesCmd() *cobra.Command {
	var flags pageFlags

	cmd := &cobra.Command{
		Use:   "pages FILE...",
		Short: "Ingest HTML or plain-text pages",
		Long: "Each file is one page. Files ending in .html or .htm are cleaned before chunking. " +
			"Page numbers start at --start-page and increase by one per file.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPages(cmd, flags, args)
		},
	}

	cmd.Flags().StringVar(&flags.book, "book", "", "book title (defaults to ingestion.bookTitle)")
	cmd.Flags().StringVar(&flags.chapter, "chapter", "", "chapter title; HTML pages fall back to their <title>")
	cmd.Flags().StringVar(&flags.section, "section", "", "section title")
	cmd.Flags().IntVar(&flags.startPage, "start-page", 1, "page number of the first file")
	cmd.Flags().StringVar(&flags.sourceURL, "source-url", "", "source URL recorded with every chunk")
	return cmd
}

func runPages(cmd *cobra.Command, flags pageFlags, files []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	if flags.book == "" {
		flags.book = cfg.Ingestion.BookTitle
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	store, err := sqlite.NewClient(cfg.SQLite.Path, cfg.SQLite.BusyTimeoutMs, cfg.SQLite.MaxOpenConns)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer store.Close()
	if err := store.InitSchema(ctx); err != nil {
		return err
	}

	vectors, err := milvus.NewClient(ctx, cfg.Milvus)
	if err != nil {
		return fmt.Errorf("connect to milvus at %s: %w", cfg.Milvus.Endpoint, err)
	}
	defer vectors.Close()
	if err := vectors.EnsureCollection(ctx); err != nil {
		return err
	}

	processor := ingestion.NewProcessor(llm.NewEmbedder(cfg.Embedding), vectors, store, ingestion.Options{
		ChunkSize:          cfg.Ingestion.ChunkSize,
		ChunkOverlap:       cfg.Ingestion.ChunkOverlap,
		SpecialtyThreshold: cfg.Classifier.SpecialtyThreshold,
	})

	var total, failed int
	for i, path := range files {
		page, err := readPage(path, flags, flags.startPage+i)
		if err != nil {
			return err
		}

		report, err := processor.ProcessPage(ctx, page)
		if err != nil {
			failed++
			logger.Error("Failed to ingest page", zap.String("file", path), zap.Error(err))
			fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
			continue
		}
		total += report.Chunks
		fmt.Fprintf(out, "ok   %s: %d chunks %v\n", path, report.Chunks, report.Specialties)
	}

	fmt.Fprintf(out, "Ingested %d chunks from %d of %d files\n", total, len(files)-failed, len(files))
	if failed > 0 {
		return fmt.Errorf("%d files failed", failed)
	}
	return nil
}

// readPage loads one file as a page. HTML is detected by extension.
func readPage(path string, flags pageFlags, number int) (ingestion.Page, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ingestion.Page{}, fmt.Errorf("read %s: %w", path, err)
	}

	page := ingestion.Page{
		BookTitle:    flags.book,
		ChapterTitle: flags.chapter,
		SectionTitle: flags.section,
		PageNumber:   number,
		SourceURL:    flags.sourceURL,
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		page.HTML = string(raw)
	default:
		page.Text = string(raw)
	}
	return page, nil
}

func setup() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, "stderr"); err != nil {
		return nil, err
	}
	metrics.Init()
	return cfg, nil
}

func main() {
	defer logger.Sync()
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
