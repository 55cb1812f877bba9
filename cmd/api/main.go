package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/nelson-gpt/backend/internal/api"
	"github.com/nelson-gpt/backend/internal/api/handlers"
	"github.com/nelson-gpt/backend/internal/audit"
	"github.com/nelson-gpt/backend/internal/cache/redis"
	"github.com/nelson-gpt/backend/internal/classifier"
	"github.com/nelson-gpt/backend/internal/diagnostic"
	"github.com/nelson-gpt/backend/internal/ingestion"
	"github.com/nelson-gpt/backend/internal/llm"
	"github.com/nelson-gpt/backend/internal/metrics"
	"github.com/nelson-gpt/backend/internal/middleware/ratelimit"
	"github.com/nelson-gpt/backend/internal/middleware/security"
	"github.com/nelson-gpt/backend/internal/middleware/validation"
	"github.com/nelson-gpt/backend/internal/query"
	"github.com/nelson-gpt/backend/internal/retrieval"
	"github.com/nelson-gpt/backend/internal/safety"
	"github.com/nelson-gpt/backend/internal/session"
	"github.com/nelson-gpt/backend/internal/storage/sqlite"
	"github.com/nelson-gpt/backend/internal/vector/milvus"
	"github.com/nelson-gpt/backend/pkg/config"
	appLogger "github.com/nelson-gpt/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Nelson-GPT API Server")
	metrics.Init()

	ctx := context.Background()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path, cfg.SQLite.BusyTimeoutMs, cfg.SQLite.MaxOpenConns)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(ctx); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	// Milvus and Redis are optional. Without Milvus the workflow runs with
	// no evidence and ingestion is refused; without Redis embeddings are
	// not cached.
	var (
		searcher   retrieval.Searcher
		vectors    ingestion.VectorStore
		milvusPing func(context.Context) error
	)
	milvusClient, err := milvus.NewClient(ctx, cfg.Milvus)
	if err != nil {
		appLogger.Warn("Milvus unavailable, knowledge retrieval disabled", zap.Error(err))
	} else {
		defer milvusClient.Close()
		if err := milvusClient.EnsureCollection(ctx); err != nil {
			appLogger.Warn("Failed to prepare Milvus collection", zap.Error(err))
		}
		searcher, vectors, milvusPing = milvusClient, milvusClient, milvusClient.Ping
	}

	embedder := llm.NewEmbedder(cfg.Embedding)
	var queryEmbedder diagnostic.Embedder = embedder
	var redisPing func(context.Context) error
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, embedding cache disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			queryEmbedder = redis.NewCachedEmbedder(embedder, redisClient, cfg.Redis.EmbeddingTTL())
			redisPing = redisClient.Ping
		}
	}

	providers := []*llm.Provider{llm.NewProvider(cfg.LLM.Primary)}
	if cfg.LLM.Secondary.APIKey != "" {
		providers = append(providers, llm.NewProvider(cfg.LLM.Secondary))
	}
	gateway := llm.NewGateway(llm.GatewayOptions{
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout(),
	}, providers...)

	recorder := audit.NewRecorder(sqliteClient)
	retriever := retrieval.NewRetriever(searcher, cfg.Milvus.Timeout())
	router := classifier.New(cfg.Classifier.SpecialtyThreshold, recorder)
	screener := safety.NewScreener(sqliteClient, recorder)
	workflow := diagnostic.NewEngine(gateway, queryEmbedder, retriever, sqliteClient, diagnostic.Options{
		EvidenceTopK:      cfg.Workflow.EvidenceTopK,
		SessionHistoryCap: cfg.Workflow.SessionHistoryCap,
	})
	sessions := session.NewManager(sqliteClient, gateway, recorder)
	queryEngine := query.NewEngine(sqliteClient, router, screener, workflow)
	processor := ingestion.NewProcessor(embedder, vectors, sqliteClient, ingestion.Options{
		ChunkSize:          cfg.Ingestion.ChunkSize,
		ChunkOverlap:       cfg.Ingestion.ChunkOverlap,
		SpecialtyThreshold: cfg.Classifier.SpecialtyThreshold,
	})

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	limiter := ratelimit.New(ratelimit.Config{MaxRequestsPerMinute: cfg.RateLimit.RequestsPerMinute})
	defer limiter.Stop()

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.Server.AllowedOrigins, ", "),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Session-ID",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.Development,
	}))
	app.Use("/api", limiter.Middleware())
	app.Use("/api", validation.Middleware(validation.Config{
		MaxMessageLength: cfg.Validation.MaxMessageLength,
		MaxDocumentSize:  cfg.Server.BodyLimit,
	}))

	api.Register(app, api.Handlers{
		Query:     handlers.NewQueryHandler(queryEngine),
		Context:   handlers.NewContextHandler(sessions),
		Records:   handlers.NewRecordsHandler(sqliteClient),
		Knowledge: handlers.NewKnowledgeHandler(queryEmbedder, retriever, cfg.Retrieval.DefaultTopK),
		Documents: handlers.NewDocumentHandler(processor, cfg.Ingestion.BookTitle),
		WebSocket: handlers.NewWebSocketHandler(queryEngine, time.Duration(cfg.Server.WriteTimeout)*time.Second),
		Health: handlers.NewHealthHandler(cfg.Milvus.Timeout(),
			handlers.Check{Name: "sqlite", Required: true, Ping: sqliteClient.Ping},
			handlers.Check{Name: "milvus", Ping: milvusPing},
			handlers.Check{Name: "redis", Ping: redisPing},
		),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
