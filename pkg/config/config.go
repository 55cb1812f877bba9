package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	SQLite     SQLiteConfig
	Milvus     MilvusConfig
	Redis      RedisConfig
	LLM        LLMConfig
	Embedding  EmbeddingConfig
	Classifier ClassifierConfig
	Workflow   WorkflowConfig
	Retrieval  RetrievalConfig
	Ingestion  IngestionConfig
	RateLimit  RateLimitConfig
	Validation ValidationConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	AllowedOrigins []string
	Development    bool
}

type SQLiteConfig struct {
	Path          string
	BusyTimeoutMs int
	MaxOpenConns  int
}

type MilvusConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
	Nlist          int
	Nprobe         int
	TimeoutSec     int
}

type RedisConfig struct {
	Enabled         bool
	Host            string
	Port            int
	Password        string
	DB              int
	EmbeddingTTLMin int
}

// ProviderConfig describes one OpenAI-compatible chat backend.
type ProviderConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	Model   string
}

type LLMConfig struct {
	Primary     ProviderConfig
	Secondary   ProviderConfig
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type EmbeddingConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Dim         int
	TimeoutSec  int
	MaxAttempts int
}

type ClassifierConfig struct {
	SpecialtyThreshold float64
}

type WorkflowConfig struct {
	EvidenceTopK      int
	SessionHistoryCap int
}

type RetrievalConfig struct {
	DefaultTopK int
}

type IngestionConfig struct {
	ChunkSize    int
	ChunkOverlap int
	BookTitle    string
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

type ValidationConfig struct {
	MaxMessageLength int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

func (c EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

func (c MilvusConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

func (c RedisConfig) EmbeddingTTL() time.Duration {
	return time.Duration(c.EmbeddingTTLMin) * time.Minute
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/nelson-gpt")

	v.SetEnvPrefix("NELSON_GPT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	if c.Classifier.SpecialtyThreshold < 0 || c.Classifier.SpecialtyThreshold >= 1 {
		return fmt.Errorf("classifier.specialtyThreshold must be in [0, 1), got %v", c.Classifier.SpecialtyThreshold)
	}
	if c.Workflow.EvidenceTopK <= 0 || c.Retrieval.DefaultTopK <= 0 {
		return fmt.Errorf("retrieval top-k values must be positive")
	}
	if c.Embedding.Dim != c.Milvus.VectorDim {
		return fmt.Errorf("embedding.dim (%d) must match milvus.vectorDim (%d)", c.Embedding.Dim, c.Milvus.VectorDim)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 4194304)
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.development", false)

	v.SetDefault("sqlite.path", "./data/nelson.db")
	v.SetDefault("sqlite.busyTimeoutMs", 5000)
	v.SetDefault("sqlite.maxOpenConns", 8)

	v.SetDefault("milvus.endpoint", "localhost:19530")
	v.SetDefault("milvus.apiKey", "")
	v.SetDefault("milvus.collectionName", "medical_chunks")
	v.SetDefault("milvus.vectorDim", 1024)
	v.SetDefault("milvus.nlist", 128)
	v.SetDefault("milvus.nprobe", 16)
	v.SetDefault("milvus.timeoutSec", 10)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.embeddingTTLMin", 1440)

	v.SetDefault("llm.primary.name", "mistral")
	v.SetDefault("llm.primary.baseURL", "https://api.mistral.ai/v1")
	v.SetDefault("llm.primary.model", "mistral-large-latest")
	v.SetDefault("llm.primary.apiKey", "")
	v.SetDefault("llm.secondary.name", "openai")
	v.SetDefault("llm.secondary.baseURL", "https://api.openai.com/v1")
	v.SetDefault("llm.secondary.model", "gpt-4o-mini")
	v.SetDefault("llm.secondary.apiKey", "")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.maxTokens", 2000)
	v.SetDefault("llm.timeoutSec", 30)

	v.SetDefault("embedding.baseURL", "https://api.mistral.ai/v1")
	v.SetDefault("embedding.model", "mistral-embed")
	v.SetDefault("embedding.apiKey", "")
	v.SetDefault("embedding.dim", 1024)
	v.SetDefault("embedding.timeoutSec", 15)
	v.SetDefault("embedding.maxAttempts", 3)

	v.SetDefault("classifier.specialtyThreshold", 0.0)

	v.SetDefault("workflow.evidenceTopK", 10)
	v.SetDefault("workflow.sessionHistoryCap", 20)

	v.SetDefault("retrieval.defaultTopK", 5)

	v.SetDefault("ingestion.chunkSize", 200)
	v.SetDefault("ingestion.chunkOverlap", 0)
	v.SetDefault("ingestion.bookTitle", "Nelson Textbook of Pediatrics")

	v.SetDefault("rateLimit.requestsPerMinute", 60)

	v.SetDefault("validation.maxMessageLength", 5000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
