package config

import (
	"log/slog"

	"github.com/caarlos0/env/v10"
)

// Config holds runtime configuration for the archive service.
type Config struct {
	// Server
	Port      int    `env:"PORT" envDefault:"8080"`
	PublicURL string `env:"PUBLIC_URL" envDefault:"http://localhost:8080"` // prefix for signed blob URLs
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	// Upload limits
	MaxUploadSize int64 `env:"MAX_UPLOAD_SIZE" envDefault:"10485760"` // 10MB in bytes

	// Document store
	StoreProvider string `env:"STORE_PROVIDER" envDefault:"postgres"` // "postgres" or "memory"
	DBURL         string `env:"DB_URL"`

	// Blob storage
	BlobRoot      string `env:"BLOB_ROOT" envDefault:"./blobs"`
	BlobSecret    string `env:"BLOB_SIGN_SECRET"`
	BlobURLTTLMin int    `env:"BLOB_URL_TTL_MIN" envDefault:"30"` // signed URL lifetime

	// OCR
	OCRProvider string `env:"OCR_PROVIDER" envDefault:"read"` // "read" (REST OCR service)
	OCREndpoint string `env:"OCR_ENDPOINT"`
	OCRKey      string `env:"OCR_API_KEY"`

	// LLM & Embeddings
	LLMProvider       string `env:"LLM_PROVIDER" envDefault:"openai"`
	OpenAIKey         string `env:"OPENAI_API_KEY"`
	LLMModel          string `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	EmbeddingModel    string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	EmbeddingDims     int    `env:"EMBEDDING_DIMS" envDefault:"1536"`
	EmbeddingMaxChars int    `env:"EMBEDDING_MAX_CHARS" envDefault:"8192"`

	// Chat
	ChatSourcesLimit int `env:"CHAT_SOURCES_LIMIT" envDefault:"5"`

	// Cache
	CacheProvider string `env:"CACHE_PROVIDER" envDefault:"noop"` // "redis" or "noop"
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	CacheTTL      int    `env:"CACHE_TTL" envDefault:"300"` // seconds

	// Job lifecycle events
	EventsProvider string `env:"EVENTS_PROVIDER" envDefault:"noop"` // "nats" or "noop"
	NATSURL        string `env:"NATS_URL"`

	// External service call budget (seconds). Applies to the blob, OCR,
	// embedding, store and LLM calls made by the ingestion pipeline.
	ServiceTimeout int `env:"SERVICE_TIMEOUT" envDefault:"60"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		slog.Warn("failed to parse env; using defaults where set", "err", err)
	}
	return cfg
}
