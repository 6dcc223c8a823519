package app

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/openai/openai-go/v3"

	"memoir/internal/blob"
	"memoir/internal/cache"
	"memoir/internal/config"
	"memoir/internal/embeddings"
	"memoir/internal/events"
	"memoir/internal/llm"
	"memoir/internal/logger"
	"memoir/internal/ocr"
	"memoir/internal/store"
)

// Deps bundles the external collaborators the core components are wired with.
type Deps struct {
	Config   config.Config
	Log      *slog.Logger
	Store    store.Store
	Blobs    blob.Store
	OCR      ocr.Service
	Embedder embeddings.Embedder
	LLM      llm.Client
	Cache    cache.Cache
	Events   events.Publisher
}

// Build loads env, config, and shared components.
func Build() (Deps, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Deps{}, fmt.Errorf("failed to load environment variables: %w", err)
	}
	cfg := config.Load()
	log := logger.New(cfg.LogLevel)

	st, err := buildStore(cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize store: %w", err)
	}
	blobs, err := buildBlobs(cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize blob store: %w", err)
	}
	ocrSvc, err := buildOCR(cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize OCR: %w", err)
	}
	embedder, err := buildEmbedder(cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	llmClient, err := buildLLM(cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize LLM: %w", err)
	}
	c, err := buildCache(cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize cache: %w", err)
	}
	pub, err := buildEvents(cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize event publisher: %w", err)
	}
	return Deps{
		Config:   cfg,
		Log:      log,
		Store:    st,
		Blobs:    blobs,
		OCR:      ocrSvc,
		Embedder: embedder,
		LLM:      llmClient,
		Cache:    c,
		Events:   pub,
	}, nil
}

func buildStore(cfg config.Config, log *slog.Logger) (store.Store, error) {
	switch cfg.StoreProvider {
	case "postgres":
		if cfg.DBURL == "" {
			return nil, fmt.Errorf("DB_URL is required when STORE_PROVIDER=postgres")
		}
		db, err := store.NewPostgres(cfg.DBURL, cfg.EmbeddingDims)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres: %w", err)
		}
		log.Info("using Postgres store")
		return db, nil
	case "memory":
		log.Info("using in-memory store; data is lost on restart")
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("invalid STORE_PROVIDER: %s (valid options: postgres, memory)", cfg.StoreProvider)
	}
}

func buildBlobs(cfg config.Config, log *slog.Logger) (blob.Store, error) {
	if cfg.BlobSecret == "" {
		return nil, fmt.Errorf("BLOB_SIGN_SECRET is required")
	}
	fs, err := blob.NewFS(cfg.BlobRoot, cfg.PublicURL, cfg.BlobSecret)
	if err != nil {
		return nil, err
	}
	log.Info("using filesystem blob store", "root", cfg.BlobRoot)
	return fs, nil
}

func buildOCR(cfg config.Config, log *slog.Logger) (ocr.Service, error) {
	switch cfg.OCRProvider {
	case "read":
		if cfg.OCREndpoint == "" {
			return nil, fmt.Errorf("OCR_ENDPOINT is required when OCR_PROVIDER=read")
		}
		remote, err := ocr.NewReadClient(cfg.OCREndpoint, cfg.OCRKey)
		if err != nil {
			return nil, err
		}
		log.Info("using Read OCR client", "endpoint", cfg.OCREndpoint)
		return ocr.NewDispatch(remote, ocr.NewPDFExtractor()), nil
	default:
		return nil, fmt.Errorf("invalid OCR_PROVIDER: %s (valid option: read)", cfg.OCRProvider)
	}
}

func buildEmbedder(cfg config.Config, log *slog.Logger) (embeddings.Embedder, error) {
	switch cfg.LLMProvider {
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when LLM_PROVIDER=openai")
		}
		embedder, err := embeddings.NewOpenAIEmbedder(cfg.OpenAIKey, openai.EmbeddingModel(cfg.EmbeddingModel), cfg.EmbeddingDims)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenAI embedder: %w", err)
		}
		log.Info("using OpenAI embedder", "model", cfg.EmbeddingModel, "dims", cfg.EmbeddingDims)
		return embedder, nil
	default:
		return nil, fmt.Errorf("invalid LLM_PROVIDER: %s (valid option: openai)", cfg.LLMProvider)
	}
}

func buildLLM(cfg config.Config, log *slog.Logger) (llm.Client, error) {
	switch cfg.LLMProvider {
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when LLM_PROVIDER=openai")
		}
		client, err := llm.NewOpenAIClient(cfg.OpenAIKey, openai.ChatModel(cfg.LLMModel))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenAI client: %w", err)
		}
		log.Info("using OpenAI LLM client", "model", cfg.LLMModel)
		return client, nil
	default:
		return nil, fmt.Errorf("invalid LLM_PROVIDER: %s (valid option: openai)", cfg.LLMProvider)
	}
}

func buildCache(cfg config.Config, log *slog.Logger) (cache.Cache, error) {
	switch cfg.CacheProvider {
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("REDIS_ADDR is required when CACHE_PROVIDER=redis")
		}
		c, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, err
		}
		log.Info("using Redis chat cache", "addr", cfg.RedisAddr)
		return c, nil
	case "noop":
		return cache.NewNoOpCache(), nil
	default:
		return nil, fmt.Errorf("invalid CACHE_PROVIDER: %s (valid options: redis, noop)", cfg.CacheProvider)
	}
}

func buildEvents(cfg config.Config, log *slog.Logger) (events.Publisher, error) {
	switch cfg.EventsProvider {
	case "nats":
		if cfg.NATSURL == "" {
			return nil, fmt.Errorf("NATS_URL is required when EVENTS_PROVIDER=nats")
		}
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		log.Info("publishing job events to NATS", "url", cfg.NATSURL)
		return events.NewNATS(log, nc), nil
	case "noop":
		return events.NewNoOp(), nil
	default:
		return nil, fmt.Errorf("invalid EVENTS_PROVIDER: %s (valid options: nats, noop)", cfg.EventsProvider)
	}
}
