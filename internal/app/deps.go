package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/openai/openai-go/v3"

	"github.com/ntufar/intellivault/internal/audit"
	"github.com/ntufar/intellivault/internal/blob"
	"github.com/ntufar/intellivault/internal/cache"
	"github.com/ntufar/intellivault/internal/chunker"
	"github.com/ntufar/intellivault/internal/config"
	"github.com/ntufar/intellivault/internal/embeddings"
	"github.com/ntufar/intellivault/internal/extract"
	"github.com/ntufar/intellivault/internal/llm"
	"github.com/ntufar/intellivault/internal/logger"
	"github.com/ntufar/intellivault/internal/pipeline"
	"github.com/ntufar/intellivault/internal/queue"
	"github.com/ntufar/intellivault/internal/rag"
	"github.com/ntufar/intellivault/internal/searchindex"
	"github.com/ntufar/intellivault/internal/store"
)

// Deps bundles common runtime dependencies for services.
type Deps struct {
	Config       config.Config
	Log          *slog.Logger
	Store        store.Store
	Blobs        blob.Store
	Queue        queue.Queue
	Extractor    extract.Extractor
	Index        searchindex.Index
	Embedder     embeddings.Embedder
	Generator    llm.Generator
	Audit        audit.Emitter
	Orchestrator *pipeline.Orchestrator
	RAG          *rag.Engine
}

// Build loads env, config, and shared components for the named service.
func Build(ctx context.Context, service string) (Deps, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Deps{}, fmt.Errorf("failed to load environment variables: %w", err)
	}
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, service)

	st, err := buildStore(cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize store: %w", err)
	}
	blobs, err := blob.NewFS(cfg.BlobDir)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize blob store: %w", err)
	}

	q, emitter, err := buildQueueAndAudit(cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize queue: %w", err)
	}

	c := buildCache(cfg, log)

	index, err := buildIndex(ctx, cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize search index: %w", err)
	}

	embedder, err := buildEmbedder(cfg, log, c)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	generator, err := buildGenerator(cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	extractor := extract.NewRegistry()
	orch, err := pipeline.NewOrchestrator(log, st, blobs, extractor, embedder, index, q,
		chunker.Options{MaxSize: cfg.ChunkSize, Overlap: cfg.ChunkOverlap})
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	engine, err := rag.NewEngine(log, embedder, index, generator, c,
		time.Duration(cfg.QACacheTTL)*time.Second, cfg.MaxContextBytes)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize retrieval engine: %w", err)
	}

	return Deps{
		Config:       cfg,
		Log:          log,
		Store:        st,
		Blobs:        blobs,
		Queue:        q,
		Extractor:    extractor,
		Index:        index,
		Embedder:     embedder,
		Generator:    generator,
		Audit:        emitter,
		Orchestrator: orch,
		RAG:          engine,
	}, nil
}

func buildStore(cfg config.Config, log *slog.Logger) (store.Store, error) {
	switch cfg.StoreProvider {
	case "postgres":
		if cfg.DBURL == "" {
			return nil, fmt.Errorf("DB_URL is required when STORE_PROVIDER=postgres")
		}
		db, err := store.NewPostgres(cfg.DBURL, cfg.EmbeddingDim)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres: %w", err)
		}
		log.Info("using Postgres store")
		return db, nil
	default:
		return nil, fmt.Errorf("invalid STORE_PROVIDER: %s (valid option: postgres)", cfg.StoreProvider)
	}
}

// buildQueueAndAudit shares one NATS connection between the task queue and
// the audit emitter. Without NATS the audit trail falls back to logs.
func buildQueueAndAudit(cfg config.Config, log *slog.Logger) (queue.Queue, audit.Emitter, error) {
	switch cfg.QueueProvider {
	case "nats":
		if cfg.QueueURL == "" {
			return nil, nil, fmt.Errorf("QUEUE_URL is required when QUEUE_PROVIDER=nats")
		}
		nc, err := nats.Connect(cfg.QueueURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		log.Info("using NATS queue")
		return queue.NewNATS(log, nc), audit.NewNATS(log, nc), nil
	default:
		return nil, nil, fmt.Errorf("invalid QUEUE_PROVIDER: %s (valid option: nats)", cfg.QueueProvider)
	}
}

func buildCache(cfg config.Config, log *slog.Logger) cache.Cache {
	if cfg.RedisAddr == "" {
		log.Info("REDIS_ADDR not set; caching disabled")
		return cache.NewNoOpCache()
	}
	c, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		log.Warn("Redis unreachable; caching disabled", "err", err)
		return cache.NewNoOpCache()
	}
	log.Info("using Redis cache", "addr", cfg.RedisAddr)
	return c
}

func buildIndex(ctx context.Context, cfg config.Config, log *slog.Logger) (searchindex.Index, error) {
	switch cfg.IndexProvider {
	case "qdrant":
		if cfg.QdrantURL == "" {
			return nil, fmt.Errorf("QDRANT_URL is required when INDEX_PROVIDER=qdrant")
		}
		q := searchindex.NewQdrant(searchindex.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
		})
		if err := q.Init(ctx, cfg.EmbeddingDim); err != nil {
			return nil, fmt.Errorf("failed to initialize Qdrant collection: %w", err)
		}
		log.Info("using Qdrant index", "collection", cfg.QdrantCollection)
		return q, nil
	case "memory":
		log.Warn("using in-memory index; entries are lost on restart")
		return searchindex.NewMemory(), nil
	default:
		return nil, fmt.Errorf("invalid INDEX_PROVIDER: %s (valid options: qdrant, memory)", cfg.IndexProvider)
	}
}

func buildEmbedder(cfg config.Config, log *slog.Logger, c cache.Cache) (embeddings.Embedder, error) {
	switch cfg.LLMProvider {
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when LLM_PROVIDER=openai")
		}
		base, err := embeddings.NewOpenAIEmbedder(cfg.OpenAIKey, openai.EmbeddingModel(cfg.EmbeddingModel), cfg.EmbeddingDim)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenAI embedder: %w", err)
		}
		log.Info("using OpenAI embedder", "model", cfg.EmbeddingModel, "dim", cfg.EmbeddingDim)
		batched := embeddings.NewBatched(base, cfg.EmbedBatchSize)
		return embeddings.NewCached(batched, c, cfg.EmbeddingModel,
			time.Duration(cfg.EmbedCacheTTL)*time.Second, log), nil
	default:
		return nil, fmt.Errorf("invalid LLM_PROVIDER: %s (valid option: openai)", cfg.LLMProvider)
	}
}

func buildGenerator(cfg config.Config, log *slog.Logger) (llm.Generator, error) {
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
