package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/OFFIS-RIT/paperqa/backend/internal/storage"
	"github.com/OFFIS-RIT/paperqa/backend/internal/util"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/ai"
	oai "github.com/OFFIS-RIT/paperqa/backend/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/paperqa/backend/pkg/ai/openai"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/arxiv"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/index"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/loader/pdf"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/loader/web"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/logger"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/rag"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/source"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/store"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/store/memory"
	pgstore "github.com/OFFIS-RIT/paperqa/backend/pkg/store/pgx"
)

// NewAIClients returns the chat and embedding clients. When both sides use
// the same adapter a single client serves both.
func NewAIClients(cfg Config) (chat ai.Client, embed ai.Client, err error) {
	maxReq := int64(cfg.ParallelRequests)

	if cfg.ChatAdapter == AdapterOpenAI && cfg.EmbedAdapter == AdapterOpenAI {
		c := gai.NewOpenAIClient(gai.NewOpenAIClientParams{
			ChatModel:             cfg.ChatModel,
			EmbeddingModel:        cfg.EmbedModel,
			ChatURL:               cfg.ChatURL,
			ChatKey:               cfg.GoogleAPIKey,
			EmbeddingURL:          cfg.EmbedURL,
			EmbeddingKey:          cfg.EmbedKey,
			MaxConcurrentRequests: maxReq,
		})
		return c, c, nil
	}

	build := func(adapter string) (ai.Client, error) {
		switch adapter {
		case AdapterOllama:
			baseURL, key := cfg.EmbedURL, cfg.EmbedKey
			if cfg.ChatAdapter == AdapterOllama {
				baseURL, key = cfg.ChatURL, cfg.ChatKey
			}
			c, err := oai.NewOllamaClient(oai.NewOllamaClientParams{
				ChatModel:             cfg.ChatModel,
				EmbeddingModel:        cfg.EmbedModel,
				BaseURL:               baseURL,
				ApiKey:                key,
				MaxConcurrentRequests: maxReq,
			})
			if err != nil {
				return nil, err
			}
			return c, nil
		default:
			return gai.NewOpenAIClient(gai.NewOpenAIClientParams{
				ChatModel:             cfg.ChatModel,
				EmbeddingModel:        cfg.EmbedModel,
				ChatURL:               cfg.ChatURL,
				ChatKey:               cfg.GoogleAPIKey,
				EmbeddingURL:          cfg.EmbedURL,
				EmbeddingKey:          cfg.EmbedKey,
				MaxConcurrentRequests: maxReq,
			}), nil
		}
	}

	if chat, err = build(cfg.ChatAdapter); err != nil {
		return nil, nil, fmt.Errorf("creating chat client: %w", err)
	}
	if cfg.ChatAdapter == cfg.EmbedAdapter {
		return chat, chat, nil
	}
	if embed, err = build(cfg.EmbedAdapter); err != nil {
		return nil, nil, fmt.Errorf("creating embedding client: %w", err)
	}
	return chat, embed, nil
}

// NewCache returns the configured document cache, or nil for none.
func NewCache(ctx context.Context, cfg Config) (storage.Store, error) {
	switch cfg.CacheBackend {
	case CacheFile:
		fs, err := storage.OpenFileStore(cfg.CachePath)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case CacheS3:
		client, err := storage.NewS3Client(ctx)
		if err != nil {
			return nil, err
		}
		return storage.NewS3Store(client, cfg.CacheBucket, cfg.CachePrefix), nil
	default:
		return nil, nil
	}
}

// NewFetcher builds the archive search and PDF pipeline. Search and
// downloads share one rate limiter since both hit arxiv.org.
func NewFetcher(cfg Config, cache storage.Store, tracker *util.ProgressTracker) *source.Fetcher {
	limiter := arxiv.NewLimiter(cfg.ArxivInterval)
	httpClient := &http.Client{Timeout: arxiv.DefaultTimeout}

	search := arxiv.NewClient(
		arxiv.WithHTTPClient(httpClient),
		arxiv.WithLimiter(limiter),
	)
	files := pdf.NewPDFLoader(web.NewWebLoader(
		web.WithHTTPClient(&http.Client{Timeout: 5 * time.Minute}),
		web.WithLimiter(limiter),
	))

	opts := []source.Option{source.WithParallelism(cfg.FetchParallel)}
	if cache != nil {
		opts = append(opts, source.WithCache(cache))
	}
	if tracker != nil {
		opts = append(opts, source.WithProgress(tracker.SetDocuments))
	}
	return source.NewFetcher(search, files, opts...)
}

// NewVectorStore returns the configured store. The returned close function
// is never nil.
func NewVectorStore(ctx context.Context, cfg Config) (store.VectorStore, func(), error) {
	if cfg.VectorStore != VectorStorePgvector {
		return memory.NewMemoryStore(), func() {}, nil
	}

	if err := pgstore.Migrate(cfg.DatabaseURL); err != nil {
		return nil, nil, err
	}
	pool, err := pgstore.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("[Server] Using pgvector store", "collection", cfg.Collection)

	vs := pgstore.NewSegmentDBStore(pool,
		pgstore.WithCollection(cfg.Collection),
		pgstore.WithLeaseLock(leaselock.New(pool), 10*time.Minute),
	)
	return vs, pool.Close, nil
}

// NewService assembles the question answering service from cfg.
func NewService(
	cfg Config,
	fetcher rag.Fetcher,
	chat ai.Client,
	embed ai.Client,
	vs store.VectorStore,
	tracker *util.ProgressTracker,
) (*rag.Service, error) {
	synth := rag.NewSynthesizer(chat,
		rag.WithTemperature(cfg.Temperature),
		rag.WithTimeout(cfg.GenerationTimeout),
		rag.WithRetries(cfg.GenerationMaxRetries, rag.DefaultRetryBackoff),
	)
	return rag.NewService(fetcher, embed, vs, synth,
		rag.WithTopK(cfg.TopK),
		rag.WithProgressTracker(tracker),
		rag.WithIndexOptions(
			index.WithBatchSize(cfg.EmbedBatchSize),
			index.WithParallelism(cfg.ParallelRequests),
		),
	)
}
