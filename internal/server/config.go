package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/paperqa/backend/internal/util"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/ai/openai"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/arxiv"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/chunk"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/index"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/rag"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/source"
)

var (
	ErrMissingConfig = errors.New("missing required configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

const (
	AdapterOpenAI = "openai"
	AdapterOllama = "ollama"

	VectorStoreMemory   = "memory"
	VectorStorePgvector = "pgvector"

	CacheNone = "none"
	CacheFile = "file"
	CacheS3   = "s3"
)

type Config struct {
	Port      string
	StaticDir string

	GoogleAPIKey string
	ChatAdapter  string
	ChatURL      string
	ChatKey      string
	ChatModel    string
	Temperature  float64

	EmbedAdapter string
	EmbedURL     string
	EmbedKey     string
	EmbedModel   string

	ParallelRequests int
	EmbedBatchSize   int

	Query         string
	MaxResults    int
	FetchParallel int
	ArxivInterval time.Duration

	ChunkSize int
	Overlap   int
	TopK      int

	GenerationTimeout    time.Duration
	GenerationMaxRetries int

	VectorStore string
	DatabaseURL string
	Collection  string

	CacheBackend string
	CachePath    string
	CacheBucket  string
	CachePrefix  string

	MasterAPIKey string
	AuthURL      string
}

// LoadConfig reads the process environment. It fails on missing
// credentials and on settings that would only blow up later in the build.
func LoadConfig() (Config, error) {
	cfg := readConfig()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFetchConfig is LoadConfig for jobs that only fetch and cache papers,
// so model settings are not required.
func LoadFetchConfig() (Config, error) {
	cfg := readConfig()
	if err := cfg.validateFetch(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readConfig() Config {
	cfg := Config{
		Port:      util.GetEnvString("PORT", "8080"),
		StaticDir: util.GetEnvString("STATIC_DIR", "frontend/dist"),

		GoogleAPIKey: util.GetEnv("GOOGLE_API_KEY"),
		ChatAdapter:  strings.ToLower(util.GetEnvString("AI_CHAT_ADAPTER", AdapterOpenAI)),
		ChatURL:      util.GetEnv("AI_CHAT_URL"),
		ChatKey:      util.GetEnv("AI_CHAT_KEY"),
		ChatModel:    util.GetEnvString("AI_CHAT_MODEL", "gemini-2.5-flash"),
		Temperature:  util.GetEnvNumeric("AI_TEMPERATURE", 0),

		EmbedAdapter: strings.ToLower(util.GetEnvString("AI_EMBED_ADAPTER", AdapterOpenAI)),
		EmbedURL:     util.GetEnv("AI_EMBED_URL"),
		EmbedKey:     util.GetEnv("AI_EMBED_KEY"),
		EmbedModel:   util.GetEnvString("HUGGINGFACE_EMBEDDING_MODEL", "sentence-transformers/all-MiniLM-L6-v2"),

		ParallelRequests: util.GetEnvInt("AI_PARALLEL_REQ", 4),
		EmbedBatchSize:   util.GetEnvInt("AI_EMBED_BATCH_SIZE", index.DefaultBatchSize),

		Query:         util.GetEnvString("ARXIV_QUERY", "interpretability AND transformer"),
		MaxResults:    util.GetEnvInt("ARXIV_MAX_RESULTS", 15),
		FetchParallel: util.GetEnvInt("FETCH_PARALLEL", source.DefaultParallelism),
		ArxivInterval: util.GetEnvDuration("ARXIV_INTERVAL_SECONDS", arxiv.DefaultInterval),

		ChunkSize: util.GetEnvInt("CHUNK_SIZE", chunk.DefaultChunkSize),
		Overlap:   util.GetEnvInt("CHUNK_OVERLAP", chunk.DefaultOverlap),
		TopK:      util.GetEnvInt("RETRIEVER_TOP_K", index.DefaultTopK),

		GenerationTimeout:    util.GetEnvDuration("GENERATION_TIMEOUT_SECONDS", rag.DefaultGenerationTimeout),
		GenerationMaxRetries: util.GetEnvInt("GENERATION_MAX_RETRIES", 1),

		VectorStore: strings.ToLower(util.GetEnvString("VECTOR_STORE", VectorStoreMemory)),
		DatabaseURL: util.GetEnv("DATABASE_URL"),
		Collection:  util.GetEnvString("VECTOR_COLLECTION", "default"),

		CacheBackend: strings.ToLower(util.GetEnvString("CACHE_BACKEND", CacheNone)),
		CachePath:    util.GetEnvString("CACHE_PATH", "data/cache.gob"),
		CacheBucket:  util.GetEnv("AWS_BUCKET"),
		CachePrefix:  util.GetEnvString("CACHE_PREFIX", "paperqa"),

		MasterAPIKey: util.GetEnv("MASTER_API_KEY"),
		AuthURL:      strings.TrimSuffix(util.GetEnv("AUTH_URL"), "/"),
	}

	if cfg.ChatURL == "" && cfg.ChatAdapter == AdapterOpenAI {
		cfg.ChatURL = openai.GeminiBaseURL
	}
	return cfg
}

func (c Config) Validate() error {
	if c.ChatAdapter != AdapterOpenAI && c.ChatAdapter != AdapterOllama {
		return fmt.Errorf("%w: AI_CHAT_ADAPTER=%q", ErrInvalidConfig, c.ChatAdapter)
	}
	if c.EmbedAdapter != AdapterOpenAI && c.EmbedAdapter != AdapterOllama {
		return fmt.Errorf("%w: AI_EMBED_ADAPTER=%q", ErrInvalidConfig, c.EmbedAdapter)
	}
	switch {
	case c.ChatAdapter == AdapterOpenAI && c.GoogleAPIKey == "":
		return fmt.Errorf("%w: GOOGLE_API_KEY", ErrMissingConfig)
	case c.ChatAdapter == AdapterOllama && c.ChatKey == "":
		return fmt.Errorf("%w: AI_CHAT_KEY", ErrMissingConfig)
	}
	if c.EmbedAdapter == AdapterOpenAI && c.EmbedURL == "" {
		return fmt.Errorf("%w: AI_EMBED_URL", ErrMissingConfig)
	}
	if c.ChunkSize <= 0 || c.Overlap < 0 || c.Overlap >= c.ChunkSize {
		return fmt.Errorf("%w: CHUNK_SIZE=%d CHUNK_OVERLAP=%d", ErrInvalidConfig, c.ChunkSize, c.Overlap)
	}

	switch c.VectorStore {
	case VectorStoreMemory:
	case VectorStorePgvector:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: DATABASE_URL", ErrMissingConfig)
		}
	default:
		return fmt.Errorf("%w: VECTOR_STORE=%q", ErrInvalidConfig, c.VectorStore)
	}
	return c.validateFetch()
}

func (c Config) validateFetch() error {
	if strings.TrimSpace(c.Query) == "" {
		return fmt.Errorf("%w: ARXIV_QUERY", ErrMissingConfig)
	}
	if c.MaxResults <= 0 {
		return fmt.Errorf("%w: ARXIV_MAX_RESULTS=%d", ErrInvalidConfig, c.MaxResults)
	}

	switch c.CacheBackend {
	case CacheNone, CacheFile:
	case CacheS3:
		if c.CacheBucket == "" {
			return fmt.Errorf("%w: AWS_BUCKET", ErrMissingConfig)
		}
	default:
		return fmt.Errorf("%w: CACHE_BACKEND=%q", ErrInvalidConfig, c.CacheBackend)
	}
	return nil
}

func (c Config) BuildConfig() rag.BuildConfig {
	return rag.BuildConfig{
		Query:      c.Query,
		MaxResults: c.MaxResults,
		ChunkSize:  c.ChunkSize,
		Overlap:    c.Overlap,
	}
}

// AuthEnabled reports whether /query requires credentials.
func (c Config) AuthEnabled() bool {
	return c.MasterAPIKey != "" || c.AuthURL != ""
}
