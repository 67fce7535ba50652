package server

import (
	"errors"
	"testing"
	"time"

	"github.com/OFFIS-RIT/paperqa/backend/pkg/ai/openai"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "g-key")
	t.Setenv("AI_EMBED_URL", "http://localhost:8081/v1")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ChatURL != openai.GeminiBaseURL {
		t.Fatalf("expected Gemini url, got %q", cfg.ChatURL)
	}
	if cfg.ChatModel != "gemini-2.5-flash" || cfg.EmbedModel != "sentence-transformers/all-MiniLM-L6-v2" {
		t.Fatalf("unexpected models %q %q", cfg.ChatModel, cfg.EmbedModel)
	}
	if cfg.ChunkSize != 500 || cfg.Overlap != 50 || cfg.TopK != 4 || cfg.MaxResults != 15 {
		t.Fatalf("unexpected sizes %+v", cfg)
	}
	if cfg.GenerationTimeout != 30*time.Second || cfg.GenerationMaxRetries != 1 {
		t.Fatalf("unexpected generation settings %v %d", cfg.GenerationTimeout, cfg.GenerationMaxRetries)
	}
	if cfg.VectorStore != VectorStoreMemory || cfg.CacheBackend != CacheNone || cfg.AuthEnabled() {
		t.Fatalf("unexpected backends %+v", cfg)
	}

	b := cfg.BuildConfig()
	if b.Query != "interpretability AND transformer" || b.ChunkSize != 500 {
		t.Fatalf("unexpected build config %+v", b)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want error
	}{
		{"missing google key", map[string]string{"GOOGLE_API_KEY": "", "AI_EMBED_URL": "http://e"}, ErrMissingConfig},
		{"missing embed url", map[string]string{"GOOGLE_API_KEY": "k", "AI_EMBED_URL": ""}, ErrMissingConfig},
		{"overlap too large", map[string]string{"GOOGLE_API_KEY": "k", "AI_EMBED_URL": "http://e", "CHUNK_SIZE": "100", "CHUNK_OVERLAP": "100"}, ErrInvalidConfig},
		{"unknown adapter", map[string]string{"GOOGLE_API_KEY": "k", "AI_EMBED_URL": "http://e", "AI_CHAT_ADAPTER": "bard"}, ErrInvalidConfig},
		{"pgvector without db", map[string]string{"GOOGLE_API_KEY": "k", "AI_EMBED_URL": "http://e", "VECTOR_STORE": "pgvector", "DATABASE_URL": ""}, ErrMissingConfig},
		{"s3 without bucket", map[string]string{"GOOGLE_API_KEY": "k", "AI_EMBED_URL": "http://e", "CACHE_BACKEND": "s3", "AWS_BUCKET": ""}, ErrMissingConfig},
		{"ollama without chat key", map[string]string{"GOOGLE_API_KEY": "k", "AI_EMBED_URL": "http://e", "AI_CHAT_ADAPTER": "ollama", "AI_CHAT_KEY": ""}, ErrMissingConfig},
		{"bad max results", map[string]string{"GOOGLE_API_KEY": "k", "AI_EMBED_URL": "http://e", "ARXIV_MAX_RESULTS": "0"}, ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadConfigOllamaUsesChatKey(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("AI_CHAT_KEY", "ollama-key")
	t.Setenv("AI_CHAT_ADAPTER", "ollama")
	t.Setenv("AI_EMBED_ADAPTER", "ollama")
	t.Setenv("AI_CHAT_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ChatURL != "" || cfg.ChatKey != "ollama-key" {
		t.Fatalf("unexpected ollama settings %q %q", cfg.ChatURL, cfg.ChatKey)
	}

	chat, embed, err := NewAIClients(cfg)
	if err != nil {
		t.Fatalf("clients: %v", err)
	}
	if chat != embed {
		t.Fatal("expected one shared ollama client")
	}
}

func TestLoadFetchConfigSkipsModelSettings(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("AI_EMBED_URL", "")
	t.Setenv("CACHE_BACKEND", "file")

	cfg, err := LoadFetchConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CacheBackend != CacheFile || cfg.CachePath != "data/cache.gob" {
		t.Fatalf("unexpected cache settings %q %q", cfg.CacheBackend, cfg.CachePath)
	}
	if _, err := LoadConfig(); !errors.Is(err, ErrMissingConfig) {
		t.Fatalf("expected full config to still require credentials, got %v", err)
	}
}
