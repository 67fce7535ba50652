package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/OFFIS-RIT/paperqa/backend/pkg/ai"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerateCompletion(t *testing.T) {
	var got map[string]any
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "cmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gemini-2.5-flash",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "  Probing classifiers.  "}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`)
	})

	c := NewOpenAIClient(NewOpenAIClientParams{
		ChatModel: "gemini-2.5-flash",
		ChatURL:   srv.URL + "/",
		ChatKey:   "test-key",
	})

	out, err := c.GenerateCompletion(context.Background(), "What is probing?", ai.WithTemperature(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "Probing classifiers." {
		t.Fatalf("unexpected completion %q", out)
	}
	if got["model"] != "gemini-2.5-flash" {
		t.Fatalf("unexpected model in request: %v", got["model"])
	}
	if temp, ok := got["temperature"].(float64); !ok || temp != 0 {
		t.Fatalf("expected temperature 0 in request, got %v", got["temperature"])
	}
	if m := c.GetMetrics(); m.TotalTokens != 15 {
		t.Fatalf("expected 15 total tokens, got %d", m.TotalTokens)
	}
	c.ResetMetrics()
	if m := c.GetMetrics(); m.TotalTokens != 0 {
		t.Fatalf("expected metrics reset, got %+v", m)
	}
}

func TestGenerateCompletionProviderError(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error": {"message": "quota exceeded", "type": "rate_limit"}}`)
	})

	c := NewOpenAIClient(NewOpenAIClientParams{ChatModel: "m", ChatURL: srv.URL + "/", ChatKey: "k"})
	_, err := c.GenerateCompletion(context.Background(), "q")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var perr *ai.ProviderError
	if !errors.As(err, &perr) || perr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected provider error with 429, got %v", err)
	}
	if !ai.IsTransient(err) {
		t.Fatal("expected 429 to be transient")
	}
}

func TestGenerateCompletionNotConfigured(t *testing.T) {
	c := NewOpenAIClient(NewOpenAIClientParams{})
	if _, err := c.GenerateCompletion(context.Background(), "q"); !errors.Is(err, ai.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestGenerateEmbeddingsReordersByIndex(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"object": "list",
			"model": "sentence-transformers/all-MiniLM-L6-v2",
			"data": [
				{"object": "embedding", "index": 1, "embedding": [0, 1]},
				{"object": "embedding", "index": 0, "embedding": [1, 0]}
			],
			"usage": {"prompt_tokens": 4, "total_tokens": 4}
		}`)
	})

	c := NewOpenAIClient(NewOpenAIClientParams{
		EmbeddingModel: "sentence-transformers/all-MiniLM-L6-v2",
		EmbeddingURL:   srv.URL + "/",
	})

	vecs, err := c.GenerateEmbeddings(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vecs))
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Fatalf("vectors not aligned with inputs: %v", vecs)
	}
	if c.EmbeddingModel() != "sentence-transformers/all-MiniLM-L6-v2" {
		t.Fatalf("unexpected embedding model %q", c.EmbeddingModel())
	}
}

func TestGenerateEmbeddingsSizeMismatch(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"object": "list", "model": "m", "data": [{"object": "embedding", "index": 0, "embedding": [1]}], "usage": {"prompt_tokens": 1, "total_tokens": 1}}`)
	})

	c := NewOpenAIClient(NewOpenAIClientParams{EmbeddingModel: "m", EmbeddingURL: srv.URL + "/"})
	if _, err := c.GenerateEmbeddings(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected size mismatch error")
	}
}
