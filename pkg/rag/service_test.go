package rag

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/OFFIS-RIT/paperqa/backend/internal/util"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/chunk"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/common"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/store/memory"
)

type staticFetcher struct {
	calls atomic.Int32
	docs  []common.Document
	err   error
}

func (f *staticFetcher) Fetch(ctx context.Context, query string, maxResults int) ([]common.Document, error) {
	f.calls.Add(1)
	return f.docs, f.err
}

// vowelEmbedder counts vowels, enough to tell the fixture documents apart.
type vowelEmbedder struct {
	calls atomic.Int32
}

func (e *vowelEmbedder) GenerateEmbeddings(ctx context.Context, input []string) ([][]float32, error) {
	e.calls.Add(1)
	out := make([][]float32, 0, len(input))
	for _, text := range input {
		v := make([]float32, 5)
		for _, r := range text {
			if i := strings.IndexRune("aeiou", r); i >= 0 {
				v[i]++
			}
		}
		out = append(out, v)
	}
	return out, nil
}

func (e *vowelEmbedder) EmbeddingModel() string { return "vowels" }

type recordingAnswerer struct {
	calls    atomic.Int32
	segments []common.Segment
}

func (a *recordingAnswerer) Answer(ctx context.Context, question string, segments []common.Segment) (string, error) {
	a.calls.Add(1)
	a.segments = segments
	return "answer to " + question, nil
}

func fixtureDocs() []common.Document {
	// 24 runes each, which is three segments with size 10 and overlap 2.
	return []common.Document{
		{Source: "https://arxiv.org/abs/a", Title: "Paper A", Authors: []string{"Ada"}, Text: strings.Repeat("aaa ", 6)},
		{Source: "https://arxiv.org/abs/b", Title: "Paper B", Authors: []string{"Bob"}, Text: strings.Repeat("ooo ", 6)},
	}
}

func newTestService(t *testing.T, f Fetcher) (*Service, *vowelEmbedder, *recordingAnswerer, *memory.MemoryStore) {
	t.Helper()
	e := &vowelEmbedder{}
	a := &recordingAnswerer{}
	vs := memory.NewMemoryStore()
	s, err := NewService(f, e, vs, a)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return s, e, a, vs
}

var testBuild = BuildConfig{Query: "interpretability", MaxResults: 2, ChunkSize: 10, Overlap: 2}

func TestAskBeforeReadyTouchesNothing(t *testing.T) {
	s, e, a, _ := newTestService(t, &staticFetcher{docs: fixtureDocs()})

	if _, err := s.Ask(context.Background(), "what?"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if e.calls.Load() != 0 || a.calls.Load() != 0 {
		t.Fatalf("expected no embedder or answerer calls, got %d and %d", e.calls.Load(), a.calls.Load())
	}
	if s.State() != StateUninitialized {
		t.Fatalf("expected uninitialized, got %s", s.State())
	}
}

func TestBuildAndAsk(t *testing.T) {
	ctx := context.Background()
	s, _, a, vs := newTestService(t, &staticFetcher{docs: fixtureDocs()})

	if err := s.Build(ctx, testBuild); err != nil {
		t.Fatalf("build: %v", err)
	}
	if !s.Ready() || vs.Len() != 6 {
		t.Fatalf("expected ready with 6 segments, state=%s len=%d", s.State(), vs.Len())
	}

	ans, err := s.Ask(ctx, "  tell me about ooo  ")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if ans.Text != "answer to tell me about ooo" {
		t.Fatalf("unexpected answer %q", ans.Text)
	}
	if len(a.segments) != 4 {
		t.Fatalf("expected top-4 context, got %d segments", len(a.segments))
	}
	if a.segments[0].Source != "https://arxiv.org/abs/b" {
		t.Fatalf("expected paper B to rank first, got %s", a.segments[0].Source)
	}
	if len(ans.Sources) == 0 || len(ans.Sources) > 2 {
		t.Fatalf("expected 1-2 deduplicated sources, got %d", len(ans.Sources))
	}
	if ans.Sources[0].Title != "Paper B" || ans.Sources[0].Authors[0] != "Bob" {
		t.Fatalf("unexpected first citation %+v", ans.Sources[0])
	}

	st := s.Status()
	if st.State != StateReady || st.Segments != 6 || st.Dimensions != 5 || st.Model != "vowels" {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.Progress.Stage != util.BuildStageReady || st.Progress.Percentage != 100 {
		t.Fatalf("unexpected progress %+v", st.Progress)
	}
	data, _ := json.Marshal(st)
	if !strings.Contains(string(data), `"state":"ready"`) {
		t.Fatalf("expected state to marshal as text, got %s", data)
	}

	if err := s.Build(ctx, testBuild); !errors.Is(err, ErrAlreadyBuilt) {
		t.Fatalf("expected ErrAlreadyBuilt, got %v", err)
	}
	if _, err := s.Ask(ctx, " "); !errors.Is(err, ErrEmptyQuestion) {
		t.Fatalf("expected ErrEmptyQuestion, got %v", err)
	}
}

func TestBuildFailures(t *testing.T) {
	boom := errors.New("arxiv down")
	tests := []struct {
		name  string
		f     *staticFetcher
		cfg   BuildConfig
		stage string
		want  error
	}{
		{"fetch", &staticFetcher{err: boom}, testBuild, StageFetch, boom},
		{"chunk", &staticFetcher{docs: fixtureDocs()}, BuildConfig{Query: "q", MaxResults: 1, ChunkSize: 5, Overlap: 5}, StageChunk, chunk.ErrInvalidConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, e, _, _ := newTestService(t, tt.f)
			err := s.Build(context.Background(), tt.cfg)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			var buildErr *BuildError
			if !errors.As(err, &buildErr) || buildErr.Stage != tt.stage {
				t.Fatalf("expected build error at %s, got %v", tt.stage, err)
			}
			if s.State() != StateFailed || s.Ready() {
				t.Fatalf("expected failed state, got %s", s.State())
			}
			if e.calls.Load() != 0 {
				t.Fatalf("expected no embedding calls, got %d", e.calls.Load())
			}
			if _, err := s.Ask(context.Background(), "q"); !errors.Is(err, ErrNotReady) {
				t.Fatalf("expected ErrNotReady after failure, got %v", err)
			}
			if s.Status().Error == "" {
				t.Fatal("expected build error in status")
			}
		})
	}
}

func TestStop(t *testing.T) {
	ctx := context.Background()
	s, _, a, _ := newTestService(t, &staticFetcher{docs: fixtureDocs()})
	if err := s.Build(ctx, testBuild); err != nil {
		t.Fatalf("build: %v", err)
	}

	s.Stop()
	s.Stop()
	if s.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", s.State())
	}
	if _, err := s.Ask(ctx, "q"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady after stop, got %v", err)
	}
	if a.calls.Load() != 0 {
		t.Fatalf("expected no answerer calls, got %d", a.calls.Load())
	}
}

// stopDuringFetch stops the service while its build is in flight.
type stopDuringFetch struct {
	staticFetcher
	svc *Service
}

func (f *stopDuringFetch) Fetch(ctx context.Context, query string, maxResults int) ([]common.Document, error) {
	f.svc.Stop()
	return f.staticFetcher.Fetch(ctx, query, maxResults)
}

func TestStopDuringBuild(t *testing.T) {
	ctx := context.Background()
	f := &stopDuringFetch{staticFetcher: staticFetcher{docs: fixtureDocs()}}
	s, _, a, _ := newTestService(t, f)
	f.svc = s

	if err := s.Build(ctx, testBuild); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if s.State() != StateStopped || s.Ready() {
		t.Fatalf("expected stopped, got %s", s.State())
	}
	if st := s.Status(); st.Progress.Stage == util.BuildStageReady {
		t.Fatalf("expected progress not to report ready, got %+v", st.Progress)
	}
	if _, err := s.Ask(ctx, "q"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if a.calls.Load() != 0 {
		t.Fatalf("expected no answerer calls, got %d", a.calls.Load())
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := NewService(nil, &vowelEmbedder{}, memory.NewMemoryStore(), &recordingAnswerer{}); !errors.Is(err, ErrMissingDepends) {
		t.Fatalf("expected ErrMissingDepends, got %v", err)
	}
}
