package source

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OFFIS-RIT/paperqa/backend/internal/storage"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/arxiv"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/loader"
)

type fakeSearcher struct {
	calls   atomic.Int32
	entries []arxiv.Entry
	err     error
}

func (s *fakeSearcher) Search(ctx context.Context, query string, maxResults int) iter.Seq2[arxiv.Entry, error] {
	s.calls.Add(1)
	return func(yield func(arxiv.Entry, error) bool) {
		if s.err != nil {
			yield(arxiv.Entry{}, s.err)
			return
		}
		for i, e := range s.entries {
			if i >= maxResults || !yield(e, nil) {
				return
			}
		}
	}
}

// fakeFiles returns "text of <id>" unless the id is listed in fail or
// empty. Earlier ids sleep longer so completion order is reversed.
type fakeFiles struct {
	mu    sync.Mutex
	calls int
	fail  map[string]bool
	empty map[string]bool
}

func (f *fakeFiles) GetFileText(ctx context.Context, file loader.File) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	var n int
	fmt.Sscanf(file.ID, "p%d", &n)
	time.Sleep(time.Duration(10-n) * time.Millisecond)

	switch {
	case f.fail[file.ID]:
		return nil, loader.ErrUnavailable
	case f.empty[file.ID]:
		return []byte("  \x00 "), nil
	}
	return []byte("text of " + file.ID), nil
}

func entries(n int) []arxiv.Entry {
	out := make([]arxiv.Entry, 0, n)
	for i := range n {
		id := fmt.Sprintf("p%d", i)
		out = append(out, arxiv.Entry{
			ID:      id,
			Title:   "Title " + id,
			Authors: []string{"Author " + id},
			PDFURL:  "https://arxiv.org/pdf/" + id,
		})
	}
	return out
}

func TestFetchValidatesBeforeSearching(t *testing.T) {
	s := &fakeSearcher{entries: entries(1)}
	f := NewFetcher(s, &fakeFiles{})

	if _, err := f.Fetch(context.Background(), "   ", 3); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
	if _, err := f.Fetch(context.Background(), "interpretability", 0); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
	if s.calls.Load() != 0 {
		t.Fatalf("expected no search calls, got %d", s.calls.Load())
	}
}

func TestFetchKeepsRankOrderAndSkipsFailures(t *testing.T) {
	files := &fakeFiles{
		fail:  map[string]bool{"p1": true},
		empty: map[string]bool{"p3": true},
	}

	var mu sync.Mutex
	var progress []int
	f := NewFetcher(&fakeSearcher{entries: entries(6)}, files,
		WithParallelism(3),
		WithProgress(func(done, total int) {
			mu.Lock()
			defer mu.Unlock()
			if total != 5 {
				t.Errorf("expected total 5, got %d", total)
			}
			progress = append(progress, done)
		}),
	)

	docs, err := f.Fetch(context.Background(), "interpretability", 5)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	want := []string{"p0", "p2", "p4"}
	if len(docs) != len(want) {
		t.Fatalf("expected %d documents, got %d", len(want), len(docs))
	}
	for i, id := range want {
		if docs[i].Source != "https://arxiv.org/abs/"+id {
			t.Fatalf("document %d: expected %s, got %s", i, id, docs[i].Source)
		}
		if docs[i].Text != "text of "+id || docs[i].Title != "Title "+id {
			t.Fatalf("document %d has unexpected content %+v", i, docs[i])
		}
	}
	if len(progress) != 5 {
		t.Fatalf("expected 5 progress updates, got %v", progress)
	}
}

func TestFetchNoResults(t *testing.T) {
	tests := []struct {
		name     string
		searcher *fakeSearcher
		files    *fakeFiles
		want     error
	}{
		{"empty search", &fakeSearcher{}, &fakeFiles{}, ErrNoResults},
		{"all downloads fail", &fakeSearcher{entries: entries(2)}, &fakeFiles{fail: map[string]bool{"p0": true, "p1": true}}, ErrNoResults},
		{"search error", &fakeSearcher{err: arxiv.ErrRateLimited}, &fakeFiles{}, arxiv.ErrRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFetcher(tt.searcher, tt.files).Fetch(context.Background(), "q", 2)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			var fetchErr *FetchError
			if !errors.As(err, &fetchErr) || fetchErr.Query != "q" {
				t.Fatalf("expected *FetchError for q, got %v", err)
			}
		})
	}
}

func TestFetchUsesCache(t *testing.T) {
	cache, err := storage.OpenFileStore(filepath.Join(t.TempDir(), "docs.gob"))
	if err != nil {
		t.Fatal(err)
	}
	files := &fakeFiles{}
	f := NewFetcher(&fakeSearcher{entries: entries(2)}, files, WithCache(cache))

	if _, err := f.Fetch(context.Background(), "q", 2); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if files.calls != 2 || cache.Len() != 2 {
		t.Fatalf("expected 2 downloads and 2 cached docs, got %d and %d", files.calls, cache.Len())
	}

	docs, err := f.Fetch(context.Background(), "q", 2)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if files.calls != 2 {
		t.Fatalf("expected cached fetch to skip downloads, got %d calls", files.calls)
	}
	if len(docs) != 2 || docs[1].Text != "text of p1" {
		t.Fatalf("unexpected cached docs %+v", docs)
	}
}

func TestFetchWithArxivClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
<entry>
  <id>http://arxiv.org/abs/2401.00007v2</id>
  <published>2024-01-07T00:00:00Z</published>
  <title>Sparse Autoencoders</title>
  <summary>Features.</summary>
  <author><name>Ada Lovelace</name></author>
  <link title="pdf" href="http://arxiv.org/pdf/2401.00007v2" rel="related" type="application/pdf"/>
</entry>
</feed>`))
	}))
	defer srv.Close()

	client := arxiv.NewClient(arxiv.WithBaseURL(srv.URL), arxiv.WithLimiter(arxiv.NewLimiter(0)))
	f := NewFetcher(client, &fakeFiles{})

	docs, err := f.Fetch(context.Background(), "sparse autoencoders", 5)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	d := docs[0]
	if d.Source != "https://arxiv.org/abs/2401.00007v2" || d.Title != "Sparse Autoencoders" || d.Authors[0] != "Ada Lovelace" {
		t.Fatalf("unexpected document %+v", d)
	}
	if d.Published.IsZero() {
		t.Fatal("expected published date to be parsed")
	}
}
