// Package source turns an archive query into full-text documents.
package source

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"

	"github.com/OFFIS-RIT/paperqa/backend/internal/storage"
	"github.com/OFFIS-RIT/paperqa/backend/internal/util"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/arxiv"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/common"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/loader"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/logger"

	"golang.org/x/sync/errgroup"
)

const DefaultParallelism = 4

var (
	ErrInvalidQuery     = errors.New("query must not be empty")
	ErrInvalidParameter = errors.New("max results must be positive")
	ErrNoResults        = errors.New("no documents could be fetched")
)

// FetchError reports a fetch that produced no usable documents.
type FetchError struct {
	Query string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %q: %v", e.Query, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Searcher yields archive entries in rank order.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) iter.Seq2[arxiv.Entry, error]
}

type Fetcher struct {
	search   Searcher
	files    loader.FileLoader
	cache    storage.Store
	parallel int
	progress func(done, total int)
}

type Option func(*Fetcher)

// WithCache stores fetched documents under arxiv:<id> and serves later
// fetches from it.
func WithCache(cache storage.Store) Option {
	return func(f *Fetcher) {
		f.cache = cache
	}
}

func WithParallelism(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.parallel = n
		}
	}
}

// WithProgress is called whenever a paper finishes, whether it was kept or
// skipped.
func WithProgress(fn func(done, total int)) Option {
	return func(f *Fetcher) {
		f.progress = fn
	}
}

// NewFetcher combines a searcher with a loader that returns extracted text,
// usually a pdf.PDFLoader over a web.WebLoader.
func NewFetcher(search Searcher, files loader.FileLoader, opts ...Option) *Fetcher {
	f := &Fetcher{
		search:   search,
		files:    files,
		parallel: DefaultParallelism,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func CacheKey(id string) string {
	return "arxiv:" + id
}

// Fetch searches for query and downloads up to maxResults papers. Papers
// that fail to download or extract are skipped with a warning. The result
// keeps the search rank order.
func (f *Fetcher) Fetch(ctx context.Context, query string, maxResults int) ([]common.Document, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrInvalidQuery
	}
	if maxResults <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidParameter, maxResults)
	}

	entries, err := arxiv.Collect(f.search.Search(ctx, query, maxResults))
	if err != nil {
		return nil, &FetchError{Query: query, Err: err}
	}
	logger.Info("[Fetcher] Search finished", "query", query, "entries", len(entries))

	docs := make([]*common.Document, len(entries))
	var done atomic.Int32

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(f.parallel)
	for i, entry := range entries {
		eg.Go(func() error {
			defer func() {
				n := done.Add(1)
				if f.progress != nil {
					f.progress(int(n), len(entries))
				}
			}()

			doc, err := f.fetchOne(gctx, entry)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Warn("[Fetcher] Skipping paper", "id", entry.ID, "err", err)
				return nil
			}
			docs[i] = doc
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, &FetchError{Query: query, Err: err}
	}

	out := make([]common.Document, 0, len(docs))
	for _, d := range docs {
		if d != nil {
			out = append(out, *d)
		}
	}
	if len(out) == 0 {
		return nil, &FetchError{Query: query, Err: ErrNoResults}
	}

	logger.Info("[Fetcher] Fetched documents", "query", query, "documents", len(out), "skipped", len(entries)-len(out))
	return out, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, entry arxiv.Entry) (*common.Document, error) {
	key := CacheKey(entry.ID)
	if f.cache != nil {
		var cached common.Document
		ok, err := storage.GetJSON(ctx, f.cache, key, &cached)
		if err != nil {
			logger.Warn("[Fetcher] Cache read failed", "key", key, "err", err)
		} else if ok && cached.Text != "" {
			logger.Debug("[Fetcher] Cache hit", "key", key)
			return &cached, nil
		}
	}

	raw, err := f.files.GetFileText(ctx, loader.File{ID: entry.ID, URL: entry.PDFURL})
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(util.SanitizeText(string(raw)))
	if text == "" {
		return nil, loader.ErrEmptyText
	}

	doc := &common.Document{
		Source:    entry.AbsURL(),
		Title:     entry.Title,
		Authors:   entry.Authors,
		Published: entry.Published,
		Summary:   entry.Summary,
		Text:      text,
	}

	if f.cache != nil {
		if err := storage.SetJSON(ctx, f.cache, key, doc); err != nil {
			logger.Warn("[Fetcher] Cache write failed", "key", key, "err", err)
		}
	}
	return doc, nil
}
