// Package index embeds segments into a VectorStore and answers top-k
// similarity queries against it.
package index

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/paperqa/backend/pkg/common"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/logger"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/store"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultTopK        = 4
	DefaultBatchSize   = 64
	DefaultParallelism = 4
)

var (
	ErrEmptyInput         = errors.New("no segments to index")
	ErrUninitializedIndex = errors.New("index is not initialized")
	ErrDimensionMismatch  = errors.New("embedding dimension mismatch")
	ErrEmbeddingCount     = errors.New("embedder returned wrong number of vectors")
	ErrEmptyQuestion      = errors.New("question is empty")
)

// Embedder turns texts into vectors, one per input and in input order.
type Embedder interface {
	GenerateEmbeddings(ctx context.Context, input []string) ([][]float32, error)
	EmbeddingModel() string
}

// BuildError wraps any failure while building an index.
type BuildError struct {
	Err error
}

func (e *BuildError) Error() string {
	return "index build failed: " + e.Err.Error()
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// Index is read-only once built.
type Index struct {
	embedder Embedder
	store    store.VectorStore
	dim      int
	size     int
	model    string
}

type buildOptions struct {
	batchSize   int
	parallelism int
	progress    func(done, total int)
}

type BuildOption func(*buildOptions)

func WithBatchSize(n int) BuildOption {
	return func(o *buildOptions) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

func WithParallelism(n int) BuildOption {
	return func(o *buildOptions) {
		if n > 0 {
			o.parallelism = n
		}
	}
}

// WithProgress is called after each embedded batch with the number of
// segments embedded so far. Calls may come from several goroutines.
func WithProgress(fn func(done, total int)) BuildOption {
	return func(o *buildOptions) {
		o.progress = fn
	}
}

// Build embeds every segment and loads the result into vs, replacing its
// previous content. Stores implementing store.Replacer swap the content in
// one step, others get Reset followed by Insert.
func Build(
	ctx context.Context,
	embedder Embedder,
	vs store.VectorStore,
	segments []common.Segment,
	opts ...BuildOption,
) (*Index, error) {
	if len(segments) == 0 {
		return nil, &BuildError{Err: ErrEmptyInput}
	}
	if embedder == nil || vs == nil {
		return nil, &BuildError{Err: errors.New("embedder and store are required")}
	}

	o := buildOptions{batchSize: DefaultBatchSize, parallelism: DefaultParallelism}
	for _, opt := range opts {
		opt(&o)
	}

	vectors, err := embedAll(ctx, embedder, segments, o)
	if err != nil {
		return nil, &BuildError{Err: err}
	}

	dim := len(vectors[0])
	if dim == 0 {
		return nil, &BuildError{Err: fmt.Errorf("%w: empty vector", ErrDimensionMismatch)}
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, &BuildError{Err: fmt.Errorf("%w: segment %s has %d dimensions, want %d",
				ErrDimensionMismatch, segments[i].ID, len(v), dim)}
		}
	}

	if r, ok := vs.(store.Replacer); ok {
		err = r.Replace(ctx, segments, vectors)
	} else if err = vs.Reset(ctx); err == nil {
		err = vs.Insert(ctx, segments, vectors)
	}
	if err != nil {
		return nil, &BuildError{Err: err}
	}

	logger.Info("[Index] Built index", "segments", len(segments), "dimensions", dim, "model", embedder.EmbeddingModel())

	return &Index{
		embedder: embedder,
		store:    vs,
		dim:      dim,
		size:     len(segments),
		model:    embedder.EmbeddingModel(),
	}, nil
}

func embedAll(ctx context.Context, embedder Embedder, segments []common.Segment, o buildOptions) ([][]float32, error) {
	vectors := make([][]float32, len(segments))
	total := len(segments)

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(o.parallelism)

	progress := make(chan int, (total+o.batchSize-1)/o.batchSize)
	err := store.ChunkRange(total, o.batchSize, func(start, end int) error {
		eg.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, s := range segments[start:end] {
				texts = append(texts, s.Text)
			}

			out, err := embedder.GenerateEmbeddings(gctx, texts)
			if err != nil {
				return fmt.Errorf("embedding segments %d-%d: %w", start, end, err)
			}
			if len(out) != len(texts) {
				return fmt.Errorf("%w: sent %d, got %d", ErrEmbeddingCount, len(texts), len(out))
			}
			copy(vectors[start:end], out)
			progress <- end - start
			return nil
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		embedded := 0
		for n := range progress {
			embedded += n
			if o.progress != nil {
				o.progress(embedded, total)
			}
		}
	}()

	err = eg.Wait()
	close(progress)
	<-done
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

// Retrieve returns up to k segments most similar to question. A
// non-positive k means DefaultTopK.
func (i *Index) Retrieve(ctx context.Context, question string, k int) ([]common.ScoredSegment, error) {
	if i == nil || i.store == nil || i.embedder == nil {
		return nil, ErrUninitializedIndex
	}
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}
	if k <= 0 {
		k = DefaultTopK
	}

	vecs, err := i.embedder.GenerateEmbeddings(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: sent 1, got %d", ErrEmbeddingCount, len(vecs))
	}
	if len(vecs[0]) != i.dim {
		return nil, fmt.Errorf("%w: index has %d dimensions, question has %d", ErrDimensionMismatch, i.dim, len(vecs[0]))
	}

	return i.store.Search(ctx, vecs[0], k)
}

func (i *Index) Len() int {
	if i == nil {
		return 0
	}
	return i.size
}

func (i *Index) Dimensions() int {
	if i == nil {
		return 0
	}
	return i.dim
}

func (i *Index) Model() string {
	if i == nil {
		return ""
	}
	return i.model
}
