// Package store defines where segment embeddings live and how they are
// ranked against a query vector.
package store

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/paperqa/backend/pkg/common"
)

var (
	ErrLengthMismatch    = errors.New("segments and vectors differ in length")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// VectorStore holds segments with their embeddings. Search returns at most k
// hits ordered by descending cosine similarity; ties keep insertion order.
type VectorStore interface {
	Reset(ctx context.Context) error
	Insert(ctx context.Context, segments []common.Segment, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]common.ScoredSegment, error)
	Len() int
}

// Replacer is implemented by stores that can swap their whole content in one
// step. A Search running alongside Replace sees either the previous segments
// or the new ones, never a partial set.
type Replacer interface {
	Replace(ctx context.Context, segments []common.Segment, vectors [][]float32) error
}
