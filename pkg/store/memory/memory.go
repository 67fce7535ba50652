// Package memory is an in-process VectorStore using brute-force cosine
// similarity.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/OFFIS-RIT/paperqa/backend/pkg/common"
	"github.com/OFFIS-RIT/paperqa/backend/pkg/store"
)

type entry struct {
	segment common.Segment
	vector  []float32
}

type MemoryStore struct {
	mu      sync.RWMutex
	entries []entry
	dim     int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.dim = 0
	return nil
}

func (s *MemoryStore) Insert(ctx context.Context, segments []common.Segment, vectors [][]float32) error {
	dim, err := store.CheckVectors(len(segments), vectors)
	if err != nil {
		return err
	}
	if dim == 0 {
		return nil
	}
	added := toEntries(segments, vectors)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dim != 0 && s.dim != dim {
		return fmt.Errorf("%w: store has %d dimensions, got %d", store.ErrDimensionMismatch, s.dim, dim)
	}
	s.dim = dim
	s.entries = append(s.entries, added...)
	return nil
}

// Replace swaps the content under a single write lock.
func (s *MemoryStore) Replace(ctx context.Context, segments []common.Segment, vectors [][]float32) error {
	dim, err := store.CheckVectors(len(segments), vectors)
	if err != nil {
		return err
	}
	entries := toEntries(segments, vectors)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = entries
	s.dim = dim
	return nil
}

func toEntries(segments []common.Segment, vectors [][]float32) []entry {
	out := make([]entry, len(segments))
	for i := range segments {
		out[i] = entry{segment: segments[i], vector: slices.Clone(vectors[i])}
	}
	return out
}

func (s *MemoryStore) Search(ctx context.Context, query []float32, k int) ([]common.ScoredSegment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 || len(s.entries) == 0 {
		return nil, nil
	}
	if len(query) != s.dim {
		return nil, fmt.Errorf("%w: store has %d dimensions, query has %d", store.ErrDimensionMismatch, s.dim, len(query))
	}

	hits := make([]common.ScoredSegment, 0, len(s.entries))
	for _, e := range s.entries {
		score, err := store.CosineSimilarity(query, e.vector)
		if err != nil {
			return nil, err
		}
		hits = append(hits, common.ScoredSegment{Segment: e.segment, Score: score})
	}

	slices.SortStableFunc(hits, func(a, b common.ScoredSegment) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})

	return hits[:min(k, len(hits))], nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

var (
	_ store.VectorStore = (*MemoryStore)(nil)
	_ store.Replacer    = (*MemoryStore)(nil)
)
