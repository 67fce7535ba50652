package store

import (
	"fmt"
	"math"
)

// ChunkRange calls fn for consecutive [start, end) windows of chunkSize
// covering total. A non-positive chunkSize means a single window.
func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

// CosineSimilarity returns the cosine of the angle between a and b. Zero
// vectors have similarity 0 with everything.
func CosineSimilarity(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb))), nil
}

// CheckVectors validates that vectors line up with n segments and share a
// single dimension, which it returns.
func CheckVectors(n int, vectors [][]float32) (int, error) {
	if n != len(vectors) {
		return 0, fmt.Errorf("%w: %d segments, %d vectors", ErrLengthMismatch, n, len(vectors))
	}
	if n == 0 {
		return 0, nil
	}
	dim := len(vectors[0])
	if dim == 0 {
		return 0, fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}
	for i, v := range vectors {
		if len(v) != dim {
			return 0, fmt.Errorf("%w: vector %d has %d dimensions, want %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}
	return dim, nil
}
