// Package chunk splits documents into overlapping fixed-size segments.
package chunk

import (
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/paperqa/backend/pkg/common"
)

const (
	DefaultChunkSize = 500
	DefaultOverlap   = 50
)

var (
	ErrInvalidConfiguration = errors.New("invalid chunk configuration")
	ErrEmptyInput           = errors.New("no documents to split")
)

// Split cuts every document into windows of size runes, each starting
// size-overlap runes after the previous one. The last window of a document
// may be shorter. Segments keep the document order, then position order.
func Split(docs []common.Document, size, overlap int) ([]common.Segment, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", ErrInvalidConfiguration, size, overlap)
	}
	if len(docs) == 0 {
		return nil, ErrEmptyInput
	}

	var segments []common.Segment
	for _, doc := range docs {
		segments = append(segments, splitDocument(doc, size, overlap)...)
	}
	return segments, nil
}

func splitDocument(doc common.Document, size, overlap int) []common.Segment {
	runes := []rune(doc.Text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	step := size - overlap
	segments := make([]common.Segment, 0, n/step+1)
	for start := 0; ; start += step {
		end := min(start+size, n)
		pos := len(segments)
		segments = append(segments, common.Segment{
			ID:       common.SegmentID(doc.Source, pos),
			Source:   doc.Source,
			Title:    doc.Title,
			Authors:  doc.Authors,
			Position: pos,
			Text:     string(runes[start:end]),
		})
		if end == n {
			break
		}
	}
	return segments
}

// Splitter holds a validated window configuration.
type Splitter struct {
	size    int
	overlap int
}

type Option func(*Splitter)

func WithChunkSize(size int) Option {
	return func(s *Splitter) {
		s.size = size
	}
}

func WithOverlap(overlap int) Option {
	return func(s *Splitter) {
		s.overlap = overlap
	}
}

// NewSplitter returns a Splitter, rejecting invalid windows up front.
func NewSplitter(opts ...Option) (*Splitter, error) {
	s := &Splitter{size: DefaultChunkSize, overlap: DefaultOverlap}
	for _, opt := range opts {
		opt(s)
	}
	if s.size <= 0 || s.overlap < 0 || s.overlap >= s.size {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", ErrInvalidConfiguration, s.size, s.overlap)
	}
	return s, nil
}

func (s *Splitter) Split(docs []common.Document) ([]common.Segment, error) {
	return Split(docs, s.size, s.overlap)
}

func (s *Splitter) ChunkSize() int { return s.size }
func (s *Splitter) Overlap() int   { return s.overlap }
