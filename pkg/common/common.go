package common

import (
	"fmt"
	"time"
)

// Document represents one source paper fetched from the archive. It carries
// the bibliographic metadata that every derived Segment copies, along with
// the full extracted text.
//
// Source is the canonical URL of the paper and is the identity used for
// citation deduplication. Documents are immutable once fetched.
type Document struct {
	Source    string    `json:"source"`
	Title     string    `json:"title"`
	Authors   []string  `json:"authors"`
	Published time.Time `json:"published"`
	Summary   string    `json:"summary,omitempty"`
	Text      string    `json:"text"`
}

// Segment represents a contiguous slice of a Document's text. Segments are
// the unit of embedding and retrieval.
//
// Position is the zero-based index of the segment within its Document and
// ID is derived from Source and Position, so splitting the same Document
// twice yields the same IDs.
type Segment struct {
	ID       string   `json:"id"`
	Source   string   `json:"source"`
	Title    string   `json:"title"`
	Authors  []string `json:"authors"`
	Position int      `json:"position"`
	Text     string   `json:"text"`
}

// SegmentID builds the identifier for the segment at position within source.
func SegmentID(source string, position int) string {
	return fmt.Sprintf("%s#%d", source, position)
}

// ScoredSegment is a retrieval hit. Higher scores are more similar.
type ScoredSegment struct {
	Segment
	Score float32 `json:"score"`
}

// Citation is the per-source summary returned next to an answer.
type Citation struct {
	Title   string   `json:"title"`
	Authors []string `json:"authors"`
	Source  string   `json:"source"`
}

// Answer pairs the generated text with the deduplicated sources it was
// grounded on.
type Answer struct {
	Text    string     `json:"answer"`
	Sources []Citation `json:"sources"`
}
