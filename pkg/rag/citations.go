package rag

import "github.com/OFFIS-RIT/paperqa/backend/pkg/common"

// DedupeCitations returns one citation per distinct Source in first-seen
// order. Title and authors come from the first segment of each source.
func DedupeCitations(segments []common.Segment) []common.Citation {
	seen := make(map[string]struct{}, len(segments))
	out := make([]common.Citation, 0, len(segments))
	for _, s := range segments {
		if _, ok := seen[s.Source]; ok {
			continue
		}
		seen[s.Source] = struct{}{}
		authors := s.Authors
		if authors == nil {
			authors = []string{}
		}
		out = append(out, common.Citation{
			Title:   s.Title,
			Authors: authors,
			Source:  s.Source,
		})
	}
	return out
}
