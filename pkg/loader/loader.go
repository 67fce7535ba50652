package loader

import (
	"context"
	"errors"
)

var (
	ErrEmptyText   = errors.New("no text could be extracted")
	ErrTooLarge    = errors.New("file exceeds size limit")
	ErrUnavailable = errors.New("file unavailable")
)

// File identifies a remote file to load. ID is stable across runs (the
// arXiv identifier for papers) and URL is where the bytes live.
type File struct {
	ID  string
	URL string
}

// FileLoader returns the content of a file. Byte loaders return the raw
// file, format loaders like the PDF loader wrap a byte loader and return
// extracted text.
type FileLoader interface {
	GetFileText(ctx context.Context, file File) ([]byte, error)
}

// CacheKey returns the key used by loaders that memoize results.
func CacheKey(file File) string {
	return file.ID + ":" + file.URL
}
