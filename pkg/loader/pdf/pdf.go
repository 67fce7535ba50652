package pdf

import (
	"context"
	"sync"

	"github.com/OFFIS-RIT/paperqa/backend/pkg/loader"

	"golang.org/x/sync/singleflight"
)

// PDFLoader loads PDF files through an underlying byte loader and extracts
// their text content.
type PDFLoader struct {
	loader  loader.FileLoader
	tempDir string

	cache   map[string][]byte
	cacheMu sync.RWMutex
	group   singleflight.Group
}

type Option func(*PDFLoader)

// WithTempDir sets where downloaded PDFs are staged for parsing. The
// default is os.TempDir().
func WithTempDir(dir string) Option {
	return func(l *PDFLoader) {
		l.tempDir = dir
	}
}

// NewPDFLoader creates a PDF loader that reads raw bytes from base.
func NewPDFLoader(base loader.FileLoader, opts ...Option) *PDFLoader {
	l := &PDFLoader{
		loader: base,
		cache:  make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// GetFileText extracts text from a PDF file. Results are cached per file
// and concurrent loads of the same file share one download.
func (l *PDFLoader) GetFileText(ctx context.Context, file loader.File) ([]byte, error) {
	key := loader.CacheKey(file)

	l.cacheMu.RLock()
	if cached, ok := l.cache[key]; ok {
		l.cacheMu.RUnlock()
		return cached, nil
	}
	l.cacheMu.RUnlock()

	result, err, _ := l.group.Do(key, func() (any, error) {
		l.cacheMu.RLock()
		if cached, ok := l.cache[key]; ok {
			l.cacheMu.RUnlock()
			return cached, nil
		}
		l.cacheMu.RUnlock()

		content, err := l.loader.GetFileText(ctx, file)
		if err != nil {
			return nil, err
		}

		text, err := parsePDF(content, l.tempDir)
		if err != nil {
			return nil, err
		}

		l.cacheMu.Lock()
		l.cache[key] = text
		l.cacheMu.Unlock()

		return text, nil
	})

	if err != nil {
		return nil, err
	}

	return result.([]byte), nil
}
