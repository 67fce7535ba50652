package storage

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps the whole map in memory and rewrites it to a single gob
// file on every change.
type FileStore struct {
	path string

	mu   sync.RWMutex
	data map[string][]byte
}

// OpenFileStore loads path if it exists, otherwise starts empty. The parent
// directory is created on first save.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path: path,
		data: make(map[string][]byte),
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}
	defer f.Close()

	if err := gob.NewDecoder(f).Decode(&s.data); err != nil {
		return nil, fmt.Errorf("decoding store %s: %w", path, err)
	}
	return s, nil
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *FileStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return s.saveLocked()
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	return s.saveLocked()
}

// Len returns the number of keys.
func (s *FileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// saveLocked writes to a temp file next to the target and renames it so a
// crash never leaves a truncated store behind.
func (s *FileStore) saveLocked() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating store dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".store-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp store: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := gob.NewEncoder(tmp).Encode(s.data); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing store: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replacing store: %w", err)
	}
	return nil
}
