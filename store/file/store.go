// Package file persists the pair table as a JSON document on disk.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/xraph/bridge/pair"
)

// compile-time interface check
var _ pair.Store = (*Store)(nil)

// Store reads and writes pairs from a single JSON file. Writes go to a
// temporary file first and are renamed into place, so readers never see a
// partial document.
type Store struct {
	path string
	mu   sync.Mutex
}

// New creates a store for path. The file need not exist yet.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the file path.
func (s *Store) Path() string { return s.path }

// LoadPairs reads the file. A missing or empty file yields no pairs.
func (s *Store) LoadPairs(_ context.Context) ([]pair.Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("bridge/file: read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var pairs []pair.Pair
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, fmt.Errorf("bridge/file: decode %s: %w", s.path, err)
	}
	return pairs, nil
}

// SavePairs replaces the file contents.
func (s *Store) SavePairs(_ context.Context, pairs []pair.Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pairs == nil {
		pairs = []pair.Pair{}
	}
	data, err := json.MarshalIndent(pairs, "", "  ")
	if err != nil {
		return fmt.Errorf("bridge/file: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("bridge/file: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("bridge/file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("bridge/file: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("bridge/file: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("bridge/file: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("bridge/file: rename: %w", err)
	}
	return nil
}
