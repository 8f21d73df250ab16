package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileImageStore persists product images under a flat directory.
type FileImageStore struct {
	dir string
}

// NewFileImageStore ensures the directory exists and returns the store.
func NewFileImageStore(dir string) (*FileImageStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("catalog: create image dir: %w", err)
	}
	return &FileImageStore{dir: dir}, nil
}

// Save writes the image bytes and returns the stored path.
func (s *FileImageStore) Save(_ context.Context, name string, data []byte) (string, error) {
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("catalog: write image: %w", err)
	}
	return path, nil
}
