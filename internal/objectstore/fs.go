package objectstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FSStore implements Store on the local filesystem, for development and
// tests.
type FSStore struct {
	BaseDir string
}

// NewFSStore creates a filesystem-backed store rooted at baseDir.
func NewFSStore(baseDir string) *FSStore {
	return &FSStore{BaseDir: baseDir}
}

// Get reads the object at ref, interpreted relative to the base directory.
func (s *FSStore) Get(_ context.Context, ref string) ([]byte, error) {
	path := filepath.Join(s.BaseDir, filepath.Clean(ref))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", ref, err)
	}
	return data, nil
}

// Put writes data under key relative to the base directory.
func (s *FSStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	path := filepath.Join(s.BaseDir, filepath.Clean(key))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create object directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write object %s: %w", key, err)
	}
	return key, nil
}
