package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/metal-price-cache/internal/types"
)

// FileSnapshotStore keeps the snapshot in a single local JSON file
type FileSnapshotStore struct {
	path string
}

// NewFileSnapshotStore creates a file-backed store
func NewFileSnapshotStore(path string) *FileSnapshotStore {
	return &FileSnapshotStore{path: path}
}

// Name returns the store name
func (s *FileSnapshotStore) Name() string {
	return "file"
}

// Path returns the cache file location
func (s *FileSnapshotStore) Path() string {
	return s.path
}

// Load reads the cache file. A missing file is not an error.
func (s *FileSnapshotStore) Load(ctx context.Context) (*types.PriceSnapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	snapshot, err := decodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	return snapshot, nil
}

// Save overwrites the cache file atomically via a temp file and rename
func (s *FileSnapshotStore) Save(ctx context.Context, snapshot *types.PriceSnapshot) error {
	data, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}
