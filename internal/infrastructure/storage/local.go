package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

type LocalStorage struct {
	basePath string
}

var _ BlobStore = (*LocalStorage)(nil)

func NewLocalStorage(basePath string) (*LocalStorage, error) {
	storage := &LocalStorage{
		basePath: basePath,
	}

	if err := os.MkdirAll(storage.basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}

	return storage, nil
}

func (s *LocalStorage) Save(_ context.Context, name string, data []byte) (string, error) {
	ref, err := ContentRef(name, data)
	if err != nil {
		return "", err
	}

	fullPath := s.path(ref)
	if _, err := os.Stat(fullPath); err == nil {
		return ref, nil
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create shard directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create destination file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to save file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to save file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return "", fmt.Errorf("failed to save file: %w", err)
	}

	return ref, nil
}

func (s *LocalStorage) Fetch(_ context.Context, ref string) ([]byte, error) {
	if err := validateRef(ref); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(ref))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

func (s *LocalStorage) FileExists(ref string) bool {
	if validateRef(ref) != nil {
		return false
	}
	_, err := os.Stat(s.path(ref))
	return err == nil
}

// path shards blobs by the first two hex digits.
func (s *LocalStorage) path(ref string) string {
	return filepath.Join(s.basePath, ref[:2], ref)
}
