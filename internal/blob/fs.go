package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FSStore writes blobs under a base directory, one subdirectory per tenant.
type FSStore struct {
	baseDir string
}

func NewFS(baseDir string) (*FSStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("blob base directory required")
	}
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &FSStore{baseDir: baseDir}, nil
}

func (s *FSStore) Put(_ context.Context, tenantID, filename string, data []byte) (string, error) {
	if tenantID == "" {
		return "", fmt.Errorf("tenant id required")
	}
	dir := filepath.Join(s.baseDir, tenantID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	// Random prefix keeps same-named uploads from clobbering each other.
	name := uuid.NewString() + "-" + filepath.Base(filename)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", err
	}
	return path, nil
}

func (s *FSStore) Get(_ context.Context, path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (s *FSStore) Delete(_ context.Context, path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
