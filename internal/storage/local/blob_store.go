// Package local implements a local filesystem blob store.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root directory where archived content is stored.
	BaseDir string `mapstructure:"base_dir"`
}

// BlobStore writes artifacts to the local filesystem.
type BlobStore struct {
	baseDir string
}

// New creates a new local filesystem-backed blob store.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}
	return &BlobStore{baseDir: cfg.BaseDir}, nil
}

// PutObject writes data to a file under the base directory and returns a
// file:// URI. Paths escaping the base directory are rejected.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}

	fullPath := filepath.Join(s.baseDir, path)
	cleanBase := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o600); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return fmt.Sprintf("file://%s", fullPath), nil
}
