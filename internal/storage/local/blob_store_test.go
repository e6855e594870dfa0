// Package local_test tests the local filesystem blob store.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regwatch/regwatch/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		tempDir := t.TempDir()
		cfg := local.Config{BaseDir: tempDir}
		store, err := local.New(cfg)
		require.NoError(t, err)
		assert.NotNil(t, store)
	})
	t.Run("MissingBaseDir", func(t *testing.T) {
		cfg := local.Config{}
		_, err := local.New(cfg)
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		tempFile, err := os.CreateTemp("", "testfile")
		require.NoError(t, err)
		t.Cleanup(func() {
			removeErr := os.Remove(tempFile.Name())
			if removeErr != nil && !os.IsNotExist(removeErr) {
				t.Fatalf("failed to remove temp file: %v", removeErr)
			}
		})

		cfg := local.Config{BaseDir: tempFile.Name()}
		_, err = local.New(cfg)
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	tempDir := t.TempDir()
	cfg := local.Config{BaseDir: tempDir}
	store, err := local.New(cfg)
	require.NoError(t, err)

	t.Run("ValidPut", func(t *testing.T) {
		path := "raw/src-1/20250101_000000.html"
		data := []byte("<html>hello</html>")
		uri, err := store.PutObject(context.Background(), path, "text/html", data)
		require.NoError(t, err)

		expectedURI := "file://" + filepath.Join(tempDir, path)
		assert.Equal(t, expectedURI, uri)

		// #nosec G304 -- test reads from the controlled temp directory.
		readData, err := os.ReadFile(filepath.Join(tempDir, path))
		require.NoError(t, err)
		assert.Equal(t, data, readData)
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "", "text/html", []byte("data"))
		assert.Error(t, err)
	})

	t.Run("PathTraversalRejected", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "../outside.html", "text/html", []byte("data"))
		assert.Error(t, err)
	})
}
