// Package testutil provides testing utilities for boltkit tests: work
// directory fixtures and a fake of the remote execution service.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// SetupWorkDir creates a temporary work directory populated with files.
// The files map contains relative paths to file contents. The directory is
// removed when the test completes.
func SetupWorkDir(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for path, content := range files {
		fullPath := filepath.Join(dir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
			t.Fatalf("failed to create directory for %s: %v", path, err)
		}
		if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write file %s: %v", path, err)
		}
	}
	return dir
}

// ReadFile reads a file below dir, failing the test on error.
func ReadFile(t *testing.T, dir, path string) string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(path)))
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}
