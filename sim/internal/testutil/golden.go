package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// RepoPath resolves a path relative to the repository root.
// The root is found relative to this source file: sim/internal/testutil/ → ../../..
func RepoPath(t testing.TB, elem ...string) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	parts := append([]string{filepath.Dir(thisFile), "..", "..", ".."}, elem...)
	return filepath.Join(parts...)
}

// WriteTemp writes content to a file named name in a fresh temp dir and
// returns its path.
func WriteTemp(t testing.TB, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
	return path
}
