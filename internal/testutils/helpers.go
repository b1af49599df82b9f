package testutils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// StandardSources is the smallest project exercising both kinds of block: a
// top-level file and a namespaced module one directory down.
var StandardSources = map[string]string{
	"_App.js":         "a",
	"utils/Helper.js": "b",
}

// CreateTempProject writes files, keyed by slash-separated paths relative to
// a new src directory, and returns the temp directory and the src directory.
func CreateTempProject(t *testing.T, files map[string]string) (dir, src string) {
	t.Helper()

	dir = t.TempDir()
	src = filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(src, 0o755))

	for rel, content := range files {
		CreateSourceFile(t, src, rel, content)
	}

	return dir, src
}

// CreateSourceFile writes content to dir/rel, creating parent directories.
func CreateSourceFile(t *testing.T, dir, rel, content string) string {
	t.Helper()

	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// ReadFile returns the content of path.
func ReadFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// AssertFilePermissions checks the permission bits of path.
func AssertFilePermissions(t *testing.T, path string, expectedMode os.FileMode) {
	t.Helper()

	info, err := os.Stat(path)
	require.NoError(t, err)

	actualMode := info.Mode()
	require.Equal(t, expectedMode, actualMode&os.FileMode(0o777),
		"File %s has incorrect permissions: got %o, want %o",
		path, actualMode&os.FileMode(0o777), expectedMode)
}

// WaitForFileContent waits until path exists and contains substr (useful for
// testing rebuilds triggered by the watcher).
func WaitForFileContent(t *testing.T, path, substr string, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && strings.Contains(string(data), substr) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("File %s did not contain %q within %v", path, substr, timeout)
}
