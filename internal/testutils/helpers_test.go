package testutils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTempProject(t *testing.T) {
	dir, src := CreateTempProject(t, StandardSources)

	assert.Equal(t, filepath.Join(dir, "src"), src)
	assert.Equal(t, "a", ReadFile(t, filepath.Join(src, "_App.js")))
	assert.Equal(t, "b", ReadFile(t, filepath.Join(src, "utils", "Helper.js")))
	AssertFilePermissions(t, filepath.Join(src, "_App.js"), 0o644)
}

func TestCreateTempProjectEmpty(t *testing.T) {
	_, src := CreateTempProject(t, nil)

	entries, err := os.ReadDir(src)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWaitForFileContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "late.js")

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = os.WriteFile(path, []byte("define('late'"), 0o644)
	}()

	WaitForFileContent(t, path, "define('late'", time.Second)
}
