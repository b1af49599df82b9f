package namespace

import (
	"os"
	"path/filepath"
	"testing"

	paqerrors "github.com/conneroisu/paq/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	root := filepath.FromSlash("/project/src")

	tests := []struct {
		name      string
		rel       string
		namespace string
		topLevel  bool
	}{
		{"nested top-level", "foo/bar/_Baz.js", "foo.bar.Baz", true},
		{"nested namespaced", "foo/bar/Baz.js", "foo.bar.Baz", false},
		{"root namespaced", "Baz.js", "Baz", false},
		{"root top-level", "_App.js", "App", true},
		{"all markers stripped", "util/___Init.js", "util.Init", true},
		{"coffee", "view/Widget.coffee", "view.Widget", false},
		{"inner underscore kept", "a/my_mod.js", "a.my_mod", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := filepath.Join(root, filepath.FromSlash(tt.rel))
			res, ok, err := Resolve(file, root)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tt.namespace, res.Namespace)
			assert.Equal(t, tt.topLevel, res.TopLevel)
			assert.Equal(t, tt.rel, res.DisplayName)
		})
	}
}

func TestResolveExcludesOtherExtensions(t *testing.T) {
	root := filepath.FromSlash("/project/src")
	for _, rel := range []string{"README.md", "styles/site.css", "Makefile", "x.json"} {
		t.Run(rel, func(t *testing.T) {
			_, ok, err := Resolve(filepath.Join(root, rel), root)
			assert.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestResolveOutsideRoot(t *testing.T) {
	_, _, err := Resolve(filepath.FromSlash("/elsewhere/A.js"), filepath.FromSlash("/project/src"))
	assert.Error(t, err)
}

func TestResolveBareDotfile(t *testing.T) {
	root := filepath.FromSlash("/project/src")

	res, ok, err := Resolve(filepath.Join(root, ".js"), root)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ".js", res.Namespace)
	assert.False(t, res.TopLevel)

	res, ok, err = Resolve(filepath.Join(root, "lib", ".hidden.js"), root)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "lib..hidden", res.Namespace)
}

func TestExt(t *testing.T) {
	assert.Equal(t, ".js", ext("a/b.js"))
	assert.Equal(t, "", ext(".js"))
	assert.Equal(t, ".js", ext("lib/.a.js"))
	assert.Equal(t, "", ext("a/README"))
}

func TestAccepts(t *testing.T) {
	assert.True(t, Accepts("a/b.js"))
	assert.True(t, Accepts("a/b.coffee"))
	assert.True(t, Accepts(".js"))
	assert.False(t, Accepts("a/b.ts"))
	assert.False(t, Accepts("a/js"))
}

func TestLoad(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "utils"), 0o755))
	path := filepath.Join(root, "utils", "Helper.js")
	require.NoError(t, os.WriteFile(path, []byte("b"), 0o644))

	file, ok, err := Load(path, root)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "utils.Helper", file.Namespace)
	assert.False(t, file.TopLevel)
	assert.Equal(t, "b", file.Content)
	assert.Equal(t, ".js", file.Ext)
	assert.True(t, filepath.IsAbs(file.Path))
}

func TestLoadSkipsAndFailures(t *testing.T) {
	root := t.TempDir()

	txt := filepath.Join(root, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("x"), 0o644))
	_, ok, err := Load(txt, root)
	assert.NoError(t, err)
	assert.False(t, ok)

	_, _, err = Load(filepath.Join(root, "Gone.js"), root)
	require.Error(t, err)
	assert.True(t, paqerrors.IsIOError(err))
}
