// Package namespace derives the dotted module name of a source file from its
// location under a source root.
//
// A file at foo/bar/Baz.js below the root becomes the module "foo.bar.Baz".
// A leading underscore in the base name ("_Baz.js") marks the file as
// top-level: its code is emitted into the bundle without a module wrapper and
// the underscores are dropped from the name.
package namespace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	paqerrors "github.com/conneroisu/paq/internal/errors"
)

// TopLevelMarker prefixes the base name of files emitted without a wrapper.
const TopLevelMarker = '_'

// Accepted source extensions.
const (
	ExtJS     = ".js"
	ExtCoffee = ".coffee"
)

// Resolution is the name information derived from a path.
type Resolution struct {
	Namespace   string
	TopLevel    bool
	DisplayName string
}

// SourceFile is one resolved source file of a build pass.
type SourceFile struct {
	Path      string
	Ext       string
	Namespace string
	TopLevel  bool
	Content   string
}

// Accepts reports whether path has an extension that can be bundled.
func Accepts(path string) bool {
	switch extension(path) {
	case ExtJS, ExtCoffee:
		return true
	default:
		return false
	}
}

// ext is filepath.Ext except that a dot opening the base name starts a
// dotfile name, not an extension: ext(".js") is "" and ext(".a.js") is ".js".
func ext(path string) string {
	base := filepath.Base(path)
	if e := filepath.Ext(base); e != base {
		return e
	}
	return ""
}

// extension is the suffix used to accept a file. A dotfile without an
// extension is matched by its whole base name, so ".js" is accepted.
func extension(path string) string {
	if e := ext(path); e != "" {
		return e
	}
	return filepath.Base(path)
}

// Resolve derives the namespace of file relative to root. ok is false when
// the file does not carry an accepted extension.
func Resolve(file, root string) (res Resolution, ok bool, err error) {
	if !Accepts(file) {
		return Resolution{}, false, nil
	}

	rel, err := filepath.Rel(root, file)
	if err != nil {
		return Resolution{}, false, fmt.Errorf("resolving %s against %s: %w", file, root, err)
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return Resolution{}, false, fmt.Errorf("%s is outside source root %s", file, root)
	}

	base := filepath.Base(rel)
	className := strings.TrimSuffix(base, ext(base))
	topLevel := len(className) > 0 && className[0] == TopLevelMarker
	if topLevel {
		className = strings.TrimLeft(className, string(TopLevelMarker))
	}

	names := []string{className}
	if pkg := filepath.ToSlash(filepath.Dir(rel)); pkg != "." {
		names = append(strings.Split(pkg, "/"), className)
	}

	return Resolution{
		Namespace:   strings.Join(names, "."),
		TopLevel:    topLevel,
		DisplayName: rel,
	}, true, nil
}

// Load resolves file and reads its content. ok is false for files that are
// not bundled; err is an I/O error when an accepted file cannot be read.
func Load(file, root string) (SourceFile, bool, error) {
	res, ok, err := Resolve(file, root)
	if err != nil || !ok {
		return SourceFile{}, ok, err
	}

	abs, err := filepath.Abs(file)
	if err != nil {
		return SourceFile{}, false, fmt.Errorf("absolute path of %s: %w", file, err)
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return SourceFile{}, false, paqerrors.NewIOError(paqerrors.ErrCodeReadFailed, "read source", err).WithPath(abs)
	}

	return SourceFile{
		Path:      abs,
		Ext:       extension(abs),
		Namespace: res.Namespace,
		TopLevel:  res.TopLevel,
		Content:   string(content),
	}, true, nil
}
