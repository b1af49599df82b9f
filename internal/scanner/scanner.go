// Package scanner discovers the source files of a build pass.
//
// Positional arguments are either plain paths (a file or a directory that is
// descended recursively) or doublestar glob patterns such as "src/**/*.js".
// Each argument expands into a Source whose Root is the directory namespaces
// are resolved against. The scanner makes no ordering promise: bundle order is
// decided later by the aggregator.
package scanner

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	paqerrors "github.com/conneroisu/paq/internal/errors"
)

// Source is one expanded positional argument.
type Source struct {
	// Pattern is the argument as given on the command line.
	Pattern string
	// Root is the absolute directory namespaces are resolved against.
	Root string
	// WatchRoot is the absolute path the watcher installs its watches from.
	// For a plain file it is the file itself.
	WatchRoot string
	// Files holds every regular file found for the argument.
	Files []string
}

// Collect recursively lists the regular files under root. A root that is a
// regular file yields itself. Symlinks and special files are skipped.
func Collect(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, statError(root, err)
	}

	var files []string
	switch {
	case info.Mode().IsRegular():
		files = append(files, root)
	case info.IsDir():
		files, err = collectDir(root, files)
		if err != nil {
			return nil, err
		}
	}

	return files, nil
}

func collectDir(dir string, files []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, paqerrors.NewIOError(paqerrors.ErrCodeReadFailed, "read directory", err).WithPath(dir)
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		switch {
		case entry.Type().IsRegular():
			files = append(files, path)
		case entry.IsDir():
			files, err = collectDir(path, files)
			if err != nil {
				return nil, err
			}
		}
	}

	return files, nil
}

func statError(path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return paqerrors.ErrFileNotFound(path, err)
	}
	return paqerrors.NewIOError(paqerrors.ErrCodeReadFailed, "stat", err).WithPath(path)
}

// IsPattern reports whether arg contains glob metacharacters.
func IsPattern(arg string) bool {
	return strings.ContainsAny(arg, "*?[{")
}

// Expand turns one positional argument into a Source.
func Expand(arg string) (Source, error) {
	if IsPattern(arg) {
		return expandPattern(arg)
	}

	abs, err := filepath.Abs(arg)
	if err != nil {
		return Source{}, fmt.Errorf("absolute path of %s: %w", arg, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return Source{}, statError(abs, err)
	}

	files, err := Collect(abs)
	if err != nil {
		return Source{}, err
	}

	root := abs
	if !info.IsDir() {
		root = filepath.Dir(abs)
	}

	return Source{Pattern: arg, Root: root, WatchRoot: abs, Files: files}, nil
}

func expandPattern(arg string) (Source, error) {
	pattern := filepath.ToSlash(arg)
	if !doublestar.ValidatePattern(pattern) {
		return Source{}, paqerrors.NewValidationError(paqerrors.ErrCodeInvalidPattern, "invalid source pattern: "+arg)
	}

	base, _ := doublestar.SplitPattern(pattern)
	root, err := filepath.Abs(filepath.FromSlash(base))
	if err != nil {
		return Source{}, fmt.Errorf("absolute path of %s: %w", base, err)
	}

	if _, err := os.Stat(root); err != nil {
		return Source{}, statError(root, err)
	}

	matches, err := doublestar.FilepathGlob(filepath.FromSlash(pattern), doublestar.WithFilesOnly())
	if err != nil {
		return Source{}, paqerrors.NewIOError(paqerrors.ErrCodeReadFailed, "expand pattern", err).WithPath(arg)
	}

	files := make([]string, 0, len(matches))
	for _, m := range matches {
		abs, err := filepath.Abs(m)
		if err != nil {
			return Source{}, fmt.Errorf("absolute path of %s: %w", m, err)
		}
		files = append(files, abs)
	}

	return Source{Pattern: arg, Root: root, WatchRoot: root, Files: files}, nil
}

// ExpandAll expands every argument, stopping at the first failure.
func ExpandAll(args []string) ([]Source, error) {
	sources := make([]Source, 0, len(args))
	for _, arg := range args {
		src, err := Expand(arg)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// WatchRoots lists the watch roots of sources without duplicates.
func WatchRoots(sources []Source) []string {
	seen := make(map[string]struct{}, len(sources))
	roots := make([]string, 0, len(sources))
	for _, src := range sources {
		if _, ok := seen[src.WatchRoot]; ok {
			continue
		}
		seen[src.WatchRoot] = struct{}{}
		roots = append(roots, src.WatchRoot)
	}
	return roots
}
