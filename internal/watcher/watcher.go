// Package watcher re-runs builds when source files change.
//
// A DirectoryWatcher installs fsnotify watches over a set of roots and
// returns them as a WatchSet. Watches are not extended to paths created
// afterwards; instead every rebuild replaces the whole WatchSet with one
// scanned from the current tree (Restart), which is how new files and
// directories become observable. Change notifications are meant to be routed
// through a Scheduler so a burst of writes triggers a single rebuild.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
	paqerrors "github.com/conneroisu/paq/internal/errors"
	"github.com/conneroisu/paq/internal/logging"
	"github.com/fsnotify/fsnotify"
)

// EventType represents the type of file change
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
	EventTypeRenamed
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	case EventTypeDeleted:
		return "deleted"
	case EventTypeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// ChangeEvent represents a file change event
type ChangeEvent struct {
	Type EventType
	Path string
}

// ChangeHandler is invoked from the WatchSet's event goroutine. It must not
// call Stop or Restart on the same WatchSet synchronously.
type ChangeHandler func(event ChangeEvent)

// DefaultIgnores are relative path patterns never watched.
var DefaultIgnores = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/*.swp",
	"**/*.swx",
	"**/*~",
	"**/.DS_Store",
}

// Config configures a DirectoryWatcher.
type Config struct {
	// Ignore holds doublestar patterns matched against paths relative to the
	// watch root they were found under. They extend DefaultIgnores.
	Ignore []string
	// Exclude holds paths that are never watched and whose events are
	// dropped, together with everything below them. Build outputs go here.
	Exclude []string
	Logger  logging.Logger
}

// DirectoryWatcher creates and releases WatchSets.
type DirectoryWatcher struct {
	ignores  []string
	excludes []string
	logger   logging.Logger
	live     atomic.Int64
}

// NewDirectoryWatcher validates cfg and returns a watcher.
func NewDirectoryWatcher(cfg Config) (*DirectoryWatcher, error) {
	for _, pattern := range cfg.Ignore {
		if !doublestar.ValidatePattern(pattern) {
			return nil, paqerrors.NewValidationError(paqerrors.ErrCodeInvalidPattern, "invalid ignore pattern: "+pattern)
		}
	}

	excludes := make([]string, 0, len(cfg.Exclude))
	for _, path := range cfg.Exclude {
		if path == "" {
			continue
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("absolute path of %s: %w", path, err)
		}
		excludes = append(excludes, abs)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	ignores := make([]string, 0, len(DefaultIgnores)+len(cfg.Ignore))
	ignores = append(ignores, DefaultIgnores...)
	ignores = append(ignores, cfg.Ignore...)

	return &DirectoryWatcher{
		ignores:  ignores,
		excludes: excludes,
		logger:   logger.WithComponent("watcher"),
	}, nil
}

// LiveHandles returns the number of watch handles currently installed across
// all WatchSets created by w.
func (w *DirectoryWatcher) LiveHandles() int {
	return int(w.live.Load())
}

// WatchSet is the group of watches installed by one Start call.
type WatchSet struct {
	roots  []string
	paths  []string
	fsw    *fsnotify.Watcher
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
	closed atomic.Bool
	err    error
}

// Roots returns the roots the set was started with.
func (ws *WatchSet) Roots() []string {
	if ws == nil {
		return nil
	}
	return append([]string(nil), ws.roots...)
}

// Paths returns every watched path.
func (ws *WatchSet) Paths() []string {
	if ws == nil {
		return nil
	}
	return append([]string(nil), ws.paths...)
}

// Len returns the number of watch handles in the set.
func (ws *WatchSet) Len() int {
	if ws == nil {
		return 0
	}
	return len(ws.paths)
}

// Closed reports whether the set has been stopped.
func (ws *WatchSet) Closed() bool {
	return ws == nil || ws.closed.Load()
}

// Start installs watches over roots. A file root gets a single watch; a
// directory root gets a watch on itself and on every directory below it.
// Roots that no longer exist are skipped.
func (w *DirectoryWatcher) Start(roots []string, onChange ChangeHandler) (*WatchSet, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, paqerrors.NewIOError(paqerrors.ErrCodeWatchFailed, "create watcher", err)
	}

	ws := &WatchSet{
		fsw:  fsw,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("absolute path of %s: %w", root, err)
		}
		ws.roots = append(ws.roots, abs)
		if err := w.install(ws, abs, abs, true); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}

	w.live.Add(int64(len(ws.paths)))
	go w.loop(ws, onChange)

	w.logger.Debug(context.Background(), "Watch set installed", "roots", len(ws.roots), "handles", len(ws.paths))

	return ws, nil
}

func (w *DirectoryWatcher) install(ws *WatchSet, root, path string, isRoot bool) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return paqerrors.NewIOError(paqerrors.ErrCodeWatchFailed, "stat", err).WithPath(path)
	}

	if w.ignored(root, path) {
		return nil
	}

	switch {
	case info.IsDir():
		if err := w.add(ws, path); err != nil {
			return err
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			return paqerrors.NewIOError(paqerrors.ErrCodeWatchFailed, "read directory", err).WithPath(path)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			if err := w.install(ws, root, filepath.Join(path, entry.Name()), false); err != nil {
				return err
			}
		}
	case isRoot && info.Mode().IsRegular():
		return w.add(ws, path)
	}

	return nil
}

func (w *DirectoryWatcher) add(ws *WatchSet, path string) error {
	if err := ws.fsw.Add(path); err != nil {
		return paqerrors.NewIOError(paqerrors.ErrCodeWatchFailed, "add watch", err).WithPath(path)
	}
	ws.paths = append(ws.paths, path)
	return nil
}

func (w *DirectoryWatcher) loop(ws *WatchSet, onChange ChangeHandler) {
	defer close(ws.done)

	for {
		select {
		case <-ws.stop:
			return
		case event, ok := <-ws.fsw.Events:
			if !ok {
				return
			}
			change, ok := w.translate(ws, event)
			if !ok || onChange == nil {
				continue
			}
			onChange(change)
		case err, ok := <-ws.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn(context.Background(), err, "File watcher error")
		}
	}
}

func (w *DirectoryWatcher) translate(ws *WatchSet, event fsnotify.Event) (ChangeEvent, bool) {
	// Permission and timestamp changes do not alter sources.
	if event.Op == fsnotify.Chmod {
		return ChangeEvent{}, false
	}

	path, err := filepath.Abs(event.Name)
	if err != nil {
		path = event.Name
	}
	if w.ignored(ws.rootOf(path), path) {
		return ChangeEvent{}, false
	}

	var eventType EventType
	switch {
	case event.Has(fsnotify.Create):
		eventType = EventTypeCreated
	case event.Has(fsnotify.Write):
		eventType = EventTypeModified
	case event.Has(fsnotify.Remove):
		eventType = EventTypeDeleted
	case event.Has(fsnotify.Rename):
		eventType = EventTypeRenamed
	default:
		eventType = EventTypeModified
	}

	return ChangeEvent{Type: eventType, Path: path}, true
}

// rootOf returns the root path lies under, or "" when there is none.
func (ws *WatchSet) rootOf(path string) string {
	for _, root := range ws.roots {
		if path == root || within(root, path) {
			return root
		}
	}
	return ""
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (w *DirectoryWatcher) ignored(root, path string) bool {
	for _, excluded := range w.excludes {
		if path == excluded || within(excluded, path) {
			return true
		}
	}

	rel := filepath.Base(path)
	if root != "" && root != path {
		if r, err := filepath.Rel(root, path); err == nil {
			rel = r
		}
	}
	rel = filepath.ToSlash(rel)

	for _, pattern := range w.ignores {
		if matched, err := doublestar.Match(pattern, rel); err == nil && matched {
			return true
		}
		if matched, err := doublestar.Match(pattern, rel+"/"); err == nil && matched {
			return true
		}
	}
	return false
}

// Stop detaches the change handler and releases every handle in ws. It is
// safe to call with a nil set and more than once; only the first call does
// any work. When Stop returns the handler will not be invoked again.
func (w *DirectoryWatcher) Stop(ws *WatchSet) error {
	if ws == nil {
		return nil
	}

	ws.once.Do(func() {
		close(ws.stop)
		ws.err = ws.fsw.Close()
		<-ws.done
		w.live.Add(-int64(len(ws.paths)))
		ws.closed.Store(true)
		w.logger.Debug(context.Background(), "Watch set released", "handles", len(ws.paths))
	})

	return ws.err
}

// Restart stops prev and then starts a new set over roots. Handles of prev
// are released before any new handle is installed.
func (w *DirectoryWatcher) Restart(prev *WatchSet, roots []string, onChange ChangeHandler) (*WatchSet, error) {
	if err := w.Stop(prev); err != nil {
		w.logger.Warn(context.Background(), err, "Failed to release previous watch set")
	}
	return w.Start(roots, onChange)
}
