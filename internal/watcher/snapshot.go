package watcher

import (
	"os"
	"path/filepath"
	"time"
)

type stamp struct {
	modTime time.Time
	size    int64
	dir     bool
}

// Snapshot records every directory and file a WatchSet over the same roots
// would observe, with the size and modification time of each file. Two
// snapshots differ when anything was created, removed or written in between,
// including changes made while no WatchSet was installed.
type Snapshot struct {
	entries map[string]stamp
}

// Snapshot walks roots with the watcher's ignore and exclude rules.
func (w *DirectoryWatcher) Snapshot(roots []string) Snapshot {
	snap := Snapshot{entries: make(map[string]stamp)}
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		w.record(snap, abs, abs)
	}
	return snap
}

func (w *DirectoryWatcher) record(snap Snapshot, root, path string) {
	stat := os.Lstat
	if path == root {
		stat = os.Stat
	}
	info, err := stat(path)
	if err != nil || w.ignored(root, path) {
		return
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return
	}

	snap.entries[path] = stamp{modTime: info.ModTime(), size: info.Size(), dir: info.IsDir()}
	if !info.IsDir() {
		return
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return
	}
	for _, entry := range entries {
		w.record(snap, root, filepath.Join(path, entry.Name()))
	}
}

// differs compares files by size and modification time. A directory only
// has to still be a directory: entries added or removed below it show up as
// paths of their own, and its own timestamp also moves when an excluded
// child such as a build output is written.
func (st stamp) differs(other stamp) bool {
	if st.dir || other.dir {
		return st.dir != other.dir
	}
	return st.size != other.size || !st.modTime.Equal(other.modTime)
}

// Len returns the number of recorded paths.
func (s Snapshot) Len() int {
	return len(s.entries)
}

// Changed returns the paths that were added, removed or modified between s
// and later.
func (s Snapshot) Changed(later Snapshot) []string {
	var changed []string
	for path, before := range s.entries {
		if after, ok := later.entries[path]; !ok || before.differs(after) {
			changed = append(changed, path)
		}
	}
	for path := range later.entries {
		if _, ok := s.entries[path]; !ok {
			changed = append(changed, path)
		}
	}
	return changed
}
