package build

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/conneroisu/paq/internal/logging"
	"github.com/conneroisu/paq/internal/scanner"
	"github.com/conneroisu/paq/internal/watcher"
)

// Session runs a pipeline once or, in watch mode, after every burst of
// changes. It owns the single live WatchSet.
type Session struct {
	pipeline  *Pipeline
	sources   []string
	watch     bool
	watcher   *watcher.DirectoryWatcher
	scheduler *watcher.Scheduler
	logger    logging.Logger

	mutex    sync.Mutex
	watchSet *watcher.WatchSet
	closed   bool
}

// NewSession creates a session building sources with pipeline.
func NewSession(pipeline *Pipeline, sources []string, logger logging.Logger) (*Session, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	options := pipeline.Options()
	s := &Session{
		pipeline: pipeline,
		sources:  append([]string(nil), sources...),
		watch:    options.Watch,
		logger:   logger.WithComponent("session"),
	}

	if s.watch {
		w, err := watcher.NewDirectoryWatcher(watcher.Config{
			Ignore:  options.Ignore,
			Exclude: options.Outputs(),
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		s.watcher = w
		s.scheduler = watcher.NewScheduler(options.Debounce)
	}

	return s, nil
}

// Run performs the first pass. Without watch mode it returns that pass's
// error. In watch mode it keeps rebuilding until ctx is done and then
// releases every watch; pass failures are logged, never returned.
func (s *Session) Run(ctx context.Context) error {
	err := s.cycle(ctx)
	if !s.watch {
		return err
	}

	s.logger.Info(ctx, "Watching for changes", "sources", len(s.sources), "debounce", s.scheduler.Delay().String())

	<-ctx.Done()
	snapshot := s.pipeline.Metrics().GetSnapshot()
	s.logger.Info(ctx, "Shutting down watcher",
		"builds", snapshot.TotalBuilds,
		"failed", snapshot.FailedBuilds,
		"average", snapshot.AverageDuration.String())
	return s.Close()
}

// cycle runs one pass and, in watch mode, replaces the WatchSet whether or
// not the pass succeeded.
func (s *Session) cycle(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if !s.watch {
		_, err := s.pipeline.Run(ctx, s.sources)
		return err
	}

	before := s.watcher.Snapshot(staticRoots(s.sources))
	result, err := s.pipeline.Run(ctx, s.sources)
	if s.rearm(ctx, result) {
		s.catchUp(ctx, before)
	}
	return err
}

// catchUp schedules another pass when the tree changed after before was
// taken. Events that arrive while one WatchSet is being replaced by the next
// are seen by neither, so the snapshot is the only record of them.
func (s *Session) catchUp(ctx context.Context, before watcher.Snapshot) {
	changed := before.Changed(s.watcher.Snapshot(staticRoots(s.sources)))
	if len(changed) == 0 {
		return
	}
	s.logger.Debug(ctx, "Sources changed during rebuild", "paths", len(changed))
	s.scheduler.Schedule(func() {
		_ = s.cycle(ctx)
	})
}

// rearm replaces the WatchSet and reports whether a new one is live.
func (s *Session) rearm(ctx context.Context, result Result) bool {
	roots := scanner.WatchRoots(result.Sources)
	if len(roots) == 0 {
		roots = staticRoots(s.sources)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return false
	}

	ws, err := s.watcher.Restart(s.watchSet, roots, s.onChange(ctx))
	if err != nil {
		s.watchSet = nil
		s.logger.Error(ctx, err, "Failed to install watches")
		return false
	}
	s.watchSet = ws

	s.logger.Debug(ctx, "Watches installed", "roots", len(roots), "handles", ws.Len(), "live", s.watcher.LiveHandles())
	return true
}

func (s *Session) onChange(ctx context.Context) watcher.ChangeHandler {
	return func(event watcher.ChangeEvent) {
		s.logger.Debug(ctx, "File changed", "path", event.Path, "event", event.Type.String())
		s.scheduler.Schedule(func() {
			_ = s.cycle(ctx)
		})
	}
}

// staticRoots derives watch roots from arguments without touching the
// filesystem. A pattern is watched from its static prefix.
func staticRoots(args []string) []string {
	roots := make([]string, 0, len(args))
	for _, arg := range args {
		root := arg
		if scanner.IsPattern(arg) {
			base, _ := doublestar.SplitPattern(filepath.ToSlash(arg))
			root = filepath.FromSlash(base)
		}
		roots = append(roots, root)
	}
	return roots
}

// WatchSet returns the live WatchSet, or nil.
func (s *Session) WatchSet() *watcher.WatchSet {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.watchSet
}

// LiveHandles returns the number of installed watch handles.
func (s *Session) LiveHandles() int {
	if s.watcher == nil {
		return 0
	}
	return s.watcher.LiveHandles()
}

// Close cancels any pending rebuild and releases the WatchSet. It is safe to
// call more than once.
func (s *Session) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.scheduler != nil {
		s.scheduler.Stop()
	}

	var err error
	if s.watcher != nil {
		err = s.watcher.Stop(s.watchSet)
	}
	s.watchSet = nil
	return err
}
