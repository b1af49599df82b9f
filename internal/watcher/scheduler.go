package watcher

import (
	"sync"
	"time"
)

// DefaultQuietPeriod is how long the scheduler waits after the last change
// before it runs a rebuild.
const DefaultQuietPeriod = time.Second

// Scheduler coalesces bursts of change notifications into one call.
//
// Every Schedule cancels the pending call and arms a new one for the quiet
// period. Only the function passed to the most recent Schedule runs. The
// scheduler does not serialize runs: a call that fires while an earlier one is
// still executing runs concurrently with it.
type Scheduler struct {
	delay   time.Duration
	mutex   sync.Mutex
	timer   *time.Timer
	seq     uint64
	stopped bool
}

// NewScheduler creates a scheduler. A non-positive delay falls back to
// DefaultQuietPeriod.
func NewScheduler(delay time.Duration) *Scheduler {
	if delay <= 0 {
		delay = DefaultQuietPeriod
	}
	return &Scheduler{delay: delay}
}

// Delay returns the quiet period.
func (s *Scheduler) Delay() time.Duration {
	return s.delay
}

// Schedule replaces any pending call with fn.
func (s *Scheduler) Schedule(fn func()) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.stopped {
		return
	}

	if s.timer != nil {
		s.timer.Stop()
	}

	// A timer whose Stop lost the race still fires; seq tells it that it
	// has been superseded.
	s.seq++
	seq := s.seq
	s.timer = time.AfterFunc(s.delay, func() {
		s.mutex.Lock()
		if seq != s.seq || s.stopped {
			s.mutex.Unlock()
			return
		}
		s.timer = nil
		s.mutex.Unlock()

		fn()
	})
}

// Pending reports whether a call is armed.
func (s *Scheduler) Pending() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.timer != nil
}

// Stop cancels the pending call. Later Schedule calls are ignored.
func (s *Scheduler) Stop() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
