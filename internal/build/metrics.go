package build

import (
	"sync"
	"time"
)

// MetricsSnapshot is a point-in-time copy of BuildMetrics.
type MetricsSnapshot struct {
	TotalBuilds      int64
	SuccessfulBuilds int64
	FailedBuilds     int64
	AverageDuration  time.Duration
	LastDuration     time.Duration
	LastFailedStep   State
	LastError        string
	FailuresByStep   map[State]int64
}

// SuccessRate is the share of successful passes as a percentage.
func (s MetricsSnapshot) SuccessRate() float64 {
	if s.TotalBuilds == 0 {
		return 0
	}
	return float64(s.SuccessfulBuilds) / float64(s.TotalBuilds) * 100
}

// BuildMetrics counts passes and where they fail. Safe for concurrent use;
// overlapping watch-mode passes record into the same instance.
type BuildMetrics struct {
	mutex    sync.RWMutex
	total    int64
	ok       int64
	elapsed  time.Duration
	last     time.Duration
	failedAt State
	lastErr  string
	byStep   map[State]int64
}

// NewBuildMetrics creates an empty tracker.
func NewBuildMetrics() *BuildMetrics {
	return &BuildMetrics{byStep: make(map[State]int64)}
}

// RecordBuild adds one finished pass.
func (bm *BuildMetrics) RecordBuild(result Result) {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	bm.total++
	bm.elapsed += result.Duration
	bm.last = result.Duration

	if result.Error == nil {
		bm.ok++
		return
	}
	bm.failedAt = result.FailedStep
	bm.lastErr = result.Error.Error()
	bm.byStep[result.FailedStep]++
}

// GetSnapshot returns the current counters.
func (bm *BuildMetrics) GetSnapshot() MetricsSnapshot {
	bm.mutex.RLock()
	defer bm.mutex.RUnlock()

	snapshot := MetricsSnapshot{
		TotalBuilds:      bm.total,
		SuccessfulBuilds: bm.ok,
		FailedBuilds:     bm.total - bm.ok,
		LastDuration:     bm.last,
		LastFailedStep:   bm.failedAt,
		LastError:        bm.lastErr,
		FailuresByStep:   make(map[State]int64, len(bm.byStep)),
	}
	if bm.total > 0 {
		snapshot.AverageDuration = bm.elapsed / time.Duration(bm.total)
	}
	for step, n := range bm.byStep {
		snapshot.FailuresByStep[step] = n
	}
	return snapshot
}

// GetSuccessRate returns the share of successful passes as a percentage.
func (bm *BuildMetrics) GetSuccessRate() float64 {
	return bm.GetSnapshot().SuccessRate()
}

// Reset clears all counters.
func (bm *BuildMetrics) Reset() {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	bm.total, bm.ok = 0, 0
	bm.elapsed, bm.last = 0, 0
	bm.failedAt = StateIdle
	bm.lastErr = ""
	bm.byStep = make(map[State]int64)
}
