package jobs

import (
	"sync"
	"sync/atomic"
	"time"
)

// RunnerMetrics counts job outcomes across all workers. Per-kind counts
// sit behind a mutex; the hot totals are atomics.
type RunnerMetrics struct {
	totalProcessed  int64
	totalFailed     int64
	totalDurationNs int64
	startedNs       int64

	mu     sync.Mutex
	byKind map[string]int64
}

func NewRunnerMetrics() *RunnerMetrics {
	return &RunnerMetrics{
		startedNs: time.Now().UnixNano(),
		byKind:    make(map[string]int64),
	}
}

func (m *RunnerMetrics) RecordSuccess(kind string, duration time.Duration) {
	atomic.AddInt64(&m.totalProcessed, 1)
	atomic.AddInt64(&m.totalDurationNs, int64(duration))
	m.mu.Lock()
	m.byKind[kind]++
	m.mu.Unlock()
}

func (m *RunnerMetrics) RecordFailure(kind string) {
	atomic.AddInt64(&m.totalFailed, 1)
}

func (m *RunnerMetrics) Stats() map[string]interface{} {
	processed := atomic.LoadInt64(&m.totalProcessed)
	failed := atomic.LoadInt64(&m.totalFailed)
	durationNs := atomic.LoadInt64(&m.totalDurationNs)
	startedNs := atomic.LoadInt64(&m.startedNs)

	elapsed := time.Since(time.Unix(0, startedNs)).Seconds()

	rate := 0.0
	if elapsed > 0 {
		rate = float64(processed) / elapsed
	}
	avgDuration := time.Duration(0)
	if processed > 0 {
		avgDuration = time.Duration(durationNs / processed)
	}

	m.mu.Lock()
	byKind := make(map[string]int64, len(m.byKind))
	for k, v := range m.byKind {
		byKind[k] = v
	}
	m.mu.Unlock()

	return map[string]interface{}{
		"total_processed": processed,
		"total_failed":    failed,
		"rate_per_second": rate,
		"avg_duration_ms": avgDuration.Milliseconds(),
		"uptime_seconds":  elapsed,
		"by_kind":         byKind,
	}
}
