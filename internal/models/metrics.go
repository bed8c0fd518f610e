package models

import (
	"time"

	"go.uber.org/atomic"
)

// Metrics is the shared counter aggregate owned by the facade and passed
// by reference to the cache, rate limiter, and health monitor at
// construction. Cumulative counters only ever grow; interval counters are
// swapped to zero by the health monitor on every sample.
type Metrics struct {
	// Cumulative.
	Hits       *atomic.Int64
	Misses     *atomic.Int64
	Evictions  *atomic.Int64
	Size       *atomic.Int64
	Rejections *atomic.Int64
	Commands   *atomic.Int64
	Errors     *atomic.Int64

	// Interval-scoped, reset on each health sample.
	IntervalCommands  *atomic.Int64
	IntervalErrors    *atomic.Int64
	IntervalLatencyNs *atomic.Int64
	IntervalLatencyMx *atomic.Int64
}

// NewMetrics creates a zeroed Metrics aggregate.
func NewMetrics() *Metrics {
	return &Metrics{
		Hits:       atomic.NewInt64(0),
		Misses:     atomic.NewInt64(0),
		Evictions:  atomic.NewInt64(0),
		Size:       atomic.NewInt64(0),
		Rejections: atomic.NewInt64(0),
		Commands:   atomic.NewInt64(0),
		Errors:     atomic.NewInt64(0),

		IntervalCommands:  atomic.NewInt64(0),
		IntervalErrors:    atomic.NewInt64(0),
		IntervalLatencyNs: atomic.NewInt64(0),
		IntervalLatencyMx: atomic.NewInt64(0),
	}
}

// RecordCommand counts one dispatched command and its observed latency.
func (m *Metrics) RecordCommand(latency time.Duration) {
	m.Commands.Inc()
	m.IntervalCommands.Inc()
	m.IntervalLatencyNs.Add(latency.Nanoseconds())
	for {
		cur := m.IntervalLatencyMx.Load()
		if latency.Nanoseconds() <= cur {
			return
		}
		if m.IntervalLatencyMx.CompareAndSwap(cur, latency.Nanoseconds()) {
			return
		}
	}
}

// RecordError counts one failed command.
func (m *Metrics) RecordError() {
	m.Errors.Inc()
	m.IntervalErrors.Inc()
}

// HitRate returns the cumulative cache hit rate, or -1 when no lookups
// have happened yet.
func (m *Metrics) HitRate() float64 {
	hits := m.Hits.Load()
	total := hits + m.Misses.Load()
	if total == 0 {
		return -1
	}
	return float64(hits) / float64(total)
}
