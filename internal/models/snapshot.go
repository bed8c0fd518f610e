package models

import "time"

// Health status values reported by the monitor.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// HealthSnapshot is an immutable point-in-time record of derived
// operational metrics. A new snapshot supersedes the previous one; the
// monitor retains a bounded history of them.
type HealthSnapshot struct {
	Timestamp time.Time
	Uptime    time.Duration
	Status    string
	Issues    []string

	CacheHits    int64
	CacheMisses  int64
	CacheHitRate float64
	CacheSize    int64
	Rejections   int64

	Commands int64
	Errors   int64

	// Interval-scoped figures covering the period since the previous
	// snapshot.
	IntervalCommands int64
	IntervalErrors   int64
	ErrorRate        float64
	AvgLatency       time.Duration
	MaxLatency       time.Duration

	// Process gauges from the OS collaborator. ResourceSampled is false
	// when the platform could not be read; the snapshot is then partial.
	ResourceSampled bool
	CPUSeconds      float64
	ResidentMemory  int64
}
