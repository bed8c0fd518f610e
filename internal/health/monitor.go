// Package health samples the shared counters on a fixed interval and
// keeps a bounded history of immutable snapshots. It only computes the
// degraded-health signal; alerting on it belongs to the embedding bot.
package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/impuestito/botcore/config"
	"github.com/impuestito/botcore/internal/clock"
	"github.com/impuestito/botcore/internal/models"
)

// ErrAlreadyRunning is returned by Start on a running monitor.
var ErrAlreadyRunning = errors.New("health monitor already running")

// Options wires the monitor to the components it observes.
type Options struct {
	Interval    time.Duration
	HistorySize int
	Thresholds  config.Thresholds

	// CacheLen reports the current cache entry count.
	CacheLen func(ctx context.Context) int64
	// OnTick runs housekeeping on the monitor's schedule, e.g. the rate
	// limiter's idle-window sweep.
	OnTick func()
	// OnDegraded receives every snapshot whose status is degraded.
	OnDegraded func(models.HealthSnapshot)
}

// Monitor is the periodic sampler. It is either stopped or running;
// Start and Stop move it between the two states.
type Monitor struct {
	opts    Options
	clock   clock.Clock
	metrics *models.Metrics
	logger  *zap.Logger
	sampler *procSampler

	startedAt time.Time

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	historyMu sync.RWMutex
	history   []models.HealthSnapshot
}

// NewMonitor creates a stopped Monitor.
func NewMonitor(opts Options, clk clock.Clock, metrics *models.Metrics, logger *zap.Logger) *Monitor {
	return &Monitor{
		opts:      opts,
		clock:     clk,
		metrics:   metrics,
		logger:    logger,
		sampler:   newProcSampler(logger),
		startedAt: clk.Now(),
	}
}

// Start launches the periodic sampling loop.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ErrAlreadyRunning
	}
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.run(m.stop, m.done)
	return nil
}

// Stop halts the sampling loop and waits for it to exit. Stopping a
// stopped monitor is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	done := m.done
	m.mu.Unlock()
	<-done
}

func (m *Monitor) run(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.Collect(context.Background())
		}
	}
}

// Collect produces one snapshot: it reads the shared counters, samples
// process gauges, resets interval-scoped counters, appends to the
// history, and emits the degraded signal when a threshold trips.
// Cumulative counters are left untouched.
func (m *Monitor) Collect(ctx context.Context) models.HealthSnapshot {
	if m.opts.OnTick != nil {
		m.opts.OnTick()
	}

	now := m.clock.Now()
	snap := models.HealthSnapshot{
		Timestamp:  now,
		Uptime:     now.Sub(m.startedAt),
		CacheHits:  m.metrics.Hits.Load(),
		Rejections: m.metrics.Rejections.Load(),
		Commands:   m.metrics.Commands.Load(),
		Errors:     m.metrics.Errors.Load(),
	}
	snap.CacheMisses = m.metrics.Misses.Load()
	snap.CacheHitRate = m.metrics.HitRate()
	if m.opts.CacheLen != nil {
		snap.CacheSize = m.opts.CacheLen(ctx)
	}

	// Interval counters cover the period since the previous snapshot
	// and restart from zero now.
	snap.IntervalCommands = m.metrics.IntervalCommands.Swap(0)
	snap.IntervalErrors = m.metrics.IntervalErrors.Swap(0)
	latencySum := m.metrics.IntervalLatencyNs.Swap(0)
	snap.MaxLatency = time.Duration(m.metrics.IntervalLatencyMx.Swap(0))
	if snap.IntervalCommands > 0 {
		snap.ErrorRate = float64(snap.IntervalErrors) / float64(snap.IntervalCommands)
		snap.AvgLatency = time.Duration(latencySum / snap.IntervalCommands)
	}

	snap.CPUSeconds, snap.ResidentMemory, snap.ResourceSampled = m.sampler.sample()

	snap.Status = models.StatusHealthy
	snap.Issues = m.evaluate(snap)
	if len(snap.Issues) > 0 {
		snap.Status = models.StatusDegraded
	}

	m.append(snap)

	if snap.Status == models.StatusDegraded {
		m.logger.Warn("health check found issues", zap.Strings("issues", snap.Issues))
		if m.opts.OnDegraded != nil {
			m.opts.OnDegraded(snap)
		}
	} else {
		m.logger.Debug("health check passed")
	}
	return snap
}

func (m *Monitor) evaluate(snap models.HealthSnapshot) []string {
	var issues []string
	if snap.IntervalCommands > 0 && snap.ErrorRate > m.opts.Thresholds.MaxErrorRate {
		issues = append(issues, fmt.Sprintf("high error rate: %.1f%%", snap.ErrorRate*100))
	}
	if snap.CacheHitRate >= 0 && snap.CacheHitRate < m.opts.Thresholds.MinHitRate {
		issues = append(issues, fmt.Sprintf("low cache hit rate: %.1f%%", snap.CacheHitRate*100))
	}
	if snap.IntervalCommands > 0 && m.opts.Thresholds.MaxAvgLatency > 0 && snap.AvgLatency > m.opts.Thresholds.MaxAvgLatency {
		issues = append(issues, fmt.Sprintf("high average latency: %s", snap.AvgLatency))
	}
	return issues
}

func (m *Monitor) append(snap models.HealthSnapshot) {
	m.historyMu.Lock()
	defer m.historyMu.Unlock()
	m.history = append(m.history, snap)
	if len(m.history) > m.opts.HistorySize {
		m.history = m.history[len(m.history)-m.opts.HistorySize:]
	}
}

// Latest returns the most recent snapshot, if any has been taken.
func (m *Monitor) Latest() (models.HealthSnapshot, bool) {
	m.historyMu.RLock()
	defer m.historyMu.RUnlock()
	if len(m.history) == 0 {
		return models.HealthSnapshot{}, false
	}
	return m.history[len(m.history)-1], true
}

// History returns a copy of the retained snapshots, oldest first.
func (m *Monitor) History() []models.HealthSnapshot {
	m.historyMu.RLock()
	defer m.historyMu.RUnlock()
	out := make([]models.HealthSnapshot, len(m.history))
	copy(out, m.history)
	return out
}
