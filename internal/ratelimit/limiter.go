// Package ratelimit admits or rejects commands per caller identity using
// an exact sliding window. A fixed window would let a burst of up to
// twice the budget straddle a window edge; pruning real timestamps does
// not.
package ratelimit

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/impuestito/botcore/internal/clock"
	"github.com/impuestito/botcore/internal/models"
	"github.com/impuestito/botcore/utils"
)

// defaultShardCount stripes the identity map so unrelated users never
// contend on one lock.
const defaultShardCount = 16

// idleFactor is how many windows an identity may stay silent before its
// state is dropped by Sweep.
const idleFactor = 10

// Rule is an admission budget: at most Requests admitted within any
// trailing Window.
type Rule struct {
	Requests int
	Window   time.Duration
}

// Limiter tracks one sliding window per identity and command class.
// Admission check-and-record is atomic per identity: the stripe lock is
// held across the check and its recording, so two concurrent requests
// can never both take the last slot.
type Limiter struct {
	defaultRule Rule
	classRules  map[string]Rule

	stripes []*stripe

	clock   clock.Clock
	metrics *models.Metrics
	logger  *zap.Logger
}

type stripe struct {
	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	stamps   []time.Time
	lastSeen time.Time
}

// New creates a Limiter with the default rule plus per-class overrides.
// classRules is not copied; callers must not mutate it afterwards.
func New(defaultRule Rule, classRules map[string]Rule, clk clock.Clock, metrics *models.Metrics, logger *zap.Logger) *Limiter {
	stripes := make([]*stripe, defaultShardCount)
	for i := range stripes {
		stripes[i] = &stripe{windows: make(map[string]*window)}
	}
	if classRules == nil {
		classRules = map[string]Rule{}
	}
	return &Limiter{
		defaultRule: defaultRule,
		classRules:  classRules,
		stripes:     stripes,
		clock:       clk,
		metrics:     metrics,
		logger:      logger,
	}
}

func (l *Limiter) rule(class string) Rule {
	if r, ok := l.classRules[class]; ok {
		return r
	}
	return l.defaultRule
}

func windowKey(identity, class string) string {
	return class + "\x00" + identity
}

func (l *Limiter) stripe(key string) *stripe {
	return l.stripes[utils.ShardIndex(uint64(len(l.stripes)), key)]
}

// Admit reports whether the identity may issue one more command of the
// given class, recording the attempt when it may. Rejected attempts are
// not recorded, so they never consume budget.
func (l *Limiter) Admit(identity, class string) bool {
	rule := l.rule(class)
	key := windowKey(identity, class)
	now := l.clock.Now()

	st := l.stripe(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	w, ok := st.windows[key]
	if !ok {
		w = &window{}
		st.windows[key] = w
	}
	w.prune(now, rule.Window)
	w.lastSeen = now

	if len(w.stamps) >= rule.Requests {
		l.metrics.Rejections.Inc()
		l.logger.Debug("rate limit exceeded",
			zap.String("identity", identity),
			zap.String("class", class),
			zap.Int("budget", rule.Requests))
		return false
	}

	w.stamps = append(w.stamps, now)
	return true
}

// TimeUntilNextSlot returns how long the identity must wait before the
// next request of the given class would be admitted. Zero means a
// request would be admitted right now.
func (l *Limiter) TimeUntilNextSlot(identity, class string) time.Duration {
	rule := l.rule(class)
	key := windowKey(identity, class)
	now := l.clock.Now()

	st := l.stripe(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	w, ok := st.windows[key]
	if !ok {
		return 0
	}
	w.prune(now, rule.Window)
	if len(w.stamps) < rule.Requests {
		return 0
	}

	// The oldest recorded attempt ages out first.
	return w.stamps[0].Add(rule.Window).Sub(now)
}

// Sweep drops identities with no traffic for idleFactor windows, keeping
// memory bounded. It is driven by the health monitor's schedule.
func (l *Limiter) Sweep() int {
	now := l.clock.Now()
	removed := 0
	for _, st := range l.stripes {
		st.mu.Lock()
		for key, w := range st.windows {
			rule := l.ruleForKey(key)
			if now.Sub(w.lastSeen) > time.Duration(idleFactor)*rule.Window {
				delete(st.windows, key)
				removed++
			}
		}
		st.mu.Unlock()
	}
	if removed > 0 {
		l.logger.Debug("swept idle rate windows", zap.Int("removed", removed))
	}
	return removed
}

// Len returns the number of tracked identity windows.
func (l *Limiter) Len() int {
	n := 0
	for _, st := range l.stripes {
		st.mu.Lock()
		n += len(st.windows)
		st.mu.Unlock()
	}
	return n
}

func (l *Limiter) ruleForKey(key string) Rule {
	for i := 0; i < len(key); i++ {
		if key[i] == '\x00' {
			return l.rule(key[:i])
		}
	}
	return l.defaultRule
}

// prune discards timestamps that have aged out of the trailing window.
func (w *window) prune(now time.Time, size time.Duration) {
	cutoff := now.Add(-size)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}
