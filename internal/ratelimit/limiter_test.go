package ratelimit

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/impuestito/botcore/internal/clock"
	"github.com/impuestito/botcore/internal/models"
)

func newTestLimiter(rule Rule, classRules map[string]Rule) (*Limiter, *clock.Fake, *models.Metrics) {
	clk := clock.NewFake(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	metrics := models.NewMetrics()
	return New(rule, classRules, clk, metrics, zap.NewNop()), clk, metrics
}

func TestAdmitSlidingWindowScenario(t *testing.T) {
	// maxRequests=5, windowSize=60s: 5 admissions at t=0..4, rejection
	// at t=10, admission again at t=61 once the t=0 stamp has aged out.
	l, clk, _ := newTestLimiter(Rule{Requests: 5, Window: 60 * time.Second}, nil)

	for i := 0; i < 5; i++ {
		if !l.Admit("U", "quote") {
			t.Fatalf("request %d should be admitted", i+1)
		}
		clk.Advance(time.Second)
	}

	// now = t=5; jump to t=10.
	clk.Advance(5 * time.Second)
	if l.Admit("U", "quote") {
		t.Fatal("6th request inside the window should be rejected")
	}

	clk.Advance(51 * time.Second) // t=61
	if !l.Admit("U", "quote") {
		t.Fatal("request at t=61 should be admitted after the oldest stamp aged out")
	}
}

func TestRejectedAttemptsDoNotConsumeBudget(t *testing.T) {
	l, clk, _ := newTestLimiter(Rule{Requests: 2, Window: time.Minute}, nil)

	if !l.Admit("U", "quote") || !l.Admit("U", "quote") {
		t.Fatal("first two requests should be admitted")
	}

	// Hammer the limiter while over budget; none of these may count.
	for i := 0; i < 10; i++ {
		if l.Admit("U", "quote") {
			t.Fatalf("request %d over budget should be rejected", i)
		}
	}

	// Once the first stamp ages out, exactly one slot opens. Had the
	// rejected attempts been recorded, this admission would fail.
	clk.Advance(61 * time.Second)
	if !l.Admit("U", "quote") {
		t.Fatal("expected admission after window elapsed; rejected attempts consumed budget")
	}
}

func TestAdmitIsPerIdentity(t *testing.T) {
	l, _, _ := newTestLimiter(Rule{Requests: 1, Window: time.Minute}, nil)

	if !l.Admit("alice", "quote") {
		t.Fatal("alice's first request should be admitted")
	}
	if l.Admit("alice", "quote") {
		t.Fatal("alice's second request should be rejected")
	}
	if !l.Admit("bob", "quote") {
		t.Fatal("bob must not be affected by alice's budget")
	}
}

func TestClassRuleOverridesDefault(t *testing.T) {
	l, _, _ := newTestLimiter(
		Rule{Requests: 1, Window: time.Minute},
		map[string]Rule{"ping": {Requests: 3, Window: time.Minute}},
	)

	if !l.Admit("U", "quote") {
		t.Fatal("first quote should be admitted")
	}
	if l.Admit("U", "quote") {
		t.Fatal("second quote should be rejected")
	}

	// The ping class has its own, larger budget.
	for i := 0; i < 3; i++ {
		if !l.Admit("U", "ping") {
			t.Fatalf("ping %d should be admitted", i+1)
		}
	}
	if l.Admit("U", "ping") {
		t.Fatal("4th ping should be rejected")
	}
}

func TestTimeUntilNextSlot(t *testing.T) {
	l, clk, _ := newTestLimiter(Rule{Requests: 2, Window: 60 * time.Second}, nil)

	if got := l.TimeUntilNextSlot("U", "quote"); got != 0 {
		t.Fatalf("unknown identity should not wait, got %v", got)
	}

	l.Admit("U", "quote")
	clk.Advance(10 * time.Second)
	l.Admit("U", "quote")

	// Budget is exhausted; the oldest stamp (t=0) frees up at t=60.
	if got := l.TimeUntilNextSlot("U", "quote"); got != 50*time.Second {
		t.Fatalf("expected 50s wait, got %v", got)
	}

	clk.Advance(50 * time.Second)
	if got := l.TimeUntilNextSlot("U", "quote"); got != 0 {
		t.Fatalf("expected no wait after the stamp aged out, got %v", got)
	}
	if !l.Admit("U", "quote") {
		t.Fatal("expected admission at the promised instant")
	}
}

func TestConcurrentAdmitNeverExceedsBudget(t *testing.T) {
	const budget = 5
	l, _, _ := newTestLimiter(Rule{Requests: budget, Window: time.Minute}, nil)

	admitted := atomic.NewInt64(0)
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Admit("U", "quote") {
				admitted.Inc()
			}
		}()
	}
	wg.Wait()

	if admitted.Load() != budget {
		t.Fatalf("expected exactly %d admissions under concurrency, got %d", budget, admitted.Load())
	}
}

func TestRejectionCounter(t *testing.T) {
	l, _, metrics := newTestLimiter(Rule{Requests: 1, Window: time.Minute}, nil)

	l.Admit("U", "quote")
	l.Admit("U", "quote")
	l.Admit("U", "quote")

	if got := metrics.Rejections.Load(); got != 2 {
		t.Fatalf("expected 2 recorded rejections, got %d", got)
	}
}

func TestSweepDropsIdleIdentities(t *testing.T) {
	l, clk, _ := newTestLimiter(Rule{Requests: 5, Window: time.Minute}, nil)

	l.Admit("idle", "quote")
	clk.Advance(5 * time.Minute)
	l.Admit("active", "quote")

	if got := l.Len(); got != 2 {
		t.Fatalf("expected 2 tracked identities, got %d", got)
	}

	// "idle" has been silent for over 10 windows; "active" has not.
	clk.Advance(6 * time.Minute)
	if removed := l.Sweep(); removed != 1 {
		t.Fatalf("expected sweep to remove 1 identity, removed %d", removed)
	}
	if got := l.Len(); got != 1 {
		t.Fatalf("expected 1 tracked identity after sweep, got %d", got)
	}

	// A swept identity starts over with a fresh window.
	if !l.Admit("idle", "quote") {
		t.Fatal("swept identity should be admitted again")
	}
}
