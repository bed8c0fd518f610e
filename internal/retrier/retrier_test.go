package retrier

import (
	"context"
	"errors"
	"testing"
	"time"
)

type tempError struct{ temp bool }

func (e *tempError) Error() string   { return "upstream hiccup" }
func (e *tempError) Temporary() bool { return e.temp }

func TestRunSucceedsAfterTemporaryFailures(t *testing.T) {
	r, err := New(3, time.Millisecond, 10*time.Millisecond, FixedBackoff)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	attempts := 0
	err = r.Run(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return &tempError{temp: true}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success on 3rd attempt, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRunFailsFastOnPermanentError(t *testing.T) {
	r, err := New(5, time.Millisecond, 10*time.Millisecond, FixedBackoff)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	boom := errors.New("bad request")
	attempts := 0
	err = r.Run(context.Background(), func() error {
		attempts++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the original error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("permanent errors must not be retried, got %d attempts", attempts)
	}
}

func TestRunExhaustsAttemptBudget(t *testing.T) {
	r, err := New(3, time.Millisecond, 10*time.Millisecond, FixedBackoff)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	underlying := &tempError{temp: true}
	attempts := 0
	err = r.Run(context.Background(), func() error {
		attempts++
		return underlying
	})
	if err == nil {
		t.Fatal("expected failure after exhausting attempts")
	}
	if !errors.As(err, new(*tempError)) {
		t.Fatalf("expected the underlying error to be wrapped, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRunHonorsContextCancellation(t *testing.T) {
	r, err := New(10, 50*time.Millisecond, time.Second, FixedBackoff)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err = r.Run(ctx, func() error {
		attempts++
		return &tempError{temp: true}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts < 1 || attempts > 2 {
		t.Fatalf("cancellation should stop retries early, got %d attempts", attempts)
	}
}

func TestRunCustomClassifier(t *testing.T) {
	r, err := New(3, time.Millisecond, 10*time.Millisecond, ExponentialBackoff)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	boom := errors.New("flaky")
	r.TempErrorFunc = func(err error) bool { return errors.Is(err, boom) }

	attempts := 0
	err = r.Run(context.Background(), func() error {
		attempts++
		return boom
	})
	if err == nil {
		t.Fatal("expected failure")
	}
	if attempts != 3 {
		t.Fatalf("classifier should have made the error retryable, got %d attempts", attempts)
	}
}

func TestIsTemporaryDeadline(t *testing.T) {
	if !IsTemporary(context.DeadlineExceeded) {
		t.Fatal("deadline errors are temporary")
	}
	if IsTemporary(context.Canceled) {
		t.Fatal("cancellation is not temporary")
	}
	if IsTemporary(errors.New("whatever")) {
		t.Fatal("unclassified errors are not temporary")
	}
}

func TestNewValidatesParameters(t *testing.T) {
	if _, err := New(0, time.Millisecond, time.Second, FixedBackoff); !errors.Is(err, ErrInvalidMaxAttempts) {
		t.Fatalf("expected ErrInvalidMaxAttempts, got %v", err)
	}
	if _, err := New(3, 0, time.Second, FixedBackoff); !errors.Is(err, ErrInvalidBaseDelay) {
		t.Fatalf("expected ErrInvalidBaseDelay, got %v", err)
	}
}
