package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/impuestito/botcore/internal/clock"
	"github.com/impuestito/botcore/internal/models"
)

func newTestStore(maxSize int) (*MemoryStore, *clock.Fake, *models.Metrics) {
	clk := clock.NewFake(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	metrics := models.NewMetrics()
	return NewMemoryStore(maxSize, 4, clk, metrics, zap.NewNop()), clk, metrics
}

func entryAt(clk *clock.Fake, data string, ttl time.Duration) *models.Entry {
	now := clk.Now()
	return models.NewEntry([]byte(data), now.Add(ttl), now)
}

func TestMemoryStoreSetAndGet(t *testing.T) {
	s, clk, _ := newTestStore(10)
	ctx := context.Background()

	if err := s.Set(ctx, "key1", entryAt(clk, "value1", time.Minute)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	entry, err := s.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(entry.Data) != "value1" {
		t.Fatalf("expected 'value1', got %q", entry.Data)
	}
}

func TestMemoryStoreMissing(t *testing.T) {
	s, _, _ := newTestStore(10)

	_, err := s.Get(context.Background(), "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreLazyExpiry(t *testing.T) {
	s, clk, _ := newTestStore(10)
	ctx := context.Background()

	if err := s.Set(ctx, "expiring", entryAt(clk, "v", time.Second)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Valid strictly before the expiry instant.
	clk.Advance(999 * time.Millisecond)
	if _, err := s.Get(ctx, "expiring"); err != nil {
		t.Fatalf("expected entry before expiry: %v", err)
	}

	// Exactly at expiresAt the entry is stale and removed on read.
	clk.Advance(time.Millisecond)
	if _, err := s.Get(ctx, "expiring"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound at expiry instant, got %v", err)
	}
	if n, _ := s.Len(ctx); n != 0 {
		t.Fatalf("expected expired entry to be dropped, len=%d", n)
	}
}

func TestMemoryStoreEvictsEarliestExpiring(t *testing.T) {
	s, clk, metrics := newTestStore(2)
	ctx := context.Background()

	// "mid" expires after "soon"; insertion order must not matter.
	if err := s.Set(ctx, "mid", entryAt(clk, "m", 10*time.Second)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "soon", entryAt(clk, "s", 2*time.Second)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "late", entryAt(clk, "l", time.Minute)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if n, _ := s.Len(ctx); n != 2 {
		t.Fatalf("size exceeded maxSize: %d", n)
	}
	if _, err := s.Get(ctx, "soon"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected earliest-expiring key to be evicted, got %v", err)
	}
	for _, key := range []string{"mid", "late"} {
		if _, err := s.Get(ctx, key); err != nil {
			t.Fatalf("survivor %q missing: %v", key, err)
		}
	}
	if metrics.Evictions.Load() != 1 {
		t.Fatalf("expected 1 eviction, got %d", metrics.Evictions.Load())
	}
}

func TestMemoryStoreSizeNeverExceedsMax(t *testing.T) {
	s, clk, _ := newTestStore(5)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("key-%d", i)
		if err := s.Set(ctx, key, entryAt(clk, "v", time.Duration(i+1)*time.Second)); err != nil {
			t.Fatalf("Set %s failed: %v", key, err)
		}
		if n, _ := s.Len(ctx); n > 5 {
			t.Fatalf("size %d exceeded maxSize after insert %d", n, i)
		}
	}
}

func TestMemoryStoreOverwriteDoesNotGhostEvict(t *testing.T) {
	s, clk, _ := newTestStore(2)
	ctx := context.Background()

	// Overwriting with a later expiry leaves a stale heap item behind;
	// eviction must skip it instead of dropping the fresh entry.
	if err := s.Set(ctx, "a", entryAt(clk, "a1", time.Second)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "a", entryAt(clk, "a2", time.Hour)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "b", entryAt(clk, "b", time.Minute)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "c", entryAt(clk, "c", 30*time.Second)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if n, _ := s.Len(ctx); n != 2 {
		t.Fatalf("expected 2 entries, got %d", n)
	}
	// "a" has the latest expiry of the three live entries, so it must
	// survive even though its first version expired earliest.
	entry, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("overwritten entry was ghost-evicted: %v", err)
	}
	if string(entry.Data) != "a2" {
		t.Fatalf("expected fresh value 'a2', got %q", entry.Data)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	s, clk, _ := newTestStore(10)
	ctx := context.Background()

	if err := s.Set(ctx, "del", entryAt(clk, "v", time.Minute)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Delete(ctx, "del"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "del"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	// Deleting a missing key is not an error.
	if err := s.Delete(ctx, "nonexistent"); err != nil {
		t.Fatalf("Delete of missing key failed: %v", err)
	}
}
