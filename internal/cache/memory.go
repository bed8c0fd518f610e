package cache

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/impuestito/botcore/internal/clock"
	"github.com/impuestito/botcore/internal/models"
	"github.com/impuestito/botcore/utils"
)

// MemoryStore is the default in-process backend. Entries live in
// per-stripe maps so unrelated keys never contend on one lock; a shared
// expiry heap orders eviction candidates by ExpiresAt. When an insert
// pushes the entry count past maxSize, the earliest-expiring entries are
// evicted until the store is back under the limit.
type MemoryStore struct {
	stripes []*stripe
	maxSize int64
	size    *atomic.Int64
	seq     *atomic.Uint64

	heapMu sync.Mutex
	expiry expiryHeap

	clock   clock.Clock
	metrics *models.Metrics
	logger  *zap.Logger
}

type stripe struct {
	mu      sync.RWMutex
	entries map[string]*memItem
}

type memItem struct {
	entry *models.Entry
	seq   uint64
}

// NewMemoryStore creates a MemoryStore bounded to maxSize entries.
func NewMemoryStore(maxSize int, shardCount uint64, clk clock.Clock, metrics *models.Metrics, logger *zap.Logger) *MemoryStore {
	if shardCount == 0 {
		shardCount = 1
	}
	stripes := make([]*stripe, shardCount)
	for i := range stripes {
		stripes[i] = &stripe{entries: make(map[string]*memItem)}
	}
	return &MemoryStore{
		stripes: stripes,
		maxSize: int64(maxSize),
		size:    atomic.NewInt64(0),
		seq:     atomic.NewUint64(0),
		clock:   clk,
		metrics: metrics,
		logger:  logger,
	}
}

func (s *MemoryStore) stripe(key string) *stripe {
	return s.stripes[utils.ShardIndex(uint64(len(s.stripes)), key)]
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*models.Entry, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	st := s.stripe(key)
	st.mu.RLock()
	item, ok := st.entries[key]
	st.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	now := s.clock.Now()
	if item.entry.IsExpired(now) {
		st.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have
		// replaced the entry with a fresh one.
		if cur, ok := st.entries[key]; ok && cur.seq == item.seq {
			delete(st.entries, key)
			s.size.Dec()
			s.metrics.Size.Dec()
		}
		st.mu.Unlock()
		return nil, ErrNotFound
	}

	item.entry.Touch(now)
	return item.entry, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, entry *models.Entry) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	seq := s.seq.Inc()

	st := s.stripe(key)
	st.mu.Lock()
	if _, ok := st.entries[key]; !ok {
		s.size.Inc()
		s.metrics.Size.Inc()
	}
	st.entries[key] = &memItem{entry: entry, seq: seq}
	st.mu.Unlock()

	s.heapMu.Lock()
	heap.Push(&s.expiry, heapItem{key: key, expiresAt: entry.ExpiresAt, seq: seq})
	s.heapMu.Unlock()

	s.evictOverflow()
	return nil
}

// evictOverflow drops earliest-expiring entries until the store is under
// maxSize again. Heap items whose seq no longer matches the live entry
// are leftovers from an overwrite or delete and are discarded. Stripe
// locks are never held while the heap lock is taken, so eviction cannot
// deadlock with concurrent sets on other keys.
func (s *MemoryStore) evictOverflow() {
	for s.size.Load() > s.maxSize {
		s.heapMu.Lock()
		if s.expiry.Len() == 0 {
			s.heapMu.Unlock()
			return
		}
		candidate := heap.Pop(&s.expiry).(heapItem)
		s.heapMu.Unlock()

		st := s.stripe(candidate.key)
		st.mu.Lock()
		if item, ok := st.entries[candidate.key]; ok && item.seq == candidate.seq {
			delete(st.entries, candidate.key)
			s.size.Dec()
			s.metrics.Size.Dec()
			s.metrics.Evictions.Inc()
			s.logger.Debug("evicted cache entry",
				zap.String("key", candidate.key),
				zap.Time("expires_at", candidate.expiresAt))
		}
		st.mu.Unlock()
	}
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	st := s.stripe(key)
	st.mu.Lock()
	if _, ok := st.entries[key]; ok {
		delete(st.entries, key)
		s.size.Dec()
		s.metrics.Size.Dec()
	}
	st.mu.Unlock()
	return nil
}

func (s *MemoryStore) Len(ctx context.Context) (int64, error) {
	return s.size.Load(), nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error {
	for _, st := range s.stripes {
		st.mu.Lock()
		st.entries = make(map[string]*memItem)
		st.mu.Unlock()
	}
	s.metrics.Size.Sub(s.size.Swap(0))
	return nil
}

type heapItem struct {
	key       string
	expiresAt time.Time
	seq       uint64
}

type expiryHeap []heapItem

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].expiresAt.Before(h[j].expiresAt) }
func (h expiryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x any)        { *h = append(*h, x.(heapItem)) }
func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
