package timeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"shiftmonitor/internal/kv"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type countingStore struct {
	*kv.MemoryStore

	mu      sync.Mutex
	sets    map[string]int
	removes map[string]int
}

func newCountingStore() *countingStore {
	return &countingStore{
		MemoryStore: kv.NewMemoryStore(),
		sets:        make(map[string]int),
		removes:     make(map[string]int),
	}
}

func (s *countingStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	s.sets[key]++
	s.mu.Unlock()
	return s.MemoryStore.Set(ctx, key, value)
}

func (s *countingStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	s.removes[key]++
	s.mu.Unlock()
	return s.MemoryStore.Remove(ctx, key)
}

func (s *countingStore) totalSets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.sets {
		total += n
	}
	return total
}

var errQuota = errors.New("quota exceeded")

type failingStore struct {
	failGet bool
	failSet bool
}

func (s failingStore) Get(context.Context, string) ([]byte, bool, error) {
	if s.failGet {
		return nil, false, errQuota
	}
	return nil, false, nil
}

func (s failingStore) Set(context.Context, string, []byte) error {
	if s.failSet {
		return errQuota
	}
	return nil
}

func (s failingStore) Remove(context.Context, string) error {
	if s.failSet {
		return errQuota
	}
	return nil
}

// flakyStore fails the next n reads, then behaves like a MemoryStore.
type flakyStore struct {
	*kv.MemoryStore

	mu       sync.Mutex
	failGets int
}

func newFlakyStore(n int) *flakyStore {
	return &flakyStore{MemoryStore: kv.NewMemoryStore(), failGets: n}
}

func (s *flakyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	if s.failGets > 0 {
		s.failGets--
		s.mu.Unlock()
		return nil, false, errQuota
	}
	s.mu.Unlock()
	return s.MemoryStore.Get(ctx, key)
}
