package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/router-for-me/throttlegate/internal/clock"
)

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

// MemoryCounterStore keeps counters in process memory. It is only correct for a
// single instance.
type MemoryCounterStore struct {
	mu       sync.Mutex
	clock    clock.Clock
	counters map[string]*memoryEntry
}

// NewMemoryCounterStore constructs a MemoryCounterStore. A nil clock uses the wall clock.
func NewMemoryCounterStore(c clock.Clock) *MemoryCounterStore {
	return &MemoryCounterStore{
		clock:    clock.OrSystem(c),
		counters: make(map[string]*memoryEntry),
	}
}

// IncrementAndGet increments key, resetting it when its expiry has passed.
func (s *MemoryCounterStore) IncrementAndGet(ctx context.Context, key string, expiresAt time.Time) (int64, error) {
	if errCtx := ctx.Err(); errCtx != nil {
		return 0, errCtx
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.counters[key]
	if entry == nil || !now.Before(entry.expiresAt) {
		entry = &memoryEntry{expiresAt: expiresAt}
		s.counters[key] = entry
	}
	entry.count++
	return entry.count, nil
}

// Sweep drops expired counters and returns how many were removed.
func (s *MemoryCounterStore) Sweep() int {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, entry := range s.counters {
		if !now.Before(entry.expiresAt) {
			delete(s.counters, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live and not yet swept counters.
func (s *MemoryCounterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

// StartJanitor sweeps every interval until ctx is done.
func (s *MemoryCounterStore) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}
