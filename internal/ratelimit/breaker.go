package ratelimit

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/throttlegate/internal/clock"
)

const defaultBreakerDuration = 30 * time.Second

// FallbackCounterStore serves from primary and switches to secondary for a
// cool-down period after primary fails.
type FallbackCounterStore struct {
	primary      CounterStore
	secondary    CounterStore
	clock        clock.Clock
	cooldown     time.Duration
	mu           sync.Mutex
	breakerUntil time.Time
}

// NewFallbackCounterStore constructs a FallbackCounterStore. A non-positive
// cooldown uses 30s.
func NewFallbackCounterStore(primary, secondary CounterStore, c clock.Clock, cooldown time.Duration) *FallbackCounterStore {
	if cooldown <= 0 {
		cooldown = defaultBreakerDuration
	}
	return &FallbackCounterStore{
		primary:   primary,
		secondary: secondary,
		clock:     clock.OrSystem(c),
		cooldown:  cooldown,
	}
}

// IncrementAndGet uses primary unless the breaker is open.
func (s *FallbackCounterStore) IncrementAndGet(ctx context.Context, key string, expiresAt time.Time) (int64, error) {
	now := s.clock.Now()
	if !s.isBreakerActive(now) {
		count, errPrimary := s.primary.IncrementAndGet(ctx, key, expiresAt)
		if errPrimary == nil {
			return count, nil
		}
		if ctx.Err() != nil {
			return 0, errPrimary
		}
		s.tripBreaker(errPrimary, now)
	}
	return s.secondary.IncrementAndGet(ctx, key, expiresAt)
}

// BreakerOpen reports whether requests are currently served by the secondary store.
func (s *FallbackCounterStore) BreakerOpen() bool {
	return s.isBreakerActive(s.clock.Now())
}

func (s *FallbackCounterStore) isBreakerActive(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.breakerUntil.IsZero() {
		return false
	}
	if now.Before(s.breakerUntil) {
		return true
	}
	s.breakerUntil = time.Time{}
	log.Info("rate limit: retrying primary counter store")
	return false
}

func (s *FallbackCounterStore) tripBreaker(err error, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.breakerUntil.IsZero() && now.Before(s.breakerUntil) {
		return
	}
	s.breakerUntil = now.Add(s.cooldown)
	log.WithError(err).Warn("rate limit: redis unavailable, falling back to memory")
}
