package app

import (
	"context"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/throttlegate/internal/clock"
	"github.com/router-for-me/throttlegate/internal/config"
	"github.com/router-for-me/throttlegate/internal/ratelimit"
)

// buildCounterStore returns the counter store for cfg. The memory store is
// returned separately so its janitor can run; the redis client so it can be closed.
func buildCounterStore(ctx context.Context, cfg config.RedisConfig, c clock.Clock) (ratelimit.CounterStore, *ratelimit.MemoryCounterStore, *redis.Client, error) {
	memory := ratelimit.NewMemoryCounterStore(c)
	if !cfg.Enabled {
		log.Info("rate limit: using in-memory counters")
		return memory, memory, nil, nil
	}

	client, errConnect := ratelimit.ConnectRedis(ctx, ratelimit.RedisOptions{
		URL:            cfg.URL,
		RetryAttempts:  cfg.RetryAttempts,
		RetryInterval:  cfg.RetryInterval,
		ConnectTimeout: cfg.ConnectTimeout,
	})
	if errConnect != nil {
		if !cfg.FallbackToMemory {
			return nil, nil, nil, errConnect
		}
		log.WithError(errConnect).Warn("rate limit: redis unreachable at startup, using in-memory counters")
		return memory, memory, nil, nil
	}

	store := ratelimit.NewRedisCounterStore(client, cfg.Prefix)
	if !cfg.FallbackToMemory {
		log.Info("rate limit: using redis counters")
		return store, nil, client, nil
	}
	log.Info("rate limit: using redis counters with in-memory fallback")
	return ratelimit.NewFallbackCounterStore(store, memory, c, 0), memory, client, nil
}
