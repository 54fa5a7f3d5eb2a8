package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisIncrScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIREAT", KEYS[1], ARGV[1])
end
return current
`)

var (
	// ErrRedisURL reports an unparsable redis connection URL.
	ErrRedisURL = errors.New("ratelimit redis: invalid connection url")
	// ErrRedisNotReady reports that redis did not answer a ping in time.
	ErrRedisNotReady = errors.New("ratelimit redis: not ready")
)

// RedisCounterStore keeps counters in Redis so every instance shares them.
type RedisCounterStore struct {
	client redis.Scripter
	prefix string
}

// NewRedisCounterStore constructs a RedisCounterStore.
func NewRedisCounterStore(client redis.Scripter, prefix string) *RedisCounterStore {
	return &RedisCounterStore{
		client: client,
		prefix: strings.TrimSpace(prefix),
	}
}

// IncrementAndGet runs INCR and sets the absolute expiry on the first increment.
func (s *RedisCounterStore) IncrementAndGet(ctx context.Context, key string, expiresAt time.Time) (int64, error) {
	if s == nil || s.client == nil {
		return 0, errors.New("ratelimit redis: client not configured")
	}
	res, errEval := redisIncrScript.Run(ctx, s.client, []string{s.buildKey(key)}, expiresAt.UnixMilli()).Result()
	if errEval != nil {
		return 0, errEval
	}
	switch v := res.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("ratelimit redis: unexpected response type %T", res)
	}
}

func (s *RedisCounterStore) buildKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

// RedisOptions configures ConnectRedis.
type RedisOptions struct {
	URL            string
	RetryAttempts  int
	RetryInterval  time.Duration
	ConnectTimeout time.Duration
}

// ConnectRedis parses the URL and pings until redis answers or attempts run out.
func ConnectRedis(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	redisOpts, errParse := redis.ParseURL(strings.TrimSpace(opts.URL))
	if errParse != nil {
		return nil, errors.Join(ErrRedisURL, errParse)
	}

	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	var lastErr error
	for attempt := range opts.RetryAttempts {
		client := redis.NewClient(redisOpts)
		errPing := client.Ping(ctx).Err()
		if errPing == nil {
			return client, nil
		}
		_ = client.Close()
		lastErr = errPing
		if attempt == opts.RetryAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(opts.RetryInterval):
		}
	}
	return nil, errors.Join(ErrRedisNotReady, lastErr)
}
