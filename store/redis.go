package store

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/careline/admission/core"
)

const (
	// DefaultKeyPrefix namespaces sliding-window sets in Redis
	DefaultKeyPrefix = "ratelimit:"

	// DefaultOpTimeout bounds every limiter round trip
	DefaultOpTimeout = 500 * time.Millisecond
)

// slidingWindowScript performs prune, count, add and expire indivisibly.
// Returns {allowed, countBeforeInsert}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
redis.call('ZREMRANGEBYSCORE', key, '0', ARGV[2])
local count = redis.call('ZCARD', key)
if count >= tonumber(ARGV[3]) then
  return {0, count}
end
redis.call('ZADD', key, ARGV[1], ARGV[4])
redis.call('EXPIRE', key, ARGV[5])
return {1, count}
`)

// RedisLimiter is a sliding-window limiter shared across instances.
// Each identifier maps to a sorted set of request timestamps.
//
// By default the four commands are sent as one pipeline, not a transaction.
// Callers racing within the same few milliseconds can each observe a count
// below the limit, so over-admission is bounded by the number of concurrent
// racers. WithAtomicScript removes that window at the cost of running Lua.
type RedisLimiter struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
	atomic  bool
	clock   func() time.Time
}

// Ensure RedisLimiter implements Limiter interface
var _ Limiter = (*RedisLimiter)(nil)

// RedisOption configures a RedisLimiter
type RedisOption func(*RedisLimiter)

// WithKeyPrefix overrides the "ratelimit:" key prefix
func WithKeyPrefix(prefix string) RedisOption {
	return func(l *RedisLimiter) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// WithOpTimeout bounds each limiter call
func WithOpTimeout(d time.Duration) RedisOption {
	return func(l *RedisLimiter) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithAtomicScript runs the window update as a single Lua script
func WithAtomicScript() RedisOption {
	return func(l *RedisLimiter) {
		l.atomic = true
	}
}

// WithRedisClock overrides the time source, for tests
func WithRedisClock(clock func() time.Time) RedisOption {
	return func(l *RedisLimiter) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// NewRedisLimiter creates a limiter on top of an existing client
func NewRedisLimiter(client redis.UniversalClient, opts ...RedisOption) *RedisLimiter {
	l := &RedisLimiter{
		client:  client,
		prefix:  DefaultKeyPrefix,
		timeout: DefaultOpTimeout,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key returns the Redis key used for identifier
func (l *RedisLimiter) Key(identifier string) string {
	return l.prefix + identifier
}

// CheckLimit applies the sliding-window rule to identifier.
// Any Redis failure is returned wrapped in ErrBackendUnavailable and is not retried.
func (l *RedisLimiter) CheckLimit(ctx context.Context, identifier string, policy core.Policy) (core.Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	now := l.clock()
	nowMs := now.UnixMilli()
	windowStart := nowMs - policy.Window.Milliseconds()
	key := l.Key(identifier)
	member := fmt.Sprintf("%d-%s", nowMs, uuid.NewString())
	resetTime := now.Add(policy.Window)

	if l.atomic {
		return l.checkScript(ctx, key, member, nowMs, policy, resetTime)
	}

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", "("+strconv.FormatInt(windowStart, 10))
	card := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(nowMs), Member: member})
	pipe.Expire(ctx, key, windowTTL(policy.Window))

	if _, err := pipe.Exec(ctx); err != nil {
		return core.Decision{}, fmt.Errorf("%w: redis pipeline: %v", ErrBackendUnavailable, err)
	}

	count := int(card.Val())
	if count >= policy.MaxRequests {
		// Undo our own insertion; failure only leaves one extra member until it ages out
		l.client.ZRem(ctx, key, member)
		return core.Decision{
			Allowed:   false,
			Remaining: 0,
			ResetTime: resetTime,
			Backend:   core.BackendRedis,
		}, nil
	}

	return core.Decision{
		Allowed:   true,
		Remaining: max(policy.MaxRequests-count-1, 0),
		ResetTime: resetTime,
		Backend:   core.BackendRedis,
	}, nil
}

func (l *RedisLimiter) checkScript(ctx context.Context, key, member string, nowMs int64, policy core.Policy, resetTime time.Time) (core.Decision, error) {
	ttl := int64(windowTTL(policy.Window) / time.Second)
	windowStart := nowMs - policy.Window.Milliseconds()
	res, err := slidingWindowScript.Run(ctx, l.client, []string{key},
		strconv.FormatInt(nowMs, 10),
		"("+strconv.FormatInt(windowStart, 10),
		policy.MaxRequests,
		member,
		ttl,
	).Int64Slice()
	if err != nil {
		return core.Decision{}, fmt.Errorf("%w: redis script: %v", ErrBackendUnavailable, err)
	}
	if len(res) != 2 {
		return core.Decision{}, fmt.Errorf("%w: unexpected script reply %v", ErrBackendUnavailable, res)
	}

	allowed, count := res[0] == 1, int(res[1])
	d := core.Decision{
		Allowed:   allowed,
		ResetTime: resetTime,
		Backend:   core.BackendRedis,
	}
	if allowed {
		d.Remaining = max(policy.MaxRequests-count-1, 0)
	}
	return d, nil
}

// Reset deletes the sliding window for identifier
func (l *RedisLimiter) Reset(ctx context.Context, identifier string) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := l.client.Del(ctx, l.Key(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Clear removes every key under the limiter prefix.
// Returns the number of keys deleted.
func (l *RedisLimiter) Clear(ctx context.Context) (int, error) {
	deleted := 0
	iter := l.client.Scan(ctx, 0, l.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n, err := l.client.Del(ctx, iter.Val()).Result()
		if err != nil {
			return deleted, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		deleted += int(n)
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return deleted, nil
}

// Ping checks if Redis is reachable and reports the round-trip time
func (l *RedisLimiter) Ping(ctx context.Context) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	start := time.Now()
	if err := l.client.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return time.Since(start), nil
}

// Close closes the underlying client
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

// windowTTL rounds the window up to whole seconds, never below one
func windowTTL(window time.Duration) time.Duration {
	secs := int64(math.Ceil(float64(window.Milliseconds()) / 1000))
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

// RedisConfig for creating a Redis client
type RedisConfig struct {
	URL          string        // redis:// or rediss:// URL; takes precedence over Addr
	Addr         string        // Redis address (e.g., "localhost:6379")
	Password     string        // Redis password (empty for no auth)
	DB           int           // Redis database number
	DialTimeout  time.Duration // Defaults to 2s
	ReadTimeout  time.Duration // Defaults to DefaultOpTimeout
	WriteTimeout time.Duration // Defaults to DefaultOpTimeout
}

// Configured reports whether any Redis endpoint was given
func (c RedisConfig) Configured() bool {
	return c.URL != "" || c.Addr != ""
}

// NewClient builds a go-redis client from the config without dialing
func NewClient(cfg RedisConfig) (*redis.Client, error) {
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}

	opts.DialTimeout = orDefault(cfg.DialTimeout, 2*time.Second)
	opts.ReadTimeout = orDefault(cfg.ReadTimeout, DefaultOpTimeout)
	opts.WriteTimeout = orDefault(cfg.WriteTimeout, DefaultOpTimeout)
	opts.MaxRetries = -1 // no client-side retries

	return redis.NewClient(opts), nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
