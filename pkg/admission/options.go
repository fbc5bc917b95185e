package admission

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/careline/admission/core"
	"github.com/careline/admission/store"
)

// Option is a functional option for configuring a Service.
type Option func(*Service) error

// WithRegistry sets the policy registry.
// If not provided, the built-in policies are used.
func WithRegistry(registry *core.Registry) Option {
	return func(s *Service) error {
		if registry == nil {
			return fmt.Errorf("%w: registry cannot be nil", ErrInvalidConfig)
		}
		s.registry = registry
		return nil
	}
}

// WithRedis enables the shared Redis backend. The client is created and
// pinged lazily on first use, and closed by Service.Close.
func WithRedis(cfg store.RedisConfig) Option {
	return func(s *Service) error {
		if !cfg.Configured() {
			return fmt.Errorf("%w: redis config needs a URL or address", ErrInvalidConfig)
		}
		s.redisCfg = cfg
		s.redisConfigured = true
		return nil
	}
}

// WithRedisURL is shorthand for WithRedis with only a URL.
// An empty URL leaves Redis disabled.
func WithRedisURL(url string) Option {
	return func(s *Service) error {
		if url == "" {
			return nil
		}
		return WithRedis(store.RedisConfig{URL: url})(s)
	}
}

// WithRedisClient uses an existing client for the shared backend.
// The caller keeps ownership: Service.Close does not close it.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(s *Service) error {
		if client == nil {
			return fmt.Errorf("%w: redis client cannot be nil", ErrInvalidConfig)
		}
		s.redisClient = client
		s.redisConfigured = true
		return nil
	}
}

// WithSharedBackend plugs in any cross-instance limiter in place of Redis.
func WithSharedBackend(backend SharedBackend) Option {
	return func(s *Service) error {
		if backend == nil {
			return fmt.Errorf("%w: shared backend cannot be nil", ErrInvalidConfig)
		}
		s.shared = backend
		s.redisConfigured = true
		return nil
	}
}

// WithMemoryBackend replaces the in-process fallback limiter.
func WithMemoryBackend(backend store.Limiter) Option {
	return func(s *Service) error {
		if backend == nil {
			return fmt.Errorf("%w: memory backend cannot be nil", ErrInvalidConfig)
		}
		s.memory = backend
		return nil
	}
}

// WithAtomicRedis makes the Redis limiter run its window update as one Lua script.
func WithAtomicRedis() Option {
	return func(s *Service) error {
		s.atomicRedis = true
		return nil
	}
}

// WithOpTimeout bounds every Redis call. Default: 500ms
func WithOpTimeout(d time.Duration) Option {
	return func(s *Service) error {
		if d <= 0 {
			return fmt.Errorf("%w: op timeout must be positive", ErrInvalidConfig)
		}
		s.opTimeout = d
		return nil
	}
}

// WithHealthInterval sets the minimum gap between re-probes of an
// unhealthy Redis. Default: 5s
func WithHealthInterval(d time.Duration) Option {
	return func(s *Service) error {
		if d <= 0 {
			return fmt.Errorf("%w: health interval must be positive", ErrInvalidConfig)
		}
		s.healthInterval = d
		return nil
	}
}

// WithSweepInterval sets how often expired in-memory records are purged.
// Zero disables the sweeper. Default: 5 minutes
func WithSweepInterval(d time.Duration) Option {
	return func(s *Service) error {
		if d < 0 {
			return fmt.Errorf("%w: sweep interval cannot be negative", ErrInvalidConfig)
		}
		s.sweepInterval = d
		return nil
	}
}

// WithLogger sets the logger. Default: no-op
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) error {
		if logger == nil {
			return fmt.Errorf("%w: logger cannot be nil", ErrInvalidConfig)
		}
		s.logger = logger
		return nil
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(recorder Recorder) Option {
	return func(s *Service) error {
		if recorder == nil {
			return fmt.Errorf("%w: recorder cannot be nil", ErrInvalidConfig)
		}
		s.recorder = recorder
		return nil
	}
}

// WithFailClosed denies requests when every backend errors.
// The default is to let them through.
func WithFailClosed() Option {
	return func(s *Service) error {
		s.failClosed = true
		return nil
	}
}

// WithClock overrides the time source for the built-in limiters.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) error {
		if clock == nil {
			return fmt.Errorf("%w: clock cannot be nil", ErrInvalidConfig)
		}
		s.clock = clock
		return nil
	}
}
