package admission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/careline/admission/core"
	"github.com/careline/admission/store"
)

const (
	// DefaultHealthInterval is the minimum gap between Redis re-probes
	DefaultHealthInterval = 5 * time.Second

	fallbackLogInterval = 30 * time.Second
)

// SharedBackend is a cross-instance limiter that can report reachability.
// *store.RedisLimiter is the production implementation.
type SharedBackend interface {
	store.Limiter
	Ping(ctx context.Context) (time.Duration, error)
}

// Recorder receives one event per admission outcome
type Recorder interface {
	RecordDecision(policy core.PolicyName, identifier string, decision core.Decision)
	RecordFallback(policy core.PolicyName)
	RecordFailOpen(policy core.PolicyName)
}

type nopRecorder struct{}

func (nopRecorder) RecordDecision(core.PolicyName, string, core.Decision) {}
func (nopRecorder) RecordFallback(core.PolicyName)                      {}
func (nopRecorder) RecordFailOpen(core.PolicyName)                      {}

type sweeper interface {
	StartSweeper(interval time.Duration) func()
}

// Service routes admission checks to Redis while it is healthy and to the
// in-memory limiter otherwise. Build one per process with New and release it
// with Close.
type Service struct {
	registry *core.Registry
	memory   store.Limiter
	logger   *zap.Logger
	recorder Recorder
	clock    func() time.Time

	redisConfigured bool
	redisCfg        store.RedisConfig
	redisClient     redis.UniversalClient
	atomicRedis     bool
	opTimeout       time.Duration

	connectOnce sync.Once
	shared      SharedBackend
	ownsShared  io.Closer

	healthy        atomic.Bool
	healthInterval time.Duration
	probeGate      *rate.Limiter
	probing        atomic.Bool
	probes         sync.WaitGroup

	fallbackLog rate.Sometimes
	failClosed  bool

	sweepInterval time.Duration
	stopSweep     func()

	mu     sync.Mutex
	closed bool
}

// New creates a Service with the given options.
// Without Redis options every check is served from memory.
func New(opts ...Option) (*Service, error) {
	s := &Service{
		logger:         zap.NewNop(),
		recorder:       nopRecorder{},
		clock:          time.Now,
		opTimeout:      store.DefaultOpTimeout,
		healthInterval: DefaultHealthInterval,
		sweepInterval:  store.DefaultSweepInterval,
		fallbackLog:    rate.Sometimes{First: 1, Interval: fallbackLogInterval},
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if s.registry == nil {
		s.registry = core.DefaultRegistry()
	}
	if s.memory == nil {
		s.memory = store.NewMemoryLimiter(store.WithMemoryClock(s.clock))
	}
	s.probeGate = rate.NewLimiter(rate.Every(s.healthInterval), 1)

	s.stopSweep = func() {}
	if sw, ok := s.memory.(sweeper); ok {
		s.stopSweep = sw.StartSweeper(s.sweepInterval)
	}

	return s, nil
}

// Registry returns the policy registry used by the service
func (s *Service) Registry() *core.Registry {
	return s.registry
}

// CheckLimit decides whether identifier may make another request under the
// named policy. It fails with a *core.ConfigurationError for an unknown
// policy and with ctx.Err() once the caller has given up; backend failures
// are absorbed by fallback and, as a last resort, by failing open.
func (s *Service) CheckLimit(ctx context.Context, identifier string, name core.PolicyName) (core.Decision, error) {
	policy, err := s.registry.Lookup(name)
	if err != nil {
		return core.Decision{}, err
	}
	if err := ctx.Err(); err != nil {
		return core.Decision{}, err
	}

	if shared := s.sharedBackend(ctx); shared != nil {
		if s.healthy.Load() {
			d, err := shared.CheckLimit(ctx, identifier, policy)
			if err == nil {
				s.recorder.RecordDecision(name, identifier, d)
				return d, nil
			}
			// A caller that went away says nothing about Redis
			if ctxErr := ctx.Err(); ctxErr != nil {
				return core.Decision{}, ctxErr
			}
			s.markUnhealthy(err)
			s.recorder.RecordFallback(name)
			s.fallbackLog.Do(func() {
				s.logger.Warn("redis check failed, falling back to memory",
					zap.String("policy", string(name)),
					zap.Error(err))
			})
		} else {
			s.maybeProbe()
		}
	}

	d, err := s.memory.CheckLimit(ctx, identifier, policy)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return core.Decision{}, ctxErr
		}
		return s.failOpen(name, identifier, policy, err), nil
	}
	s.recorder.RecordDecision(name, identifier, d)
	return d, nil
}

func (s *Service) failOpen(name core.PolicyName, identifier string, policy core.Policy, err error) core.Decision {
	s.recorder.RecordFailOpen(name)

	d := core.Decision{
		Allowed:   !s.failClosed,
		Remaining: 0,
		ResetTime: s.clock().Add(policy.Window),
		Backend:   core.BackendMemory,
	}
	s.logger.Error("all admission backends failed",
		zap.String("policy", string(name)),
		zap.String("identifier", identifier),
		zap.Bool("allowed", d.Allowed),
		zap.Error(err))
	return d
}

// Reset clears identifier from every backend. The in-memory record is
// always removed; Redis errors are logged and dropped.
func (s *Service) Reset(ctx context.Context, identifier string) {
	_ = s.memory.Reset(ctx, identifier)

	if shared := s.sharedBackend(ctx); shared != nil {
		if err := shared.Reset(ctx, identifier); err != nil {
			s.logger.Debug("redis reset failed",
				zap.String("identifier", identifier),
				zap.Error(err))
		}
	}
}

// sharedBackend connects on first use. Concurrent first callers all wait
// for the same attempt. Returns nil when no shared backend is configured.
func (s *Service) sharedBackend(ctx context.Context) SharedBackend {
	if !s.redisConfigured {
		return nil
	}
	s.connectOnce.Do(func() {
		s.connect(context.WithoutCancel(ctx))
	})
	return s.shared
}

func (s *Service) connect(ctx context.Context) {
	if s.shared == nil {
		client := s.redisClient
		if client == nil {
			c, err := store.NewClient(s.redisCfg)
			if err != nil {
				s.logger.Error("redis disabled: bad configuration", zap.Error(err))
				return
			}
			client = c
		}

		opts := []store.RedisOption{
			store.WithOpTimeout(s.opTimeout),
			store.WithRedisClock(s.clock),
		}
		if s.atomicRedis {
			opts = append(opts, store.WithAtomicScript())
		}
		limiter := store.NewRedisLimiter(client, opts...)
		s.shared = limiter
		if s.redisClient == nil {
			s.ownsShared = limiter
		}
	}

	latency, err := s.shared.Ping(ctx)
	if err != nil {
		s.logger.Warn("redis unreachable, serving from memory", zap.Error(err))
		return
	}
	s.healthy.Store(true)
	s.logger.Info("redis connected", zap.Duration("latency", latency))
}

// Close stops background work and releases the Redis client if the
// service created it.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	s.mu.Unlock()

	s.stopSweep()
	s.probes.Wait()

	if s.ownsShared != nil {
		if err := s.ownsShared.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			return fmt.Errorf("close redis: %w", err)
		}
	}
	return nil
}
