package admission

import (
	"context"

	"go.uber.org/zap"
)

// Stats is a point-in-time view of backend health
type Stats struct {
	UsingRedis     bool   `json:"using_redis"`
	RedisHealthy   bool   `json:"redis_healthy"`
	RedisLatencyMs *int64 `json:"redis_latency_ms,omitempty"`
}

// Stats reports whether Redis is in use and healthy. When Redis is
// configured it is pinged to measure latency, and the result updates the
// health flag.
func (s *Service) Stats(ctx context.Context) Stats {
	shared := s.sharedBackend(ctx)
	if shared == nil {
		return Stats{}
	}

	latency, err := shared.Ping(ctx)
	if err != nil {
		s.markUnhealthy(err)
		return Stats{UsingRedis: true, RedisHealthy: false}
	}
	s.markHealthy()

	ms := latency.Milliseconds()
	return Stats{
		UsingRedis:     true,
		RedisHealthy:   true,
		RedisLatencyMs: &ms,
	}
}

func (s *Service) markUnhealthy(err error) {
	if s.healthy.CompareAndSwap(true, false) {
		s.logger.Warn("redis marked unhealthy", zap.Error(err))
	}
}

func (s *Service) markHealthy() {
	if s.healthy.CompareAndSwap(false, true) {
		s.logger.Info("redis healthy again")
	}
}

// maybeProbe pings Redis in the background, at most once per health
// interval and never twice concurrently.
func (s *Service) maybeProbe() {
	if !s.probeGate.Allow() {
		return
	}
	if !s.probing.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.probing.Store(false)
		return
	}
	s.probes.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.probes.Done()
		defer s.probing.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
		defer cancel()

		if _, err := s.shared.Ping(ctx); err != nil {
			s.logger.Debug("redis probe failed", zap.Error(err))
			return
		}
		s.markHealthy()
	}()
}
