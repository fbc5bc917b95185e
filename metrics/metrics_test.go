package metrics

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careline/admission/core"
)

func TestMetrics_RecordDecision(t *testing.T) {
	m := NewMetrics()

	m.RecordDecision(core.PolicyAuth, "ip:1.1.1.1", core.Decision{Allowed: true, Backend: core.BackendRedis})
	m.RecordDecision(core.PolicyAuth, "ip:1.1.1.1", core.Decision{Allowed: false, Backend: core.BackendRedis})
	m.RecordDecision(core.PolicyAPI, "user:7", core.Decision{Allowed: true, Backend: core.BackendMemory})
	m.RecordFallback(core.PolicyAPI)
	m.RecordFailOpen(core.PolicyAPI)

	s := m.GetSnapshot()
	assert.Equal(t, int64(3), s.TotalRequests)
	assert.Equal(t, int64(2), s.AllowedRequests)
	assert.Equal(t, int64(1), s.BlockedRequests)
	assert.Equal(t, int64(1), s.Fallbacks)
	assert.Equal(t, int64(1), s.FailOpens)
	assert.Equal(t, map[string]int64{"redis": 2, "memory": 1}, s.ByBackend)
	assert.Equal(t, int64(2), s.UniqueClients)

	require.Len(t, s.Policies, 2)
	assert.Equal(t, PolicyStats{Policy: core.PolicyAPI, Allowed: 1}, s.Policies[0])
	assert.Equal(t, PolicyStats{Policy: core.PolicyAuth, Allowed: 1, Blocked: 1}, s.Policies[1])

	require.NotEmpty(t, s.TopClients)
	assert.Equal(t, "ip:1.1.1.1", s.TopClients[0].Identifier)
	assert.Equal(t, int64(1), s.TopClients[0].BlockedRequests)
}

func TestMetrics_TopClientsCapped(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < 25; i++ {
		for j := 0; j <= i; j++ {
			m.RecordDecision(core.PolicyAPI, fmt.Sprintf("user:%02d", i), core.Decision{Allowed: true})
		}
	}

	s := m.GetSnapshot()
	require.Len(t, s.TopClients, 10)
	assert.Equal(t, "user:24", s.TopClients[0].Identifier)
	assert.Equal(t, int64(25), s.TopClients[0].TotalRequests)
	assert.Equal(t, int64(25), s.UniqueClients)
}

func TestMetrics_Concurrent(t *testing.T) {
	m := NewMetrics()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.RecordDecision(core.PolicyAI, fmt.Sprintf("user:%d", i%5), core.Decision{Allowed: i%2 == 0})
			_ = m.GetSnapshot()
		}(i)
	}
	wg.Wait()

	s := m.GetSnapshot()
	assert.Equal(t, int64(50), s.TotalRequests)
	assert.Equal(t, int64(25), s.AllowedRequests)
}

func TestMetrics_ClientMapIsBounded(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	m := NewMetrics(WithMaxClients(100), WithClock(func() time.Time { return now }))

	for i := 0; i < 5000; i++ {
		now = now.Add(time.Millisecond)
		m.RecordDecision(core.PolicyAPI, fmt.Sprintf("ip:10.0.%d.%d", i/256, i%256), core.Decision{Allowed: true})
	}

	s := m.GetSnapshot()
	assert.LessOrEqual(t, s.UniqueClients, int64(100))
	assert.Equal(t, int64(5000), s.TotalRequests)

	// the most recent identifier survives eviction
	m.mu.RLock()
	_, ok := m.clientStats["ip:10.0.19.135"]
	m.mu.RUnlock()
	assert.True(t, ok)
}

func TestMetrics_PruneDropsIdleClients(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	m := NewMetrics(WithRetention(time.Minute), WithClock(func() time.Time { return now }))

	m.RecordDecision(core.PolicyAPI, "user:idle", core.Decision{Allowed: true})
	now = now.Add(90 * time.Second)
	m.RecordDecision(core.PolicyAPI, "user:active", core.Decision{Allowed: true})

	assert.Equal(t, 1, m.Prune())
	s := m.GetSnapshot()
	require.Len(t, s.TopClients, 1)
	assert.Equal(t, "user:active", s.TopClients[0].Identifier)
}

func TestMetrics_StartPrunerStops(t *testing.T) {
	m := NewMetrics()
	stop := m.StartPruner(time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	stop()
	stop()

	noop := m.StartPruner(0)
	noop()
}
