package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/careline/admission/core"
)

// Metrics tracks admission statistics
type Metrics struct {
	totalRequests   atomic.Int64
	allowedRequests atomic.Int64
	blockedRequests atomic.Int64
	fallbacks       atomic.Int64
	failOpens       atomic.Int64

	mu          sync.RWMutex
	byBackend   map[core.Backend]int64
	byPolicy    map[core.PolicyName]*PolicyStats
	clientStats map[string]*ClientStats
	startTime   time.Time
	now         func() time.Time
	maxClients  int
	retention   time.Duration
}

// PolicyStats tracks decisions for one policy
type PolicyStats struct {
	Policy  core.PolicyName `json:"policy"`
	Allowed int64           `json:"allowed"`
	Blocked int64           `json:"blocked"`
}

// ClientStats tracks statistics for a specific identifier
type ClientStats struct {
	Identifier      string    `json:"identifier"`
	TotalRequests   int64     `json:"total_requests"`
	AllowedRequests int64     `json:"allowed_requests"`
	BlockedRequests int64     `json:"blocked_requests"`
	LastRequestAt   time.Time `json:"last_request_at"`
	FirstRequestAt  time.Time `json:"first_request_at"`
}

const (
	// DefaultMaxClients caps how many identifiers are tracked at once
	DefaultMaxClients = 10000
	// DefaultRetention is how long an idle identifier stays tracked
	DefaultRetention = time.Hour
)

// Option configures a Metrics
type Option func(*Metrics)

// WithMaxClients sets the identifier cap. Values below 1 are ignored.
func WithMaxClients(n int) Option {
	return func(m *Metrics) {
		if n > 0 {
			m.maxClients = n
		}
	}
}

// WithRetention sets how long an identifier may stay idle before Prune drops it
func WithRetention(d time.Duration) Option {
	return func(m *Metrics) {
		if d > 0 {
			m.retention = d
		}
	}
}

// WithClock overrides time.Now
func WithClock(clock func() time.Time) Option {
	return func(m *Metrics) {
		if clock != nil {
			m.now = clock
		}
	}
}

// NewMetrics creates a new metrics tracker
func NewMetrics(opts ...Option) *Metrics {
	m := &Metrics{
		byBackend:   make(map[core.Backend]int64),
		byPolicy:    make(map[core.PolicyName]*PolicyStats),
		clientStats: make(map[string]*ClientStats),
		now:         time.Now,
		maxClients:  DefaultMaxClients,
		retention:   DefaultRetention,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.startTime = m.now()
	return m
}

// RecordDecision records one admission outcome
func (m *Metrics) RecordDecision(policy core.PolicyName, identifier string, d core.Decision) {
	m.totalRequests.Add(1)
	if d.Allowed {
		m.allowedRequests.Add(1)
	} else {
		m.blockedRequests.Add(1)
	}

	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.byBackend[d.Backend]++

	ps, ok := m.byPolicy[policy]
	if !ok {
		ps = &PolicyStats{Policy: policy}
		m.byPolicy[policy] = ps
	}

	stats, ok := m.clientStats[identifier]
	if !ok {
		if len(m.clientStats) >= m.maxClients {
			m.evictLocked(now)
		}
		stats = &ClientStats{
			Identifier:     identifier,
			FirstRequestAt: now,
		}
		m.clientStats[identifier] = stats
	}

	stats.TotalRequests++
	if d.Allowed {
		ps.Allowed++
		stats.AllowedRequests++
	} else {
		ps.Blocked++
		stats.BlockedRequests++
	}
	stats.LastRequestAt = now
}

// evictLocked makes room for a new identifier. Idle entries go first; if
// the map is still full the least recently seen tenth is dropped so the
// cost is paid once per batch of inserts.
func (m *Metrics) evictLocked(now time.Time) {
	m.pruneLocked(now)
	if len(m.clientStats) < m.maxClients {
		return
	}

	entries := make([]*ClientStats, 0, len(m.clientStats))
	for _, stats := range m.clientStats {
		entries = append(entries, stats)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastRequestAt.Before(entries[j].LastRequestAt)
	})

	keep := m.maxClients - m.maxClients/10 - 1
	if keep < 0 {
		keep = 0
	}
	for _, stats := range entries[:len(entries)-keep] {
		delete(m.clientStats, stats.Identifier)
	}
}

func (m *Metrics) pruneLocked(now time.Time) int {
	cutoff := now.Add(-m.retention)
	removed := 0
	for id, stats := range m.clientStats {
		if stats.LastRequestAt.Before(cutoff) {
			delete(m.clientStats, id)
			removed++
		}
	}
	return removed
}

// Prune drops identifiers idle for longer than the retention period.
// Returns the number removed.
func (m *Metrics) Prune() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pruneLocked(now)
}

// StartPruner calls Prune every interval until the returned function is
// called. Calling it more than once is safe.
func (m *Metrics) StartPruner(interval time.Duration) func() {
	if interval <= 0 {
		return func() {}
	}

	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		for {
			select {
			case <-ticker.C:
				m.Prune()
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-stopped
		})
	}
}

// RecordFallback records a Redis failure that was served from memory
func (m *Metrics) RecordFallback(core.PolicyName) {
	m.fallbacks.Add(1)
}

// RecordFailOpen records a check where every backend failed
func (m *Metrics) RecordFailOpen(core.PolicyName) {
	m.failOpens.Add(1)
}

// GetSnapshot returns a snapshot of current metrics
func (m *Metrics) GetSnapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	topClients := make([]*ClientStats, 0, len(m.clientStats))
	for _, stats := range m.clientStats {
		c := *stats
		topClients = append(topClients, &c)
	}
	sort.Slice(topClients, func(i, j int) bool {
		if topClients[i].TotalRequests != topClients[j].TotalRequests {
			return topClients[i].TotalRequests > topClients[j].TotalRequests
		}
		return topClients[i].Identifier < topClients[j].Identifier
	})
	if len(topClients) > 10 {
		topClients = topClients[:10]
	}

	policies := make([]PolicyStats, 0, len(m.byPolicy))
	for _, ps := range m.byPolicy {
		policies = append(policies, *ps)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Policy < policies[j].Policy })

	backends := make(map[string]int64, len(m.byBackend))
	for b, n := range m.byBackend {
		backends[string(b)] = n
	}

	return &Snapshot{
		TotalRequests:   m.totalRequests.Load(),
		AllowedRequests: m.allowedRequests.Load(),
		BlockedRequests: m.blockedRequests.Load(),
		Fallbacks:       m.fallbacks.Load(),
		FailOpens:       m.failOpens.Load(),
		ByBackend:       backends,
		Policies:        policies,
		UniqueClients:   int64(len(m.clientStats)),
		TopClients:      topClients,
		UptimeSeconds:   int64(m.now().Sub(m.startTime).Seconds()),
		StartTime:       m.startTime,
	}
}

// Snapshot represents a point-in-time view of metrics
type Snapshot struct {
	TotalRequests   int64            `json:"total_requests"`
	AllowedRequests int64            `json:"allowed_requests"`
	BlockedRequests int64            `json:"blocked_requests"`
	Fallbacks       int64            `json:"fallbacks"`
	FailOpens       int64            `json:"fail_opens"`
	ByBackend       map[string]int64 `json:"by_backend"`
	Policies        []PolicyStats    `json:"policies"`
	UniqueClients   int64            `json:"unique_clients"`
	TopClients      []*ClientStats   `json:"top_clients"`
	UptimeSeconds   int64            `json:"uptime_seconds"`
	StartTime       time.Time        `json:"start_time"`
}
