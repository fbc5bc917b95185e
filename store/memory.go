package store

import (
	"context"
	"sync"
	"time"

	"github.com/careline/admission/core"
)

// DefaultSweepInterval is how often expired records are purged
const DefaultSweepInterval = 5 * time.Minute

// MemoryLimiter is a single-process fixed-window limiter.
// The whole read-check-write for an identifier happens under one mutex.
type MemoryLimiter struct {
	mu      sync.Mutex
	records map[string]*core.Record
	clock   func() time.Time
}

// Ensure MemoryLimiter implements Limiter interface
var _ Limiter = (*MemoryLimiter)(nil)

// MemoryOption configures a MemoryLimiter
type MemoryOption func(*MemoryLimiter)

// WithMemoryClock overrides the time source, for tests
func WithMemoryClock(clock func() time.Time) MemoryOption {
	return func(m *MemoryLimiter) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// NewMemoryLimiter creates an empty in-memory limiter
func NewMemoryLimiter(opts ...MemoryOption) *MemoryLimiter {
	m := &MemoryLimiter{
		records: make(map[string]*core.Record),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CheckLimit applies the fixed-window rule to identifier
func (m *MemoryLimiter) CheckLimit(ctx context.Context, identifier string, policy core.Policy) (core.Decision, error) {
	if err := ctx.Err(); err != nil {
		return core.Decision{}, err
	}

	window := core.NewFixedWindow(policy)

	m.mu.Lock()
	defer m.mu.Unlock()

	next, decision := window.Check(m.records[identifier], m.clock())
	if next != nil {
		m.records[identifier] = next
	}
	return decision, nil
}

// Reset removes the record for identifier. Resetting a missing record is a no-op.
func (m *MemoryLimiter) Reset(_ context.Context, identifier string) error {
	m.mu.Lock()
	delete(m.records, identifier)
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the record for identifier, if any
func (m *MemoryLimiter) Get(identifier string) (core.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[identifier]
	if !ok {
		return core.Record{}, false
	}
	return *rec, true
}

// Count returns the number of tracked identifiers
func (m *MemoryLimiter) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Clear removes all records
func (m *MemoryLimiter) Clear() {
	m.mu.Lock()
	m.records = make(map[string]*core.Record)
	m.mu.Unlock()
}

// Sweep removes records whose window has ended.
// Returns the number of records removed.
func (m *MemoryLimiter) Sweep() int {
	now := m.clock()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, rec := range m.records {
		if now.After(rec.ResetTime) {
			delete(m.records, id)
			removed++
		}
	}
	return removed
}

// StartSweeper starts a goroutine that periodically calls Sweep.
// Call the returned function to stop it; calling it more than once is safe.
func (m *MemoryLimiter) StartSweeper(interval time.Duration) func() {
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
				m.Sweep()
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
