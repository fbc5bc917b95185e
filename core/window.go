package core

import "time"

// FixedWindow implements the fixed-window counting algorithm
type FixedWindow struct {
	policy Policy
}

// NewFixedWindow creates a fixed window for the given policy
func NewFixedWindow(policy Policy) *FixedWindow {
	return &FixedWindow{policy: policy}
}

// Check determines if a request should be admitted given the current record.
// It returns the record to store (nil when nothing changes) and the decision.
// The caller is responsible for making read-check-write atomic.
func (fw *FixedWindow) Check(record *Record, now time.Time) (*Record, Decision) {
	// Start a new window if there is none or the previous one expired
	if record == nil || now.After(record.ResetTime) {
		next := &Record{
			Count:     1,
			ResetTime: now.Add(fw.policy.Window),
		}
		return next, Decision{
			Allowed:   true,
			Remaining: clampRemaining(fw.policy.MaxRequests - 1),
			ResetTime: next.ResetTime,
			Backend:   BackendMemory,
		}
	}

	// Window exhausted: deny without touching the record
	if record.Count >= fw.policy.MaxRequests {
		return nil, Decision{
			Allowed:   false,
			Remaining: 0,
			ResetTime: record.ResetTime,
			Backend:   BackendMemory,
		}
	}

	next := &Record{
		Count:     record.Count + 1,
		ResetTime: record.ResetTime,
	}
	return next, Decision{
		Allowed:   true,
		Remaining: clampRemaining(fw.policy.MaxRequests - next.Count),
		ResetTime: next.ResetTime,
		Backend:   BackendMemory,
	}
}

func clampRemaining(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
