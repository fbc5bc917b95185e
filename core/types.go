package core

import "time"

// PolicyName identifies an entry in the policy registry
type PolicyName string

const (
	PolicyAuth      PolicyName = "auth"
	PolicyAPI       PolicyName = "api"
	PolicyAI        PolicyName = "ai"
	PolicyPayment   PolicyName = "payment"
	PolicyMessaging PolicyName = "messaging"
	PolicyStrict    PolicyName = "strict"
)

// Policy defines a quota: at most MaxRequests within Window
type Policy struct {
	Window      time.Duration `yaml:"window" json:"window"`
	MaxRequests int           `yaml:"max_requests" json:"max_requests"`
}

// Backend names the store that produced a decision
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendRedis  Backend = "redis"
)

// Record is the per-identifier counter kept by the in-memory limiter
type Record struct {
	Count     int       // Requests admitted in the current window
	ResetTime time.Time // End of the current window
}

// Decision contains the result of an admission check
type Decision struct {
	Allowed   bool      `json:"allowed"`    // Whether the request may proceed
	Remaining int       `json:"remaining"`  // Requests left in the window, never negative
	ResetTime time.Time `json:"reset_time"` // When the quota frees up
	Backend   Backend   `json:"backend"`    // Store that served the check
}
