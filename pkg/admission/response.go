package admission

import (
	"net/http"
	"strconv"
	"time"

	"github.com/careline/admission/core"
)

// Response headers set on rate-limited replies
const (
	HeaderRetryAfter = "Retry-After"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderBackend    = "X-RateLimit-Backend"
	HeaderRemaining  = "X-RateLimit-Remaining"
)

// resetTimeLayout is ISO-8601 in UTC with millisecond precision
const resetTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// RetryInfo is the metadata a client needs after a denial
type RetryInfo struct {
	RetryAfterSeconds int    `json:"retry_after_seconds"`
	ResetTime         string `json:"reset_time"`
	Backend           string `json:"backend"`
}

// RetryInfoFor computes retry metadata for decision as seen at now.
// RetryAfterSeconds is rounded up and never negative.
func RetryInfoFor(decision core.Decision, now time.Time) RetryInfo {
	return RetryInfo{
		RetryAfterSeconds: RetryAfterSeconds(decision.ResetTime, now),
		ResetTime:         decision.ResetTime.UTC().Format(resetTimeLayout),
		Backend:           string(decision.Backend),
	}
}

// RetryAfterSeconds returns ceil((reset-now)/1s), clamped at zero
func RetryAfterSeconds(reset, now time.Time) int {
	d := reset.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// Apply writes the retry headers to h
func (ri RetryInfo) Apply(h http.Header) {
	h.Set(HeaderRetryAfter, strconv.Itoa(ri.RetryAfterSeconds))
	h.Set(HeaderReset, ri.ResetTime)
	h.Set(HeaderBackend, ri.Backend)
}
