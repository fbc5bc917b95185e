package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/careline/admission/core"
	"github.com/careline/admission/pkg/admission"
)

// Checker is the part of admission.Service the middleware needs
type Checker interface {
	CheckLimit(ctx context.Context, identifier string, policy core.PolicyName) (core.Decision, error)
	Registry() *core.Registry
}

// Config for creating a rate limiter
type Config struct {
	Policy    core.PolicyName      // Required: policy applied to every request
	UserID    admission.UserIDFunc // Optional: authenticated user lookup (defaults to anonymous)
	Namespace bool                 // Prefix identifiers with the policy name
	Logger    *zap.Logger          // Optional
	Now       func() time.Time     // Optional: clock for Retry-After
}

// RateLimiter provides HTTP middleware for admission control
type RateLimiter struct {
	checker Checker
	config  Config
}

// DeniedResponse is the JSON body of a 429 reply
type DeniedResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	admission.RetryInfo
}

// NewRateLimiter creates a new rate limiting middleware.
// It fails if the policy is not registered, so typos surface at startup.
func NewRateLimiter(checker Checker, config Config) (*RateLimiter, error) {
	if checker == nil {
		return nil, fmt.Errorf("%w: checker cannot be nil", admission.ErrInvalidConfig)
	}
	if err := checker.Registry().Require(config.Policy); err != nil {
		return nil, err
	}
	if config.UserID == nil {
		config.UserID = admission.Anonymous
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &RateLimiter{checker: checker, config: config}, nil
}

// Middleware wraps an http.Handler with rate limiting
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := admission.Identifier(r, rl.config.UserID(r))
		if rl.config.Namespace {
			id = string(rl.config.Policy) + ":" + id
		}

		decision, err := rl.checker.CheckLimit(r.Context(), id, rl.config.Policy)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				rl.config.Logger.Debug("client went away during admission check", zap.Error(err))
				return
			}
			rl.config.Logger.Error("admission check failed",
				zap.String("policy", string(rl.config.Policy)),
				zap.Error(err))
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set(admission.HeaderRemaining, strconv.Itoa(decision.Remaining))
		w.Header().Set(admission.HeaderBackend, string(decision.Backend))

		if !decision.Allowed {
			WriteDenied(w, decision, rl.config.Now())
			return
		}

		next.ServeHTTP(w, r)
	})
}

// WriteDenied writes a 429 reply with retry headers and a JSON body
func WriteDenied(w http.ResponseWriter, decision core.Decision, now time.Time) {
	info := admission.RetryInfoFor(decision, now)
	info.Apply(w.Header())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	json.NewEncoder(w).Encode(DeniedResponse{
		Error:     "rate_limit_exceeded",
		Message:   "Too many requests. Please try again later.",
		RetryInfo: info,
	})
}
