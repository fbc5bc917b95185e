package store

import (
	"context"
	"errors"

	"github.com/careline/admission/core"
)

// ErrBackendUnavailable wraps any failure talking to a shared backend.
// Callers recover from it by falling back to another Limiter.
var ErrBackendUnavailable = errors.New("backend unavailable")

// Limiter decides admission for an identifier under a policy
type Limiter interface {
	CheckLimit(ctx context.Context, identifier string, policy core.Policy) (core.Decision, error)
	Reset(ctx context.Context, identifier string) error
}
