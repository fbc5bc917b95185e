package admission

import "errors"

var (
	// ErrInvalidConfig is returned when a Service option is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrClosed is returned by Close when the service was already closed
	ErrClosed = errors.New("admission service closed")
)
