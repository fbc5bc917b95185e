package core

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownPolicy is returned when a policy name is not in the registry
	ErrUnknownPolicy = errors.New("unknown policy")

	// ErrInvalidPolicy is returned when a policy definition is unusable
	ErrInvalidPolicy = errors.New("invalid policy")
)

// ConfigurationError reports a caller bug such as referencing a policy that
// does not exist. It is never produced by traffic conditions.
type ConfigurationError struct {
	Policy PolicyName
	Err    error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %v: %q", e.Err, e.Policy)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
