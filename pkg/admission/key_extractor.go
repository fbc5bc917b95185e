package admission

import (
	"fmt"
	"net/http"
	"strings"
)

// UnknownClient is the address used when no proxy header identifies the caller
const UnknownClient = "unknown"

// ClientIPHeaders lists the headers consulted for the caller's address, in order.
var ClientIPHeaders = []string{
	"X-Forwarded-For",
	"X-Real-IP",
	"CF-Connecting-IP",
	"True-Client-IP",
}

// UserIDFunc returns the authenticated user behind a request, or "" for
// anonymous callers.
type UserIDFunc func(*http.Request) string

// Identifier derives the limiter key for a request: "user:<id>" for an
// authenticated caller, otherwise "ip:<address>".
func Identifier(r *http.Request, userID string) string {
	if userID != "" {
		return "user:" + userID
	}
	return "ip:" + ClientAddress(r)
}

// ClientAddress resolves the caller's address from proxy headers.
// Returns UnknownClient when none is set.
func ClientAddress(r *http.Request) string {
	for _, header := range ClientIPHeaders {
		value := r.Header.Get(header)
		if value == "" {
			continue
		}
		// X-Forwarded-For can be a comma-separated list; the first entry is the client
		if i := strings.IndexByte(value, ','); i >= 0 {
			value = value[:i]
		}
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return UnknownClient
}

// Anonymous treats every request as unauthenticated.
func Anonymous(*http.Request) string {
	return ""
}

// UserFromHeader reads the user ID from a header set by an upstream
// authenticator. Example: UserFromHeader("X-User-ID")
func UserFromHeader(name string) UserIDFunc {
	return func(r *http.Request) string {
		return strings.TrimSpace(r.Header.Get(name))
	}
}

// UserFromContext reads a string user ID stored under key in the request context.
func UserFromContext(key any) UserIDFunc {
	return func(r *http.Request) string {
		id, _ := r.Context().Value(key).(string)
		return id
	}
}

// ParseUserIDConfig creates a UserIDFunc from a configuration string.
// Supported formats:
// - "" or "none" -> Anonymous
// - "header:X-User-ID" -> UserFromHeader("X-User-ID")
func ParseUserIDConfig(config string) (UserIDFunc, error) {
	parts := strings.SplitN(config, ":", 2)

	switch parts[0] {
	case "", "none":
		return Anonymous, nil

	case "header":
		if len(parts) != 2 || parts[1] == "" {
			return nil, fmt.Errorf("%w: header user source requires format 'header:HeaderName'", ErrInvalidConfig)
		}
		return UserFromHeader(parts[1]), nil

	default:
		return nil, fmt.Errorf("%w: unknown user source: %s", ErrInvalidConfig, parts[0])
	}
}
