package admission

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newRequest(headers map[string]string) *http.Request {
	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "192.0.2.10:4321"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func TestIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		userID  string
		want    string
	}{
		{
			name:   "authenticated user wins over headers",
			userID: "42",
			headers: map[string]string{
				"X-Forwarded-For": "203.0.113.1",
			},
			want: "user:42",
		},
		{
			name:    "X-Forwarded-For single IP",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.1"},
			want:    "ip:203.0.113.1",
		},
		{
			name:    "X-Forwarded-For chain uses first hop",
			headers: map[string]string{"X-Forwarded-For": " 203.0.113.1 , 10.0.0.1, 10.0.0.2"},
			want:    "ip:203.0.113.1",
		},
		{
			name: "X-Forwarded-For beats X-Real-IP",
			headers: map[string]string{
				"X-Forwarded-For": "203.0.113.1",
				"X-Real-IP":       "198.51.100.2",
			},
			want: "ip:203.0.113.1",
		},
		{
			name:    "X-Real-IP",
			headers: map[string]string{"X-Real-IP": "198.51.100.2"},
			want:    "ip:198.51.100.2",
		},
		{
			name: "X-Real-IP beats CF-Connecting-IP",
			headers: map[string]string{
				"X-Real-IP":        "198.51.100.2",
				"CF-Connecting-IP": "198.51.100.3",
			},
			want: "ip:198.51.100.2",
		},
		{
			name:    "CF-Connecting-IP",
			headers: map[string]string{"CF-Connecting-IP": "198.51.100.3"},
			want:    "ip:198.51.100.3",
		},
		{
			name:    "True-Client-IP",
			headers: map[string]string{"True-Client-IP": "2001:db8::1"},
			want:    "ip:2001:db8::1",
		},
		{
			name:    "empty first hop falls through",
			headers: map[string]string{"X-Forwarded-For": " , 10.0.0.1", "X-Real-IP": "198.51.100.2"},
			want:    "ip:198.51.100.2",
		},
		{
			name: "no headers gives unknown sentinel",
			want: "ip:unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Identifier(newRequest(tt.headers), tt.userID)
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestUserFromHeader(t *testing.T) {
	fn := UserFromHeader("X-User-ID")

	if got := fn(newRequest(map[string]string{"X-User-ID": " u-7 "})); got != "u-7" {
		t.Errorf("got %q, want u-7", got)
	}
	if got := fn(newRequest(nil)); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

type ctxKey struct{}

func TestUserFromContext(t *testing.T) {
	fn := UserFromContext(ctxKey{})

	req := newRequest(nil)
	if got := fn(req); got != "" {
		t.Errorf("got %q, want empty", got)
	}

	req = req.WithContext(context.WithValue(req.Context(), ctxKey{}, "u-9"))
	if got := fn(req); got != "u-9" {
		t.Errorf("got %q, want u-9", got)
	}
}

func TestParseUserIDConfig(t *testing.T) {
	tests := []struct {
		config  string
		headers map[string]string
		want    string
		wantErr bool
	}{
		{config: "", headers: map[string]string{"X-User-ID": "a"}, want: ""},
		{config: "none", headers: map[string]string{"X-User-ID": "a"}, want: ""},
		{config: "header:X-User-ID", headers: map[string]string{"X-User-ID": "a"}, want: "a"},
		{config: "header:", wantErr: true},
		{config: "header", wantErr: true},
		{config: "jwt", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.config, func(t *testing.T) {
			fn, err := ParseUserIDConfig(tt.config)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("error = %v, want ErrInvalidConfig", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := fn(newRequest(tt.headers)); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
