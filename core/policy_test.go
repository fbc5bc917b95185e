package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultRegistry_Table(t *testing.T) {
	reg := DefaultRegistry()

	tests := []struct {
		name   PolicyName
		window time.Duration
		max    int
	}{
		{PolicyAuth, 900000 * time.Millisecond, 5},
		{PolicyAPI, 60000 * time.Millisecond, 60},
		{PolicyAI, 60000 * time.Millisecond, 10},
		{PolicyPayment, 60000 * time.Millisecond, 5},
		{PolicyMessaging, 60000 * time.Millisecond, 10},
		{PolicyStrict, 60000 * time.Millisecond, 3},
	}

	for _, tt := range tests {
		t.Run(string(tt.name), func(t *testing.T) {
			p, err := reg.Lookup(tt.name)
			if err != nil {
				t.Fatalf("Lookup(%s) error = %v", tt.name, err)
			}
			if p.Window != tt.window {
				t.Errorf("Window = %v, want %v", p.Window, tt.window)
			}
			if p.MaxRequests != tt.max {
				t.Errorf("MaxRequests = %d, want %d", p.MaxRequests, tt.max)
			}
		})
	}

	if got := len(reg.Names()); got != len(tests) {
		t.Errorf("len(Names()) = %d, want %d", got, len(tests))
	}
}

func TestRegistry_UnknownPolicy(t *testing.T) {
	reg := DefaultRegistry()

	_, err := reg.Lookup("nope")
	if !errors.Is(err, ErrUnknownPolicy) {
		t.Fatalf("Lookup error = %v, want ErrUnknownPolicy", err)
	}

	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error should be a *ConfigurationError, got %T", err)
	}
	if cfgErr.Policy != "nope" {
		t.Errorf("Policy = %q, want nope", cfgErr.Policy)
	}
}

func TestRegistry_Require(t *testing.T) {
	reg := DefaultRegistry()

	if err := reg.Require(PolicyAuth, PolicyAPI); err != nil {
		t.Errorf("Require(known) error = %v", err)
	}
	if err := reg.Require(PolicyAuth, "typo"); !errors.Is(err, ErrUnknownPolicy) {
		t.Errorf("Require(typo) error = %v, want ErrUnknownPolicy", err)
	}
}

func TestRegistry_MustLookupPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustLookup should panic on unknown policy")
		}
	}()
	DefaultRegistry().MustLookup("missing")
}

func TestNewRegistry_Extras(t *testing.T) {
	reg, err := NewRegistry(map[PolicyName]Policy{
		"search":  {Window: 30 * time.Second, MaxRequests: 20},
		PolicyAPI: {Window: time.Minute, MaxRequests: 120},
	})
	if err != nil {
		t.Fatalf("NewRegistry error = %v", err)
	}

	if p := reg.MustLookup("search"); p.MaxRequests != 20 {
		t.Errorf("search MaxRequests = %d, want 20", p.MaxRequests)
	}
	if p := reg.MustLookup(PolicyAPI); p.MaxRequests != 120 {
		t.Errorf("api override MaxRequests = %d, want 120", p.MaxRequests)
	}

	// Defaults are not mutated by overrides
	if DefaultPolicies[PolicyAPI].MaxRequests != 60 {
		t.Error("DefaultPolicies was mutated")
	}

	if _, err := NewRegistry(map[PolicyName]Policy{"bad": {Window: 0, MaxRequests: 1}}); !errors.Is(err, ErrInvalidPolicy) {
		t.Errorf("NewRegistry(bad) error = %v, want ErrInvalidPolicy", err)
	}
}

func TestLoadPolicyFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
		check   func(t *testing.T, got map[PolicyName]Policy)
	}{
		{
			name: "valid file",
			content: `policies:
  search:
    window: 30s
    max_requests: 20
  export:
    window: 1h
    max_requests: 2
`,
			check: func(t *testing.T, got map[PolicyName]Policy) {
				if len(got) != 2 {
					t.Fatalf("len = %d, want 2", len(got))
				}
				if got["search"].Window != 30*time.Second {
					t.Errorf("search window = %v", got["search"].Window)
				}
				if got["export"].MaxRequests != 2 {
					t.Errorf("export max = %d", got["export"].MaxRequests)
				}
			},
		},
		{
			name:    "bad duration",
			content: "policies:\n  x:\n    window: soon\n    max_requests: 1\n",
			wantErr: true,
		},
		{
			name:    "zero max",
			content: "policies:\n  x:\n    window: 1m\n    max_requests: 0\n",
			wantErr: true,
		},
		{
			name:    "invalid yaml",
			content: "policies: [",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "policies.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}

			got, err := LoadPolicyFile(path)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPolicy) {
					t.Errorf("error = %v, want ErrInvalidPolicy", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, got)
		})
	}
}

func TestLoadPolicyFile_Missing(t *testing.T) {
	_, err := LoadPolicyFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, ErrInvalidPolicy) {
		t.Errorf("error = %v, want ErrInvalidPolicy", err)
	}
}
