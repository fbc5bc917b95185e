package core

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPolicies is the built-in policy table
var DefaultPolicies = map[PolicyName]Policy{
	PolicyAuth:      {Window: 15 * time.Minute, MaxRequests: 5},
	PolicyAPI:       {Window: time.Minute, MaxRequests: 60},
	PolicyAI:        {Window: time.Minute, MaxRequests: 10},
	PolicyPayment:   {Window: time.Minute, MaxRequests: 5},
	PolicyMessaging: {Window: time.Minute, MaxRequests: 10},
	PolicyStrict:    {Window: time.Minute, MaxRequests: 3},
}

// Registry is a read-only table of named policies.
// It is safe for concurrent use because it is never mutated after construction.
type Registry struct {
	policies map[PolicyName]Policy
}

// NewRegistry creates a registry holding the default policies plus any extras.
// Extras override defaults with the same name.
func NewRegistry(extra map[PolicyName]Policy) (*Registry, error) {
	policies := make(map[PolicyName]Policy, len(DefaultPolicies)+len(extra))
	for name, p := range DefaultPolicies {
		policies[name] = p
	}
	for name, p := range extra {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("policy %q: %w", name, err)
		}
		policies[name] = p
	}
	return &Registry{policies: policies}, nil
}

// DefaultRegistry returns a registry with only the built-in policies
func DefaultRegistry() *Registry {
	r, _ := NewRegistry(nil)
	return r
}

// Lookup resolves a policy by name
func (r *Registry) Lookup(name PolicyName) (Policy, error) {
	p, ok := r.policies[name]
	if !ok {
		return Policy{}, &ConfigurationError{Policy: name, Err: ErrUnknownPolicy}
	}
	return p, nil
}

// MustLookup is like Lookup but panics on unknown names
func (r *Registry) MustLookup(name PolicyName) Policy {
	p, err := r.Lookup(name)
	if err != nil {
		panic(err)
	}
	return p
}

// Require verifies every named policy exists. Wiring code calls it so a
// misspelled policy aborts startup instead of failing requests.
func (r *Registry) Require(names ...PolicyName) error {
	for _, name := range names {
		if _, err := r.Lookup(name); err != nil {
			return err
		}
	}
	return nil
}

// Names returns the registered policy names in sorted order
func (r *Registry) Names() []PolicyName {
	names := make([]PolicyName, 0, len(r.policies))
	for name := range r.policies {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Validate checks if a Policy is usable
func (p Policy) Validate() error {
	if p.Window <= 0 {
		return fmt.Errorf("%w: window must be positive", ErrInvalidPolicy)
	}
	if p.MaxRequests <= 0 {
		return fmt.Errorf("%w: max_requests must be positive", ErrInvalidPolicy)
	}
	return nil
}

// policyFile is the on-disk layout for extra policies:
//
//	policies:
//	  search:
//	    window: 30s
//	    max_requests: 20
type policyFile struct {
	Policies map[string]struct {
		Window      string `yaml:"window"`
		MaxRequests int    `yaml:"max_requests"`
	} `yaml:"policies"`
}

// LoadPolicyFile reads extra policies from a YAML file
func LoadPolicyFile(path string) (map[PolicyName]Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read policy file: %v", ErrInvalidPolicy, err)
	}
	return ParsePolicies(data)
}

// ParsePolicies decodes and validates a YAML policy document
func ParsePolicies(data []byte) (map[PolicyName]Policy, error) {
	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML: %v", ErrInvalidPolicy, err)
	}

	out := make(map[PolicyName]Policy, len(file.Policies))
	for name, raw := range file.Policies {
		if name == "" {
			return nil, fmt.Errorf("%w: empty policy name", ErrInvalidPolicy)
		}
		window, err := time.ParseDuration(raw.Window)
		if err != nil {
			return nil, fmt.Errorf("%w: policy %q: bad window %q", ErrInvalidPolicy, name, raw.Window)
		}
		p := Policy{Window: window, MaxRequests: raw.MaxRequests}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("policy %q: %w", name, err)
		}
		out[PolicyName(name)] = p
	}
	return out, nil
}
