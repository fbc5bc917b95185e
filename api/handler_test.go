package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/careline/admission/metrics"
	"github.com/careline/admission/pkg/admission"
)

func newTestRouter(t *testing.T) (http.Handler, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewMetrics()
	svc, err := admission.New(admission.WithRecorder(m))
	if err != nil {
		t.Fatalf("admission.New() failed: %v", err)
	}
	t.Cleanup(func() { svc.Close() })

	r := chi.NewRouter()
	NewHandler(svc, m).Routes(r)
	return r, m
}

func postCheck(t *testing.T, h http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/check", &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestCheckRateLimit_AllowsRequests(t *testing.T) {
	h, _ := newTestRouter(t)

	w := postCheck(t, h, CheckRequest{Identifier: "user:1", Policy: "api"})
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp CheckResponse
	json.NewDecoder(w.Body).Decode(&resp)

	if !resp.Allowed {
		t.Error("Request should be allowed")
	}
	if resp.Remaining != 59 {
		t.Errorf("Remaining = %d, want 59", resp.Remaining)
	}
	if resp.Backend != "memory" {
		t.Errorf("Backend = %s, want memory", resp.Backend)
	}
	if resp.ResetTime == "" {
		t.Error("ResetTime should be set")
	}
}

func TestCheckRateLimit_BlocksWhenExceeded(t *testing.T) {
	h, m := newTestRouter(t)

	for i := 0; i < 3; i++ {
		postCheck(t, h, CheckRequest{Identifier: "ip:1.2.3.4", Policy: "strict"})
	}

	w := postCheck(t, h, CheckRequest{Identifier: "ip:1.2.3.4", Policy: "strict"})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	var resp CheckResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Allowed {
		t.Error("Request should be blocked")
	}
	if resp.RetryAfterSeconds <= 0 || resp.RetryAfterSeconds > 60 {
		t.Errorf("RetryAfterSeconds = %d, want in (0, 60]", resp.RetryAfterSeconds)
	}
	for _, header := range []string{"Retry-After", "X-RateLimit-Reset", "X-RateLimit-Backend"} {
		if w.Header().Get(header) == "" {
			t.Errorf("%s header missing", header)
		}
	}

	snap := m.GetSnapshot()
	if snap.BlockedRequests != 1 || snap.AllowedRequests != 3 {
		t.Errorf("metrics allowed=%d blocked=%d, want 3/1", snap.AllowedRequests, snap.BlockedRequests)
	}
}

func TestCheckRateLimit_BadRequests(t *testing.T) {
	h, _ := newTestRouter(t)

	tests := []struct {
		name     string
		body     any
		wantCode string
	}{
		{"invalid json", "{not json", "invalid_request"},
		{"missing identifier", CheckRequest{Policy: "api"}, "missing_identifier"},
		{"missing policy", CheckRequest{Identifier: "user:1"}, "missing_policy"},
		{"unknown policy", CheckRequest{Identifier: "user:1", Policy: "gold"}, "unknown_policy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postCheck(t, h, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Status = %d, want 400", w.Code)
			}
			var resp ErrorResponse
			json.NewDecoder(w.Body).Decode(&resp)
			if resp.Error != tt.wantCode {
				t.Errorf("error = %s, want %s", resp.Error, tt.wantCode)
			}
		})
	}
}

func TestResetLimit(t *testing.T) {
	h, _ := newTestRouter(t)

	for i := 0; i < 4; i++ {
		postCheck(t, h, CheckRequest{Identifier: "user:9", Policy: "strict"})
	}

	req := httptest.NewRequest(http.MethodDelete, "/limits/user:9", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("Status = %d, want 204", w.Code)
	}

	if w := postCheck(t, h, CheckRequest{Identifier: "user:9", Policy: "strict"}); w.Code != http.StatusOK {
		t.Errorf("after reset Status = %d, want 200", w.Code)
	}
}

func TestListPoliciesAndStats(t *testing.T) {
	h, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/policies", nil))

	var policies []PolicyInfo
	json.NewDecoder(w.Body).Decode(&policies)
	if len(policies) != 6 {
		t.Fatalf("len(policies) = %d, want 6", len(policies))
	}
	if policies[0].Name != "ai" || policies[1].Name != "api" {
		t.Errorf("policies not sorted: %v", policies)
	}
	for _, p := range policies {
		if p.Name == "auth" && (p.WindowMs != 900000 || p.MaxRequests != 5) {
			t.Errorf("auth = %+v", p)
		}
	}

	postCheck(t, h, CheckRequest{Identifier: "user:1", Policy: "api"})

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))

	var stats StatsResponse
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.Backend.UsingRedis {
		t.Error("UsingRedis should be false without Redis")
	}
	if stats.Metrics == nil || stats.Metrics.TotalRequests != 1 {
		t.Errorf("metrics = %+v", stats.Metrics)
	}
}
