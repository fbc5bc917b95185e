package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/careline/admission/core"
	"github.com/careline/admission/pkg/admission"
)

// Service is the admission surface exposed over HTTP
type Service interface {
	CheckLimit(ctx context.Context, identifier string, policy core.PolicyName) (core.Decision, error)
	Reset(ctx context.Context, identifier string)
	Stats(ctx context.Context) admission.Stats
	Registry() *core.Registry
}

// Handler handles admission check requests
type Handler struct {
	svc     Service
	metrics MetricsProvider
	now     func() time.Time
}

// NewHandler creates a new API handler. metrics may be nil.
func NewHandler(svc Service, metrics MetricsProvider) *Handler {
	return &Handler{
		svc:     svc,
		metrics: metrics,
		now:     time.Now,
	}
}

// Routes mounts the API under r
func (h *Handler) Routes(r chi.Router) {
	r.Post("/check", h.CheckRateLimit)
	r.Delete("/limits/{identifier}", h.ResetLimit)
	r.Get("/policies", h.ListPolicies)
	r.Get("/stats", h.Stats)
}

// CheckRequest represents the incoming admission check request
type CheckRequest struct {
	Identifier string          `json:"identifier"` // Required: caller key, e.g. "user:42" or "ip:203.0.113.1"
	Policy     core.PolicyName `json:"policy"`     // Required: registered policy name
}

// CheckResponse represents the admission check response
type CheckResponse struct {
	Allowed           bool   `json:"allowed"`
	Remaining         int    `json:"remaining"`
	ResetTime         string `json:"reset_time"`
	Backend           string `json:"backend"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"` // Only set when blocked
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// PolicyInfo describes one registered policy
type PolicyInfo struct {
	Name        core.PolicyName `json:"name"`
	WindowMs    int64           `json:"window_ms"`
	MaxRequests int             `json:"max_requests"`
}

// CheckRateLimit handles POST /check requests
func (h *Handler) CheckRateLimit(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	if req.Identifier == "" {
		h.sendError(w, http.StatusBadRequest, "missing_identifier", "identifier is required")
		return
	}
	if req.Policy == "" {
		h.sendError(w, http.StatusBadRequest, "missing_policy", "policy is required")
		return
	}

	decision, err := h.svc.CheckLimit(r.Context(), req.Identifier, req.Policy)
	if err != nil {
		if errors.Is(err, core.ErrUnknownPolicy) {
			h.sendError(w, http.StatusBadRequest, "unknown_policy", err.Error())
			return
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return // client went away
		}
		h.sendError(w, http.StatusInternalServerError, "internal_error", "admission check failed")
		return
	}

	info := admission.RetryInfoFor(decision, h.now())
	response := CheckResponse{
		Allowed:   decision.Allowed,
		Remaining: decision.Remaining,
		ResetTime: info.ResetTime,
		Backend:   info.Backend,
	}

	statusCode := http.StatusOK
	if !decision.Allowed {
		statusCode = http.StatusTooManyRequests
		response.RetryAfterSeconds = info.RetryAfterSeconds
		info.Apply(w.Header())
	}

	writeJSON(w, statusCode, response)
}

// ResetLimit handles DELETE /limits/{identifier}
func (h *Handler) ResetLimit(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	if identifier == "" {
		h.sendError(w, http.StatusBadRequest, "missing_identifier", "identifier is required")
		return
	}

	h.svc.Reset(r.Context(), identifier)
	w.WriteHeader(http.StatusNoContent)
}

// ListPolicies handles GET /policies
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Policies(h.svc.Registry()))
}

// Policies lists the registry in name order
func Policies(reg *core.Registry) []PolicyInfo {
	names := reg.Names()
	out := make([]PolicyInfo, 0, len(names))
	for _, name := range names {
		p := reg.MustLookup(name)
		out = append(out, PolicyInfo{
			Name:        name,
			WindowMs:    p.Window.Milliseconds(),
			MaxRequests: p.MaxRequests,
		})
	}
	return out
}

func (h *Handler) sendError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}
