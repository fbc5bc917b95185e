package api

import (
	"net/http"

	"github.com/careline/admission/metrics"
	"github.com/careline/admission/pkg/admission"
)

// MetricsProvider defines the interface for getting metrics
type MetricsProvider interface {
	GetSnapshot() *metrics.Snapshot
}

// StatsResponse combines backend health with decision counters
type StatsResponse struct {
	Backend admission.Stats   `json:"backend"`
	Metrics *metrics.Snapshot `json:"metrics,omitempty"`
}

// Stats handles GET /stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Backend: h.svc.Stats(r.Context())}
	if h.metrics != nil {
		resp.Metrics = h.metrics.GetSnapshot()
	}

	w.Header().Set("Access-Control-Allow-Origin", "*") // Allow dashboard to fetch
	writeJSON(w, http.StatusOK, resp)
}
