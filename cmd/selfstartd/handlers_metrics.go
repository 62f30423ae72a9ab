package main

import (
	"net/http"

	"github.com/cuemby/selfstart/internal/model"
)

type serviceMetrics struct {
	ServiceName string              `json:"service_name"`
	Latest      *model.MetricsPoint `json:"latest,omitempty"`
	Replicas    int                 `json:"current_replicas"`
}

// handleMetrics returns the most recent MetricsPoint per known service,
// the JSON counterpart to /api/v2/metrics/prometheus's text exposition.
func (d *dependencies) handleMetrics(w http.ResponseWriter, r *http.Request) {
	services, err := d.store.ListServices(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]serviceMetrics, 0, len(services))
	for _, svc := range services {
		entry := serviceMetrics{ServiceName: svc.Name, Replicas: svc.CurrentReplicas}
		if points, err := d.store.ListMetrics(r.Context(), svc.Name); err == nil && len(points) > 0 {
			latest := points[len(points)-1]
			entry.Latest = &latest
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, out)
}
