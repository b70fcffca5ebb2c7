package handler

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/recipebox/recipebox/internal/metrics"
)

// MetricsHandler exposes in-memory metrics.
type MetricsHandler struct {
	exporter http.Handler
}

// NewMetricsHandler creates a new MetricsHandler. A nil snapshotter, or one
// that cannot be registered, makes the endpoint report 503.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	if snapshotter == nil {
		return &MetricsHandler{}
	}

	reg, err := metrics.NewRegistry(snapshotter)
	if err != nil {
		return &MetricsHandler{}
	}

	return &MetricsHandler{
		exporter: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
}

// Metrics returns metrics in Prometheus exposition format.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	h.exporter.ServeHTTP(w, r)
}
