package handler

import (
	"fmt"
	"net/http"

	"github.com/cgpacalc/cgpacalc/internal/metrics"
)

// MetricsHandler exposes in-memory metrics.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Metrics returns metrics in Prometheus exposition format.
//
// GET /metrics
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeMetric(w, "cgpacalc_page_renders_total %d\n", snap.PageRenders)
	writeMetric(w, "cgpacalc_page_render_duration_seconds_count %d\n", snap.PageRenderDurationCount)
	writeMetric(w, "cgpacalc_page_render_duration_seconds_sum %.6f\n", float64(snap.PageRenderDurationNs)/1e9)
	writeMetric(w, "cgpacalc_login_redirects_total %d\n", snap.LoginRedirects)

	writeMetric(w, "cgpacalc_logins_total{outcome=\"%s\"} %d\n", metrics.LoginSuccess, snap.LoginsSucceeded)
	writeMetric(w, "cgpacalc_logins_total{outcome=\"%s\"} %d\n", metrics.LoginFailed, snap.LoginsFailed)
	writeMetric(w, "cgpacalc_logins_total{outcome=\"%s\"} %d\n", metrics.LoginInactive, snap.LoginsInactive)
	writeMetric(w, "cgpacalc_logins_total{outcome=\"%s\"} %d\n", metrics.LoginLimited, snap.LoginsLimited)
	writeMetric(w, "cgpacalc_logouts_total %d\n", snap.Logouts)
	writeMetric(w, "cgpacalc_csrf_rejected_total %d\n", snap.CSRFRejected)

	writeMetric(w, "cgpacalc_audit_events_published_total{status=\"success\"} %d\n", snap.AuditPublished)
	writeMetric(w, "cgpacalc_audit_events_published_total{status=\"dropped\"} %d\n", snap.AuditDropped)

	writeMetric(w, "cgpacalc_audit_events_processed_total{status=\"success\"} %d\n", snap.AuditProcessed)
	writeMetric(w, "cgpacalc_audit_events_processed_total{status=\"failed\"} %d\n", snap.AuditFailed)
	writeMetric(w, "cgpacalc_audit_events_processed_total{status=\"dead_lettered\"} %d\n", snap.AuditDeadLettered)

	writeMetric(w, "cgpacalc_audit_batches_total %d\n", snap.AuditBatches)
	writeMetric(w, "cgpacalc_audit_batch_events_total %d\n", snap.AuditBatchEvents)
	writeMetric(w, "cgpacalc_audit_queue_depth %d\n", snap.AuditQueueDepth)
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
