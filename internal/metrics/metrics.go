// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Login outcomes recorded by IncLogin.
const (
	LoginSuccess  = "success"
	LoginFailed   = "failed"
	LoginInactive = "inactive"
	LoginLimited  = "rate_limited"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Page metrics
	IncPageRender(template string)
	ObservePageRenderDuration(duration time.Duration)
	IncLoginRedirect()

	// Auth metrics
	IncLogin(outcome string)
	IncLogout()
	IncCSRFRejected()

	// Audit pipeline metrics
	IncAuditEventPublished(status string) // status: "success" or "dropped"
	IncAuditEventProcessed(status string) // status: "success", "failed", "dead_lettered"
	ObserveAuditBatchSize(size int)
	SetAuditQueueDepth(depth int64)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
