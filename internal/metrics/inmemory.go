package metrics

import (
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	PageRenders             uint64
	PageRenderDurationCount uint64
	PageRenderDurationNs    int64
	LoginRedirects          uint64

	LoginsSucceeded uint64
	LoginsFailed    uint64
	LoginsInactive  uint64
	LoginsLimited   uint64
	Logouts         uint64
	CSRFRejected    uint64

	AuditPublished    uint64
	AuditDropped      uint64
	AuditProcessed    uint64
	AuditFailed       uint64
	AuditDeadLettered uint64
	AuditBatches      uint64
	AuditBatchEvents  uint64
	AuditQueueDepth   int64
}

// InMemoryRecorder stores metrics in memory using atomics.
// It backs the /metrics endpoint and tests.
type InMemoryRecorder struct {
	pageRenders             atomic.Uint64
	pageRenderDurationCount atomic.Uint64
	pageRenderDurationNs    atomic.Int64
	loginRedirects          atomic.Uint64

	loginsSucceeded atomic.Uint64
	loginsFailed    atomic.Uint64
	loginsInactive  atomic.Uint64
	loginsLimited   atomic.Uint64
	logouts         atomic.Uint64
	csrfRejected    atomic.Uint64

	auditPublished    atomic.Uint64
	auditDropped      atomic.Uint64
	auditProcessed    atomic.Uint64
	auditFailed       atomic.Uint64
	auditDeadLettered atomic.Uint64
	auditBatches      atomic.Uint64
	auditBatchEvents  atomic.Uint64
	auditQueueDepth   atomic.Int64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	return Snapshot{
		PageRenders:             m.pageRenders.Load(),
		PageRenderDurationCount: m.pageRenderDurationCount.Load(),
		PageRenderDurationNs:    m.pageRenderDurationNs.Load(),
		LoginRedirects:          m.loginRedirects.Load(),
		LoginsSucceeded:         m.loginsSucceeded.Load(),
		LoginsFailed:            m.loginsFailed.Load(),
		LoginsInactive:          m.loginsInactive.Load(),
		LoginsLimited:           m.loginsLimited.Load(),
		Logouts:                 m.logouts.Load(),
		CSRFRejected:            m.csrfRejected.Load(),
		AuditPublished:          m.auditPublished.Load(),
		AuditDropped:            m.auditDropped.Load(),
		AuditProcessed:          m.auditProcessed.Load(),
		AuditFailed:             m.auditFailed.Load(),
		AuditDeadLettered:       m.auditDeadLettered.Load(),
		AuditBatches:            m.auditBatches.Load(),
		AuditBatchEvents:        m.auditBatchEvents.Load(),
		AuditQueueDepth:         m.auditQueueDepth.Load(),
	}
}

// IncPageRender counts a successful template render.
func (m *InMemoryRecorder) IncPageRender(template string) {
	m.pageRenders.Add(1)
}

// ObservePageRenderDuration records render time.
func (m *InMemoryRecorder) ObservePageRenderDuration(duration time.Duration) {
	m.pageRenderDurationCount.Add(1)
	m.pageRenderDurationNs.Add(duration.Nanoseconds())
}

// IncLoginRedirect counts anonymous requests bounced to the login page.
func (m *InMemoryRecorder) IncLoginRedirect() {
	m.loginRedirects.Add(1)
}

// IncLogin counts a login attempt by outcome.
func (m *InMemoryRecorder) IncLogin(outcome string) {
	switch outcome {
	case LoginSuccess:
		m.loginsSucceeded.Add(1)
	case LoginFailed:
		m.loginsFailed.Add(1)
	case LoginInactive:
		m.loginsInactive.Add(1)
	case LoginLimited:
		m.loginsLimited.Add(1)
	}
}

// IncLogout counts logouts that ended a session.
func (m *InMemoryRecorder) IncLogout() {
	m.logouts.Add(1)
}

// IncCSRFRejected counts requests refused by the CSRF check.
func (m *InMemoryRecorder) IncCSRFRejected() {
	m.csrfRejected.Add(1)
}

// IncAuditEventPublished counts publish attempts by status.
func (m *InMemoryRecorder) IncAuditEventPublished(status string) {
	if status == "success" {
		m.auditPublished.Add(1)
		return
	}
	m.auditDropped.Add(1)
}

// IncAuditEventProcessed counts worker outcomes by status.
func (m *InMemoryRecorder) IncAuditEventProcessed(status string) {
	switch status {
	case "success":
		m.auditProcessed.Add(1)
	case "failed":
		m.auditFailed.Add(1)
	case "dead_lettered":
		m.auditDeadLettered.Add(1)
	}
}

// ObserveAuditBatchSize records the size of a persisted batch.
func (m *InMemoryRecorder) ObserveAuditBatchSize(size int) {
	m.auditBatches.Add(1)
	m.auditBatchEvents.Add(uint64(size))
}

// SetAuditQueueDepth stores the pending plus lagging stream entries.
func (m *InMemoryRecorder) SetAuditQueueDepth(depth int64) {
	m.auditQueueDepth.Store(depth)
}
