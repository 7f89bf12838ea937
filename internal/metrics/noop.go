package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) IncPageRender(template string) {}
func (n *NoopRecorder) ObservePageRenderDuration(duration time.Duration) {}
func (n *NoopRecorder) IncLoginRedirect() {}
func (n *NoopRecorder) IncLogin(outcome string) {}
func (n *NoopRecorder) IncLogout() {}
func (n *NoopRecorder) IncCSRFRejected() {}
func (n *NoopRecorder) IncAuditEventPublished(status string) {}
func (n *NoopRecorder) IncAuditEventProcessed(status string) {}
func (n *NoopRecorder) ObserveAuditBatchSize(size int) {}
func (n *NoopRecorder) SetAuditQueueDepth(depth int64) {}
