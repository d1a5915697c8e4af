// Package metrics exposes Prometheus counters and gauges for the alerting core.
package metrics

import (
	"fmt"
	"io"
	"strings"

	"github.com/VictoriaMetrics/metrics"

	"github.com/mr-karan/safetyvision/pkg/models"
)

// Delivery outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
)

// Recorder holds the metric set for one alerting runtime. A nil *Recorder is
// valid and records nothing.
type Recorder struct {
	set *metrics.Set
}

// New returns a recorder backed by its own metric set.
func New() *Recorder {
	return &Recorder{set: metrics.NewSet()}
}

// RecordAlertRaised counts a raised alert by severity.
func (r *Recorder) RecordAlertRaised(sev models.Severity) {
	if r == nil {
		return
	}
	r.set.GetOrCreateCounter(fmt.Sprintf(`safetyvision_alerts_raised_total{severity=%q}`, strings.ToLower(sev.String()))).Inc()
}

// RecordAcknowledged counts an acknowledgment.
func (r *Recorder) RecordAcknowledged() {
	if r == nil {
		return
	}
	r.set.GetOrCreateCounter(`safetyvision_alerts_acknowledged_total`).Inc()
}

// RecordResolved counts a resolution.
func (r *Recorder) RecordResolved() {
	if r == nil {
		return
	}
	r.set.GetOrCreateCounter(`safetyvision_alerts_resolved_total`).Inc()
}

// RecordDelivery counts one dispatch by channel and outcome.
func (r *Recorder) RecordDelivery(channel models.ChannelType, success bool) {
	if r == nil {
		return
	}
	outcome := OutcomeDelivered
	if !success {
		outcome = OutcomeFailed
	}
	r.set.GetOrCreateCounter(fmt.Sprintf(`safetyvision_deliveries_total{channel=%q,outcome=%q}`, channel, outcome)).Inc()
}

// RecordDeliveryDuration observes how long one dispatch took.
func (r *Recorder) RecordDeliveryDuration(channel models.ChannelType, seconds float64) {
	if r == nil {
		return
	}
	r.set.GetOrCreateHistogram(fmt.Sprintf(`safetyvision_delivery_duration_seconds{channel=%q}`, channel)).Update(seconds)
}

// RecordEscalationScheduled counts a started escalation timer.
func (r *Recorder) RecordEscalationScheduled() {
	if r == nil {
		return
	}
	r.set.GetOrCreateCounter(`safetyvision_escalations_scheduled_total`).Inc()
}

// RecordEscalationFired counts a timer that produced an escalated alert.
func (r *Recorder) RecordEscalationFired() {
	if r == nil {
		return
	}
	r.set.GetOrCreateCounter(`safetyvision_escalations_fired_total`).Inc()
}

// RecordEscalationCancelled counts a timer cancelled by acknowledgment or resolution.
func (r *Recorder) RecordEscalationCancelled() {
	if r == nil {
		return
	}
	r.set.GetOrCreateCounter(`safetyvision_escalations_cancelled_total`).Inc()
}

// RecordEscalationSkipped counts a timer that fired for an alert no longer live.
func (r *Recorder) RecordEscalationSkipped() {
	if r == nil {
		return
	}
	r.set.GetOrCreateCounter(`safetyvision_escalations_skipped_total`).Inc()
}

// RecordEmergencyStop counts an executed stop sequence by level.
func (r *Recorder) RecordEmergencyStop(level models.EmergencyLevel) {
	if r == nil {
		return
	}
	r.set.GetOrCreateCounter(fmt.Sprintf(`safetyvision_emergency_stops_total{level=%q}`, strings.ToLower(level.String()))).Inc()
}

// RecordEmergencyReset counts an operator reset.
func (r *Recorder) RecordEmergencyReset() {
	if r == nil {
		return
	}
	r.set.GetOrCreateCounter(`safetyvision_emergency_resets_total`).Inc()
}

// RecordActionFailure counts a failed stop-sequence step.
func (r *Recorder) RecordActionFailure(step string) {
	if r == nil {
		return
	}
	r.set.GetOrCreateCounter(fmt.Sprintf(`safetyvision_emergency_action_failures_total{step=%q}`, step)).Inc()
}

// RegisterGauge exposes a callback-driven gauge, e.g. the active alert count.
// Registering the same name twice keeps the first callback.
func (r *Recorder) RegisterGauge(name string, f func() float64) {
	if r == nil {
		return
	}
	r.set.GetOrCreateGauge(name, f)
}

// Counter returns the current value of a counter by its full name, for tests
// and diagnostics. Unknown counters read as zero.
func (r *Recorder) Counter(name string) uint64 {
	if r == nil {
		return 0
	}
	return r.set.GetOrCreateCounter(name).Get()
}

// WritePrometheus writes the recorder's metrics followed by process metrics.
func (r *Recorder) WritePrometheus(w io.Writer) {
	if r != nil {
		r.set.WritePrometheus(w)
	}
	metrics.WriteProcessMetrics(w)
}
