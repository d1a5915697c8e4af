package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrAlertNotFound is returned when an alert id is unknown or already resolved.
	ErrAlertNotFound = errors.New("alert not found or already resolved")
	// ErrInvalidAlert indicates a raise request failed validation.
	ErrInvalidAlert = errors.New("invalid alert")
	// ErrInvalidSubscription indicates a subscription failed validation.
	ErrInvalidSubscription = errors.New("invalid subscription")
)

// AlertID uniquely identifies an alert for the lifetime of the process.
type AlertID string

// Severity is the ordered alert severity. The numeric value is the ordering
// contract: INFO < WARNING < ERROR < CRITICAL < EMERGENCY.
type Severity int

const (
	SeverityInfo      Severity = 1
	SeverityWarning   Severity = 2
	SeverityError     Severity = 3
	SeverityCritical  Severity = 4
	SeverityEmergency Severity = 5
)

// AllSeverities lists every severity in ascending order.
var AllSeverities = []Severity{SeverityInfo, SeverityWarning, SeverityError, SeverityCritical, SeverityEmergency}

var severityNames = map[Severity]string{
	SeverityInfo:      "INFO",
	SeverityWarning:   "WARNING",
	SeverityError:     "ERROR",
	SeverityCritical:  "CRITICAL",
	SeverityEmergency: "EMERGENCY",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// Valid reports whether s is one of the defined severities.
func (s Severity) Valid() bool {
	_, ok := severityNames[s]
	return ok
}

// ParseSeverity converts a case-insensitive severity name.
func ParseSeverity(v string) (Severity, error) {
	name := strings.ToUpper(strings.TrimSpace(v))
	for sev, n := range severityNames {
		if n == name {
			return sev, nil
		}
	}
	return 0, fmt.Errorf("unknown severity %q", v)
}

func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	parsed, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// AlertState captures where an alert sits in its lifecycle.
type AlertState string

const (
	AlertStateActive       AlertState = "active"
	AlertStateAcknowledged AlertState = "acknowledged"
	AlertStateResolved     AlertState = "resolved"
)

// Well-known tags applied by the alerting core.
const (
	TagEscalated      = "escalated"
	TagAcknowledgment = "acknowledgment"
	TagResolution     = "resolution"
	TagEvacuation     = "evacuation"
	TagEmergencyStop  = "emergency_stop"
	TagEmergencyReset = "emergency_reset"
)

// Well-known alert sources used by the core itself.
const (
	SourceAlertSystem     = "alert_system"
	SourceAlertEscalation = "alert_escalation"
	SourceEmergencyStop   = "emergency_stop"
)

// ChannelType enumerates the outbound delivery mechanisms.
type ChannelType string

const (
	ChannelEmail        ChannelType = "email"
	ChannelSMS          ChannelType = "sms"
	ChannelDashboard    ChannelType = "dashboard"
	ChannelAudio        ChannelType = "audio"
	ChannelLog          ChannelType = "log"
	ChannelWebhook      ChannelType = "webhook"
	ChannelMQTT         ChannelType = "mqtt"
	ChannelKafka        ChannelType = "kafka"
	ChannelAlertmanager ChannelType = "alertmanager"
)

var validChannels = map[ChannelType]struct{}{
	ChannelEmail:        {},
	ChannelSMS:          {},
	ChannelDashboard:    {},
	ChannelAudio:        {},
	ChannelLog:          {},
	ChannelWebhook:      {},
	ChannelMQTT:         {},
	ChannelKafka:        {},
	ChannelAlertmanager: {},
}

// Valid reports whether c is a known channel type.
func (c ChannelType) Valid() bool {
	_, ok := validChannels[c]
	return ok
}

// Acknowledgment records who acknowledged an alert and when.
type Acknowledgment struct {
	UserID string    `json:"user_id"`
	Note   string    `json:"note,omitempty"`
	At     time.Time `json:"at"`
}

// Resolution records who resolved an alert and when.
type Resolution struct {
	UserID string    `json:"user_id"`
	Note   string    `json:"note,omitempty"`
	At     time.Time `json:"at"`
}

// Alert is a tracked notification with a lifecycle.
type Alert struct {
	ID            AlertID         `json:"id"`
	Severity      Severity        `json:"severity"`
	Title         string          `json:"title"`
	Message       string          `json:"message"`
	CreatedAt     time.Time       `json:"created_at"`
	Source        string          `json:"source"`
	Location      string          `json:"location,omitempty"`
	Payload       map[string]any  `json:"payload,omitempty"`
	RequiresAck   bool            `json:"requires_ack"`
	EscalateAfter Duration        `json:"escalate_after"`
	Tags          []string        `json:"tags,omitempty"`
	State         AlertState      `json:"state"`
	Acknowledged  *Acknowledgment `json:"acknowledged,omitempty"`
	Resolved      *Resolution     `json:"resolved,omitempty"`
	EscalatedTo   AlertID         `json:"escalated_to,omitempty"`
}

// HasTag reports whether the alert carries tag.
func (a *Alert) HasTag(tag string) bool {
	for _, t := range a.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no mutable state with a.
func (a *Alert) Clone() *Alert {
	if a == nil {
		return nil
	}
	out := *a
	if a.Payload != nil {
		out.Payload = make(map[string]any, len(a.Payload))
		for k, v := range a.Payload {
			out.Payload[k] = v
		}
	}
	if a.Tags != nil {
		out.Tags = append([]string(nil), a.Tags...)
	}
	if a.Acknowledged != nil {
		ack := *a.Acknowledged
		out.Acknowledged = &ack
	}
	if a.Resolved != nil {
		res := *a.Resolved
		out.Resolved = &res
	}
	return &out
}

// RaiseRequest carries the inputs to raise an alert. Nil RequiresAck and
// EscalateAfter select the severity-based defaults.
type RaiseRequest struct {
	Severity      Severity       `json:"severity"`
	Title         string         `json:"title"`
	Message       string         `json:"message"`
	Source        string         `json:"source"`
	Location      string         `json:"location,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	RequiresAck   *bool          `json:"requires_ack,omitempty"`
	EscalateAfter *Duration      `json:"escalate_after,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
}

// Validate checks the fields every alert needs.
func (r RaiseRequest) Validate() error {
	if !r.Severity.Valid() {
		return fmt.Errorf("%w: severity %d", ErrInvalidAlert, int(r.Severity))
	}
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidAlert)
	}
	if strings.TrimSpace(r.Source) == "" {
		return fmt.Errorf("%w: source is required", ErrInvalidAlert)
	}
	if r.EscalateAfter != nil && r.EscalateAfter.Duration < 0 {
		return fmt.Errorf("%w: escalate_after must not be negative", ErrInvalidAlert)
	}
	return nil
}

// Duration is a time.Duration that reads and writes "90s" style JSON strings.
// Plain numbers are taken as seconds.
type Duration struct {
	time.Duration
}

// NewDuration is a convenience for building optional durations.
func NewDuration(d time.Duration) *Duration {
	return &Duration{Duration: d}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		d.Duration = time.Duration(v * float64(time.Second))
		return nil
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("invalid duration %v", raw)
	}
}

// Bool is a convenience for building optional booleans.
func Bool(v bool) *bool {
	return &v
}

// QuietHours is a daily window during which non-critical delivery is suppressed.
// Start and End are "HH:MM"; a window whose End is before Start wraps midnight.
type QuietHours struct {
	Start    string `json:"start" koanf:"start"`
	End      string `json:"end" koanf:"end"`
	Timezone string `json:"timezone,omitempty" koanf:"timezone"`
}

// Subscription declares a recipient's interest in alerts.
type Subscription struct {
	RecipientID string        `json:"recipient_id"`
	Channels    []ChannelType `json:"channels"`
	Severities  []Severity    `json:"severities"`
	Locations   []string      `json:"locations,omitempty"`
	Sources     []string      `json:"sources,omitempty"`
	QuietHours  *QuietHours   `json:"quiet_hours,omitempty"`
	System      bool          `json:"system"`
}

// Statistics summarises the alert store for dashboards.
type Statistics struct {
	Active             int            `json:"active_alerts"`
	Total              int            `json:"total_alerts"`
	Acknowledged       int            `json:"acknowledged_alerts"`
	Resolved           int            `json:"resolved_alerts"`
	Escalated          int            `json:"escalated_alerts"`
	SeverityBreakdown  map[string]int `json:"severity_breakdown"`
	Subscriptions      int            `json:"subscriptions"`
	PendingEscalations int            `json:"pending_escalations"`
}

// DefaultAlertHistoryLimit controls the number of history entries returned when unspecified.
const DefaultAlertHistoryLimit = 50
