package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mr-karan/safetyvision/pkg/models"
)

func testAlerts() []*models.Alert {
	created := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	return []*models.Alert{
		{
			ID:        "alert_1",
			Severity:  models.SeverityCritical,
			Title:     "Radiation spike",
			Source:    "sensor_array",
			Location:  "bay-3",
			State:     models.AlertStateActive,
			CreatedAt: created,
		},
		{
			ID:        "alert_2",
			Severity:  models.SeverityWarning,
			Title:     "Door ajar",
			Source:    "access",
			State:     models.AlertStateAcknowledged,
			CreatedAt: created.Add(time.Minute),
		},
	}
}

func newRenderer(t *testing.T, format string) (*Renderer, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	r, err := New(Options{Format: format, Out: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r, &buf
}

func TestNew_UnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Error("New() expected error for unknown format")
	}
}

func TestRenderer_AlertsText(t *testing.T) {
	r, buf := newRenderer(t, "text")
	if err := r.Alerts(testAlerts()); err != nil {
		t.Fatalf("Alerts() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Alerts() lines = %d, want 2", len(lines))
	}
	want := "2024-01-15T10:00:00Z CRITICAL alert_1 Radiation spike @bay-3"
	if lines[0] != want {
		t.Errorf("line 0 = %q, want %q", lines[0], want)
	}
	if !strings.HasSuffix(lines[1], "[acknowledged]") {
		t.Errorf("line 1 = %q, want acknowledged marker", lines[1])
	}
}

func TestRenderer_AlertsEmpty(t *testing.T) {
	r, buf := newRenderer(t, "table")
	if err := r.Alerts(nil); err != nil {
		t.Fatalf("Alerts() error = %v", err)
	}
	if strings.TrimSpace(buf.String()) != "No alerts." {
		t.Errorf("output = %q", buf.String())
	}
}

func TestRenderer_AlertsTable(t *testing.T) {
	r, buf := newRenderer(t, "table")
	if err := r.Alerts(testAlerts()); err != nil {
		t.Fatalf("Alerts() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"SEVERITY", "alert_1", "Door ajar", "acknowledged"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q", want)
		}
	}
}

func TestRenderer_AlertsJSONL(t *testing.T) {
	r, buf := newRenderer(t, "jsonl")
	if err := r.Alerts(testAlerts()); err != nil {
		t.Fatalf("Alerts() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("jsonl lines = %d, want 2", len(lines))
	}
	var a models.Alert
	if err := json.Unmarshal([]byte(lines[0]), &a); err != nil {
		t.Fatalf("invalid JSON line: %v", err)
	}
	if a.ID != "alert_1" || a.Severity != models.SeverityCritical {
		t.Errorf("decoded alert = %+v", a)
	}
}

func TestRenderer_Evaluation(t *testing.T) {
	r, buf := newRenderer(t, "text")
	err := r.Evaluation(&models.EmergencyEvaluation{
		Event: &models.EmergencyEvent{
			Level:              models.EmergencyCritical,
			Trigger:            "radiation",
			Description:        "Critical radiation level: 2.50 mSv/h",
			RequiresEvacuation: true,
		},
		Triggered: true,
	})
	if err != nil {
		t.Fatalf("Evaluation() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Level:    CRITICAL", "Trigger:  radiation", "Evacuation required", "stop sequence triggered"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderer_EvaluationNoBreach(t *testing.T) {
	r, buf := newRenderer(t, "text")
	if err := r.Evaluation(&models.EmergencyEvaluation{}); err != nil {
		t.Fatalf("Evaluation() error = %v", err)
	}
	if strings.TrimSpace(buf.String()) != "No threshold breached." {
		t.Errorf("output = %q", buf.String())
	}
}

func TestRenderer_EmergencyStatus(t *testing.T) {
	r, buf := newRenderer(t, "text")
	err := r.EmergencyStatus(&models.EmergencyStatus{
		Count: 2,
		Last:  &models.EmergencyEvent{Level: models.EmergencyHigh, Trigger: "temperature"},
	})
	if err != nil {
		t.Fatalf("EmergencyStatus() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "No active emergency") {
		t.Errorf("output missing idle marker:\n%s", out)
	}
	if !strings.Contains(out, "Last: HIGH temperature (-)") {
		t.Errorf("output missing last event:\n%s", out)
	}
}

func TestRenderer_Statistics(t *testing.T) {
	r, buf := newRenderer(t, "text")
	err := r.Statistics(&models.Statistics{
		Active:            1,
		Total:             3,
		SeverityBreakdown: map[string]int{"WARNING": 2, "CRITICAL": 1},
	})
	if err != nil {
		t.Fatalf("Statistics() error = %v", err)
	}
	out := buf.String()
	if strings.Index(out, "CRITICAL") > strings.Index(out, "WARNING") {
		t.Errorf("severity breakdown not sorted:\n%s", out)
	}
}

func TestFormatTimestamp(t *testing.T) {
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	r := &Renderer{opts: Options{TimeFormat: "relative"}, now: func() time.Time { return now }}

	tests := []struct {
		at   time.Time
		want string
	}{
		{now.Add(-30 * time.Second), "30s ago"},
		{now.Add(-5 * time.Minute), "5m ago"},
		{now.Add(-3 * time.Hour), "3h ago"},
		{now.Add(-50 * time.Hour), "2d ago"},
		{time.Time{}, "-"},
	}
	for _, tt := range tests {
		if got := r.formatTimestamp(tt.at); got != tt.want {
			t.Errorf("formatTimestamp(%v) = %q, want %q", tt.at, got, tt.want)
		}
	}
}
