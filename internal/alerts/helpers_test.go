package alerts

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mr-karan/safetyvision/internal/config"
	"github.com/mr-karan/safetyvision/pkg/models"
)

var errSendFailed = errors.New("send failed")

// recordingSender records every notification it receives.
type recordingSender struct {
	channel models.ChannelType
	err     error
	panics  bool
	delay   time.Duration

	mu  sync.Mutex
	got []AlertNotification
}

func newRecordingSender(ch models.ChannelType) *recordingSender {
	return &recordingSender{channel: ch}
}

func (r *recordingSender) Channel() models.ChannelType { return r.channel }

func (r *recordingSender) Send(ctx context.Context, n AlertNotification) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	r.got = append(r.got, n)
	r.mu.Unlock()
	if r.panics {
		panic("sender exploded")
	}
	return r.err
}

func (r *recordingSender) notifications() []AlertNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AlertNotification(nil), r.got...)
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

// testAlertsConfig returns a config with escalation delays short enough for tests.
func testAlertsConfig() config.AlertsConfig {
	cfg := config.Default().Alerts
	cfg.Escalation = config.EscalationConfig{
		Emergency: 40 * time.Millisecond,
		Critical:  40 * time.Millisecond,
		Error:     40 * time.Millisecond,
		Warning:   40 * time.Millisecond,
	}
	cfg.HousekeepingInterval = 0
	return cfg
}

func newTestManager(t *testing.T, cfg config.AlertsConfig, senders ...AlertSender) *Manager {
	t.Helper()
	m, err := NewManager(Options{Config: cfg, Senders: senders})
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	return m
}

// escalationsOf returns alerts produced by escalating id.
func escalationsOf(m *Manager, id models.AlertID) []*models.Alert {
	var out []*models.Alert
	for _, a := range m.History(1000) {
		if a.Source == models.SourceAlertEscalation && a.HasTag(models.TagEscalated) &&
			strings.HasPrefix(a.Message, "Alert "+string(id)+" ") {
			out = append(out, a)
		}
	}
	return out
}

func criticalRequest(title string) models.RaiseRequest {
	return models.RaiseRequest{
		Severity: models.SeverityCritical,
		Title:    title,
		Message:  "reading above limit",
		Source:   "radiation_monitor",
		Location: "reactor_hall",
	}
}
