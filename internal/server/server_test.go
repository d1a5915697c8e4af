package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr-karan/safetyvision/internal/alerts"
	"github.com/mr-karan/safetyvision/internal/config"
	"github.com/mr-karan/safetyvision/internal/emergency"
	"github.com/mr-karan/safetyvision/internal/metrics"
	"github.com/mr-karan/safetyvision/internal/sqlite"
	"github.com/mr-karan/safetyvision/pkg/logger"
	"github.com/mr-karan/safetyvision/pkg/models"
)

type envelope struct {
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data"`
	Message   string          `json:"message"`
	ErrorType string          `json:"error_type"`
}

type testEnv struct {
	srv     *Server
	alerts  *alerts.Manager
	ctrl    *emergency.Controller
	metrics *metrics.Recorder
	db      *sqlite.DB
}

func newTestEnv(t *testing.T, withDB bool) *testEnv {
	t.Helper()
	log := logger.Discard()
	cfg := config.Default()
	rec := metrics.New()

	var db *sqlite.DB
	var alertRecorder alerts.HistoryRecorder
	var emergencyRecorder emergency.HistoryRecorder
	if withDB {
		var err error
		db, err = sqlite.New(sqlite.Options{
			Logger: log,
			Config: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "sv.db")},
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		alertRecorder, emergencyRecorder = db, db
	}

	hub := NewHub(log)
	mgr, err := alerts.NewManager(alerts.Options{
		Config:   cfg.Alerts,
		Logger:   log,
		Metrics:  rec,
		Recorder: alertRecorder,
		Senders: []alerts.AlertSender{
			alerts.NewLogSender(log),
			alerts.NewDashboardSender(hub, log),
		},
	})
	require.NoError(t, err)
	t.Cleanup(mgr.Stop)

	ctrl := emergency.NewController(emergency.Options{
		Thresholds: cfg.Emergency.Thresholds,
		Location:   "reactor_hall",
		Actions:    emergency.LogActions(log),
		Alerts:     mgr,
		Recorder:   emergencyRecorder,
		Metrics:    rec,
		Logger:     log,
	})
	mgr.OnAlert(hub.AlertListener())
	ctrl.OnTransition(hub.EmergencyListener)

	srv := New(ServerOptions{
		Config:    cfg,
		Alerts:    mgr,
		Emergency: ctrl,
		SQLite:    db,
		Metrics:   rec,
		Hub:       hub,
		Logger:    log,
		Version:   "test",
	})
	return &testEnv{srv: srv, alerts: mgr, ctrl: ctrl, metrics: rec, db: db}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.srv.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &env))
	}
	return resp.StatusCode, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, true)
	status, body := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	data := decode[map[string]any](t, body.Data)
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, "ok", data["sqlite"])
	assert.Equal(t, false, data["emergency_active"])
}

func TestMeta(t *testing.T) {
	env := newTestEnv(t, false)
	status, body := env.do(t, http.MethodGet, "/api/v1/meta", nil)
	require.Equal(t, http.StatusOK, status)
	meta := decode[MetaResponse](t, body.Data)
	assert.Equal(t, "test", meta.Version)
	assert.Equal(t, []string{"dashboard", "log"}, meta.Channels)
	assert.False(t, meta.PersistedHistory)
}

func TestAlertLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t, false)

	status, body := env.do(t, http.MethodPost, "/api/v1/alerts", map[string]any{
		"severity": "CRITICAL",
		"title":    "Radiation spike",
		"message":  "R2 above limit",
		"source":   "radiation_monitor",
		"location": "reactor_hall",
	})
	require.Equal(t, http.StatusCreated, status, body.Message)
	alert := decode[models.Alert](t, body.Data)
	assert.Equal(t, models.SeverityCritical, alert.Severity)
	assert.True(t, alert.RequiresAck)
	assert.Equal(t, 300*time.Second, alert.EscalateAfter.Duration)

	status, body = env.do(t, http.MethodGet, "/api/v1/alerts/"+string(alert.ID), nil)
	require.Equal(t, http.StatusOK, status)
	got := decode[map[string]json.RawMessage](t, body.Data)
	assert.Contains(t, got, "escalates_at")
	var wire map[string]any
	require.NoError(t, json.Unmarshal(got["alert"], &wire))
	assert.Equal(t, "5m0s", wire["escalate_after"], "alerts use the same duration format as raise requests")

	status, body = env.do(t, http.MethodPost, "/api/v1/alerts/"+string(alert.ID)+"/acknowledge", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(models.ValidationErrorType), body.ErrorType)

	status, _ = env.do(t, http.MethodPost, "/api/v1/alerts/"+string(alert.ID)+"/acknowledge", models.AcknowledgeRequest{UserID: "op-1", Note: "on it"})
	require.Equal(t, http.StatusOK, status)
	_, pending := env.alerts.PendingEscalation(alert.ID)
	assert.False(t, pending)

	status, _ = env.do(t, http.MethodPost, "/api/v1/alerts/"+string(alert.ID)+"/resolve", models.ResolveRequest{UserID: "op-1", Note: "fixed"})
	require.Equal(t, http.StatusOK, status)

	status, body = env.do(t, http.MethodPost, "/api/v1/alerts/"+string(alert.ID)+"/resolve", models.ResolveRequest{UserID: "op-1"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, string(models.NotFoundErrorType), body.ErrorType)

	status, body = env.do(t, http.MethodGet, "/api/v1/alerts", nil)
	require.Equal(t, http.StatusOK, status)
	for _, a := range decode[[]models.Alert](t, body.Data) {
		assert.NotEqual(t, alert.ID, a.ID)
	}

	status, body = env.do(t, http.MethodGet, "/api/v1/alerts/stats", nil)
	require.Equal(t, http.StatusOK, status)
	stats := decode[models.Statistics](t, body.Data)
	assert.Equal(t, 1, stats.Resolved)
	assert.Equal(t, 1, stats.Acknowledged)
}

func TestAlertNotFound(t *testing.T) {
	env := newTestEnv(t, false)
	for _, path := range []string{"/api/v1/alerts/alert_missing/acknowledge", "/api/v1/alerts/alert_missing/resolve"} {
		status, body := env.do(t, http.MethodPost, path, models.AcknowledgeRequest{UserID: "op"})
		assert.Equal(t, http.StatusNotFound, status, path)
		assert.Equal(t, "error", body.Status)
	}
	status, _ := env.do(t, http.MethodGet, "/api/v1/alerts/alert_missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRaiseValidation(t *testing.T) {
	env := newTestEnv(t, false)
	status, body := env.do(t, http.MethodPost, "/api/v1/alerts", map[string]any{"severity": "INFO", "source": "x"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body.Message, "title is required")

	status, _ = env.do(t, http.MethodPost, "/api/v1/alerts", map[string]any{"severity": "LOUD", "title": "t", "source": "x"})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestHistoryLimitValidation(t *testing.T) {
	env := newTestEnv(t, false)
	status, body := env.do(t, http.MethodGet, "/api/v1/alerts/history?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(models.ValidationErrorType), body.ErrorType)

	status, _ = env.do(t, http.MethodGet, "/api/v1/alerts/history?persisted=true", nil)
	assert.Equal(t, http.StatusNotImplemented, status)
}

func TestSubscriptions(t *testing.T) {
	env := newTestEnv(t, false)

	status, _ := env.do(t, http.MethodPost, "/api/v1/subscriptions", map[string]any{
		"recipient_id": "shift_lead",
		"channels":     []string{"pager"},
		"severities":   []string{"CRITICAL"},
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := env.do(t, http.MethodPost, "/api/v1/subscriptions", map[string]any{
		"recipient_id": "shift_lead",
		"channels":     []string{"dashboard"},
		"severities":   []string{"CRITICAL", "EMERGENCY"},
		"system":       true,
	})
	require.Equal(t, http.StatusCreated, status, body.Message)
	created := decode[models.Subscription](t, body.Data)
	assert.False(t, created.System)

	status, body = env.do(t, http.MethodGet, "/api/v1/subscriptions", nil)
	require.Equal(t, http.StatusOK, status)
	subs := decode[[]models.Subscription](t, body.Data)
	require.NotEmpty(t, subs)
	last := subs[len(subs)-1]
	assert.Equal(t, "shift_lead", last.RecipientID)
	assert.False(t, last.System)
}

func TestEmergencyFlow(t *testing.T) {
	env := newTestEnv(t, true)

	status, body := env.do(t, http.MethodPost, "/api/v1/emergency/evaluate", map[string]float64{"radiation_level": 0.2})
	require.Equal(t, http.StatusOK, status)
	eval := decode[models.EmergencyEvaluation](t, body.Data)
	assert.Nil(t, eval.Event)
	assert.False(t, eval.Triggered)

	status, body = env.do(t, http.MethodPost, "/api/v1/emergency/evaluate", map[string]float64{"radiation_level": 2.5})
	require.Equal(t, http.StatusOK, status)
	eval = decode[models.EmergencyEvaluation](t, body.Data)
	require.NotNil(t, eval.Event)
	assert.True(t, eval.Triggered)
	assert.Equal(t, models.EmergencyCritical, eval.Event.Level)
	assert.Equal(t, "reactor_hall", eval.Event.Location)

	status, body = env.do(t, http.MethodGet, "/api/v1/emergency/status", nil)
	require.Equal(t, http.StatusOK, status)
	st := decode[models.EmergencyStatus](t, body.Data)
	assert.True(t, st.Active)
	assert.Equal(t, 1, st.Count)

	status, _ = env.do(t, http.MethodPost, "/api/v1/emergency/trigger", map[string]any{"level": "LOW", "trigger": "drill"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, env.ctrl.Status().Count, "lower level is ignored while active")

	status, _ = env.do(t, http.MethodPost, "/api/v1/emergency/reset", map[string]string{"reason": "x"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = env.do(t, http.MethodPost, "/api/v1/emergency/reset", models.EmergencyResetRequest{OperatorID: "op-7", Reason: "recalibrated"})
	require.Equal(t, http.StatusOK, status)
	assert.False(t, decode[models.EmergencyStatus](t, body.Data).Active)

	status, body = env.do(t, http.MethodPost, "/api/v1/emergency/reset", models.EmergencyResetRequest{OperatorID: "op-7"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, string(models.ConflictErrorType), body.ErrorType)

	status, body = env.do(t, http.MethodGet, "/api/v1/emergency/history", nil)
	require.Equal(t, http.StatusOK, status)
	records := decode[[]models.EmergencyRecord](t, body.Data)
	require.Len(t, records, 2)
	assert.Equal(t, models.EmergencyReset, records[0].Kind)
	assert.Equal(t, models.EmergencyTriggered, records[1].Kind)
}

func TestTriggerValidation(t *testing.T) {
	env := newTestEnv(t, false)
	status, _ := env.do(t, http.MethodPost, "/api/v1/emergency/trigger", map[string]any{"trigger": "drill"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, env.ctrl.Status().Active)
}

func TestPersistedHistoryAndTransitions(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	id, err := env.alerts.Raise(ctx, models.RaiseRequest{
		Severity: models.SeverityWarning,
		Title:    "Gas drift",
		Source:   "gas_monitor",
	})
	require.NoError(t, err)
	require.NoError(t, env.alerts.Acknowledge(ctx, id, "op-2", ""))

	status, body := env.do(t, http.MethodGet, "/api/v1/alerts/"+string(id)+"/transitions", nil)
	require.Equal(t, http.StatusOK, status)
	trail := decode[[]sqlite.AlertTransition](t, body.Data)
	require.Len(t, trail, 2)
	assert.Equal(t, models.AlertStateAcknowledged, trail[1].State)

	status, body = env.do(t, http.MethodGet, "/api/v1/alerts/history?persisted=true&state=acknowledged", nil)
	require.Equal(t, http.StatusOK, status)
	persisted := decode[[]models.Alert](t, body.Data)
	require.Len(t, persisted, 1)
	assert.Equal(t, id, persisted[0].ID)

	status, _ = env.do(t, http.MethodGet, "/api/v1/alerts/alert_missing/transitions", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAdminSettings(t *testing.T) {
	env := newTestEnv(t, true)

	status, _ := env.do(t, http.MethodPut, "/api/v1/admin/settings/alerts.smtp.port", UpdateSettingRequest{
		Value: "-1", ValueType: "number", Category: "alerts",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.do(t, http.MethodPut, "/api/v1/admin/settings/alerts.smtp.port", UpdateSettingRequest{
		Value: "2525", ValueType: "number", Category: "billing",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.do(t, http.MethodPut, "/api/v1/admin/settings/alerts.smtp.port", UpdateSettingRequest{
		Value: "2525", ValueType: "number", Category: "alerts",
	})
	require.Equal(t, http.StatusOK, status)
	status, _ = env.do(t, http.MethodPut, "/api/v1/admin/settings/alerts.smtp.password", UpdateSettingRequest{
		Value: "hunter2", ValueType: "string", Category: "alerts", IsSensitive: true,
	})
	require.Equal(t, http.StatusOK, status)

	status, body := env.do(t, http.MethodGet, "/api/v1/admin/settings/alerts.smtp.port", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "2525", decode[map[string]string](t, body.Data)["value"])

	status, body = env.do(t, http.MethodGet, "/api/v1/admin/settings/category/alerts", nil)
	require.Equal(t, http.StatusOK, status)
	list := decode[[]SystemSettingResponse](t, body.Data)
	require.Len(t, list, 2)
	assert.Equal(t, "alerts.smtp.password", list[0].Key)
	assert.Empty(t, list[0].Value)
	assert.Equal(t, "********", list[0].MaskedValue)

	status, _ = env.do(t, http.MethodDelete, "/api/v1/admin/settings/alerts.smtp.port", nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = env.do(t, http.MethodDelete, "/api/v1/admin/settings/alerts.smtp.port", nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = env.do(t, http.MethodGet, "/api/v1/admin/settings/alerts.smtp.port", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAdminSettingsNeedDatabase(t *testing.T) {
	env := newTestEnv(t, false)
	status, _ := env.do(t, http.MethodGet, "/api/v1/admin/settings", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, false)
	_, err := env.alerts.Raise(context.Background(), models.RaiseRequest{Severity: models.SeverityInfo, Title: "t", Source: "s"})
	require.NoError(t, err)

	resp, err := env.srv.App().Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `safetyvision_alerts_raised_total{severity="info"} 1`)
	assert.Contains(t, string(raw), "safetyvision_active_alerts")
}

func TestWebsocketRequiresUpgrade(t *testing.T) {
	env := newTestEnv(t, false)
	status, _ := env.do(t, http.MethodGet, "/ws", nil)
	assert.Equal(t, http.StatusUpgradeRequired, status)
}
