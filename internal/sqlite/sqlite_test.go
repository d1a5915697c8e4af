package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr-karan/safetyvision/internal/config"
	"github.com/mr-karan/safetyvision/pkg/logger"
	"github.com/mr-karan/safetyvision/pkg/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(Options{
		Logger: logger.Discard(),
		Config: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "safetyvision.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.sqlite")
	for i := 0; i < 2; i++ {
		db, err := New(Options{Logger: logger.Discard(), Config: config.SQLiteConfig{Path: path}})
		require.NoError(t, err)
		require.NoError(t, db.Ping(context.Background()))
		require.NoError(t, db.Close())
	}
}

func TestPoolSettings(t *testing.T) {
	db, err := New(Options{
		Logger: logger.Discard(),
		Config: config.SQLiteConfig{
			Path:         filepath.Join(t.TempDir(), "pools.db"),
			MaxReadConns: 3,
			BusyTimeout:  2 * time.Second,
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var timeout int
	require.NoError(t, db.readDB.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 2000, timeout)

	var mode string
	require.NoError(t, db.writeDB.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
	assert.Equal(t, 3, db.readDB.Stats().MaxOpenConnections)
	assert.Equal(t, 1, db.writeDB.Stats().MaxOpenConnections)
}

func TestRecordAlertLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	alert := &models.Alert{
		ID:            "alert_1",
		Severity:      models.SeverityCritical,
		Title:         "Radiation spike",
		Message:       "R2 above limit",
		Source:        "radiation_monitor",
		Location:      "reactor_hall",
		Payload:       map[string]any{"radiation_level": 2.5},
		RequiresAck:   true,
		EscalateAfter: models.Duration{Duration: 5 * time.Minute},
		Tags:          []string{"radiation"},
		State:         models.AlertStateActive,
		CreatedAt:     created,
	}
	require.NoError(t, db.RecordAlert(ctx, alert))

	alert.State = models.AlertStateAcknowledged
	alert.Acknowledged = &models.Acknowledgment{UserID: "op-1", Note: "on it", At: created.Add(time.Minute)}
	require.NoError(t, db.RecordAlert(ctx, alert))

	alert.State = models.AlertStateResolved
	alert.Resolved = &models.Resolution{UserID: "op-2", At: created.Add(time.Hour)}
	require.NoError(t, db.RecordAlert(ctx, alert))

	got, err := db.GetAlert(ctx, "alert_1")
	require.NoError(t, err)
	assert.Equal(t, models.SeverityCritical, got.Severity)
	assert.Equal(t, models.AlertStateResolved, got.State)
	assert.Equal(t, "reactor_hall", got.Location)
	assert.Equal(t, 2.5, got.Payload["radiation_level"])
	assert.Equal(t, []string{"radiation"}, got.Tags)
	assert.Equal(t, 5*time.Minute, got.EscalateAfter.Duration)
	assert.True(t, got.CreatedAt.Equal(created))
	require.NotNil(t, got.Acknowledged)
	assert.Equal(t, "op-1", got.Acknowledged.UserID)
	assert.Equal(t, "on it", got.Acknowledged.Note)
	require.NotNil(t, got.Resolved)
	assert.Equal(t, "op-2", got.Resolved.UserID)

	trail, err := db.ListAlertTransitions(ctx, "alert_1")
	require.NoError(t, err)
	require.Len(t, trail, 3)
	assert.Equal(t, models.AlertStateActive, trail[0].State)
	assert.Equal(t, models.AlertStateAcknowledged, trail[1].State)
	assert.Equal(t, "op-1", trail[1].Actor)
	assert.Equal(t, models.AlertStateResolved, trail[2].State)
	assert.Equal(t, "op-2", trail[2].Actor)
}

func TestRecordAlertOutOfOrderKeepsTerminalState(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	base := models.Alert{
		ID:          "alert_7",
		Severity:    models.SeverityCritical,
		Title:       "Coolant leak",
		Source:      "leak_detector",
		RequiresAck: true,
		State:       models.AlertStateActive,
		CreatedAt:   created,
	}
	active := base
	require.NoError(t, db.RecordAlert(ctx, &active))

	resolved := base
	resolved.State = models.AlertStateResolved
	resolved.Resolved = &models.Resolution{UserID: "op-3", Note: "valve closed", At: created.Add(time.Minute)}
	require.NoError(t, db.RecordAlert(ctx, &resolved))

	// An escalation snapshot taken before the resolve lands afterwards.
	stale := base
	stale.EscalatedTo = "alert_8"
	require.NoError(t, db.RecordAlert(ctx, &stale))

	got, err := db.GetAlert(ctx, "alert_7")
	require.NoError(t, err)
	assert.Equal(t, models.AlertStateResolved, got.State)
	require.NotNil(t, got.Resolved)
	assert.Equal(t, "op-3", got.Resolved.UserID)
	assert.Equal(t, "valve closed", got.Resolved.Note)
	assert.Equal(t, models.AlertID("alert_8"), got.EscalatedTo)

	// A late acknowledgment keeps the resolved state as well.
	acked := base
	acked.State = models.AlertStateAcknowledged
	acked.Acknowledged = &models.Acknowledgment{UserID: "op-4", At: created.Add(30 * time.Second)}
	require.NoError(t, db.RecordAlert(ctx, &acked))

	got, err = db.GetAlert(ctx, "alert_7")
	require.NoError(t, err)
	assert.Equal(t, models.AlertStateResolved, got.State)
}

func TestGetAlertNotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := db.GetAlert(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAndPruneAlerts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, state := range []models.AlertState{models.AlertStateResolved, models.AlertStateActive, models.AlertStateResolved} {
		require.NoError(t, db.RecordAlert(ctx, &models.Alert{
			ID:        models.AlertID([]string{"a", "b", "c"}[i]),
			Severity:  models.SeverityInfo,
			Title:     "t",
			Source:    "s",
			State:     state,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	all, err := db.ListAlerts(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, models.AlertID("c"), all[0].ID)

	active, err := db.ListAlerts(ctx, models.AlertStateActive, 10)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, models.AlertID("b"), active[0].ID)

	n, err := db.PruneResolvedAlerts(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = db.GetAlert(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	trail, err := db.ListAlertTransitions(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, trail)
}

func TestRecordEmergency(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	ev := &models.EmergencyEvent{
		Level:              models.EmergencyCritical,
		Trigger:            "radiation_critical",
		Description:        "Critical radiation level detected: 2.5 mSv/h",
		Location:           "reactor_hall",
		Sensors:            models.SensorSnapshot{"radiation_level": 2.5},
		RequiresEvacuation: true,
	}
	require.NoError(t, db.RecordEmergency(ctx, models.EmergencyRecord{Kind: models.EmergencyTriggered, Event: ev, At: at}))
	require.NoError(t, db.RecordEmergency(ctx, models.EmergencyRecord{
		Kind:       models.EmergencyReset,
		Event:      ev,
		OperatorID: "op-7",
		Reason:     "recalibrated",
		At:         at.Add(time.Hour),
	}))

	recs, err := db.ListEmergencies(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, models.EmergencyReset, recs[0].Kind)
	assert.Equal(t, "op-7", recs[0].OperatorID)
	assert.Equal(t, models.EmergencyTriggered, recs[1].Kind)
	require.NotNil(t, recs[1].Event)
	assert.Equal(t, models.EmergencyCritical, recs[1].Event.Level)
	assert.True(t, recs[1].Event.RequiresEvacuation)
	assert.Equal(t, 2.5, recs[1].Event.Sensors["radiation_level"])
	assert.True(t, recs[1].At.Equal(at))
}

func TestSettings(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	assert.Equal(t, "fallback", db.GetSettingWithDefault(ctx, "alerts.smtp.host", "fallback"))
	_, err := db.GetSetting(ctx, "alerts.smtp.host")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.UpsertSetting(ctx, "alerts.smtp.host", "smtp.plant.example", "string", "alerts", "SMTP host", false))
	require.NoError(t, db.UpsertSetting(ctx, "alerts.smtp.port", "2525", "number", "alerts", "", false))
	require.NoError(t, db.UpsertSetting(ctx, "alerts.escalation.critical", "2m", "duration", "alerts", "", false))
	require.NoError(t, db.UpsertSetting(ctx, "alerts.tls_insecure_skip_verify", "true", "boolean", "alerts", "", false))
	require.NoError(t, db.UpsertSetting(ctx, "emergency.thresholds.radiation_high", "1.5", "number", "emergency", "", false))

	assert.Equal(t, "smtp.plant.example", db.GetSettingWithDefault(ctx, "alerts.smtp.host", ""))
	assert.Equal(t, 2525, db.GetIntSetting(ctx, "alerts.smtp.port", 587))
	assert.Equal(t, 2*time.Minute, db.GetDurationSetting(ctx, "alerts.escalation.critical", time.Minute))
	assert.True(t, db.GetBoolSetting(ctx, "alerts.tls_insecure_skip_verify", false))
	assert.Equal(t, 1.5, db.GetFloat64Setting(ctx, "emergency.thresholds.radiation_high", 1.0))
	assert.Equal(t, 587, db.GetIntSetting(ctx, "alerts.smtp.host", 587), "unparsable values fall back")

	require.NoError(t, db.UpsertSetting(ctx, "alerts.smtp.port", "25", "number", "alerts", "", false))
	assert.Equal(t, 25, db.GetIntSetting(ctx, "alerts.smtp.port", 587))

	list, err := db.ListSettingsByCategory(ctx, "alerts")
	require.NoError(t, err)
	assert.Len(t, list, 4)
	assert.Equal(t, "SMTP host", list[1].Description)

	require.NoError(t, db.DeleteSetting(ctx, "alerts.smtp.host"))
	assert.ErrorIs(t, db.DeleteSetting(ctx, "alerts.smtp.host"), ErrNotFound)

	all, err := db.ListSettings(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}
