package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mr-karan/safetyvision/pkg/models"
)

const (
	upsertAlertQuery = `INSERT INTO alerts (
    id,
    severity,
    title,
    message,
    source,
    location,
    payload,
    requires_ack,
    escalate_after_ms,
    tags,
    state,
    acknowledged_by,
    acknowledged_at,
    ack_note,
    resolved_by,
    resolved_at,
    resolution_note,
    escalated_to,
    created_at,
    updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    state = CASE
        WHEN alerts.state = 'resolved' THEN alerts.state
        WHEN alerts.state = 'acknowledged' AND excluded.state = 'active' THEN alerts.state
        ELSE excluded.state
    END,
    acknowledged_by = CASE WHEN alerts.acknowledged_at IS NULL THEN excluded.acknowledged_by ELSE alerts.acknowledged_by END,
    ack_note = CASE WHEN alerts.acknowledged_at IS NULL THEN excluded.ack_note ELSE alerts.ack_note END,
    acknowledged_at = COALESCE(alerts.acknowledged_at, excluded.acknowledged_at),
    resolved_by = CASE WHEN alerts.resolved_at IS NULL THEN excluded.resolved_by ELSE alerts.resolved_by END,
    resolution_note = CASE WHEN alerts.resolved_at IS NULL THEN excluded.resolution_note ELSE alerts.resolution_note END,
    resolved_at = COALESCE(alerts.resolved_at, excluded.resolved_at),
    escalated_to = COALESCE(excluded.escalated_to, alerts.escalated_to),
    updated_at = MAX(alerts.updated_at, excluded.updated_at)`

	insertTransitionQuery = `INSERT INTO alert_transitions (
    alert_id,
    state,
    actor,
    note,
    escalated_to,
    at
) VALUES (?, ?, ?, ?, ?, ?)`

	selectAlertBase = `SELECT
    id,
    severity,
    title,
    message,
    source,
    location,
    payload,
    requires_ack,
    escalate_after_ms,
    tags,
    state,
    acknowledged_by,
    acknowledged_at,
    ack_note,
    resolved_by,
    resolved_at,
    resolution_note,
    escalated_to,
    created_at
FROM alerts`

	selectTransitionsQuery = `SELECT
    alert_id,
    state,
    actor,
    note,
    escalated_to,
    at
FROM alert_transitions
WHERE alert_id = ?
ORDER BY at, id`

	pruneResolvedAlertsQuery = `DELETE FROM alerts WHERE state = 'resolved' AND created_at < ?`

	insertEmergencyQuery = `INSERT INTO emergency_events (
    kind,
    level,
    trigger_key,
    description,
    location,
    sensors,
    requires_evacuation,
    operator_id,
    reason,
    at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectEmergenciesQuery = `SELECT
    kind,
    level,
    trigger_key,
    description,
    location,
    sensors,
    requires_evacuation,
    operator_id,
    reason,
    at
FROM emergency_events
ORDER BY at DESC, id DESC
LIMIT ?`
)

// AlertTransition is one audited lifecycle step of an alert.
type AlertTransition struct {
	AlertID     models.AlertID    `json:"alert_id"`
	State       models.AlertState `json:"state"`
	Actor       string            `json:"actor,omitempty"`
	Note        string            `json:"note,omitempty"`
	EscalatedTo models.AlertID    `json:"escalated_to,omitempty"`
	At          time.Time         `json:"at"`
}

// RecordAlert upserts the alert row and appends a transition in one
// transaction. A transition that only sets escalated_to is logged under the
// alert's current state with the escalation target.
func (db *DB) RecordAlert(ctx context.Context, alert *models.Alert) error {
	if alert == nil {
		return fmt.Errorf("alert is required")
	}

	var payload any
	if len(alert.Payload) > 0 {
		b, err := json.Marshal(alert.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal alert payload: %w", err)
		}
		payload = string(b)
	}
	tags := alert.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to marshal alert tags: %w", err)
	}

	var (
		ackBy, ackNote, resBy, resNote any
		ackAt, resAt                   any
		actor, note                    any
	)
	if a := alert.Acknowledged; a != nil {
		ackBy, ackNote, ackAt = a.UserID, nullableString(a.Note), millis(a.At)
	}
	if r := alert.Resolved; r != nil {
		resBy, resNote, resAt = r.UserID, nullableString(r.Note), millis(r.At)
	}
	switch alert.State {
	case models.AlertStateAcknowledged:
		if a := alert.Acknowledged; a != nil {
			actor, note = a.UserID, nullableString(a.Note)
		}
	case models.AlertStateResolved:
		if r := alert.Resolved; r != nil {
			actor, note = r.UserID, nullableString(r.Note)
		}
	}
	now := millis(time.Now())

	tx, err := db.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, upsertAlertQuery,
		string(alert.ID),
		int(alert.Severity),
		alert.Title,
		alert.Message,
		alert.Source,
		nullableString(alert.Location),
		payload,
		boolToInt(alert.RequiresAck),
		alert.EscalateAfter.Duration.Milliseconds(),
		string(tagsJSON),
		string(alert.State),
		ackBy,
		ackAt,
		ackNote,
		resBy,
		resAt,
		resNote,
		nullableString(string(alert.EscalatedTo)),
		millis(alert.CreatedAt),
		now,
	); err != nil {
		return fmt.Errorf("failed to upsert alert %s: %w", alert.ID, err)
	}

	if _, err := tx.ExecContext(ctx, insertTransitionQuery,
		string(alert.ID),
		string(alert.State),
		actor,
		note,
		nullableString(string(alert.EscalatedTo)),
		now,
	); err != nil {
		return fmt.Errorf("failed to insert alert transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit alert %s: %w", alert.ID, err)
	}
	return nil
}

// GetAlert returns the persisted alert with id.
func (db *DB) GetAlert(ctx context.Context, id models.AlertID) (*models.Alert, error) {
	row := db.readDB.QueryRowContext(ctx, selectAlertBase+" WHERE id = ?", string(id))
	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return alert, err
}

// ListAlerts returns up to limit persisted alerts, newest first. A
// non-empty state filters by lifecycle state.
func (db *DB) ListAlerts(ctx context.Context, state models.AlertState, limit int) ([]*models.Alert, error) {
	if limit <= 0 {
		limit = models.DefaultAlertHistoryLimit
	}
	query := selectAlertBase + " ORDER BY created_at DESC, id DESC LIMIT ?"
	args := []any{limit}
	if state != "" {
		query = selectAlertBase + " WHERE state = ? ORDER BY created_at DESC, id DESC LIMIT ?"
		args = []any{string(state), limit}
	}

	rows, err := db.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}
	return alerts, nil
}

// ListAlertTransitions returns the audit trail of one alert, oldest first.
func (db *DB) ListAlertTransitions(ctx context.Context, id models.AlertID) ([]AlertTransition, error) {
	rows, err := db.readDB.QueryContext(ctx, selectTransitionsQuery, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to list alert transitions: %w", err)
	}
	defer rows.Close()

	var out []AlertTransition
	for rows.Next() {
		var (
			t                        AlertTransition
			alertID, state           string
			actor, note, escalatedTo sql.NullString
			at                       int64
		)
		if err := rows.Scan(&alertID, &state, &actor, &note, &escalatedTo, &at); err != nil {
			return nil, fmt.Errorf("failed to scan alert transition: %w", err)
		}
		t.AlertID = models.AlertID(alertID)
		t.State = models.AlertState(state)
		t.Actor = actor.String
		t.Note = note.String
		t.EscalatedTo = models.AlertID(escalatedTo.String)
		t.At = fromMillis(at)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alert transitions: %w", err)
	}
	return out, nil
}

// PruneResolvedAlerts removes resolved alerts created before cutoff along
// with their transitions.
func (db *DB) PruneResolvedAlerts(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.writeDB.ExecContext(ctx, pruneResolvedAlertsQuery, millis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to prune alerts: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RecordEmergency appends one emergency controller transition.
func (db *DB) RecordEmergency(ctx context.Context, rec models.EmergencyRecord) error {
	var (
		level                          any
		trigger, description, location any
		sensors                        any
		evacuate                       int
	)
	if ev := rec.Event; ev != nil {
		level = int(ev.Level)
		trigger = nullableString(ev.Trigger)
		description = nullableString(ev.Description)
		location = nullableString(ev.Location)
		evacuate = boolToInt(ev.RequiresEvacuation)
		if len(ev.Sensors) > 0 {
			b, err := json.Marshal(ev.Sensors)
			if err != nil {
				return fmt.Errorf("failed to marshal sensor snapshot: %w", err)
			}
			sensors = string(b)
		}
	}
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}

	if _, err := db.writeDB.ExecContext(ctx, insertEmergencyQuery,
		rec.Kind,
		level,
		trigger,
		description,
		location,
		sensors,
		evacuate,
		nullableString(rec.OperatorID),
		nullableString(rec.Reason),
		millis(at),
	); err != nil {
		return fmt.Errorf("failed to record emergency %s: %w", rec.Kind, err)
	}
	return nil
}

// ListEmergencies returns up to limit controller transitions, newest first.
func (db *DB) ListEmergencies(ctx context.Context, limit int) ([]models.EmergencyRecord, error) {
	if limit <= 0 {
		limit = models.DefaultAlertHistoryLimit
	}
	rows, err := db.readDB.QueryContext(ctx, selectEmergenciesQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list emergencies: %w", err)
	}
	defer rows.Close()

	var out []models.EmergencyRecord
	for rows.Next() {
		var (
			kind                                   string
			level                                  sql.NullInt64
			trigger, description, location, sensor sql.NullString
			evacuate                               int64
			operator, reason                       sql.NullString
			at                                     int64
		)
		if err := rows.Scan(&kind, &level, &trigger, &description, &location, &sensor, &evacuate, &operator, &reason, &at); err != nil {
			return nil, fmt.Errorf("failed to scan emergency: %w", err)
		}
		rec := models.EmergencyRecord{
			Kind:       kind,
			OperatorID: operator.String,
			Reason:     reason.String,
			At:         fromMillis(at),
		}
		if level.Valid {
			ev := &models.EmergencyEvent{
				Level:              models.EmergencyLevel(level.Int64),
				Trigger:            trigger.String,
				Description:        description.String,
				Location:           location.String,
				RequiresEvacuation: evacuate != 0,
			}
			if sensor.Valid && sensor.String != "" {
				if err := json.Unmarshal([]byte(sensor.String), &ev.Sensors); err != nil {
					return nil, fmt.Errorf("failed to decode sensor snapshot: %w", err)
				}
			}
			rec.Event = ev
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating emergencies: %w", err)
	}
	return out, nil
}

func scanAlert(scanner interface{ Scan(dest ...any) error }) (*models.Alert, error) {
	var (
		id, title, message, source, tags, state string
		severity                                int64
		location, payload                       sql.NullString
		requiresAck                             int64
		escalateMS                              int64
		ackBy, ackNote, resBy, resNote          sql.NullString
		ackAt, resAt                            sql.NullInt64
		escalatedTo                             sql.NullString
		createdAt                               int64
	)
	if err := scanner.Scan(
		&id, &severity, &title, &message, &source, &location, &payload,
		&requiresAck, &escalateMS, &tags, &state,
		&ackBy, &ackAt, &ackNote, &resBy, &resAt, &resNote,
		&escalatedTo, &createdAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}

	alert := &models.Alert{
		ID:            models.AlertID(id),
		Severity:      models.Severity(severity),
		Title:         title,
		Message:       message,
		Source:        source,
		Location:      location.String,
		RequiresAck:   requiresAck != 0,
		EscalateAfter: models.Duration{Duration: time.Duration(escalateMS) * time.Millisecond},
		State:         models.AlertState(state),
		EscalatedTo:   models.AlertID(escalatedTo.String),
		CreatedAt:     fromMillis(createdAt),
	}
	if payload.Valid && payload.String != "" {
		if err := json.Unmarshal([]byte(payload.String), &alert.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode alert payload: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(tags), &alert.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode alert tags: %w", err)
	}
	if len(alert.Tags) == 0 {
		alert.Tags = nil
	}
	if ackBy.Valid {
		alert.Acknowledged = &models.Acknowledgment{UserID: ackBy.String, Note: ackNote.String, At: fromMillis(ackAt.Int64)}
	}
	if resBy.Valid {
		alert.Resolved = &models.Resolution{UserID: resBy.String, Note: resNote.String, At: fromMillis(resAt.Int64)}
	}
	return alert, nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
