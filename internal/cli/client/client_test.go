package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mr-karan/safetyvision/pkg/models"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{
			name: "valid URL",
			opts: Options{BaseURL: "http://localhost:8125", Timeout: 5 * time.Second},
		},
		{
			name:    "missing URL",
			opts:    Options{},
			wantErr: true,
		},
		{
			name:    "relative URL",
			opts:    Options{BaseURL: "localhost"},
			wantErr: true,
		},
		{
			name: "URL with trailing slash",
			opts: Options{BaseURL: "http://localhost:8125/"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.opts)
			if tt.wantErr {
				if err == nil {
					t.Error("New() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() unexpected error: %v", err)
			}
			if client.baseURL != "http://localhost:8125" {
				t.Errorf("New() baseURL = %q", client.baseURL)
			}
			if client.httpClient.Timeout <= 0 {
				t.Error("New() should default the timeout")
			}
		})
	}
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Options{BaseURL: srv.URL, Version: "test"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func writeEnvelope(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"status": "success", "data": data})
}

func TestClient_Do_Headers(t *testing.T) {
	var ua, accept string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		accept = r.Header.Get("Accept")
		writeEnvelope(w, http.StatusOK, nil)
	})

	resp, err := c.Do(context.Background(), RequestOptions{Method: http.MethodGet, Path: "/health"})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()

	if ua != "safetyvision-cli/test" {
		t.Errorf("User-Agent = %q", ua)
	}
	if accept != "application/json" {
		t.Errorf("Accept = %q", accept)
	}
}

func TestClient_DoJSON_Error(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{
			"status":     "error",
			"message":    "No active emergency",
			"error_type": "ConflictError",
		})
	})

	_, err := c.ResetEmergency(context.Background(), "op", "")
	if err == nil {
		t.Fatal("ResetEmergency() expected error, got nil")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusConflict {
		t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, http.StatusConflict)
	}
	if apiErr.Error() != "ConflictError: No active emergency" {
		t.Errorf("Error() = %q", apiErr.Error())
	}
}

func TestClient_DoJSON_PlainTextError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})

	_, err := c.ActiveAlerts(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *APIError", err)
	}
	if apiErr.Message != "bad gateway" {
		t.Errorf("Message = %q, want %q", apiErr.Message, "bad gateway")
	}
}

func TestClient_ActiveAlerts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/alerts" {
			t.Errorf("path = %q", r.URL.Path)
		}
		writeEnvelope(w, http.StatusOK, []map[string]any{
			{"id": "alert_1", "severity": "CRITICAL", "title": "Radiation", "state": "active"},
		})
	})

	alerts, err := c.ActiveAlerts(context.Background())
	if err != nil {
		t.Fatalf("ActiveAlerts() error = %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("ActiveAlerts() len = %d, want 1", len(alerts))
	}
	if alerts[0].Severity != models.SeverityCritical {
		t.Errorf("Severity = %v, want CRITICAL", alerts[0].Severity)
	}
}

func TestClient_AlertHistoryLimit(t *testing.T) {
	var limit string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		limit = r.URL.Query().Get("limit")
		writeEnvelope(w, http.StatusOK, []any{})
	})

	if _, err := c.AlertHistory(context.Background(), 5); err != nil {
		t.Fatalf("AlertHistory() error = %v", err)
	}
	if limit != "5" {
		t.Errorf("limit = %q, want 5", limit)
	}
}

func TestClient_Acknowledge(t *testing.T) {
	var got models.AcknowledgeRequest
	var path string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&got)
		writeEnvelope(w, http.StatusOK, map[string]any{"message": "Alert acknowledged"})
	})

	if err := c.Acknowledge(context.Background(), "alert_1", "alice", "on it"); err != nil {
		t.Fatalf("Acknowledge() error = %v", err)
	}
	if path != "/api/v1/alerts/alert_1/acknowledge" {
		t.Errorf("path = %q", path)
	}
	if got.UserID != "alice" || got.Note != "on it" {
		t.Errorf("body = %+v", got)
	}
}

func TestClient_ResetEmergency(t *testing.T) {
	var got models.EmergencyResetRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&got)
		writeEnvelope(w, http.StatusOK, map[string]any{"is_active": false, "emergency_count": 1})
	})

	st, err := c.ResetEmergency(context.Background(), "op-7", "cleared")
	if err != nil {
		t.Fatalf("ResetEmergency() error = %v", err)
	}
	if st.Active || st.Count != 1 {
		t.Errorf("status = %+v", st)
	}
	if got.OperatorID != "op-7" || got.Reason != "cleared" {
		t.Errorf("body = %+v", got)
	}
}

func TestClient_Evaluate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var snap models.SensorSnapshot
		json.NewDecoder(r.Body).Decode(&snap)
		if snap[models.SensorRadiation] != 2.5 {
			t.Errorf("snapshot = %v", snap)
		}
		writeEnvelope(w, http.StatusOK, map[string]any{
			"event":     map[string]any{"level": "CRITICAL", "trigger": "radiation"},
			"triggered": true,
		})
	})

	ev, err := c.Evaluate(context.Background(), models.SensorSnapshot{models.SensorRadiation: 2.5})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !ev.Triggered || ev.Event == nil || ev.Event.Level != models.EmergencyCritical {
		t.Errorf("evaluation = %+v", ev)
	}
}
