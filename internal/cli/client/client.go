// Package client provides the HTTP client used by the safetyvision CLI to
// talk to a running server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mr-karan/safetyvision/pkg/models"
)

// Client is the safetyvision API client
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// Options configures a Client.
type Options struct {
	BaseURL string
	Timeout time.Duration
	Version string
}

// New creates a new API client
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	if _, err := url.ParseRequestURI(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}

	return &Client{
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		userAgent:  "safetyvision-cli/" + version,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// RequestOptions describes a single API call.
type RequestOptions struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// APIError represents an error response from the API
type APIError struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	ErrorType  string `json:"error_type,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *APIError) Error() string {
	if e.ErrorType != "" {
		return fmt.Sprintf("%s: %s", e.ErrorType, e.Message)
	}
	return e.Message
}

// Do performs an HTTP request against the API
func (c *Client) Do(ctx context.Context, opts RequestOptions) (*http.Response, error) {
	reqURL, err := url.Parse(c.baseURL + opts.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if opts.Query != nil {
		reqURL.RawQuery = opts.Query.Encode()
	}

	var body io.Reader
	if opts.Body != nil {
		data, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, opts.Method, reqURL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// envelope mirrors the server's response wrapper.
type envelope[T any] struct {
	Status string `json:"status"`
	Data   T      `json:"data"`
}

// DoJSON performs a request and decodes the data field of the response
// envelope into result.
func DoJSON[T any](ctx context.Context, c *Client, opts RequestOptions) (T, error) {
	var zero T
	resp, err := c.Do(ctx, opts)
	if err != nil {
		return zero, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr APIError
		if err := json.Unmarshal(respBody, &apiErr); err != nil || apiErr.Message == "" {
			return zero, &APIError{
				Status:     "error",
				Message:    strings.TrimSpace(string(respBody)),
				StatusCode: resp.StatusCode,
			}
		}
		apiErr.StatusCode = resp.StatusCode
		return zero, &apiErr
	}

	var env envelope[T]
	if err := json.Unmarshal(respBody, &env); err != nil {
		return zero, fmt.Errorf("failed to decode response: %w", err)
	}
	return env.Data, nil
}

// --- API Methods ---

// Health is the /health payload.
type Health struct {
	Status           string `json:"status"`
	EmergencyActive  bool   `json:"emergency_active"`
	ActiveAlerts     int    `json:"active_alerts"`
	DashboardViewers int    `json:"dashboard_viewers"`
	SQLite           string `json:"sqlite,omitempty"`
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	h, err := DoJSON[Health](ctx, c, RequestOptions{Method: http.MethodGet, Path: "/health"})
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// ActiveAlerts returns unresolved alerts, oldest first.
func (c *Client) ActiveAlerts(ctx context.Context) ([]*models.Alert, error) {
	return DoJSON[[]*models.Alert](ctx, c, RequestOptions{Method: http.MethodGet, Path: "/api/v1/alerts"})
}

// AlertHistory returns up to limit recent alerts, newest first.
func (c *Client) AlertHistory(ctx context.Context, limit int) ([]*models.Alert, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	return DoJSON[[]*models.Alert](ctx, c, RequestOptions{Method: http.MethodGet, Path: "/api/v1/alerts/history", Query: q})
}

// Statistics returns the alert store summary.
func (c *Client) Statistics(ctx context.Context) (*models.Statistics, error) {
	stats, err := DoJSON[models.Statistics](ctx, c, RequestOptions{Method: http.MethodGet, Path: "/api/v1/alerts/stats"})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// RaiseAlert raises an alert and returns it as stored.
func (c *Client) RaiseAlert(ctx context.Context, req models.RaiseRequest) (*models.Alert, error) {
	alert, err := DoJSON[models.Alert](ctx, c, RequestOptions{Method: http.MethodPost, Path: "/api/v1/alerts", Body: req})
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

// Acknowledge acknowledges an alert on behalf of userID.
func (c *Client) Acknowledge(ctx context.Context, id models.AlertID, userID, note string) error {
	_, err := DoJSON[map[string]any](ctx, c, RequestOptions{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("/api/v1/alerts/%s/acknowledge", url.PathEscape(string(id))),
		Body:   models.AcknowledgeRequest{UserID: userID, Note: note},
	})
	return err
}

// Resolve resolves an alert on behalf of userID.
func (c *Client) Resolve(ctx context.Context, id models.AlertID, userID, note string) error {
	_, err := DoJSON[map[string]any](ctx, c, RequestOptions{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("/api/v1/alerts/%s/resolve", url.PathEscape(string(id))),
		Body:   models.ResolveRequest{UserID: userID, Note: note},
	})
	return err
}

// EmergencyStatus returns the stop controller's state.
func (c *Client) EmergencyStatus(ctx context.Context) (*models.EmergencyStatus, error) {
	st, err := DoJSON[models.EmergencyStatus](ctx, c, RequestOptions{Method: http.MethodGet, Path: "/api/v1/emergency/status"})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// ResetEmergency clears the active emergency.
func (c *Client) ResetEmergency(ctx context.Context, operatorID, reason string) (*models.EmergencyStatus, error) {
	st, err := DoJSON[models.EmergencyStatus](ctx, c, RequestOptions{
		Method: http.MethodPost,
		Path:   "/api/v1/emergency/reset",
		Body:   models.EmergencyResetRequest{OperatorID: operatorID, Reason: reason},
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Evaluate submits a sensor snapshot to the controller.
func (c *Client) Evaluate(ctx context.Context, snapshot models.SensorSnapshot) (*models.EmergencyEvaluation, error) {
	ev, err := DoJSON[models.EmergencyEvaluation](ctx, c, RequestOptions{
		Method: http.MethodPost,
		Path:   "/api/v1/emergency/evaluate",
		Body:   snapshot,
	})
	if err != nil {
		return nil, err
	}
	return &ev, nil
}
