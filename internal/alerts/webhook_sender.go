package alerts

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"log/slog"

	"github.com/mr-karan/safetyvision/pkg/models"
)

type WebhookSenderOptions struct {
	// URLTemplate may contain "{recipient}".
	URLTemplate   string
	URLs          []string
	Timeout       time.Duration
	SkipTLSVerify bool
	Logger        *slog.Logger
}

type WebhookSender struct {
	urlTemplate string
	urls        []string
	client      *http.Client
	logger      *slog.Logger
}

type webhookPayload struct {
	AlertID       string         `json:"alert_id"`
	RecipientID   string         `json:"recipient_id"`
	Severity      string         `json:"severity"`
	Title         string         `json:"title"`
	Message       string         `json:"message,omitempty"`
	Source        string         `json:"source"`
	Location      string         `json:"location,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	RequiresAck   bool           `json:"requires_ack"`
	EscalateAfter string         `json:"escalate_after,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

func NewWebhookSender(opts WebhookSenderOptions) *WebhookSender {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: opts.SkipTLSVerify}, // #nosec G402
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookSender{
		urlTemplate: strings.TrimSpace(opts.URLTemplate),
		urls:        opts.URLs,
		client:      &http.Client{Timeout: timeout, Transport: transport},
		logger:      logger.With("component", "alert_webhook_sender"),
	}
}

func (s *WebhookSender) Channel() models.ChannelType { return models.ChannelWebhook }

// targets returns the URLs for one recipient: the expanded template followed
// by the static URLs.
func (s *WebhookSender) targets(recipientID string) []string {
	out := make([]string, 0, len(s.urls)+1)
	if s.urlTemplate != "" {
		out = append(out, strings.ReplaceAll(s.urlTemplate, "{recipient}", url.PathEscape(recipientID)))
	}
	for _, u := range s.urls {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

func (s *WebhookSender) Send(ctx context.Context, notification AlertNotification) error {
	targets := s.targets(notification.RecipientID)
	if len(targets) == 0 {
		return fmt.Errorf("webhook is not configured")
	}
	alert := notification.Alert
	payload := webhookPayload{
		AlertID:     string(alert.ID),
		RecipientID: notification.RecipientID,
		Severity:    alert.Severity.String(),
		Title:       alert.Title,
		Message:     alert.Message,
		Source:      alert.Source,
		Location:    alert.Location,
		Payload:     alert.Payload,
		Tags:        alert.Tags,
		RequiresAck: alert.RequiresAck,
		CreatedAt:   alert.CreatedAt,
	}
	if alert.EscalateAfter.Duration > 0 {
		payload.EscalateAfter = alert.EscalateAfter.Duration.String()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	var errs []string
	for _, target := range targets {
		request, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", target, err))
			continue
		}
		request.Header.Set("Content-Type", "application/json")
		response, err := s.client.Do(request)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", target, err))
			continue
		}
		responseBody, readErr := io.ReadAll(io.LimitReader(response.Body, 8<<10))
		_ = response.Body.Close()
		if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
			if readErr != nil {
				errs = append(errs, fmt.Sprintf("%s: status %d (body read error: %v)", target, response.StatusCode, readErr))
				continue
			}
			trimmed := strings.TrimSpace(string(responseBody))
			if trimmed == "" {
				trimmed = response.Status
			}
			errs = append(errs, fmt.Sprintf("%s: status %d (%s)", target, response.StatusCode, trimmed))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("webhook delivery failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
