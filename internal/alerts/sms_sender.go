package alerts

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mr-karan/safetyvision/pkg/models"
)

// smsMaxBody is the longest text sent in one message.
const smsMaxBody = 320

type SMSSenderOptions struct {
	GatewayURL    string
	AccountID     string
	AuthToken     string
	From          string
	Timeout       time.Duration
	SkipTLSVerify bool
	Logger        *slog.Logger
}

// SMSSender posts a form-encoded message to an HTTP SMS gateway.
type SMSSender struct {
	gatewayURL string
	accountID  string
	authToken  string
	from       string
	client     *http.Client
	logger     *slog.Logger
}

func NewSMSSender(opts SMSSenderOptions) *SMSSender {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: opts.SkipTLSVerify}, // #nosec G402
	}
	return &SMSSender{
		gatewayURL: strings.TrimSpace(opts.GatewayURL),
		accountID:  strings.TrimSpace(opts.AccountID),
		authToken:  opts.AuthToken,
		from:       strings.TrimSpace(opts.From),
		client:     &http.Client{Timeout: timeout, Transport: transport},
		logger:     logger.With("component", "alert_sms_sender"),
	}
}

func (s *SMSSender) Channel() models.ChannelType { return models.ChannelSMS }

func (s *SMSSender) Send(ctx context.Context, notification AlertNotification) error {
	phone := strings.TrimSpace(notification.Contact.Phone)
	if phone == "" {
		return fmt.Errorf("%w: %s has no phone", ErrNoContact, notification.RecipientID)
	}
	if s.gatewayURL == "" {
		return fmt.Errorf("sms gateway is not configured")
	}

	form := url.Values{}
	form.Set("To", phone)
	if s.from != "" {
		form.Set("From", s.from)
	}
	form.Set("Body", smsBody(notification.Alert))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.gatewayURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if s.accountID != "" {
		req.SetBasicAuth(s.accountID, s.authToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms request failed: %w", err)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("sms gateway returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	s.logger.Debug("sms sent", "alert_id", notification.Alert.ID, "recipient", notification.RecipientID)
	return nil
}

// smsBody renders a short text, truncated to smsMaxBody runes.
func smsBody(alert *models.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", alert.Severity, alert.Title)
	if alert.Location != "" {
		fmt.Fprintf(&b, " @ %s", alert.Location)
	}
	if alert.Message != "" {
		fmt.Fprintf(&b, ": %s", alert.Message)
	}
	if alert.RequiresAck {
		fmt.Fprintf(&b, " (ack %s)", alert.ID)
	}
	text := []rune(b.String())
	if len(text) > smsMaxBody {
		return string(text[:smsMaxBody-3]) + "..."
	}
	return string(text)
}
