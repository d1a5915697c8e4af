package alerts

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"sort"
	"strings"
	"time"

	"log/slog"

	"github.com/mr-karan/safetyvision/pkg/models"
)

const (
	smtpSecurityNone     = "none"
	smtpSecurityStartTLS = "starttls"
	smtpSecurityTLS      = "tls"
)

// ErrNoContact is returned when a recipient has no address for the channel.
var ErrNoContact = errors.New("recipient has no address for channel")

type EmailSenderOptions struct {
	Host          string
	Port          int
	Username      string
	Password      string
	From          string
	ReplyTo       string
	Security      string
	Timeout       time.Duration
	SkipTLSVerify bool
	ExternalURL   string
	Logger        *slog.Logger
}

type EmailSender struct {
	host          string
	port          int
	username      string
	password      string
	from          string
	replyTo       string
	security      string
	timeout       time.Duration
	skipTLSVerify bool
	externalURL   string
	logger        *slog.Logger
}

func NewEmailSender(opts EmailSenderOptions) *EmailSender {
	security := strings.ToLower(strings.TrimSpace(opts.Security))
	switch security {
	case smtpSecurityNone, smtpSecurityStartTLS, smtpSecurityTLS:
	default:
		security = smtpSecurityStartTLS
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailSender{
		host:          strings.TrimSpace(opts.Host),
		port:          opts.Port,
		username:      strings.TrimSpace(opts.Username),
		password:      opts.Password,
		from:          strings.TrimSpace(opts.From),
		replyTo:       strings.TrimSpace(opts.ReplyTo),
		security:      security,
		timeout:       timeout,
		skipTLSVerify: opts.SkipTLSVerify,
		externalURL:   strings.TrimSuffix(strings.TrimSpace(opts.ExternalURL), "/"),
		logger:        logger.With("component", "alert_email_sender"),
	}
}

func (s *EmailSender) Channel() models.ChannelType { return models.ChannelEmail }

func (s *EmailSender) Send(ctx context.Context, notification AlertNotification) error {
	recipient := strings.TrimSpace(notification.Contact.Email)
	if recipient == "" {
		return fmt.Errorf("%w: %s has no email", ErrNoContact, notification.RecipientID)
	}
	if s.host == "" || s.port == 0 || s.from == "" {
		return fmt.Errorf("smtp is not configured")
	}
	message := s.buildMessage(notification.Alert, recipient)
	if err := s.sendEmail(ctx, recipient, message); err != nil {
		return fmt.Errorf("email delivery to %s failed: %w", recipient, err)
	}
	s.logger.Debug("email sent", "alert_id", notification.Alert.ID, "recipient", notification.RecipientID)
	return nil
}

func (s *EmailSender) buildMessage(alert *models.Alert, recipient string) []byte {
	subject := fmt.Sprintf("[SafetyVision] %s: %s", alert.Severity, alert.Title)
	headers := []string{
		fmt.Sprintf("From: %s", s.from),
		fmt.Sprintf("To: %s", recipient),
		fmt.Sprintf("Subject: %s", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
	}
	if s.replyTo != "" {
		headers = append(headers, fmt.Sprintf("Reply-To: %s", s.replyTo))
	}
	return []byte(strings.Join(headers, "\r\n") + "\r\n\r\n" + s.buildBody(alert))
}

func (s *EmailSender) buildBody(alert *models.Alert) string {
	lines := []string{
		fmt.Sprintf("Alert: %s", alert.Title),
		fmt.Sprintf("ID: %s", alert.ID),
		fmt.Sprintf("Severity: %s", alert.Severity),
		fmt.Sprintf("Source: %s", alert.Source),
	}
	if alert.Location != "" {
		lines = append(lines, fmt.Sprintf("Location: %s", alert.Location))
	}
	lines = append(lines, fmt.Sprintf("Raised At: %s", alert.CreatedAt.Format(time.RFC3339)))
	if alert.RequiresAck {
		lines = append(lines, "Acknowledgment required")
		if alert.EscalateAfter.Duration > 0 {
			lines = append(lines, fmt.Sprintf("Escalates After: %s", alert.EscalateAfter.Duration))
		}
	}
	if alert.Message != "" {
		lines = append(lines, "", alert.Message)
	}
	if len(alert.Payload) > 0 {
		keys := make([]string, 0, len(alert.Payload))
		for k := range alert.Payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lines = append(lines, "")
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("%s: %v", k, alert.Payload[k]))
		}
	}
	if s.externalURL != "" {
		lines = append(lines, "", fmt.Sprintf("View: %s/alerts/%s", s.externalURL, alert.ID))
	}
	return strings.Join(lines, "\n") + "\n"
}

func (s *EmailSender) sendEmail(ctx context.Context, recipient string, message []byte) error {
	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Mail(s.from); err != nil {
		return err
	}
	if err := client.Rcpt(recipient); err != nil {
		return err
	}
	writer, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := writer.Write(message); err != nil {
		_ = writer.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func (s *EmailSender) connect(ctx context.Context) (*smtp.Client, error) {
	address := net.JoinHostPort(s.host, fmt.Sprint(s.port))
	dialer := &net.Dialer{Timeout: s.timeout}
	var (
		conn net.Conn
		err  error
	)
	if s.security == smtpSecurityTLS {
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			Config:    &tls.Config{ServerName: s.host, InsecureSkipVerify: s.skipTLSVerify}, // #nosec G402
		}
		conn, err = tlsDialer.DialContext(ctx, "tcp", address)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", address)
	}
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if s.security == smtpSecurityStartTLS {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			_ = client.Close()
			return nil, fmt.Errorf("smtp server does not support STARTTLS")
		}
		tlsConfig := &tls.Config{ServerName: s.host, InsecureSkipVerify: s.skipTLSVerify} // #nosec G402
		if err := client.StartTLS(tlsConfig); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	if s.username != "" {
		auth := smtp.PlainAuth("", s.username, s.password, s.host)
		if err := client.Auth(auth); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	return client, nil
}
