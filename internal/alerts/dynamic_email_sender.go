package alerts

import (
	"context"
	"log/slog"
	"time"

	"github.com/mr-karan/safetyvision/internal/config"
	"github.com/mr-karan/safetyvision/pkg/models"
)

// SettingsReader reads operator-editable settings, typically from sqlite.
type SettingsReader interface {
	GetSettingWithDefault(ctx context.Context, key, defaultValue string) string
	GetIntSetting(ctx context.Context, key string, defaultValue int) int
	GetBoolSetting(ctx context.Context, key string, defaultValue bool) bool
	GetDurationSetting(ctx context.Context, key string, defaultValue time.Duration) time.Duration
}

// DynamicEmailSender re-reads SMTP settings on every send so that changes made
// through the settings store apply without a restart. The static config
// supplies the fallbacks.
type DynamicEmailSender struct {
	settings    SettingsReader
	static      config.SMTPConfig
	timeout     time.Duration
	skipVerify  bool
	externalURL string
	logger      *slog.Logger
}

func NewDynamicEmailSender(settings SettingsReader, cfg config.AlertsConfig, logger *slog.Logger) *DynamicEmailSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &DynamicEmailSender{
		settings:    settings,
		static:      cfg.SMTP,
		timeout:     cfg.RequestTimeout,
		skipVerify:  cfg.TLSInsecureSkipVerify,
		externalURL: cfg.ExternalURL,
		logger:      logger.With("component", "dynamic_email_sender"),
	}
}

func (d *DynamicEmailSender) Channel() models.ChannelType { return models.ChannelEmail }

func (d *DynamicEmailSender) Send(ctx context.Context, notification AlertNotification) error {
	opts := EmailSenderOptions{
		Host:          d.settings.GetSettingWithDefault(ctx, "alerts.smtp.host", d.static.Host),
		Port:          d.settings.GetIntSetting(ctx, "alerts.smtp.port", d.static.Port),
		Username:      d.settings.GetSettingWithDefault(ctx, "alerts.smtp.username", d.static.Username),
		Password:      d.settings.GetSettingWithDefault(ctx, "alerts.smtp.password", d.static.Password),
		From:          d.settings.GetSettingWithDefault(ctx, "alerts.smtp.from", d.static.From),
		ReplyTo:       d.settings.GetSettingWithDefault(ctx, "alerts.smtp.reply_to", d.static.ReplyTo),
		Security:      d.settings.GetSettingWithDefault(ctx, "alerts.smtp.security", d.static.Security),
		Timeout:       d.settings.GetDurationSetting(ctx, "alerts.request_timeout", d.timeout),
		SkipTLSVerify: d.settings.GetBoolSetting(ctx, "alerts.tls_insecure_skip_verify", d.skipVerify),
		ExternalURL:   d.settings.GetSettingWithDefault(ctx, "alerts.external_url", d.externalURL),
		Logger:        d.logger,
	}
	return NewEmailSender(opts).Send(ctx, notification)
}
