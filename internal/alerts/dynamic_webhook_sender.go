package alerts

import (
	"context"
	"log/slog"
	"time"

	"github.com/mr-karan/safetyvision/internal/config"
	"github.com/mr-karan/safetyvision/pkg/models"
)

// DynamicWebhookSender re-reads the webhook target and HTTP settings on every send.
type DynamicWebhookSender struct {
	settings   SettingsReader
	static     config.WebhookConfig
	timeout    time.Duration
	skipVerify bool
	logger     *slog.Logger
}

func NewDynamicWebhookSender(settings SettingsReader, cfg config.AlertsConfig, logger *slog.Logger) *DynamicWebhookSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &DynamicWebhookSender{
		settings:   settings,
		static:     cfg.Webhook,
		timeout:    cfg.RequestTimeout,
		skipVerify: cfg.TLSInsecureSkipVerify,
		logger:     logger.With("component", "dynamic_webhook_sender"),
	}
}

func (d *DynamicWebhookSender) Channel() models.ChannelType { return models.ChannelWebhook }

func (d *DynamicWebhookSender) Send(ctx context.Context, notification AlertNotification) error {
	opts := WebhookSenderOptions{
		URLTemplate:   d.settings.GetSettingWithDefault(ctx, "alerts.webhook.url_template", d.static.URLTemplate),
		URLs:          d.static.URLs,
		Timeout:       d.settings.GetDurationSetting(ctx, "alerts.request_timeout", d.timeout),
		SkipTLSVerify: d.settings.GetBoolSetting(ctx, "alerts.tls_insecure_skip_verify", d.skipVerify),
		Logger:        d.logger,
	}
	return NewWebhookSender(opts).Send(ctx, notification)
}
