package alerts

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mr-karan/safetyvision/internal/config"
)

// SenderDeps carries the runtime collaborators some senders need.
type SenderDeps struct {
	Logger *slog.Logger
	// Settings, when set, makes email and webhook delivery pick up runtime setting changes.
	Settings    SettingsReader
	Broadcaster Broadcaster
	Siren       Siren
}

// SenderSet is the result of building senders from configuration.
type SenderSet struct {
	Senders []AlertSender
	closers []func() error
}

// Close releases broker connections held by the senders.
func (s *SenderSet) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SendersFromConfig builds a sender for every channel the configuration
// enables. The log, audio, and dashboard channels are always available.
// Broker-backed channels that fail to connect are logged and left out, so
// dispatches to them are reported as delivery failures.
func SendersFromConfig(ctx context.Context, cfg config.AlertsConfig, deps SenderDeps) *SenderSet {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	set := &SenderSet{}
	add := func(s AlertSender) { set.Senders = append(set.Senders, s) }

	add(NewLogSender(log))

	siren := deps.Siren
	if siren == nil {
		siren = NewLogSiren(log)
	}
	add(NewAudioSender(siren))

	if deps.Broadcaster != nil {
		add(NewDashboardSender(deps.Broadcaster, log))
	}

	if deps.Settings != nil {
		add(NewDynamicEmailSender(deps.Settings, cfg, log))
		add(NewDynamicWebhookSender(deps.Settings, cfg, log))
	} else {
		if cfg.SMTP.Host != "" {
			add(NewEmailSender(EmailSenderOptions{
				Host:          cfg.SMTP.Host,
				Port:          cfg.SMTP.Port,
				Username:      cfg.SMTP.Username,
				Password:      cfg.SMTP.Password,
				From:          cfg.SMTP.From,
				ReplyTo:       cfg.SMTP.ReplyTo,
				Security:      cfg.SMTP.Security,
				Timeout:       cfg.RequestTimeout,
				SkipTLSVerify: cfg.TLSInsecureSkipVerify,
				ExternalURL:   cfg.ExternalURL,
				Logger:        log,
			}))
		}
		if cfg.Webhook.URLTemplate != "" || len(cfg.Webhook.URLs) > 0 {
			add(NewWebhookSender(WebhookSenderOptions{
				URLTemplate:   cfg.Webhook.URLTemplate,
				URLs:          cfg.Webhook.URLs,
				Timeout:       cfg.RequestTimeout,
				SkipTLSVerify: cfg.TLSInsecureSkipVerify,
				Logger:        log,
			}))
		}
	}

	if cfg.SMS.GatewayURL != "" {
		add(NewSMSSender(SMSSenderOptions{
			GatewayURL:    cfg.SMS.GatewayURL,
			AccountID:     cfg.SMS.AccountID,
			AuthToken:     cfg.SMS.AuthToken,
			From:          cfg.SMS.From,
			Timeout:       cfg.RequestTimeout,
			SkipTLSVerify: cfg.TLSInsecureSkipVerify,
			Logger:        log,
		}))
	}

	if cfg.MQTT.Broker != "" {
		s, err := NewMQTTSender(MQTTSenderOptions{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         cfg.MQTT.QoS,
			Timeout:     cfg.RequestTimeout,
			Logger:      log,
		})
		if err != nil {
			log.Error("mqtt channel disabled", "error", err)
		} else {
			add(s)
			set.closers = append(set.closers, func() error { s.Close(); return nil })
		}
	}

	if len(cfg.Kafka.Brokers) > 0 {
		s, err := NewKafkaSender(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		if err != nil {
			log.Error("kafka channel disabled", "error", err)
		} else {
			add(s)
			set.closers = append(set.closers, s.Close)
		}
	}

	if cfg.Alertmanager.URL != "" {
		c, err := NewAlertmanagerClient(ClientOptions{
			BaseURL:       cfg.Alertmanager.URL,
			ExternalURL:   cfg.ExternalURL,
			Timeout:       cfg.RequestTimeout,
			SkipTLSVerify: cfg.TLSInsecureSkipVerify,
			Logger:        log,
			MaxRetries:    cfg.Alertmanager.MaxRetries,
			RetryDelay:    cfg.Alertmanager.RetryDelay,
		})
		if err != nil {
			log.Error("alertmanager channel disabled", "error", err)
		} else {
			if err := c.HealthCheck(ctx); err != nil {
				log.Warn("alertmanager health check failed", "error", err)
			}
			add(c)
		}
	}

	return set
}
