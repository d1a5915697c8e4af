// Package config loads the SafetyVision server configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/mr-karan/safetyvision/pkg/models"
)

// EnvPrefix is the prefix for environment overrides. Nested keys are joined
// with a double underscore: SAFETYVISION_ALERTS__SMTP__HOST -> alerts.smtp.host.
const EnvPrefix = "SAFETYVISION_"

// Config represents the complete server configuration.
type Config struct {
	Server        ServerConfig         `koanf:"server"`
	Logging       LoggingConfig        `koanf:"logging"`
	SQLite        SQLiteConfig         `koanf:"sqlite"`
	Alerts        AlertsConfig         `koanf:"alerts"`
	Subscriptions []SubscriptionConfig `koanf:"subscriptions"`
	Emergency     EmergencyConfig      `koanf:"emergency"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Address           string        `koanf:"address"`
	HTTPServerTimeout time.Duration `koanf:"http_server_timeout"`
	FrontendURL       string        `koanf:"frontend_url"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info
	Format string `koanf:"format"` // text, json
}

// SQLiteConfig holds the audit history database settings. An empty path disables persistence.
type SQLiteConfig struct {
	Path string `koanf:"path"`
	// MaxReadConns caps the read pool; zero selects 8.
	MaxReadConns int `koanf:"max_read_conns"`
	// BusyTimeout is how long a connection waits on a locked database; zero selects 5s.
	BusyTimeout time.Duration `koanf:"busy_timeout"`
}

// EscalationConfig is the per-severity auto-escalation delay. Zero disables
// escalation for that severity.
type EscalationConfig struct {
	Emergency time.Duration `koanf:"emergency"`
	Critical  time.Duration `koanf:"critical"`
	Error     time.Duration `koanf:"error"`
	Warning   time.Duration `koanf:"warning"`
	Info      time.Duration `koanf:"info"`
}

// For returns the default escalation delay for sev.
func (e EscalationConfig) For(sev models.Severity) time.Duration {
	switch sev {
	case models.SeverityEmergency:
		return e.Emergency
	case models.SeverityCritical:
		return e.Critical
	case models.SeverityError:
		return e.Error
	case models.SeverityWarning:
		return e.Warning
	default:
		return e.Info
	}
}

// AlertsConfig groups alert lifecycle and delivery settings.
type AlertsConfig struct {
	Escalation              EscalationConfig           `koanf:"escalation"`
	HistoryLimit            int                        `koanf:"history_limit"`
	HistoryRetention        time.Duration              `koanf:"history_retention"`
	HousekeepingInterval    time.Duration              `koanf:"housekeeping_interval"`
	MaxConcurrentDeliveries int                        `koanf:"max_concurrent_deliveries"`
	RequestTimeout          time.Duration              `koanf:"request_timeout"`
	TLSInsecureSkipVerify   bool                       `koanf:"tls_insecure_skip_verify"`
	ExternalURL             string                     `koanf:"external_url"`
	Recipients              map[string]RecipientConfig `koanf:"recipients"`
	SMTP                    SMTPConfig                 `koanf:"smtp"`
	SMS                     SMSConfig                  `koanf:"sms"`
	Webhook                 WebhookConfig              `koanf:"webhook"`
	Dashboard               DashboardConfig            `koanf:"dashboard"`
	MQTT                    MQTTConfig                 `koanf:"mqtt"`
	Kafka                   KafkaConfig                `koanf:"kafka"`
	Alertmanager            AlertmanagerConfig         `koanf:"alertmanager"`
}

// RecipientConfig maps a recipient id to contact addresses.
type RecipientConfig struct {
	Email string `koanf:"email"`
	Phone string `koanf:"phone"`
}

// SMTPConfig configures the email channel.
type SMTPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
	ReplyTo  string `koanf:"reply_to"`
	Security string `koanf:"security"` // none, starttls, tls
}

// SMSConfig configures the SMS gateway channel.
type SMSConfig struct {
	GatewayURL string `koanf:"gateway_url"`
	AccountID  string `koanf:"account_id"`
	AuthToken  string `koanf:"auth_token"`
	From       string `koanf:"from"`
}

// WebhookConfig configures the webhook channel. URLTemplate may contain
// "{recipient}", substituted with the subscription's recipient id.
type WebhookConfig struct {
	URLTemplate string   `koanf:"url_template"`
	URLs        []string `koanf:"urls"`
}

// DashboardConfig selects how dashboard pushes are broadcast.
type DashboardConfig struct {
	Backend      string `koanf:"backend"` // websocket, redis
	RedisAddr    string `koanf:"redis_addr"`
	RedisChannel string `koanf:"redis_channel"`
}

// MQTTConfig configures the MQTT channel.
type MQTTConfig struct {
	Broker      string `koanf:"broker"`
	ClientID    string `koanf:"client_id"`
	Username    string `koanf:"username"`
	Password    string `koanf:"password"`
	TopicPrefix string `koanf:"topic_prefix"`
	QoS         int    `koanf:"qos"`
}

// KafkaConfig configures the message-bus channel.
type KafkaConfig struct {
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
}

// AlertmanagerConfig configures forwarding to a Prometheus Alertmanager.
type AlertmanagerConfig struct {
	URL        string        `koanf:"url"`
	MaxRetries int           `koanf:"max_retries"`
	RetryDelay time.Duration `koanf:"retry_delay"`
}

// SubscriptionConfig is a user subscription declared in the config file.
type SubscriptionConfig struct {
	RecipientID string             `koanf:"recipient_id"`
	Channels    []string           `koanf:"channels"`
	Severities  []string           `koanf:"severities"`
	Locations   []string           `koanf:"locations"`
	Sources     []string           `koanf:"sources"`
	QuietHours  *models.QuietHours `koanf:"quiet_hours"`
}

// ToModel converts the declaration into a subscription.
func (s SubscriptionConfig) ToModel() (models.Subscription, error) {
	sub := models.Subscription{
		RecipientID: strings.TrimSpace(s.RecipientID),
		Locations:   s.Locations,
		Sources:     s.Sources,
		QuietHours:  s.QuietHours,
	}
	for _, ch := range s.Channels {
		ct := models.ChannelType(strings.ToLower(strings.TrimSpace(ch)))
		if !ct.Valid() {
			return sub, fmt.Errorf("%w: unknown channel %q", models.ErrInvalidSubscription, ch)
		}
		sub.Channels = append(sub.Channels, ct)
	}
	for _, name := range s.Severities {
		sev, err := models.ParseSeverity(name)
		if err != nil {
			return sub, fmt.Errorf("%w: %v", models.ErrInvalidSubscription, err)
		}
		sub.Severities = append(sub.Severities, sev)
	}
	return sub, nil
}

// EmergencyConfig configures the emergency-stop controller.
type EmergencyConfig struct {
	Thresholds models.EmergencyThresholds `koanf:"thresholds"`
	// Location is attached to alerts raised by the controller.
	Location string `koanf:"location"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:           ":8125",
			HTTPServerTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Alerts: AlertsConfig{
			Escalation: EscalationConfig{
				Emergency: 60 * time.Second,
				Critical:  300 * time.Second,
				Error:     900 * time.Second,
				Warning:   1800 * time.Second,
			},
			HistoryLimit:         10000,
			HistoryRetention:     7 * 24 * time.Hour,
			HousekeepingInterval: 5 * time.Minute,
			RequestTimeout:       5 * time.Second,
			SMTP: SMTPConfig{
				Port:     587,
				Security: "starttls",
			},
			Dashboard: DashboardConfig{
				Backend:      "websocket",
				RedisChannel: "safetyvision:dashboard",
			},
			MQTT: MQTTConfig{
				ClientID:    "safetyvision",
				TopicPrefix: "safetyvision/alerts",
				QoS:         1,
			},
			Kafka: KafkaConfig{
				Topic: "safetyvision.alerts",
			},
			Alertmanager: AlertmanagerConfig{
				MaxRetries: 2,
				RetryDelay: 500 * time.Millisecond,
			},
		},
		Emergency: EmergencyConfig{
			Thresholds: models.DefaultEmergencyThresholds(),
		},
	}
}

// Load reads defaults, then the TOML file at path (if non-empty), then
// SAFETYVISION_* environment variables, and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envToKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envToKey converts an environment variable to a config key,
// e.g. SAFETYVISION_ALERTS__SMTP__HOST -> alerts.smtp.host.
func envToKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Address) == "" {
		errs = append(errs, errors.New("server.address is required"))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be 'debug' or 'info', got %q", c.Logging.Level))
	}

	esc := c.Alerts.Escalation
	for name, d := range map[string]time.Duration{
		"emergency": esc.Emergency, "critical": esc.Critical, "error": esc.Error,
		"warning": esc.Warning, "info": esc.Info,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("alerts.escalation.%s must not be negative", name))
		}
	}
	if c.Alerts.MaxConcurrentDeliveries < 0 {
		errs = append(errs, errors.New("alerts.max_concurrent_deliveries must not be negative"))
	}

	switch c.Alerts.Dashboard.Backend {
	case "", "websocket":
	case "redis":
		if c.Alerts.Dashboard.RedisAddr == "" {
			errs = append(errs, errors.New("alerts.dashboard.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("alerts.dashboard.backend must be 'websocket' or 'redis', got %q", c.Alerts.Dashboard.Backend))
	}

	if c.Alerts.MQTT.QoS < 0 || c.Alerts.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("alerts.mqtt.qos must be 0, 1 or 2, got %d", c.Alerts.MQTT.QoS))
	}

	for i, sub := range c.Subscriptions {
		if _, err := sub.ToModel(); err != nil {
			errs = append(errs, fmt.Errorf("subscriptions[%d]: %w", i, err))
		}
	}

	th := c.Emergency.Thresholds
	if th.RadiationHigh > th.RadiationCritical {
		errs = append(errs, errors.New("emergency.thresholds.radiation_high must not exceed radiation_critical"))
	}
	if th.ProximityEmergency < 0 {
		errs = append(errs, errors.New("emergency.thresholds.proximity_emergency must not be negative"))
	}

	return errors.Join(errs...)
}

// UserSubscriptions converts the declared subscriptions. Call after Validate.
func (c *Config) UserSubscriptions() []models.Subscription {
	out := make([]models.Subscription, 0, len(c.Subscriptions))
	for _, s := range c.Subscriptions {
		sub, err := s.ToModel()
		if err != nil {
			continue
		}
		out = append(out, sub)
	}
	return out
}
