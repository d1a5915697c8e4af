package config

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr-karan/safetyvision/pkg/logger"
	"github.com/mr-karan/safetyvision/pkg/models"
)

const sampleConfig = `
[server]
address = ":9000"

[sqlite]
path = "/var/lib/safetyvision/history.db"

[alerts]
max_concurrent_deliveries = 4
external_url = "https://sv.example"

[alerts.escalation]
critical = "2m"
info = "1h"

[alerts.recipients.shift_lead]
email = "lead@plant.example"
phone = "+15550100"

[alerts.smtp]
host = "smtp.plant.example"
from = "alerts@plant.example"

[emergency]
location = "reactor_hall"

[emergency.thresholds]
radiation_critical = 3.0
radiation_high = 1.5

[[subscriptions]]
recipient_id = "shift_lead"
channels = ["email", "sms"]
severities = ["critical", "emergency"]
locations = ["reactor_hall"]

[subscriptions.quiet_hours]
start = "22:00"
end = "06:00"
timezone = "UTC"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8125", cfg.Server.Address)
	assert.Equal(t, 60*time.Second, cfg.Alerts.Escalation.Emergency)
	assert.Equal(t, 300*time.Second, cfg.Alerts.Escalation.Critical)
	assert.Equal(t, 900*time.Second, cfg.Alerts.Escalation.Error)
	assert.Equal(t, 1800*time.Second, cfg.Alerts.Escalation.Warning)
	assert.Zero(t, cfg.Alerts.Escalation.Info)
	assert.Equal(t, "websocket", cfg.Alerts.Dashboard.Backend)
	assert.Equal(t, models.DefaultEmergencyThresholds(), cfg.Emergency.Thresholds)
	assert.Empty(t, cfg.SQLite.Path)
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, "/var/lib/safetyvision/history.db", cfg.SQLite.Path)
	assert.Equal(t, 4, cfg.Alerts.MaxConcurrentDeliveries)
	assert.Equal(t, 2*time.Minute, cfg.Alerts.Escalation.Critical)
	assert.Equal(t, time.Hour, cfg.Alerts.Escalation.Info)
	assert.Equal(t, 60*time.Second, cfg.Alerts.Escalation.Emergency, "unset keys keep defaults")
	assert.Equal(t, "lead@plant.example", cfg.Alerts.Recipients["shift_lead"].Email)
	assert.Equal(t, 587, cfg.Alerts.SMTP.Port)
	assert.Equal(t, "smtp.plant.example", cfg.Alerts.SMTP.Host)
	assert.Equal(t, 3.0, cfg.Emergency.Thresholds.RadiationCritical)
	assert.Equal(t, 1.5, cfg.Emergency.Thresholds.RadiationHigh)
	assert.Equal(t, 80.0, cfg.Emergency.Thresholds.TemperatureCritical)
	assert.Equal(t, "reactor_hall", cfg.Emergency.Location)

	subs := cfg.UserSubscriptions()
	require.Len(t, subs, 1)
	assert.Equal(t, "shift_lead", subs[0].RecipientID)
	assert.Equal(t, []models.ChannelType{models.ChannelEmail, models.ChannelSMS}, subs[0].Channels)
	assert.Equal(t, []models.Severity{models.SeverityCritical, models.SeverityEmergency}, subs[0].Severities)
	require.NotNil(t, subs[0].QuietHours)
	assert.Equal(t, "22:00", subs[0].QuietHours.Start)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SAFETYVISION_SERVER__ADDRESS", ":7000")
	t.Setenv("SAFETYVISION_ALERTS__SMTP__HOST", "relay.internal")
	t.Setenv("SAFETYVISION_ALERTS__HISTORY_LIMIT", "25")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Address)
	assert.Equal(t, "relay.internal", cfg.Alerts.SMTP.Host)
	assert.Equal(t, 25, cfg.Alerts.HistoryLimit)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"empty address", func(c *Config) { c.Server.Address = " " }, "server.address is required"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"negative escalation", func(c *Config) { c.Alerts.Escalation.Warning = -time.Second }, "alerts.escalation.warning"},
		{"negative concurrency", func(c *Config) { c.Alerts.MaxConcurrentDeliveries = -1 }, "max_concurrent_deliveries"},
		{"redis without addr", func(c *Config) { c.Alerts.Dashboard.Backend = "redis" }, "redis_addr is required"},
		{"unknown backend", func(c *Config) { c.Alerts.Dashboard.Backend = "nats" }, "alerts.dashboard.backend"},
		{"bad qos", func(c *Config) { c.Alerts.MQTT.QoS = 3 }, "alerts.mqtt.qos"},
		{"bad channel", func(c *Config) {
			c.Subscriptions = []SubscriptionConfig{{RecipientID: "op", Channels: []string{"pager"}}}
		}, "subscriptions[0]"},
		{"bad severity", func(c *Config) {
			c.Subscriptions = []SubscriptionConfig{{RecipientID: "op", Severities: []string{"loud"}}}
		}, "subscriptions[0]"},
		{"radiation order", func(c *Config) { c.Emergency.Thresholds.RadiationHigh = 5 }, "radiation_high"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestEscalationFor(t *testing.T) {
	esc := Default().Alerts.Escalation
	assert.Equal(t, 60*time.Second, esc.For(models.SeverityEmergency))
	assert.Equal(t, 300*time.Second, esc.For(models.SeverityCritical))
	assert.Zero(t, esc.For(models.SeverityInfo))
}

type mapStore map[string]string

func (m mapStore) GetSettingWithDefault(_ context.Context, key, def string) string {
	if v, ok := m[key]; ok {
		return v
	}
	return def
}

func (m mapStore) GetBoolSetting(_ context.Context, key string, def bool) bool {
	if v, ok := m[key]; ok {
		return v == "true"
	}
	return def
}

func (m mapStore) GetIntSetting(_ context.Context, key string, def int) int {
	if n, err := strconv.Atoi(m[key]); err == nil {
		return n
	}
	return def
}

func (m mapStore) GetFloat64Setting(_ context.Context, key string, def float64) float64 {
	if f, err := strconv.ParseFloat(m[key], 64); err == nil {
		return f
	}
	return def
}

func (m mapStore) GetDurationSetting(_ context.Context, key string, def time.Duration) time.Duration {
	if v, ok := m[key]; ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func TestLoadRuntimeConfig(t *testing.T) {
	static := Default()
	store := mapStore{
		"alerts.escalation.critical":                 "90s",
		"alerts.smtp.host":                           "smtp.db.example",
		"alerts.smtp.port":                           "465",
		"alerts.tls_insecure_skip_verify":            "true",
		"emergency.thresholds.radiation_high":        "1.5",
		"emergency.thresholds.gas_critical.hydrogen": "3000",
		"server.frontend_url":                        "https://console.example",
	}

	cfg := LoadRuntimeConfig(context.Background(), static, store, logger.Discard())

	assert.Equal(t, 90*time.Second, cfg.Alerts.Escalation.Critical)
	assert.Equal(t, 60*time.Second, cfg.Alerts.Escalation.Emergency)
	assert.Equal(t, "smtp.db.example", cfg.Alerts.SMTP.Host)
	assert.Equal(t, 465, cfg.Alerts.SMTP.Port)
	assert.True(t, cfg.Alerts.TLSInsecureSkipVerify)
	assert.Equal(t, 1.5, cfg.Emergency.Thresholds.RadiationHigh)
	assert.Equal(t, 3000.0, cfg.Emergency.Thresholds.GasCritical["hydrogen"])
	assert.Equal(t, "https://console.example", cfg.Server.FrontendURL)

	// Static config is untouched, including the shared gas map.
	assert.Equal(t, 300*time.Second, static.Alerts.Escalation.Critical)
	assert.Empty(t, static.Alerts.SMTP.Host)
	assert.Equal(t, 4000.0, static.Emergency.Thresholds.GasCritical["hydrogen"])
}

func TestLoadRuntimeConfigWithoutStore(t *testing.T) {
	static := Default()
	cfg := LoadRuntimeConfig(context.Background(), static, nil, logger.Discard())
	assert.Equal(t, static.Alerts, cfg.Alerts)
	assert.NotSame(t, static, cfg)
}
