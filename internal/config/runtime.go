package config

import (
	"context"
	"log/slog"
	"time"
)

// SettingsStore defines the interface for retrieving settings from the database.
type SettingsStore interface {
	GetSettingWithDefault(ctx context.Context, key, defaultValue string) string
	GetBoolSetting(ctx context.Context, key string, defaultValue bool) bool
	GetIntSetting(ctx context.Context, key string, defaultValue int) int
	GetFloat64Setting(ctx context.Context, key string, defaultValue float64) float64
	GetDurationSetting(ctx context.Context, key string, defaultValue time.Duration) time.Duration
}

// LoadRuntimeConfig overlays operator-editable settings from the database on
// top of the static configuration. The static config is not modified.
func LoadRuntimeConfig(ctx context.Context, staticConfig *Config, store SettingsStore, log *slog.Logger) *Config {
	cfg := *staticConfig
	if log == nil {
		log = slog.Default()
	}

	if store == nil {
		log.Debug("no settings store provided, using static configuration only")
		return &cfg
	}

	// Escalation delays
	esc := &cfg.Alerts.Escalation
	esc.Emergency = store.GetDurationSetting(ctx, "alerts.escalation.emergency", esc.Emergency)
	esc.Critical = store.GetDurationSetting(ctx, "alerts.escalation.critical", esc.Critical)
	esc.Error = store.GetDurationSetting(ctx, "alerts.escalation.error", esc.Error)
	esc.Warning = store.GetDurationSetting(ctx, "alerts.escalation.warning", esc.Warning)
	esc.Info = store.GetDurationSetting(ctx, "alerts.escalation.info", esc.Info)

	cfg.Alerts.HistoryLimit = store.GetIntSetting(ctx, "alerts.history_limit", cfg.Alerts.HistoryLimit)
	cfg.Alerts.RequestTimeout = store.GetDurationSetting(ctx, "alerts.request_timeout", cfg.Alerts.RequestTimeout)
	cfg.Alerts.TLSInsecureSkipVerify = store.GetBoolSetting(ctx, "alerts.tls_insecure_skip_verify", cfg.Alerts.TLSInsecureSkipVerify)
	cfg.Alerts.ExternalURL = store.GetSettingWithDefault(ctx, "alerts.external_url", cfg.Alerts.ExternalURL)

	// SMTP
	smtp := &cfg.Alerts.SMTP
	smtp.Host = store.GetSettingWithDefault(ctx, "alerts.smtp.host", smtp.Host)
	smtp.Port = store.GetIntSetting(ctx, "alerts.smtp.port", smtp.Port)
	smtp.Username = store.GetSettingWithDefault(ctx, "alerts.smtp.username", smtp.Username)
	smtp.Password = store.GetSettingWithDefault(ctx, "alerts.smtp.password", smtp.Password)
	smtp.From = store.GetSettingWithDefault(ctx, "alerts.smtp.from", smtp.From)
	smtp.ReplyTo = store.GetSettingWithDefault(ctx, "alerts.smtp.reply_to", smtp.ReplyTo)
	smtp.Security = store.GetSettingWithDefault(ctx, "alerts.smtp.security", smtp.Security)

	// Emergency thresholds. The gas table is copied so the static config keeps its own map.
	th := &cfg.Emergency.Thresholds
	th.RadiationCritical = store.GetFloat64Setting(ctx, "emergency.thresholds.radiation_critical", th.RadiationCritical)
	th.RadiationHigh = store.GetFloat64Setting(ctx, "emergency.thresholds.radiation_high", th.RadiationHigh)
	th.TemperatureCritical = store.GetFloat64Setting(ctx, "emergency.thresholds.temperature_critical", th.TemperatureCritical)
	th.ProximityEmergency = store.GetFloat64Setting(ctx, "emergency.thresholds.proximity_emergency", th.ProximityEmergency)
	gases := make(map[string]float64, len(th.GasCritical))
	for gas, limit := range th.GasCritical {
		gases[gas] = store.GetFloat64Setting(ctx, "emergency.thresholds.gas_critical."+gas, limit)
	}
	th.GasCritical = gases

	frontendURL := store.GetSettingWithDefault(ctx, "server.frontend_url", cfg.Server.FrontendURL)
	if frontendURL != "" {
		cfg.Server.FrontendURL = frontendURL
	}

	log.Info("runtime configuration loaded (static config + database settings)")
	return &cfg
}
