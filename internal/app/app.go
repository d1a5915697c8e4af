package app

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/mr-karan/safetyvision/internal/alerts"
	"github.com/mr-karan/safetyvision/internal/config"
	"github.com/mr-karan/safetyvision/internal/emergency"
	"github.com/mr-karan/safetyvision/internal/metrics"
	"github.com/mr-karan/safetyvision/internal/server"
	"github.com/mr-karan/safetyvision/internal/sqlite"
	"github.com/mr-karan/safetyvision/pkg/logger"
)

// App represents the core application context, holding dependencies and configuration.
type App struct {
	Config    *config.Config
	SQLite    *sqlite.DB
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
	Alerts    *alerts.Manager
	Emergency *emergency.Controller
	BuildInfo string
	Version   string

	server  *server.Server
	senders *alerts.SenderSet
	redis   *alerts.RedisBroadcaster
	actions *emergency.Actions

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// Options contains configuration needed when creating a new App instance.
type Options struct {
	ConfigPath string
	BuildInfo  string
	Version    string
	// Actions overrides the emergency stop capabilities. Nil uses log-only actions.
	Actions *emergency.Actions
}

// New creates and configures a new App instance.
func New(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &App{
		Config: cfg,
		Logger: logger.NewWithOptions(logger.Options{
			Debug:  cfg.Logging.Level == "debug",
			Format: cfg.Logging.Format,
		}),
		BuildInfo: opts.BuildInfo,
		Version:   opts.Version,
		actions:   opts.Actions,
	}, nil
}

// Initialize sets up the audit database, delivery channels, the alert
// manager, the emergency controller and the HTTP server.
func (a *App) Initialize(ctx context.Context) error {
	var err error

	if a.Config.SQLite.Path != "" {
		a.SQLite, err = sqlite.New(sqlite.Options{
			Config: a.Config.SQLite,
			Logger: a.Logger,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize sqlite: %w", err)
		}

		// Seed system settings from config.toml on first boot (if database is empty).
		if err := a.seedSystemSettings(ctx); err != nil {
			// Don't fail initialization; static config still applies.
			a.Logger.Warn("failed to seed system settings from config", "error", err)
		}

		// Database settings override config.toml for operator-editable settings.
		a.Config = config.LoadRuntimeConfig(ctx, a.Config, a.SQLite, a.Logger)
	} else {
		a.Logger.Warn("sqlite path not configured, alert history will not be persisted")
	}

	a.Metrics = metrics.New()
	hub := server.NewHub(a.Logger)

	bgCtx, cancel := context.WithCancel(context.Background())
	a.bgCancel = cancel

	var broadcaster alerts.Broadcaster = hub
	if a.Config.Alerts.Dashboard.Backend == "redis" {
		dash := a.Config.Alerts.Dashboard
		a.redis, err = alerts.NewRedisBroadcaster(ctx, dash.RedisAddr, dash.RedisChannel, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize dashboard broadcaster: %w", err)
		}
		if err := a.redis.Relay(bgCtx, hub); err != nil {
			return fmt.Errorf("failed to start dashboard relay: %w", err)
		}
		broadcaster = a.redis
	}

	deps := alerts.SenderDeps{Logger: a.Logger, Broadcaster: broadcaster}
	if a.SQLite != nil {
		deps.Settings = a.SQLite
	}
	a.senders = alerts.SendersFromConfig(ctx, a.Config.Alerts, deps)

	alertOpts := alerts.Options{
		Config:        a.Config.Alerts,
		Logger:        a.Logger,
		Metrics:       a.Metrics,
		Senders:       a.senders.Senders,
		Subscriptions: a.Config.UserSubscriptions(),
	}
	if a.SQLite != nil {
		alertOpts.Recorder = a.SQLite
	}
	a.Alerts, err = alerts.NewManager(alertOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize alert manager: %w", err)
	}

	actions := emergency.LogActions(a.Logger)
	if a.actions != nil {
		actions = *a.actions
	}
	emergencyOpts := emergency.Options{
		Thresholds: a.Config.Emergency.Thresholds,
		Location:   a.Config.Emergency.Location,
		Actions:    actions,
		Alerts:     a.Alerts,
		Metrics:    a.Metrics,
		Logger:     a.Logger,
	}
	if a.SQLite != nil {
		emergencyOpts.Recorder = a.SQLite
	}
	a.Emergency = emergency.NewController(emergencyOpts)

	a.Alerts.OnAlert(hub.AlertListener())
	a.Emergency.OnTransition(hub.EmergencyListener)

	a.server = server.New(server.ServerOptions{
		Config:    a.Config,
		Alerts:    a.Alerts,
		Emergency: a.Emergency,
		SQLite:    a.SQLite,
		Metrics:   a.Metrics,
		Hub:       hub,
		Logger:    a.Logger,
		BuildInfo: a.BuildInfo,
		Version:   a.Version,
	})

	a.Alerts.Start(ctx)
	a.startHistoryPruning(bgCtx)

	a.Logger.Info("application initialized",
		"channels", a.Alerts.Channels(),
		"subscriptions", len(a.Alerts.Subscriptions()),
		"persisted_history", a.SQLite != nil)
	return nil
}

// Server returns the HTTP server, or nil before Initialize.
func (a *App) Server() *server.Server {
	return a.server
}

// startHistoryPruning drops persisted resolved alerts past retention on the
// same cadence as in-memory housekeeping.
func (a *App) startHistoryPruning(ctx context.Context) {
	interval := a.Config.Alerts.HousekeepingInterval
	retention := a.Config.Alerts.HistoryRetention
	if a.SQLite == nil || interval <= 0 || retention <= 0 {
		return
	}

	a.bgWG.Add(1)
	go func() {
		defer a.bgWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n, err := a.SQLite.PruneResolvedAlerts(ctx, time.Now().Add(-retention))
				if err != nil {
					a.Logger.Warn("failed to prune persisted alert history", "error", err)
					continue
				}
				if n > 0 {
					a.Logger.Debug("pruned persisted alert history", "count", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Start begins the application's main execution loop (starts the HTTP server).
func (a *App) Start() error {
	if a.server == nil {
		return fmt.Errorf("server not initialized")
	}
	a.Logger.Info("starting server")
	return a.server.Start()
}

// Shutdown gracefully stops all application components with timeouts.
//
//nolint:contextcheck // Shutdown receives its own context from caller (e.g., signal handler)
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	// Ensure a shutdown context with timeout exists.
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}

	serverCtx, serverCancel := context.WithTimeout(ctx, 5*time.Second)
	defer serverCancel()

	if a.Alerts != nil {
		a.Logger.Info("stopping alert manager")
		a.Alerts.Stop()
	}

	// Shutdown server first to stop accepting new requests.
	if a.server != nil {
		a.Logger.Info("shutting down HTTP server")
		serverDone := make(chan error, 1)
		go func() {
			serverDone <- a.server.Shutdown(serverCtx)
		}()

		select {
		case err := <-serverDone:
			if err != nil {
				a.Logger.Error("error shutting down server", "error", err)
			} else {
				a.Logger.Info("HTTP server shut down successfully")
			}
		case <-serverCtx.Done():
			a.Logger.Warn("timeout shutting down HTTP server, continuing")
		}
	}

	if a.bgCancel != nil {
		a.bgCancel()
	}
	a.bgWG.Wait()

	if a.senders != nil {
		if err := a.senders.Close(); err != nil {
			a.Logger.Error("error closing delivery channels", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Logger.Error("error closing redis broadcaster", "error", err)
		}
	}

	// Close database connections.
	if a.SQLite != nil {
		a.Logger.Info("closing SQLite connection")
		if err := a.SQLite.Close(); err != nil {
			a.Logger.Error("error closing SQLite", "error", err)
		} else {
			a.Logger.Info("SQLite connection closed successfully")
		}
	}

	a.Logger.Info("application shutdown complete")
	return nil
}

type seedSetting struct {
	value       string
	valueType   string
	category    string
	description string
	isSensitive bool
}

// seedSystemSettings populates the system_settings table from config.toml on first boot.
// After seeding, the database becomes the source of truth for these keys.
func (a *App) seedSystemSettings(ctx context.Context) error {
	settings, err := a.SQLite.ListSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to check existing settings: %w", err)
	}
	if len(settings) > 0 {
		a.Logger.Info("system settings already exist, skipping seeding from config.toml")
		return nil
	}

	a.Logger.Info("seeding system settings from config.toml (first boot)")
	for key, setting := range seedSettings(a.Config) {
		if err := a.SQLite.UpsertSetting(ctx, key, setting.value, setting.valueType, setting.category, setting.description, setting.isSensitive); err != nil {
			a.Logger.Warn("failed to seed setting", "key", key, "error", err)
		} else {
			a.Logger.Debug("seeded setting", "key", key)
		}
	}
	return nil
}

func seedSettings(cfg *config.Config) map[string]seedSetting {
	al := cfg.Alerts
	th := cfg.Emergency.Thresholds
	float := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

	out := map[string]seedSetting{
		"alerts.escalation.emergency": {al.Escalation.Emergency.String(), "duration", "alerts", "Escalation delay for EMERGENCY alerts", false},
		"alerts.escalation.critical":  {al.Escalation.Critical.String(), "duration", "alerts", "Escalation delay for CRITICAL alerts", false},
		"alerts.escalation.error":     {al.Escalation.Error.String(), "duration", "alerts", "Escalation delay for ERROR alerts", false},
		"alerts.escalation.warning":   {al.Escalation.Warning.String(), "duration", "alerts", "Escalation delay for WARNING alerts", false},
		"alerts.escalation.info":      {al.Escalation.Info.String(), "duration", "alerts", "Escalation delay for INFO alerts", false},
		"alerts.history_limit":        {strconv.Itoa(al.HistoryLimit), "number", "alerts", "Maximum resolved alerts kept in memory", false},
		"alerts.request_timeout":      {al.RequestTimeout.String(), "duration", "alerts", "Timeout for outbound delivery requests", false},
		"alerts.external_url":         {al.ExternalURL, "string", "alerts", "External URL used in alert links", false},
		"alerts.tls_insecure_skip_verify": {
			strconv.FormatBool(al.TLSInsecureSkipVerify), "boolean", "alerts", "Skip TLS certificate verification for deliveries", false,
		},
		"alerts.smtp.host":     {al.SMTP.Host, "string", "alerts", "SMTP host for alert emails", false},
		"alerts.smtp.port":     {strconv.Itoa(al.SMTP.Port), "number", "alerts", "SMTP port for alert emails", false},
		"alerts.smtp.username": {al.SMTP.Username, "string", "alerts", "SMTP username for alert emails", false},
		"alerts.smtp.password": {al.SMTP.Password, "string", "alerts", "SMTP password for alert emails", true},
		"alerts.smtp.from":     {al.SMTP.From, "string", "alerts", "From address for alert emails", false},
		"alerts.smtp.reply_to": {al.SMTP.ReplyTo, "string", "alerts", "Reply-to address for alert emails", false},
		"alerts.smtp.security": {al.SMTP.Security, "string", "alerts", "SMTP security mode (none, starttls, tls)", false},
		"alerts.webhook.url_template": {
			al.Webhook.URLTemplate, "string", "alerts", "Webhook URL; {recipient} is replaced with the recipient id", false,
		},
		"emergency.thresholds.radiation_critical":   {float(th.RadiationCritical), "number", "emergency", "Critical radiation level (mSv/h)", false},
		"emergency.thresholds.radiation_high":       {float(th.RadiationHigh), "number", "emergency", "High radiation level (mSv/h)", false},
		"emergency.thresholds.temperature_critical": {float(th.TemperatureCritical), "number", "emergency", "Critical temperature (°C)", false},
		"emergency.thresholds.proximity_emergency":  {float(th.ProximityEmergency), "number", "emergency", "Minimum safe proximity (m)", false},
		"server.frontend_url":                       {cfg.Server.FrontendURL, "string", "server", "Frontend URL for generating links", false},
	}
	for gas, limit := range th.GasCritical {
		out["emergency.thresholds.gas_critical."+gas] = seedSetting{float(limit), "number", "emergency", "Critical " + gas + " concentration (ppm)", false}
	}
	return out
}
