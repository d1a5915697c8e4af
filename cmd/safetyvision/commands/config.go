package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/mr-karan/safetyvision/internal/config"
)

// configCommand returns the config subcommand
func (a *App) configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "inspect server configuration",
		Commands: []*cli.Command{
			{
				Name:  "validate",
				Usage: "load and validate the config file",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if _, err := config.Load(cmd.String("config")); err != nil {
						fmt.Println(errorStyle.Render("invalid configuration"))
						return err
					}
					fmt.Println(successStyle.Render("configuration is valid"))
					return nil
				},
			},
			{
				Name:  "show",
				Usage: "show the effective configuration",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := config.Load(cmd.String("config"))
					if err != nil {
						return err
					}
					runConfigShow(cfg)
					return nil
				},
			},
		},
	}
}

func runConfigShow(cfg *config.Config) {
	al := cfg.Alerts
	th := cfg.Emergency.Thresholds

	fmt.Printf("Listen address:   %s\n", cfg.Server.Address)
	if cfg.SQLite.Path != "" {
		fmt.Printf("History database: %s\n", cfg.SQLite.Path)
	} else {
		fmt.Printf("History database: %s\n", warnStyle.Render("disabled"))
	}
	fmt.Printf("Escalation:       emergency=%s critical=%s error=%s warning=%s info=%s\n",
		al.Escalation.Emergency, al.Escalation.Critical, al.Escalation.Error, al.Escalation.Warning, al.Escalation.Info)
	fmt.Printf("History limit:    %d\n", al.HistoryLimit)
	fmt.Printf("Channels:         %s\n", strings.Join(configuredChannels(cfg), ", "))
	fmt.Printf("Subscriptions:    %d\n", len(cfg.Subscriptions))
	fmt.Printf("Radiation:        high=%g critical=%g mSv/h\n", th.RadiationHigh, th.RadiationCritical)
	fmt.Printf("Temperature:      critical=%g C\n", th.TemperatureCritical)
	fmt.Printf("Proximity:        emergency<=%g m\n", th.ProximityEmergency)

	gases := make([]string, 0, len(th.GasCritical))
	for g, limit := range th.GasCritical {
		gases = append(gases, fmt.Sprintf("%s=%g", g, limit))
	}
	sort.Strings(gases)
	fmt.Printf("Gas limits (ppm): %s\n", strings.Join(gases, " "))

	if al.SMTP.Password != "" {
		fmt.Printf("SMTP password:    %s\n", mutedStyle.Render("********"))
	}
}

// configuredChannels lists the optional channels the config enables.
func configuredChannels(cfg *config.Config) []string {
	al := cfg.Alerts
	chans := []string{"log", "audio", "dashboard"}
	if al.SMTP.Host != "" {
		chans = append(chans, "email")
	}
	if al.SMS.GatewayURL != "" {
		chans = append(chans, "sms")
	}
	if al.Webhook.URLTemplate != "" || len(al.Webhook.URLs) > 0 {
		chans = append(chans, "webhook")
	}
	if al.MQTT.Broker != "" {
		chans = append(chans, "mqtt")
	}
	if len(al.Kafka.Brokers) > 0 {
		chans = append(chans, "kafka")
	}
	if al.Alertmanager.URL != "" {
		chans = append(chans, "alertmanager")
	}
	return chans
}
