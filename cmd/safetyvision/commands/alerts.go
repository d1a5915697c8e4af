package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/urfave/cli/v3"

	"github.com/mr-karan/safetyvision/pkg/models"
)

// alertsCommand groups alert operations against a running server.
func (a *App) alertsCommand() *cli.Command {
	userFlag := &cli.StringFlag{
		Name:    "user",
		Aliases: []string{"u"},
		Usage:   "user id recorded on the alert",
		Sources: cli.EnvVars("SAFETYVISION_USER"),
	}
	noteFlag := &cli.StringFlag{
		Name:  "note",
		Usage: "free-form note",
	}

	return &cli.Command{
		Name:  "alerts",
		Usage: "list and manage alerts",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list active alerts",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "history",
						Usage: "show recent alerts including resolved ones",
					},
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "number of history entries",
						Value:   models.DefaultAlertHistoryLimit,
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return a.runAlertsList(ctx, cmd)
				},
			},
			{
				Name:  "stats",
				Usage: "show alert statistics",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					c, err := a.apiClient(cmd)
					if err != nil {
						return err
					}
					stats, err := c.Statistics(ctx)
					if err != nil {
						return err
					}
					r, err := a.renderer(cmd)
					if err != nil {
						return err
					}
					return r.Statistics(stats)
				},
			},
			{
				Name:      "raise",
				Usage:     "raise an alert",
				ArgsUsage: "<title>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "severity",
						Aliases: []string{"s"},
						Usage:   "INFO, WARNING, ERROR, CRITICAL or EMERGENCY",
						Value:   "WARNING",
					},
					&cli.StringFlag{
						Name:    "message",
						Aliases: []string{"m"},
						Usage:   "alert message",
					},
					&cli.StringFlag{
						Name:  "source",
						Usage: "alert source",
						Value: "cli",
					},
					&cli.StringFlag{
						Name:  "location",
						Usage: "alert location",
					},
					&cli.DurationFlag{
						Name:  "escalate-after",
						Usage: "override the escalation delay (0 disables)",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return a.runAlertsRaise(ctx, cmd)
				},
			},
			{
				Name:      "ack",
				Usage:     "acknowledge an alert",
				ArgsUsage: "<alert-id>",
				Flags:     []cli.Flag{userFlag, noteFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return a.runAlertTransition(ctx, cmd, "acknowledged")
				},
			},
			{
				Name:      "resolve",
				Usage:     "resolve an alert",
				ArgsUsage: "<alert-id>",
				Flags:     []cli.Flag{userFlag, noteFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return a.runAlertTransition(ctx, cmd, "resolved")
				},
			},
		},
	}
}

func (a *App) runAlertsList(ctx context.Context, cmd *cli.Command) error {
	c, err := a.apiClient(cmd)
	if err != nil {
		return err
	}
	r, err := a.renderer(cmd)
	if err != nil {
		return err
	}

	var alerts []*models.Alert
	if cmd.Bool("history") {
		alerts, err = c.AlertHistory(ctx, int(cmd.Int("limit")))
	} else {
		alerts, err = c.ActiveAlerts(ctx)
	}
	if err != nil {
		return err
	}
	return r.Alerts(alerts)
}

func (a *App) runAlertsRaise(ctx context.Context, cmd *cli.Command) error {
	title := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if title == "" {
		return fmt.Errorf("usage: safetyvision alerts raise <title>")
	}
	sev, err := models.ParseSeverity(cmd.String("severity"))
	if err != nil {
		return err
	}

	req := models.RaiseRequest{
		Severity: sev,
		Title:    title,
		Message:  cmd.String("message"),
		Source:   cmd.String("source"),
		Location: cmd.String("location"),
	}
	if cmd.IsSet("escalate-after") {
		req.EscalateAfter = models.NewDuration(cmd.Duration("escalate-after"))
	}

	c, err := a.apiClient(cmd)
	if err != nil {
		return err
	}
	alert, err := c.RaiseAlert(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", successStyle.Render("raised"), alert.ID)
	return nil
}

func (a *App) runAlertTransition(ctx context.Context, cmd *cli.Command, verb string) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("usage: safetyvision alerts %s <alert-id>", cmd.Name)
	}
	id := models.AlertID(cmd.Args().First())

	user := cmd.String("user")
	if user == "" {
		if !isTerminal() {
			return fmt.Errorf("--user is required")
		}
		if err := huh.NewInput().
			Title("User ID").
			Value(&user).
			Validate(requireNonEmpty("user id")).
			Run(); err != nil {
			return err
		}
	}

	c, err := a.apiClient(cmd)
	if err != nil {
		return err
	}
	if verb == "resolved" {
		err = c.Resolve(ctx, id, user, cmd.String("note"))
	} else {
		err = c.Acknowledge(ctx, id, user, cmd.String("note"))
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s %s by %s at %s\n", successStyle.Render(verb), id, user, mutedStyle.Render(time.Now().Format(time.Kitchen)))
	return nil
}

func requireNonEmpty(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}
