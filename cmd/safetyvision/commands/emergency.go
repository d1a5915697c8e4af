package commands

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/urfave/cli/v3"
)

// emergencyCommand groups emergency stop operations against a running server.
func (a *App) emergencyCommand() *cli.Command {
	return &cli.Command{
		Name:  "emergency",
		Usage: "inspect and reset the emergency stop",
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "show the emergency stop state",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					c, err := a.apiClient(cmd)
					if err != nil {
						return err
					}
					st, err := c.EmergencyStatus(ctx)
					if err != nil {
						return err
					}
					r, err := a.renderer(cmd)
					if err != nil {
						return err
					}
					return r.EmergencyStatus(st)
				},
			},
			{
				Name:  "reset",
				Usage: "clear the active emergency",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "operator",
						Usage:   "operator id recorded on the reset",
						Sources: cli.EnvVars("SAFETYVISION_USER"),
					},
					&cli.StringFlag{
						Name:  "reason",
						Usage: "reason for the reset",
					},
					&cli.BoolFlag{
						Name:    "yes",
						Aliases: []string{"y"},
						Usage:   "skip the confirmation prompt",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return a.runEmergencyReset(ctx, cmd)
				},
			},
		},
	}
}

func (a *App) runEmergencyReset(ctx context.Context, cmd *cli.Command) error {
	c, err := a.apiClient(cmd)
	if err != nil {
		return err
	}
	st, err := c.EmergencyStatus(ctx)
	if err != nil {
		return err
	}
	if !st.Active {
		fmt.Println(mutedStyle.Render("No active emergency."))
		return nil
	}

	operator := cmd.String("operator")
	reason := cmd.String("reason")
	confirmed := cmd.Bool("yes")

	if !confirmed || operator == "" {
		if !isTerminal() {
			return fmt.Errorf("--operator and --yes are required when not running in a terminal")
		}
		summary := "An emergency is active."
		if st.Current != nil {
			summary = fmt.Sprintf("%s emergency active: %s", st.Current.Level, st.Current.Description)
		}
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewNote().
					Title(warnStyle.Render("Emergency reset")).
					Description(summary),
				huh.NewInput().
					Title("Operator ID").
					Value(&operator).
					Validate(requireNonEmpty("operator id")),
				huh.NewInput().
					Title("Reason").
					Value(&reason),
				huh.NewConfirm().
					Title("Reset the emergency stop?").
					Affirmative("Reset").
					Negative("Cancel").
					Value(&confirmed),
			),
		)
		if err := form.Run(); err != nil {
			return err
		}
		if !confirmed {
			fmt.Println(mutedStyle.Render("Reset cancelled."))
			return nil
		}
	}

	if _, err := c.ResetEmergency(ctx, operator, reason); err != nil {
		return err
	}
	fmt.Println(successStyle.Render("Emergency reset by " + operator))
	return nil
}
