// Package commands provides the CLI command definitions for safetyvision.
package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/mr-karan/safetyvision/internal/cli/client"
	"github.com/mr-karan/safetyvision/internal/cli/render"
)

// Styles for CLI output
var (
	logoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#DC2626")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))
)

// App holds the shared application state
type App struct {
	Version string
	Commit  string
	Date    string
}

// New creates the root CLI command with all subcommands
func New(version, commit, date string) *cli.Command {
	app := &App{
		Version: version,
		Commit:  commit,
		Date:    date,
	}

	return &cli.Command{
		Name:    "safetyvision",
		Usage:   "safety alert escalation and emergency stop engine",
		Version: version,
		Description: `safetyvision raises, escalates and delivers safety alerts and drives the
   emergency stop sequence from sensor readings.

   Use 'safetyvision serve' to run the server, or the alerts and emergency
   commands to operate a running instance.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
				Sources: cli.EnvVars("SAFETYVISION_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "server",
				Usage:   "safetyvision server URL",
				Value:   "http://localhost:8125",
				Sources: cli.EnvVars("SAFETYVISION_SERVER_URL"),
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "output format: text, table, json, jsonl",
				Value:   "text",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
			&cli.BoolFlag{
				Name:  "no-color",
				Usage: "disable colored output",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if cmd.Bool("debug") {
				log.SetLevel(log.DebugLevel)
			}
			if cmd.Bool("no-color") {
				log.SetStyles(log.DefaultStyles())
				lipgloss.SetHasDarkBackground(false)
			}
			return ctx, nil
		},
		Commands: []*cli.Command{
			app.serveCommand(),
			app.evaluateCommand(),
			app.alertsCommand(),
			app.emergencyCommand(),
			app.configCommand(),
			app.versionCommand(),
		},
	}
}

// apiClient builds a client for the --server URL.
func (a *App) apiClient(cmd *cli.Command) (*client.Client, error) {
	return client.New(client.Options{
		BaseURL: cmd.String("server"),
		Version: a.Version,
	})
}

// renderer builds a renderer honouring --output and --no-color.
func (a *App) renderer(cmd *cli.Command) (*render.Renderer, error) {
	return render.New(render.Options{
		Format:     cmd.String("output"),
		Color:      !cmd.Bool("no-color") && isTerminal(),
		TimeFormat: "short",
	})
}

// isTerminal returns true if stdout is a terminal
func isTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// versionCommand shows version information
func (a *App) versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "show version information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fmt.Printf("%s version %s\n", logoStyle.Render("safetyvision"), a.Version)
			fmt.Printf("  commit: %s\n", mutedStyle.Render(a.Commit))
			fmt.Printf("  built:  %s\n", mutedStyle.Render(a.Date))
			return nil
		},
	}
}

func (a *App) buildInfo() string {
	return fmt.Sprintf("%s (%s, %s)", a.Version, a.Commit, a.Date)
}
