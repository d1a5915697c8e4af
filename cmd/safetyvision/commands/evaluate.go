package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/mr-karan/safetyvision/internal/config"
	"github.com/mr-karan/safetyvision/internal/emergency"
	"github.com/mr-karan/safetyvision/pkg/models"
)

// evaluateCommand classifies a sensor snapshot.
func (a *App) evaluateCommand() *cli.Command {
	return &cli.Command{
		Name:      "evaluate",
		Usage:     "classify sensor readings against the emergency thresholds",
		ArgsUsage: "[key=value ...]",
		Description: `Classify a sensor snapshot. By default the thresholds from the config file
are applied locally and nothing is triggered. With --remote the snapshot is
sent to a running server, which runs the stop sequence on a breach.

Examples:
   safetyvision evaluate radiation_level=2.5
   safetyvision evaluate temperature=85 proximity_distance=3
   safetyvision evaluate --file snapshot.json --remote`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "read the snapshot from a JSON object file",
			},
			&cli.BoolFlag{
				Name:  "remote",
				Usage: "submit to the server instead of classifying locally",
			},
			&cli.StringFlag{
				Name:  "location",
				Usage: "location attached to the event (local mode)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return a.runEvaluate(ctx, cmd)
		},
	}
}

func (a *App) runEvaluate(ctx context.Context, cmd *cli.Command) error {
	snapshot, err := readSnapshot(cmd.String("file"), cmd.Args().Slice())
	if err != nil {
		return err
	}
	if len(snapshot) == 0 {
		return fmt.Errorf("no sensor readings given")
	}

	r, err := a.renderer(cmd)
	if err != nil {
		return err
	}

	if cmd.Bool("remote") {
		c, err := a.apiClient(cmd)
		if err != nil {
			return err
		}
		ev, err := c.Evaluate(ctx, snapshot)
		if err != nil {
			return err
		}
		return r.Evaluation(ev)
	}

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}
	location := cmd.String("location")
	if location == "" {
		location = cfg.Emergency.Location
	}
	event := emergency.Classify(cfg.Emergency.Thresholds, snapshot, location, time.Now())
	return r.Evaluation(&models.EmergencyEvaluation{Event: event})
}

// readSnapshot merges readings from an optional JSON file with key=value
// arguments; arguments win.
func readSnapshot(path string, pairs []string) (models.SensorSnapshot, error) {
	snapshot := models.SensorSnapshot{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read snapshot: %w", err)
		}
		if err := json.Unmarshal(data, &snapshot); err != nil {
			return nil, fmt.Errorf("invalid snapshot file: %w", err)
		}
	}
	parsed, err := parseReadings(pairs)
	if err != nil {
		return nil, err
	}
	for k, v := range parsed {
		snapshot[k] = v
	}
	return snapshot, nil
}

// parseReadings reads "key=value" pairs into a sensor snapshot.
func parseReadings(pairs []string) (models.SensorSnapshot, error) {
	snap := make(models.SensorSnapshot, len(pairs))
	for _, p := range pairs {
		key, raw, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid reading %q, want key=value", p)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: %q", key, raw)
		}
		snap[key] = v
	}
	return snap, nil
}
