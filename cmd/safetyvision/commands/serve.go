package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/mr-karan/safetyvision/internal/app"
)

// serveCommand runs the HTTP server until interrupted.
func (a *App) serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the alerting server",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "shutdown-timeout",
				Usage: "time allowed for a graceful shutdown",
				Value: 10 * time.Second,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return a.runServe(ctx, cmd)
		},
	}
}

func (a *App) runServe(ctx context.Context, cmd *cli.Command) error {
	svc, err := app.New(app.Options{
		ConfigPath: cmd.String("config"),
		BuildInfo:  a.buildInfo(),
		Version:    a.Version,
	})
	if err != nil {
		return err
	}
	if err := svc.Initialize(ctx); err != nil {
		// Release whatever was opened before the failure.
		_ = svc.Shutdown(context.Background())
		return fmt.Errorf("failed to initialize: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			_ = svc.Shutdown(context.Background())
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cmd.Duration("shutdown-timeout"))
	defer cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
