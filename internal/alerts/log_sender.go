package alerts

import (
	"context"
	"log/slog"

	"github.com/mr-karan/safetyvision/pkg/models"
)

// LogSender writes alerts to the structured log at a level derived from severity.
type LogSender struct {
	log *slog.Logger
}

func NewLogSender(log *slog.Logger) *LogSender {
	if log == nil {
		log = slog.Default()
	}
	return &LogSender{log: log.With("component", "alert_log_sender")}
}

func (s *LogSender) Channel() models.ChannelType { return models.ChannelLog }

func (s *LogSender) Send(ctx context.Context, notification AlertNotification) error {
	alert := notification.Alert
	s.log.Log(ctx, LevelFor(alert.Severity), "alert notification",
		"alert_id", alert.ID,
		"recipient", notification.RecipientID,
		"severity", alert.Severity.String(),
		"title", alert.Title,
		"message", alert.Message,
		"source", alert.Source,
		"location", alert.Location,
		"tags", alert.Tags)
	return nil
}

// LevelFor maps an alert severity to a log level.
func LevelFor(sev models.Severity) slog.Level {
	switch {
	case sev >= models.SeverityError:
		return slog.LevelError
	case sev == models.SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
