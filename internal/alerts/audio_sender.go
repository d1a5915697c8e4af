package alerts

import (
	"context"
	"log/slog"

	"github.com/mr-karan/safetyvision/pkg/models"
)

// SirenPattern selects how an audible alert sounds.
type SirenPattern string

const (
	PatternAlarm SirenPattern = "alarm"
	PatternChime SirenPattern = "chime"
)

// Siren drives on-site audible annunciators.
type Siren interface {
	Sound(ctx context.Context, pattern SirenPattern, message string) error
}

// PatternFor maps a severity to its siren pattern.
func PatternFor(sev models.Severity) SirenPattern {
	if sev >= models.SeverityCritical {
		return PatternAlarm
	}
	return PatternChime
}

// AudioSender plays alerts through a Siren.
type AudioSender struct {
	siren Siren
}

func NewAudioSender(siren Siren) *AudioSender {
	return &AudioSender{siren: siren}
}

func (s *AudioSender) Channel() models.ChannelType { return models.ChannelAudio }

func (s *AudioSender) Send(ctx context.Context, notification AlertNotification) error {
	alert := notification.Alert
	return s.siren.Sound(ctx, PatternFor(alert.Severity), alert.Title)
}

// LogSiren is the siren used when no hardware is attached; it only logs.
type LogSiren struct {
	log *slog.Logger
}

func NewLogSiren(log *slog.Logger) *LogSiren {
	if log == nil {
		log = slog.Default()
	}
	return &LogSiren{log: log.With("component", "siren")}
}

func (s *LogSiren) Sound(ctx context.Context, pattern SirenPattern, message string) error {
	s.log.Warn("audio alert", "pattern", pattern, "message", message)
	return nil
}
