package emergency

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mr-karan/safetyvision/pkg/models"
)

// Step names, used in logs, metrics and ActionError.
const (
	StepImmediateStop           = "immediate_stop"
	StepEvacuationAlarm         = "evacuation_alarm"
	StepNotifyEmergencyServices = "notify_emergency_services"
	StepActivateContainment     = "activate_containment"
	StepEnhancedSafetyProtocols = "enhanced_safety_protocols"
	StepControlledStop          = "controlled_stop"
	StepGradualStop             = "gradual_stop"
	StepRaiseAlert              = "raise_alert"
)

// Action is one injected stop-sequence capability.
type Action interface {
	Execute(ctx context.Context, event models.EmergencyEvent) error
}

// ActionFunc adapts a function to Action.
type ActionFunc func(ctx context.Context, event models.EmergencyEvent) error

func (f ActionFunc) Execute(ctx context.Context, event models.EmergencyEvent) error {
	return f(ctx, event)
}

// Actions names each slot of the stop sequences. Nil slots are skipped.
type Actions struct {
	ImmediateStop           Action
	EvacuationAlarm         Action
	NotifyEmergencyServices Action
	ActivateContainment     Action
	EnhancedSafetyProtocols Action
	ControlledStop          Action
	GradualStop             Action
}

// ActionError wraps a failed step.
type ActionError struct {
	Step string
	Err  error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("emergency step %s failed: %v", e.Step, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// LogActions returns actions that only log, for sites without wired hardware.
func LogActions(log *slog.Logger) Actions {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "emergency_actions")
	step := func(name string, level slog.Level, msg string) Action {
		return ActionFunc(func(ctx context.Context, ev models.EmergencyEvent) error {
			log.Log(ctx, level, msg, "step", name, "trigger", ev.Trigger, "level", ev.Level.String())
			return nil
		})
	}
	return Actions{
		ImmediateStop:           step(StepImmediateStop, slog.LevelError, "robots stopped immediately"),
		EvacuationAlarm:         step(StepEvacuationAlarm, slog.LevelError, "evacuation alarm triggered"),
		NotifyEmergencyServices: step(StepNotifyEmergencyServices, slog.LevelError, "notifying emergency services"),
		ActivateContainment:     step(StepActivateContainment, slog.LevelError, "containment protocols activated"),
		EnhancedSafetyProtocols: step(StepEnhancedSafetyProtocols, slog.LevelWarn, "enhanced safety protocols initiated"),
		ControlledStop:          step(StepControlledStop, slog.LevelWarn, "controlled stop sequence started"),
		GradualStop:             step(StepGradualStop, slog.LevelInfo, "gradual stop started"),
	}
}
