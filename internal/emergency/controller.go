// Package emergency implements the tiered emergency-stop controller. It
// classifies sensor snapshots into emergency events, runs the stop sequence
// for an event's level, and routes human notification through an AlertRaiser.
package emergency

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/mr-karan/safetyvision/internal/metrics"
	"github.com/mr-karan/safetyvision/pkg/logger"
	"github.com/mr-karan/safetyvision/pkg/models"
)

// historyCap bounds the in-memory list of recent events.
const historyCap = 100

// AlertRaiser is the slice of the alert manager the controller needs.
type AlertRaiser interface {
	Raise(ctx context.Context, req models.RaiseRequest) (models.AlertID, error)
}

// HistoryRecorder persists controller transitions.
type HistoryRecorder interface {
	RecordEmergency(ctx context.Context, rec models.EmergencyRecord) error
}

// Listener observes controller transitions.
type Listener func(ctx context.Context, rec models.EmergencyRecord)

// Options configures a Controller.
type Options struct {
	Thresholds models.EmergencyThresholds
	// Location is stamped on classified events and the alerts they raise.
	Location string
	Actions  Actions
	Alerts   AlertRaiser
	Recorder HistoryRecorder
	Metrics  *metrics.Recorder
	Logger   *slog.Logger
	Now      func() time.Time
}

// Controller is the emergency-stop state machine: IDLE or ACTIVE(level).
type Controller struct {
	log        *slog.Logger
	thresholds models.EmergencyThresholds
	location   string
	actions    Actions
	alerts     AlertRaiser
	recorder   HistoryRecorder
	metrics    *metrics.Recorder
	now        func() time.Time

	mu     sync.Mutex
	active bool
	// gen counts triggers. A running sequence stops once a newer trigger has
	// taken over.
	gen       uint64
	current   *models.EmergencyEvent
	count     int
	recent    []models.EmergencyEvent
	listeners []Listener
}

// NewController creates an idle controller. Zero threshold fields take their defaults.
func NewController(opts Options) *Controller {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	th := withDefaults(opts.Thresholds)
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Controller{
		log:        log.With("component", "emergency_stop"),
		thresholds: th.Clone(),
		location:   opts.Location,
		actions:    opts.Actions,
		alerts:     opts.Alerts,
		recorder:   opts.Recorder,
		metrics:    opts.Metrics,
		now:        now,
	}
}

// OnTransition registers l to be called after every trigger and reset.
func (c *Controller) OnTransition(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Thresholds returns a copy of the classification limits.
func (c *Controller) Thresholds() models.EmergencyThresholds {
	return c.thresholds.Clone()
}

// Evaluate classifies snapshot. At most one event is returned; the first
// breach wins in the order radiation, temperature, gas, proximity.
// It has no side effects.
func (c *Controller) Evaluate(snapshot models.SensorSnapshot) *models.EmergencyEvent {
	return Classify(c.thresholds, snapshot, c.location, c.now())
}

// Classify is Evaluate without a controller.
func Classify(th models.EmergencyThresholds, snapshot models.SensorSnapshot, location string, at time.Time) *models.EmergencyEvent {
	event := func(level models.EmergencyLevel, trigger, desc string, evacuate bool) *models.EmergencyEvent {
		return &models.EmergencyEvent{
			Level:              level,
			Trigger:            trigger,
			Description:        desc,
			Timestamp:          at,
			Sensors:            clone(snapshot),
			Location:           location,
			RequiresEvacuation: evacuate,
		}
	}

	if radiation, ok := snapshot[models.SensorRadiation]; ok {
		switch {
		case radiation >= th.RadiationCritical:
			return event(models.EmergencyCritical, "radiation_critical",
				fmt.Sprintf("Critical radiation level detected: %g mSv/h", radiation), true)
		case radiation >= th.RadiationHigh:
			return event(models.EmergencyHigh, "radiation_high",
				fmt.Sprintf("High radiation level detected: %g mSv/h", radiation), false)
		}
	}

	if temp, ok := snapshot[models.SensorTemp]; ok && temp >= th.TemperatureCritical {
		return event(models.EmergencyHigh, "temperature_critical",
			fmt.Sprintf("Critical temperature detected: %g degrees C", temp), false)
	}

	for _, g := range snapshot.Gases() {
		limit, tracked := th.GasCritical[g.Gas]
		if tracked && g.PPM >= limit {
			return event(models.EmergencyCritical, g.Gas+"_critical",
				fmt.Sprintf("Critical %s level detected: %g ppm", g.Gas, g.PPM), true)
		}
	}

	proximity := math.Inf(1)
	if v, ok := snapshot[models.SensorProximity]; ok {
		proximity = v
	}
	if proximity <= th.ProximityEmergency {
		return event(models.EmergencyMedium, "proximity_emergency",
			fmt.Sprintf("Emergency proximity detected: %gm", proximity), false)
	}
	return nil
}

// TriggerStop runs the stop sequence for event unless an emergency of the same
// or higher level is already active. It reports whether a sequence ran.
func (c *Controller) TriggerStop(ctx context.Context, event models.EmergencyEvent) bool {
	if !event.Level.Valid() {
		c.log.Error("ignoring emergency event with invalid level", "level", int(event.Level), "trigger", event.Trigger)
		return false
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = c.now()
	}
	if event.Location == "" {
		event.Location = c.location
	}

	c.mu.Lock()
	if c.active && c.current != nil && event.Level <= c.current.Level {
		current := c.current.Level
		c.mu.Unlock()
		c.log.Warn("emergency already active at an equal or higher level",
			"active_level", current.String(),
			"incoming_level", event.Level.String(),
			"trigger", event.Trigger)
		return false
	}
	c.active = true
	stored := event
	c.current = &stored
	c.count++
	c.gen++
	gen := c.gen
	c.recent = append(c.recent, event)
	if len(c.recent) > historyCap {
		c.recent = c.recent[len(c.recent)-historyCap:]
	}
	c.mu.Unlock()

	c.log.Error("EMERGENCY STOP TRIGGERED",
		"level", event.Level.String(),
		"trigger", event.Trigger,
		"description", event.Description,
		"evacuation", event.RequiresEvacuation)
	c.metrics.RecordEmergencyStop(event.Level)

	c.transition(ctx, models.EmergencyRecord{Kind: models.EmergencyTriggered, Event: &event, At: c.now()})

	var steps []func()
	action := func(name string, a Action) func() {
		return func() { c.step(ctx, name, a, event) }
	}
	alert := func(sev models.Severity, requiresAck bool) func() {
		return func() { c.raise(ctx, event, sev, requiresAck) }
	}
	switch event.Level {
	case models.EmergencyCritical:
		steps = []func(){
			action(StepImmediateStop, c.actions.ImmediateStop),
			action(StepEvacuationAlarm, c.actions.EvacuationAlarm),
			action(StepNotifyEmergencyServices, c.actions.NotifyEmergencyServices),
			action(StepActivateContainment, c.actions.ActivateContainment),
			alert(models.SeverityEmergency, true),
		}
	case models.EmergencyHigh:
		steps = []func(){
			action(StepImmediateStop, c.actions.ImmediateStop),
			alert(models.SeverityCritical, true),
			action(StepEnhancedSafetyProtocols, c.actions.EnhancedSafetyProtocols),
		}
	case models.EmergencyMedium:
		steps = []func(){
			action(StepControlledStop, c.actions.ControlledStop),
			alert(models.SeverityWarning, false),
		}
	default:
		steps = []func(){
			action(StepGradualStop, c.actions.GradualStop),
			alert(models.SeverityInfo, false),
		}
	}

	for i, run := range steps {
		if c.superseded(gen) {
			c.log.Warn("stop sequence superseded by a higher level emergency",
				"level", event.Level.String(),
				"trigger", event.Trigger,
				"skipped_steps", len(steps)-i)
			break
		}
		run()
	}
	return true
}

// superseded reports whether a trigger newer than gen has started.
func (c *Controller) superseded(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen != gen
}

// Process evaluates snapshot and triggers a stop for the resulting event.
func (c *Controller) Process(ctx context.Context, snapshot models.SensorSnapshot) (*models.EmergencyEvent, bool) {
	event := c.Evaluate(snapshot)
	if event == nil {
		return nil, false
	}
	return event, c.TriggerStop(ctx, *event)
}

// Reset returns an active controller to IDLE and raises an INFO alert naming
// the operator. It logs and returns false when no emergency is active.
func (c *Controller) Reset(ctx context.Context, operatorID, reason string) bool {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		c.log.Warn("no emergency active to reset", "operator", operatorID)
		return false
	}
	previous := c.current
	c.active = false
	c.current = nil
	c.mu.Unlock()

	c.log.Info("emergency reset", "operator", operatorID, "reason", reason)
	c.metrics.RecordEmergencyReset()

	payload := map[string]any{
		"operator_id": operatorID,
		"reason":      reason,
	}
	location := c.location
	if previous != nil {
		payload["previous_level"] = previous.Level.String()
		payload["previous_trigger"] = previous.Trigger
		if previous.Location != "" {
			location = previous.Location
		}
	}
	c.raiseRequest(ctx, models.RaiseRequest{
		Severity:    models.SeverityInfo,
		Title:       "Emergency Reset",
		Message:     fmt.Sprintf("Emergency reset by %s: %s", operatorID, reason),
		Source:      models.SourceEmergencyStop,
		Location:    location,
		Payload:     payload,
		RequiresAck: models.Bool(false),
		Tags:        []string{models.TagEmergencyReset},
	})

	c.transition(ctx, models.EmergencyRecord{
		Kind:       models.EmergencyReset,
		Event:      previous,
		OperatorID: operatorID,
		Reason:     reason,
		At:         c.now(),
	})
	return true
}

// Status returns a snapshot of the controller state.
func (c *Controller) Status() models.EmergencyStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := models.EmergencyStatus{
		Active:     c.active,
		Count:      c.count,
		Thresholds: c.thresholds.Clone(),
	}
	if c.current != nil {
		cur := *c.current
		cur.Sensors = clone(cur.Sensors)
		st.Current = &cur
	}
	if n := len(c.recent); n > 0 {
		last := c.recent[n-1]
		last.Sensors = clone(last.Sensors)
		st.Last = &last
	}
	return st
}

// Recent returns up to historyCap of the latest events, oldest first.
func (c *Controller) Recent() []models.EmergencyEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.EmergencyEvent(nil), c.recent...)
}

// step runs one action. Failures and panics are logged and never stop the sequence.
func (c *Controller) step(ctx context.Context, name string, action Action, event models.EmergencyEvent) {
	if action == nil {
		return
	}
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return action.Execute(ctx, event)
	}()
	if err != nil {
		c.fail(name, err)
	}
}

func (c *Controller) raise(ctx context.Context, event models.EmergencyEvent, sev models.Severity, requiresAck bool) {
	tags := []string{models.TagEmergencyStop, event.Trigger}
	if event.RequiresEvacuation || event.Level == models.EmergencyCritical {
		tags = append(tags, models.TagEvacuation)
	}
	payload := event.Sensors.Payload()
	if payload == nil {
		payload = make(map[string]any, 2)
	}
	payload["emergency_level"] = event.Level.String()
	payload["trigger"] = event.Trigger

	c.raiseRequest(ctx, models.RaiseRequest{
		Severity:    sev,
		Title:       fmt.Sprintf("Emergency Stop: %s", event.Trigger),
		Message:     fmt.Sprintf("%s: %s", sev, event.Description),
		Source:      models.SourceEmergencyStop,
		Location:    event.Location,
		Payload:     payload,
		RequiresAck: models.Bool(requiresAck),
		Tags:        tags,
	})
}

func (c *Controller) raiseRequest(ctx context.Context, req models.RaiseRequest) {
	if c.alerts == nil {
		return
	}
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		_, err = c.alerts.Raise(ctx, req)
		return err
	}()
	if err != nil {
		c.fail(StepRaiseAlert, err)
	}
}

func (c *Controller) fail(step string, err error) {
	aerr := &ActionError{Step: step, Err: err}
	c.log.Error("emergency step failed", "step", step, "error", aerr)
	c.metrics.RecordActionFailure(step)
}

func (c *Controller) transition(ctx context.Context, rec models.EmergencyRecord) {
	if c.recorder != nil {
		if err := c.recorder.RecordEmergency(ctx, rec); err != nil {
			c.log.Warn("failed to record emergency transition", "kind", rec.Kind, "error", err)
		}
	}

	c.mu.Lock()
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()
	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Error("emergency listener panicked", "kind", rec.Kind, "panic", r)
				}
			}()
			l(ctx, rec)
		}()
	}
}

func withDefaults(th models.EmergencyThresholds) models.EmergencyThresholds {
	def := models.DefaultEmergencyThresholds()
	if th.RadiationCritical == 0 {
		th.RadiationCritical = def.RadiationCritical
	}
	if th.RadiationHigh == 0 {
		th.RadiationHigh = def.RadiationHigh
	}
	if th.TemperatureCritical == 0 {
		th.TemperatureCritical = def.TemperatureCritical
	}
	if th.ProximityEmergency == 0 {
		th.ProximityEmergency = def.ProximityEmergency
	}
	if len(th.GasCritical) == 0 {
		th.GasCritical = def.GasCritical
	}
	return th
}

func clone(s models.SensorSnapshot) models.SensorSnapshot {
	if s == nil {
		return nil
	}
	out := make(models.SensorSnapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
