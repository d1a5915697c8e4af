package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mr-karan/safetyvision/internal/config"
	"github.com/mr-karan/safetyvision/internal/metrics"
	"github.com/mr-karan/safetyvision/pkg/logger"
	"github.com/mr-karan/safetyvision/pkg/models"
)

// EventType names an alert lifecycle transition.
type EventType string

const (
	EventRaised       EventType = "alert.raised"
	EventAcknowledged EventType = "alert.acknowledged"
	EventResolved     EventType = "alert.resolved"
	EventEscalated    EventType = "alert.escalated"
)

// Event is passed to listeners after a lifecycle transition.
type Event struct {
	Type  EventType     `json:"type"`
	Alert *models.Alert `json:"alert"`
}

// Listener observes lifecycle events. Listeners run synchronously on the
// caller's goroutine and must not block.
type Listener func(ctx context.Context, ev Event)

// Options encapsulates the dependencies required to run the alerting manager.
type Options struct {
	Config        config.AlertsConfig
	Logger        *slog.Logger
	Metrics       *metrics.Recorder
	Recorder      HistoryRecorder
	Senders       []AlertSender
	Subscriptions []models.Subscription
	// Now overrides the clock used for timestamps and quiet hours.
	Now func() time.Time
}

// Manager is the alerting façade: raise, acknowledge, resolve, subscribe, query.
type Manager struct {
	cfg       config.AlertsConfig
	log       *slog.Logger
	metrics   *metrics.Recorder
	store     *Store
	subs      *SubscriptionRegistry
	fanout    *Fanout
	scheduler *EscalationScheduler
	now       func() time.Time

	baseCtx    context.Context
	baseCancel context.CancelFunc

	listenersMu sync.RWMutex
	listeners   []Listener

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewManager constructs a new alert manager instance.
func NewManager(opts Options) (*Manager, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:     opts.Config,
		log:     log.With("component", "alert_manager"),
		metrics: opts.Metrics,
		store: NewStore(StoreOptions{
			Logger:       log,
			Recorder:     opts.Recorder,
			HistoryLimit: opts.Config.HistoryLimit,
		}),
		subs: NewSubscriptionRegistry(),
		fanout: NewFanout(FanoutOptions{
			Logger:      log,
			Metrics:     opts.Metrics,
			Directory:   NewDirectory(opts.Config.Recipients),
			Concurrency: opts.Config.MaxConcurrentDeliveries,
		}, opts.Senders...),
		now:        now,
		baseCtx:    baseCtx,
		baseCancel: cancel,
		stop:       make(chan struct{}),
	}
	m.scheduler = NewEscalationScheduler(log, m.fire)

	for _, sub := range opts.Subscriptions {
		if err := m.subs.Add(sub); err != nil {
			cancel()
			return nil, fmt.Errorf("subscription for %q: %w", sub.RecipientID, err)
		}
	}

	m.metrics.RegisterGauge(`safetyvision_active_alerts`, func() float64 {
		return float64(m.store.ActiveCount())
	})
	m.metrics.RegisterGauge(`safetyvision_pending_escalations`, func() float64 {
		return float64(m.scheduler.Pending())
	})
	return m, nil
}

// RegisterSender installs or replaces the sender for a channel at runtime.
func (m *Manager) RegisterSender(s AlertSender) {
	m.fanout.Register(s)
}

// Channels lists the channels that have a registered sender, sorted.
func (m *Manager) Channels() []models.ChannelType {
	chs := m.fanout.Channels()
	slices.Sort(chs)
	return chs
}

// OnAlert registers a lifecycle listener.
func (m *Manager) OnAlert(l Listener) {
	if l == nil {
		return
	}
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Start launches housekeeping that prunes resolved history past retention.
func (m *Manager) Start(ctx context.Context) {
	interval := m.cfg.HousekeepingInterval
	retention := m.cfg.HistoryRetention
	if interval <= 0 || retention <= 0 {
		m.log.Info("alert history housekeeping disabled")
		return
	}
	m.log.Info("starting alert manager housekeeping", "interval", interval, "retention", retention)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := m.store.PruneResolvedBefore(m.now().Add(-retention)); n > 0 {
					m.log.Debug("pruned resolved alerts", "count", n)
				}
			case <-m.stop:
				return
			case <-ctx.Done():
				m.log.Info("alert manager context cancelled")
				return
			}
		}
	}()
}

// Stop cancels all pending escalations and stops housekeeping.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.log.Info("alert manager stopping", "pending_escalations", m.scheduler.Pending())
		close(m.stop)
		m.scheduler.Stop()
		m.baseCancel()
		m.wg.Wait()
	})
}

// Raise creates, stores, and delivers an alert, then arms its escalation
// timer. Only validation failures return an error.
func (m *Manager) Raise(ctx context.Context, req models.RaiseRequest) (models.AlertID, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	requiresAck := req.Severity >= models.SeverityCritical
	if req.RequiresAck != nil {
		requiresAck = *req.RequiresAck
	}
	escalateAfter := m.cfg.Escalation.For(req.Severity)
	if req.EscalateAfter != nil {
		escalateAfter = req.EscalateAfter.Duration
	}

	alert := &models.Alert{
		ID:            newAlertID(),
		Severity:      req.Severity,
		Title:         strings.TrimSpace(req.Title),
		Message:       req.Message,
		CreatedAt:     m.now(),
		Source:        strings.TrimSpace(req.Source),
		Location:      req.Location,
		Payload:       req.Payload,
		RequiresAck:   requiresAck,
		EscalateAfter: models.Duration{Duration: escalateAfter},
		Tags:          slices.Clone(req.Tags),
		State:         models.AlertStateActive,
	}
	m.store.Add(ctx, alert)
	m.metrics.RecordAlertRaised(alert.Severity)

	m.log.Info("alert raised",
		"alert_id", alert.ID,
		"severity", alert.Severity.String(),
		"title", alert.Title,
		"source", alert.Source,
		"location", alert.Location)

	subs := m.subs.Matching(alert, alert.CreatedAt)
	if len(subs) == 0 {
		m.log.Debug("no matching subscriptions", "alert_id", alert.ID)
	}
	m.fanout.Deliver(ctx, alert, subs)

	if alert.RequiresAck && alert.EscalateAfter.Duration > 0 {
		armed := m.store.IfEscalatable(alert.ID, func() {
			m.scheduler.Schedule(alert.ID, alert.EscalateAfter.Duration)
		})
		if armed {
			m.metrics.RecordEscalationScheduled()
		}
	}

	m.emit(ctx, EventRaised, alert)
	return alert.ID, nil
}

// Acknowledge marks id acknowledged and cancels its escalation in one step.
// Acknowledging an already acknowledged alert is a no-op.
func (m *Manager) Acknowledge(ctx context.Context, id models.AlertID, userID, note string) error {
	ack := models.Acknowledgment{UserID: userID, Note: note, At: m.now()}
	cancelled := false
	alert, changed, err := m.store.Acknowledge(ctx, id, ack, func() {
		cancelled = m.scheduler.Cancel(id)
	})
	if err != nil {
		return err
	}
	if !changed {
		m.log.Debug("alert already acknowledged", "alert_id", id, "user_id", userID)
		return nil
	}
	if cancelled {
		m.metrics.RecordEscalationCancelled()
	}
	m.metrics.RecordAcknowledged()
	m.log.Info("alert acknowledged", "alert_id", id, "user_id", userID)

	m.emit(ctx, EventAcknowledged, alert)
	m.notice(ctx, models.RaiseRequest{
		Severity: models.SeverityInfo,
		Title:    "Alert Acknowledged: " + alert.Title,
		Message:  fmt.Sprintf("Alert %s acknowledged by %s. Note: %s", id, userID, note),
		Source:   models.SourceAlertSystem,
		Location: alert.Location,
		Tags:     []string{models.TagAcknowledgment},
	})
	return nil
}

// Resolve closes id, cancelling any pending escalation.
func (m *Manager) Resolve(ctx context.Context, id models.AlertID, userID, note string) error {
	res := models.Resolution{UserID: userID, Note: note, At: m.now()}
	cancelled := false
	alert, err := m.store.Resolve(ctx, id, res, func() {
		cancelled = m.scheduler.Cancel(id)
	})
	if err != nil {
		return err
	}
	if cancelled {
		m.metrics.RecordEscalationCancelled()
	}
	m.metrics.RecordResolved()
	m.log.Info("alert resolved", "alert_id", id, "user_id", userID)

	m.emit(ctx, EventResolved, alert)
	m.notice(ctx, models.RaiseRequest{
		Severity: models.SeverityInfo,
		Title:    "Alert Resolved: " + alert.Title,
		Message:  fmt.Sprintf("Alert %s resolved by %s. Resolution: %s", id, userID, note),
		Source:   models.SourceAlertSystem,
		Location: alert.Location,
		Tags:     []string{models.TagResolution},
	})
	return nil
}

// notice raises an informational follow-up that never needs acknowledgment.
func (m *Manager) notice(ctx context.Context, req models.RaiseRequest) {
	req.RequiresAck = models.Bool(false)
	req.EscalateAfter = models.NewDuration(0)
	if _, err := m.Raise(ctx, req); err != nil {
		m.log.Error("failed to raise notice", "title", req.Title, "error", err)
	}
}

// fire handles an elapsed escalation timer.
func (m *Manager) fire(id models.AlertID, delay time.Duration) {
	original, ok := m.store.ClaimEscalation(id)
	if !ok {
		m.metrics.RecordEscalationSkipped()
		m.log.Debug("escalation skipped, alert no longer escalatable", "alert_id", id)
		return
	}

	tags := append([]string{models.TagEscalated}, original.Tags...)
	newID, err := m.Raise(m.baseCtx, models.RaiseRequest{
		Severity: EscalatedSeverity(original.Severity),
		Title:    "ESCALATED: " + original.Title,
		Message:  fmt.Sprintf("Alert %s was not acknowledged within %s. Original: %s", id, delay, original.Message),
		Source:   models.SourceAlertEscalation,
		Location: original.Location,
		Payload:  original.Payload,
		Tags:     tags,
	})
	if err != nil {
		m.log.Error("failed to raise escalated alert", "alert_id", id, "error", err)
		return
	}
	m.store.MarkEscalated(m.baseCtx, id, newID)
	m.metrics.RecordEscalationFired()
	m.log.Warn("alert escalated", "alert_id", id, "escalated_to", newID, "delay", delay)

	if updated, err := m.store.Get(id); err == nil {
		m.emit(m.baseCtx, EventEscalated, updated)
	}
}

// EscalatedSeverity is the severity an unacknowledged alert escalates to. Any
// severity jumps straight to EMERGENCY; it never downgrades.
func EscalatedSeverity(models.Severity) models.Severity {
	return models.SeverityEmergency
}

func (m *Manager) emit(ctx context.Context, typ EventType, alert *models.Alert) {
	m.listenersMu.RLock()
	listeners := slices.Clone(m.listeners)
	m.listenersMu.RUnlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("alert listener panicked", "event", typ, "alert_id", alert.ID, "panic", r)
				}
			}()
			l(ctx, Event{Type: typ, Alert: alert.Clone()})
		}()
	}
}

// Subscribe registers a user subscription.
func (m *Manager) Subscribe(sub models.Subscription) error {
	if err := m.subs.Add(sub); err != nil {
		return err
	}
	m.log.Info("subscription added", "recipient_id", sub.RecipientID, "channels", sub.Channels)
	return nil
}

// Subscriptions lists system then user subscriptions.
func (m *Manager) Subscriptions() []models.Subscription {
	return m.subs.List()
}

// Get returns an alert by id, active or historical.
func (m *Manager) Get(id models.AlertID) (*models.Alert, error) {
	return m.store.Get(id)
}

// ActiveAlerts returns unresolved alerts, oldest first.
func (m *Manager) ActiveAlerts() []*models.Alert {
	return m.store.Active()
}

// History returns up to limit alerts, newest first.
func (m *Manager) History(limit int) []*models.Alert {
	return m.store.History(limit)
}

// Statistics summarises alerts, subscriptions, and pending escalations.
func (m *Manager) Statistics() models.Statistics {
	stats := m.store.Stats()
	stats.Subscriptions = m.subs.Len()
	stats.PendingEscalations = m.scheduler.Pending()
	return stats
}

// PendingEscalation reports when id's escalation timer elapses, if armed.
func (m *Manager) PendingEscalation(id models.AlertID) (time.Time, bool) {
	return m.scheduler.Due(id)
}

func newAlertID() models.AlertID {
	return models.AlertID("alert_" + uuid.NewString())
}
