package alerts

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mr-karan/safetyvision/pkg/logger"
	"github.com/mr-karan/safetyvision/pkg/models"
)

// HistoryRecorder persists alert lifecycle transitions. Each call carries the
// full alert as it stands after the transition.
type HistoryRecorder interface {
	RecordAlert(ctx context.Context, alert *models.Alert) error
}

// StoreOptions configures a Store.
type StoreOptions struct {
	Logger   *slog.Logger
	Recorder HistoryRecorder
	// HistoryLimit caps retained resolved alerts; zero keeps everything.
	HistoryLimit int
}

// Store is the in-memory alert aggregate. Every per-alert transition is a
// check-and-set under a single lock; callers always receive copies.
type Store struct {
	log      *slog.Logger
	recorder HistoryRecorder
	limit    int

	mu      sync.Mutex
	alerts  map[models.AlertID]*models.Alert
	order   []models.AlertID // insertion order, oldest first
	active  map[models.AlertID]struct{}
	claimed map[models.AlertID]struct{}
}

// NewStore creates an empty store.
func NewStore(opts StoreOptions) *Store {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Store{
		log:      log.With("component", "alert_store"),
		recorder: opts.Recorder,
		limit:    opts.HistoryLimit,
		alerts:   make(map[models.AlertID]*models.Alert),
		active:   make(map[models.AlertID]struct{}),
		claimed:  make(map[models.AlertID]struct{}),
	}
}

// Add inserts a new active alert.
func (s *Store) Add(ctx context.Context, alert *models.Alert) {
	stored := alert.Clone()
	stored.State = models.AlertStateActive

	s.mu.Lock()
	s.alerts[stored.ID] = stored
	s.order = append(s.order, stored.ID)
	s.active[stored.ID] = struct{}{}
	s.pruneLocked()
	snapshot := stored.Clone()
	s.mu.Unlock()

	s.record(ctx, snapshot)
}

// Get returns the alert with id, including resolved alerts still in history.
func (s *Store) Get(id models.AlertID) (*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, models.ErrAlertNotFound
	}
	return a.Clone(), nil
}

// Acknowledge marks an active alert acknowledged and runs onLocked while the
// store lock is still held, so that cancelling its escalation is part of the
// same step. A repeated acknowledgment keeps the first record and reports
// changed as false.
func (s *Store) Acknowledge(ctx context.Context, id models.AlertID, ack models.Acknowledgment, onLocked func()) (alert *models.Alert, changed bool, err error) {
	s.mu.Lock()
	a, ok := s.alerts[id]
	if _, live := s.active[id]; !ok || !live {
		s.mu.Unlock()
		return nil, false, models.ErrAlertNotFound
	}
	changed = a.Acknowledged == nil
	if changed {
		a.Acknowledged = &ack
		a.State = models.AlertStateAcknowledged
		if onLocked != nil {
			onLocked()
		}
	}
	snapshot := a.Clone()
	s.mu.Unlock()

	if changed {
		s.record(ctx, snapshot)
	}
	return snapshot, changed, nil
}

// Resolve moves an active or acknowledged alert into history. onLocked runs
// under the store lock.
func (s *Store) Resolve(ctx context.Context, id models.AlertID, res models.Resolution, onLocked func()) (*models.Alert, error) {
	s.mu.Lock()
	a, ok := s.alerts[id]
	if _, live := s.active[id]; !ok || !live {
		s.mu.Unlock()
		return nil, models.ErrAlertNotFound
	}
	a.Resolved = &res
	a.State = models.AlertStateResolved
	delete(s.active, id)
	if onLocked != nil {
		onLocked()
	}
	snapshot := a.Clone()
	s.mu.Unlock()

	s.record(ctx, snapshot)
	return snapshot, nil
}

// IsEscalatable reports whether id is active and unacknowledged.
func (s *Store) IsEscalatable(id models.AlertID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.escalatableLocked(id)
}

// IfEscalatable runs fn under the store lock when id is escalatable.
func (s *Store) IfEscalatable(id models.AlertID, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.escalatableLocked(id) {
		return false
	}
	fn()
	return true
}

func (s *Store) escalatableLocked(id models.AlertID) bool {
	a, ok := s.alerts[id]
	if !ok {
		return false
	}
	if _, live := s.active[id]; !live {
		return false
	}
	if _, done := s.claimed[id]; done {
		return false
	}
	return a.Acknowledged == nil
}

// ClaimEscalation atomically checks that id is escalatable and marks it as
// escalated, so that at most one escalation is ever produced per alert.
func (s *Store) ClaimEscalation(id models.AlertID) (*models.Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.escalatableLocked(id) {
		return nil, false
	}
	s.claimed[id] = struct{}{}
	return s.alerts[id].Clone(), true
}

// MarkEscalated records the id of the alert produced by escalating id.
func (s *Store) MarkEscalated(ctx context.Context, id, escalatedTo models.AlertID) {
	s.mu.Lock()
	a, ok := s.alerts[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	s.claimed[id] = struct{}{}
	a.EscalatedTo = escalatedTo
	snapshot := a.Clone()
	s.mu.Unlock()

	s.record(ctx, snapshot)
}

// Active returns the active and acknowledged alerts, oldest first.
func (s *Store) Active() []*models.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Alert, 0, len(s.active))
	for _, id := range s.order {
		if _, ok := s.active[id]; ok {
			out = append(out, s.alerts[id].Clone())
		}
	}
	return out
}

// ActiveCount returns the size of the active set.
func (s *Store) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// History returns up to limit alerts of any state, newest first. A
// non-positive limit uses the default.
func (s *Store) History(limit int) []*models.Alert {
	if limit <= 0 {
		limit = models.DefaultAlertHistoryLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := min(limit, len(s.order))
	out := make([]*models.Alert, 0, n)
	for i := len(s.order) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.alerts[s.order[i]].Clone())
	}
	return out
}

// Stats summarises the store. The severity breakdown covers active alerts only.
func (s *Store) Stats() models.Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := models.Statistics{
		Active:            len(s.active),
		Total:             len(s.alerts),
		SeverityBreakdown: make(map[string]int, len(models.AllSeverities)),
	}
	for _, sev := range models.AllSeverities {
		stats.SeverityBreakdown[sev.String()] = 0
	}
	for id, a := range s.alerts {
		if a.Acknowledged != nil {
			stats.Acknowledged++
		}
		if a.State == models.AlertStateResolved {
			stats.Resolved++
		}
		if _, ok := s.claimed[id]; ok {
			stats.Escalated++
		}
		if _, ok := s.active[id]; ok {
			stats.SeverityBreakdown[a.Severity.String()]++
		}
	}
	return stats
}

// PruneResolvedBefore drops resolved alerts created before cutoff and
// returns how many were removed.
func (s *Store) PruneResolvedBefore(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.order[:0]
	removed := 0
	for _, id := range s.order {
		a := s.alerts[id]
		if a.State == models.AlertStateResolved && a.CreatedAt.Before(cutoff) {
			s.forgetLocked(id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed
}

// pruneLocked enforces the history limit by dropping the oldest resolved alerts.
func (s *Store) pruneLocked() {
	if s.limit <= 0 || len(s.order) <= s.limit {
		return
	}
	excess := len(s.order) - s.limit
	kept := s.order[:0]
	for _, id := range s.order {
		if excess > 0 && s.alerts[id].State == models.AlertStateResolved {
			s.forgetLocked(id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

func (s *Store) forgetLocked(id models.AlertID) {
	delete(s.alerts, id)
	delete(s.claimed, id)
}

func (s *Store) record(ctx context.Context, alert *models.Alert) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordAlert(ctx, alert); err != nil {
		s.log.Warn("failed to record alert history", "alert_id", alert.ID, "state", alert.State, "error", err)
	}
}
