package alerts

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mr-karan/safetyvision/pkg/logger"
	"github.com/mr-karan/safetyvision/pkg/models"
)

// FireFunc is invoked when an escalation timer elapses without being cancelled.
// It runs on the timer goroutine and must re-check that the alert is still live.
type FireFunc func(id models.AlertID, delay time.Duration)

type pendingEscalation struct {
	cancel context.CancelFunc
	token  uint64
	due    time.Time
}

// EscalationScheduler keeps at most one timer per alert id. It holds ids only,
// never alert state.
type EscalationScheduler struct {
	log    *slog.Logger
	onFire FireFunc

	mu      sync.Mutex
	timers  map[models.AlertID]*pendingEscalation
	seq     uint64
	stopped bool
	wg      sync.WaitGroup
}

// NewEscalationScheduler creates a scheduler that calls onFire for elapsed timers.
func NewEscalationScheduler(log *slog.Logger, onFire FireFunc) *EscalationScheduler {
	if log == nil {
		log = logger.Discard()
	}
	return &EscalationScheduler{
		log:    log.With("component", "escalation_scheduler"),
		onFire: onFire,
		timers: make(map[models.AlertID]*pendingEscalation),
	}
}

// Schedule starts a timer for id, replacing any existing one. Non-positive
// delays and calls after Stop are ignored.
func (s *EscalationScheduler) Schedule(id models.AlertID, delay time.Duration) {
	if delay <= 0 {
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if existing, ok := s.timers[id]; ok {
		existing.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.seq++
	token := s.seq
	s.timers[id] = &pendingEscalation{cancel: cancel, token: token, due: time.Now().Add(delay)}
	s.wg.Add(1)
	s.mu.Unlock()

	s.log.Debug("escalation timer started", "alert_id", id, "delay", delay)

	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		s.mu.Lock()
		current, ok := s.timers[id]
		if !ok || current.token != token {
			s.mu.Unlock()
			return
		}
		delete(s.timers, id)
		s.mu.Unlock()
		cancel()

		s.log.Warn("escalation timer elapsed", "alert_id", id, "delay", delay)
		if s.onFire != nil {
			s.onFire(id, delay)
		}
	}()
}

// Cancel stops the pending timer for id and reports whether one existed.
func (s *EscalationScheduler) Cancel(id models.AlertID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.timers[id]
	if !ok {
		return false
	}
	p.cancel()
	delete(s.timers, id)
	s.log.Debug("escalation cancelled", "alert_id", id)
	return true
}

// Pending returns the number of armed timers.
func (s *EscalationScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Due returns when the timer for id elapses.
func (s *EscalationScheduler) Due(id models.AlertID) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.timers[id]
	if !ok {
		return time.Time{}, false
	}
	return p.due, true
}

// Stop cancels all pending timers and waits for in-flight fire handlers.
func (s *EscalationScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, p := range s.timers {
		p.cancel()
		delete(s.timers, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
