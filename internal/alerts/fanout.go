package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mr-karan/safetyvision/internal/metrics"
	"github.com/mr-karan/safetyvision/pkg/logger"
	"github.com/mr-karan/safetyvision/pkg/models"
)

// ErrNoSender is the cause recorded when no sender is registered for a channel.
var ErrNoSender = errors.New("no sender registered for channel")

// DeliveryError describes one failed dispatch.
type DeliveryError struct {
	AlertID     models.AlertID
	RecipientID string
	Channel     models.ChannelType
	Err         error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver alert %s to %s via %s: %v", e.AlertID, e.RecipientID, e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// DeliveryReport summarises one fan-out.
type DeliveryReport struct {
	Attempted int
	Delivered int
	Failures  []*DeliveryError
}

// FanoutOptions configures a Fanout.
type FanoutOptions struct {
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
	Directory Directory
	// Concurrency caps simultaneous dispatches; zero means one goroutine per dispatch.
	Concurrency int
}

// Fanout delivers an alert to every (subscription, channel) pair concurrently.
type Fanout struct {
	log       *slog.Logger
	metrics   *metrics.Recorder
	directory Directory
	limit     int

	mu      sync.RWMutex
	senders map[models.ChannelType]AlertSender
}

// NewFanout creates a fan-out over senders. Nil senders are skipped; a later
// sender for the same channel replaces an earlier one.
func NewFanout(opts FanoutOptions, senders ...AlertSender) *Fanout {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	f := &Fanout{
		log:       log.With("component", "delivery_fanout"),
		metrics:   opts.Metrics,
		directory: opts.Directory,
		limit:     opts.Concurrency,
		senders:   make(map[models.ChannelType]AlertSender, len(senders)),
	}
	for _, s := range senders {
		f.Register(s)
	}
	return f
}

// Register installs sender for its channel.
func (f *Fanout) Register(sender AlertSender) {
	if sender == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.senders[sender.Channel()] = sender
}

// Channels lists the channel types with a registered sender.
func (f *Fanout) Channels() []models.ChannelType {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]models.ChannelType, 0, len(f.senders))
	for ch := range f.senders {
		out = append(out, ch)
	}
	return out
}

func (f *Fanout) sender(ch models.ChannelType) (AlertSender, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.senders[ch]
	return s, ok
}

// Deliver dispatches alert to each channel of each subscription and waits for
// all dispatches. Failures are logged and reported, never returned.
func (f *Fanout) Deliver(ctx context.Context, alert *models.Alert, subs []models.Subscription) DeliveryReport {
	var (
		g      errgroup.Group
		mu     sync.Mutex
		report DeliveryReport
	)
	if f.limit > 0 {
		g.SetLimit(f.limit)
	}

	for _, sub := range subs {
		contact := f.directory.Lookup(sub.RecipientID)
		for _, ch := range sub.Channels {
			n := AlertNotification{
				Alert:       alert,
				RecipientID: sub.RecipientID,
				Channel:     ch,
				Contact:     contact,
			}
			mu.Lock()
			report.Attempted++
			mu.Unlock()

			g.Go(func() error {
				err := f.dispatch(ctx, n)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					report.Failures = append(report.Failures, &DeliveryError{
						AlertID:     alert.ID,
						RecipientID: n.RecipientID,
						Channel:     n.Channel,
						Err:         err,
					})
					return nil
				}
				report.Delivered++
				return nil
			})
		}
	}
	_ = g.Wait()

	for _, failure := range report.Failures {
		f.log.Warn("alert delivery failed",
			"alert_id", failure.AlertID,
			"recipient", failure.RecipientID,
			"channel", failure.Channel,
			"error", failure.Err)
	}
	if report.Attempted > 0 {
		f.log.Debug("alert fan-out complete",
			"alert_id", alert.ID,
			"attempted", report.Attempted,
			"delivered", report.Delivered,
			"failed", len(report.Failures))
	}
	return report
}

func (f *Fanout) dispatch(ctx context.Context, n AlertNotification) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panic: %v", r)
		}
		f.metrics.RecordDelivery(n.Channel, err == nil)
		f.metrics.RecordDeliveryDuration(n.Channel, time.Since(start).Seconds())
	}()

	sender, ok := f.sender(n.Channel)
	if !ok {
		return ErrNoSender
	}
	return sender.Send(ctx, n)
}
