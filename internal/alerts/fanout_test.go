package alerts

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr-karan/safetyvision/internal/metrics"
	"github.com/mr-karan/safetyvision/pkg/models"
)

func fanoutAlert() *models.Alert {
	return &models.Alert{ID: "alert_1", Severity: models.SeverityCritical, Title: "t", Source: "s"}
}

func TestFanoutPartialFailure(t *testing.T) {
	email := newRecordingSender(models.ChannelEmail)
	sms := newRecordingSender(models.ChannelSMS)
	sms.err = errSendFailed
	audio := newRecordingSender(models.ChannelAudio)

	rec := metrics.New()
	f := NewFanout(FanoutOptions{Metrics: rec}, email, sms, audio)
	subs := []models.Subscription{{
		RecipientID: "op",
		Channels:    []models.ChannelType{models.ChannelEmail, models.ChannelSMS, models.ChannelAudio},
	}}

	report := f.Deliver(context.Background(), fanoutAlert(), subs)
	assert.Equal(t, 3, report.Attempted)
	assert.Equal(t, 2, report.Delivered)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, models.ChannelSMS, report.Failures[0].Channel)
	assert.ErrorIs(t, report.Failures[0], errSendFailed)

	assert.Equal(t, 1, email.count())
	assert.Equal(t, 1, audio.count())
	assert.Equal(t, uint64(1), rec.Counter(`safetyvision_deliveries_total{channel="sms",outcome="failed"}`))
}

func TestFanoutRecoversPanics(t *testing.T) {
	bad := newRecordingSender(models.ChannelLog)
	bad.panics = true
	good := newRecordingSender(models.ChannelEmail)

	f := NewFanout(FanoutOptions{}, bad, good)
	report := f.Deliver(context.Background(), fanoutAlert(), []models.Subscription{{
		RecipientID: "op",
		Channels:    []models.ChannelType{models.ChannelLog, models.ChannelEmail},
	}})
	assert.Equal(t, 1, report.Delivered)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0].Error(), "sender panic")
}

func TestFanoutMissingSender(t *testing.T) {
	f := NewFanout(FanoutOptions{})
	report := f.Deliver(context.Background(), fanoutAlert(), []models.Subscription{{
		RecipientID: "op",
		Channels:    []models.ChannelType{models.ChannelMQTT},
	}})
	require.Len(t, report.Failures, 1)
	assert.True(t, errors.Is(report.Failures[0], ErrNoSender))
}

func TestFanoutRunsConcurrently(t *testing.T) {
	slow := newRecordingSender(models.ChannelEmail)
	slow.delay = 50 * time.Millisecond

	f := NewFanout(FanoutOptions{}, slow)
	subs := make([]models.Subscription, 5)
	for i := range subs {
		subs[i] = models.Subscription{RecipientID: "r", Channels: []models.ChannelType{models.ChannelEmail}}
	}

	start := time.Now()
	report := f.Deliver(context.Background(), fanoutAlert(), subs)
	assert.Equal(t, 5, report.Delivered)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

type peakSender struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (p *peakSender) Channel() models.ChannelType { return models.ChannelWebhook }

func (p *peakSender) Send(context.Context, AlertNotification) error {
	n := p.inFlight.Add(1)
	for {
		old := p.peak.Load()
		if n <= old || p.peak.CompareAndSwap(old, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	p.inFlight.Add(-1)
	return nil
}

func TestFanoutConcurrencyLimit(t *testing.T) {
	p := &peakSender{}
	f := NewFanout(FanoutOptions{Concurrency: 2}, p)
	subs := make([]models.Subscription, 6)
	for i := range subs {
		subs[i] = models.Subscription{RecipientID: "r", Channels: []models.ChannelType{models.ChannelWebhook}}
	}
	report := f.Deliver(context.Background(), fanoutAlert(), subs)
	assert.Equal(t, 6, report.Delivered)
	assert.LessOrEqual(t, p.peak.Load(), int32(2))
}

func TestFanoutResolvesContacts(t *testing.T) {
	email := newRecordingSender(models.ChannelEmail)
	f := NewFanout(FanoutOptions{Directory: Directory{"op": {Email: "op@plant.example"}}}, email)
	f.Deliver(context.Background(), fanoutAlert(), []models.Subscription{{
		RecipientID: "op",
		Channels:    []models.ChannelType{models.ChannelEmail},
	}})
	got := email.notifications()
	require.Len(t, got, 1)
	assert.Equal(t, "op@plant.example", got[0].Contact.Email)
}
