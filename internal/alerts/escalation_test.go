package alerts

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr-karan/safetyvision/pkg/models"
)

func TestSchedulerFires(t *testing.T) {
	var (
		mu    sync.Mutex
		fired []models.AlertID
	)
	s := NewEscalationScheduler(nil, func(id models.AlertID, delay time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		fired = append(fired, id)
		assert.Equal(t, 10*time.Millisecond, delay)
	})
	t.Cleanup(s.Stop)

	s.Schedule("a1", 10*time.Millisecond)
	assert.Equal(t, 1, s.Pending())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 1
	}, time.Second, 2*time.Millisecond)
	assert.Zero(t, s.Pending(), "fired timers leave the table")
}

func TestSchedulerCancel(t *testing.T) {
	var calls atomic.Int32
	s := NewEscalationScheduler(nil, func(models.AlertID, time.Duration) { calls.Add(1) })
	t.Cleanup(s.Stop)

	s.Schedule("a1", 20*time.Millisecond)
	assert.True(t, s.Cancel("a1"))
	assert.False(t, s.Cancel("a1"), "second cancel is a no-op")
	assert.False(t, s.Cancel("never"), "cancel of unknown id is a no-op")

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestSchedulerRescheduleReplaces(t *testing.T) {
	var calls atomic.Int32
	s := NewEscalationScheduler(nil, func(models.AlertID, time.Duration) { calls.Add(1) })
	t.Cleanup(s.Stop)

	s.Schedule("a1", 10*time.Millisecond)
	s.Schedule("a1", 30*time.Millisecond)
	assert.Equal(t, 1, s.Pending())

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSchedulerIgnoresNonPositiveDelay(t *testing.T) {
	s := NewEscalationScheduler(nil, nil)
	t.Cleanup(s.Stop)
	s.Schedule("a1", 0)
	s.Schedule("a2", -time.Second)
	assert.Zero(t, s.Pending())
}

func TestSchedulerStop(t *testing.T) {
	var calls atomic.Int32
	s := NewEscalationScheduler(nil, func(models.AlertID, time.Duration) { calls.Add(1) })
	for _, id := range []models.AlertID{"a", "b", "c"} {
		s.Schedule(id, 20*time.Millisecond)
	}
	s.Stop()
	assert.Zero(t, s.Pending())

	s.Schedule("d", time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, calls.Load())
	assert.Zero(t, s.Pending())
}

func TestSchedulerDue(t *testing.T) {
	s := NewEscalationScheduler(nil, nil)
	t.Cleanup(s.Stop)

	before := time.Now()
	s.Schedule("a1", time.Minute)
	due, ok := s.Due("a1")
	require.True(t, ok)
	assert.WithinDuration(t, before.Add(time.Minute), due, time.Second)

	_, ok = s.Due("missing")
	assert.False(t, ok)
}
