package server

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr-karan/safetyvision/internal/alerts"
	"github.com/mr-karan/safetyvision/pkg/logger"
	"github.com/mr-karan/safetyvision/pkg/models"
)

func attach(t *testing.T, h *Hub, buffer int) *hubClient {
	t.Helper()
	c := &hubClient{send: make(chan []byte, buffer)}
	require.True(t, h.register(c))
	return c
}

func TestHubBroadcast(t *testing.T) {
	h := NewHub(logger.Discard())
	a, b := attach(t, h, 4), attach(t, h, 4)
	assert.Equal(t, 2, h.Count())

	require.NoError(t, h.Broadcast(context.Background(), []byte("hello")))
	assert.Equal(t, "hello", string(<-a.send))
	assert.Equal(t, "hello", string(<-b.send))

	h.unregister(a)
	h.unregister(a)
	assert.Equal(t, 1, h.Count())
}

func TestHubSkipsSlowViewer(t *testing.T) {
	h := NewHub(logger.Discard())
	slow, fast := attach(t, h, 1), attach(t, h, 4)

	require.NoError(t, h.Broadcast(context.Background(), []byte("1")))
	require.NoError(t, h.Broadcast(context.Background(), []byte("2")))

	assert.Len(t, slow.send, 1)
	assert.Len(t, fast.send, 2)
}

func TestHubClose(t *testing.T) {
	h := NewHub(logger.Discard())
	c := attach(t, h, 1)
	h.Close()
	h.Close()

	_, open := <-c.send
	assert.False(t, open)
	assert.Error(t, h.Broadcast(context.Background(), []byte("x")))
	assert.False(t, h.register(&hubClient{send: make(chan []byte)}))
}

func TestHubListeners(t *testing.T) {
	h := NewHub(logger.Discard())
	c := attach(t, h, 4)

	h.AlertListener()(context.Background(), alerts.Event{
		Type:  alerts.EventRaised,
		Alert: &models.Alert{ID: "alert_1", Severity: models.SeverityWarning, Title: "t"},
	})
	h.EmergencyListener(context.Background(), models.EmergencyRecord{Kind: models.EmergencyReset, OperatorID: "op"})

	var first, second hubEvent
	require.NoError(t, json.Unmarshal(<-c.send, &first))
	require.NoError(t, json.Unmarshal(<-c.send, &second))
	assert.Equal(t, "alert.raised", first.Type)
	require.NotNil(t, first.Alert)
	assert.Equal(t, models.AlertID("alert_1"), first.Alert.ID)
	assert.Equal(t, "emergency.reset", second.Type)
	require.NotNil(t, second.Emergency)
	assert.Equal(t, "op", second.Emergency.OperatorID)
}
