package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/mr-karan/safetyvision/internal/alerts"
	"github.com/mr-karan/safetyvision/pkg/models"
)

const (
	clientSendBuffer = 64
	writeWait        = 10 * time.Second
)

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans dashboard messages out to every connected websocket viewer. A
// viewer whose buffer is full misses the message instead of stalling the rest.
type Hub struct {
	mu      sync.RWMutex
	clients map[*hubClient]struct{}
	closed  bool
	log     *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		clients: make(map[*hubClient]struct{}),
		log:     log.With("component", "dashboard_hub"),
	}
}

// Broadcast queues msg for every viewer. It never blocks on a slow viewer.
func (h *Hub) Broadcast(_ context.Context, msg []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return fmt.Errorf("dashboard hub is closed")
	}
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.log.Warn("dropping dashboard message for slow viewer")
		}
	}
	return nil
}

// Count returns the number of connected viewers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve runs one websocket connection until the viewer disconnects.
func (h *Hub) Serve(conn *websocket.Conn) {
	c := &hubClient{conn: conn, send: make(chan []byte, clientSendBuffer)}
	if !h.register(c) {
		_ = conn.Close()
		return
	}
	h.log.Debug("dashboard viewer connected", "remote", conn.RemoteAddr().String(), "viewers", h.Count())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range c.send {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Debug("dashboard write failed", "error", err)
				_ = conn.Close()
				return
			}
		}
	}()

	// Viewers only listen; reads exist to notice disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.unregister(c)
	<-done
	h.log.Debug("dashboard viewer disconnected", "viewers", h.Count())
}

// Close drops every viewer and rejects later broadcasts.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}
}

func (h *Hub) register(c *hubClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// hubEvent is the frame pushed for lifecycle transitions.
type hubEvent struct {
	Type      string                  `json:"type"`
	Alert     *models.Alert           `json:"alert,omitempty"`
	Emergency *models.EmergencyRecord `json:"emergency,omitempty"`
	SentAt    time.Time               `json:"sent_at"`
}

// AlertListener returns a manager listener that streams lifecycle events.
func (h *Hub) AlertListener() alerts.Listener {
	return func(ctx context.Context, ev alerts.Event) {
		h.publish(ctx, hubEvent{Type: string(ev.Type), Alert: ev.Alert, SentAt: time.Now()})
	}
}

// EmergencyListener streams emergency controller transitions.
func (h *Hub) EmergencyListener(ctx context.Context, rec models.EmergencyRecord) {
	h.publish(ctx, hubEvent{Type: "emergency." + rec.Kind, Emergency: &rec, SentAt: time.Now()})
}

func (h *Hub) publish(ctx context.Context, ev hubEvent) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("failed to encode dashboard event", "type", ev.Type, "error", err)
		return
	}
	if err := h.Broadcast(ctx, msg); err != nil {
		h.log.Debug("dashboard event not delivered", "type", ev.Type, "error", err)
	}
}
