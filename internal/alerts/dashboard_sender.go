package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mr-karan/safetyvision/pkg/models"
)

// Broadcaster pushes an encoded dashboard message to every connected viewer.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg []byte) error
}

// DashboardMessage is the JSON frame pushed to dashboards.
type DashboardMessage struct {
	Type        string        `json:"type"`
	RecipientID string        `json:"recipient_id,omitempty"`
	Alert       *models.Alert `json:"alert,omitempty"`
	SentAt      time.Time     `json:"sent_at"`
}

// dashboardSeenCap bounds the ids remembered for de-duplication.
const dashboardSeenCap = 1024

// DashboardSender delivers alerts to a Broadcaster. Every viewer sees every
// frame, so an alert is broadcast once no matter how many dashboard
// subscriptions match it.
type DashboardSender struct {
	broadcaster Broadcaster
	logger      *slog.Logger

	mu    sync.Mutex
	seen  map[models.AlertID]struct{}
	order []models.AlertID
}

func NewDashboardSender(b Broadcaster, logger *slog.Logger) *DashboardSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &DashboardSender{
		broadcaster: b,
		logger:      logger.With("component", "alert_dashboard_sender"),
		seen:        make(map[models.AlertID]struct{}),
	}
}

func (s *DashboardSender) Channel() models.ChannelType { return models.ChannelDashboard }

func (s *DashboardSender) Send(ctx context.Context, notification AlertNotification) error {
	if s.broadcaster == nil {
		return fmt.Errorf("dashboard broadcaster is not configured")
	}
	if !s.claim(notification.Alert.ID) {
		s.logger.Debug("alert already on dashboards", "alert_id", notification.Alert.ID, "recipient", notification.RecipientID)
		return nil
	}
	msg, err := json.Marshal(DashboardMessage{
		Type:        "alert",
		RecipientID: notification.RecipientID,
		Alert:       notification.Alert,
		SentAt:      time.Now(),
	})
	if err != nil {
		s.release(notification.Alert.ID)
		return fmt.Errorf("failed to marshal dashboard message: %w", err)
	}
	if err := s.broadcaster.Broadcast(ctx, msg); err != nil {
		s.release(notification.Alert.ID)
		return err
	}
	return nil
}

// claim reports whether id has not been broadcast yet and marks it.
func (s *DashboardSender) claim(id models.AlertID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = struct{}{}
	s.order = append(s.order, id)
	if len(s.order) > dashboardSeenCap {
		delete(s.seen, s.order[0])
		s.order = s.order[1:]
	}
	return true
}

// release lets a failed broadcast be retried by the next matching subscription.
func (s *DashboardSender) release(id models.AlertID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, id)
}

// RedisBroadcaster publishes dashboard messages on a Redis channel so that
// every server instance can relay them to its own viewers.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisBroadcaster connects to addr and verifies the connection.
func NewRedisBroadcaster(ctx context.Context, addr, channel string, logger *slog.Logger) (*RedisBroadcaster, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return newRedisBroadcaster(client, channel, logger), nil
}

func newRedisBroadcaster(client *redis.Client, channel string, logger *slog.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{
		client:  client,
		channel: channel,
		logger:  logger.With("component", "redis_broadcaster", "channel", channel),
	}
}

func (r *RedisBroadcaster) Broadcast(ctx context.Context, msg []byte) error {
	if err := r.client.Publish(ctx, r.channel, msg).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// Relay subscribes to the channel and forwards every message to dst until ctx
// is cancelled.
func (r *RedisBroadcaster) Relay(ctx context.Context, dst Broadcaster) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("redis subscribe failed: %w", err)
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := dst.Broadcast(ctx, []byte(msg.Payload)); err != nil {
					r.logger.Warn("failed to relay dashboard message", "error", err)
				}
			}
		}
	}()
	return nil
}

// Close releases the Redis connection.
func (r *RedisBroadcaster) Close() error {
	return r.client.Close()
}
