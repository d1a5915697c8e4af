package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mr-karan/safetyvision/pkg/models"
)

type MQTTSenderOptions struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         int
	Timeout     time.Duration
	Logger      *slog.Logger
}

// mqttPublisher is the subset of mqtt.Client the sender needs.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSender publishes alerts as JSON to <prefix>/<recipient>.
type MQTTSender struct {
	client  mqttPublisher
	prefix  string
	qos     byte
	timeout time.Duration
	logger  *slog.Logger
	close   func()
}

// NewMQTTSender connects to the broker.
func NewMQTTSender(opts MQTTSenderOptions) (*MQTTSender, error) {
	if strings.TrimSpace(opts.Broker) == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetConnectTimeout(timeout).
		SetAutoReconnect(true)

	client := mqtt.NewClient(clientOpts)
	tok := client.Connect()
	if !tok.WaitTimeout(timeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", opts.Broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s failed: %w", opts.Broker, err)
	}

	s := newMQTTSender(client, opts)
	s.close = func() { client.Disconnect(250) }
	return s, nil
}

func newMQTTSender(client mqttPublisher, opts MQTTSenderOptions) *MQTTSender {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	prefix := strings.TrimSuffix(strings.TrimSpace(opts.TopicPrefix), "/")
	if prefix == "" {
		prefix = "safetyvision/alerts"
	}
	return &MQTTSender{
		client:  client,
		prefix:  prefix,
		qos:     byte(opts.QoS),
		timeout: timeout,
		logger:  logger.With("component", "alert_mqtt_sender"),
	}
}

func (s *MQTTSender) Channel() models.ChannelType { return models.ChannelMQTT }

// Topic returns the topic alerts for recipientID are published on.
func (s *MQTTSender) Topic(recipientID string) string {
	return s.prefix + "/" + recipientID
}

func (s *MQTTSender) Send(ctx context.Context, notification AlertNotification) error {
	body, err := json.Marshal(notification.Alert)
	if err != nil {
		return fmt.Errorf("failed to marshal mqtt payload: %w", err)
	}
	tok := s.client.Publish(s.Topic(notification.RecipientID), s.qos, false, body)

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("mqtt publish failed: %w", err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("mqtt publish timed out after %s", s.timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects from the broker.
func (s *MQTTSender) Close() {
	if s.close != nil {
		s.close()
	}
}
