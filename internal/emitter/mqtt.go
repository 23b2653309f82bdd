package emitter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/care/postura/internal/config"
	"github.com/care/postura/internal/types"
)

// publishTimeout bounds how long a publish may wait for its token.
const publishTimeout = 2 * time.Second

// Client is the subset of mqtt.Client used by the emitter and the control
// plane.
type Client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTEmitter publishes feedback, status, outcomes and health to the broker
type MQTTEmitter struct {
	cfg    *config.Config
	Client Client // Exported for control plane

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
}

// NewMQTTEmitter creates a new MQTT emitter
func NewMQTTEmitter(cfg *config.Config) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:       cfg,
		published: make(map[string]uint64),
	}
}

// NewMQTTEmitterWithClient wraps an already connected client.
func NewMQTTEmitterWithClient(cfg *config.Config, client Client) *MQTTEmitter {
	e := NewMQTTEmitter(cfg)
	e.Client = client
	e.connected = client.IsConnected()
	return e
}

// Connect establishes connection to MQTT broker
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.MQTT.Broker))
	opts.SetClientID(e.cfg.InstanceID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		slog.Info("mqtt connection established",
			"broker", e.cfg.MQTT.Broker,
			"client_id", e.cfg.InstanceID,
			"auto_reconnect", "enabled")
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.MQTT.Broker,
			"max_retry_interval", "30s")
	}

	client := mqtt.NewClient(opts)
	e.Client = client

	slog.Info("connecting to mqtt broker", "broker", e.cfg.MQTT.Broker)

	token := client.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// PublishFeedback publishes one frame verdict.
func (e *MQTTEmitter) PublishFeedback(ev *types.FeedbackEvent) error {
	payload, err := ev.ToJSON()
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal feedback: %w", err)
	}
	return e.publish("feedback", e.cfg.MQTT.Topics.Feedback, payload)
}

// PublishStatus publishes a lifecycle status message.
func (e *MQTTEmitter) PublishStatus(ev *types.StatusEvent) error {
	payload, err := ev.ToJSON()
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	return e.publish("status", e.cfg.MQTT.Topics.Status, payload)
}

// PublishOutcome forwards a session outcome record to storage.
func (e *MQTTEmitter) PublishOutcome(o *types.SessionOutcome) error {
	if err := o.Validate(); err != nil {
		e.countError()
		return fmt.Errorf("invalid outcome: %w", err)
	}
	payload, err := o.ToJSON()
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}
	return e.publish("outcome", e.cfg.MQTT.Topics.Outcome, payload)
}

// PublishHealth publishes a health message
func (e *MQTTEmitter) PublishHealth(payload []byte) error {
	return e.publish("health", e.cfg.MQTT.Topics.Health, payload)
}

func (e *MQTTEmitter) publish(kind, topic string, payload []byte) error {
	if !e.isConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}

	qos := e.getQoS(kind)
	token := e.Client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	slog.Debug("message published",
		"kind", kind,
		"topic", topic,
		"qos", qos,
		"size", len(payload),
	)
	return nil
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() error {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250) // 250ms grace period
		slog.Info("mqtt disconnected")
	}
	e.setConnected(false)
	return nil
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}

	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
	}
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected && e.Client != nil
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}

// getQoS returns the QoS level for a message kind
func (e *MQTTEmitter) getQoS(kind string) byte {
	if qos, ok := e.cfg.MQTT.QoS[kind]; ok {
		return qos
	}
	return 0
}
