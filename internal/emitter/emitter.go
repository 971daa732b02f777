// Package emitter publishes session output to an MQTT broker: alert
// batches, session events, periodic status and rendered frames. The
// broker is optional; when no broker is configured the daemon runs
// standalone and this package is never constructed.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Madhusudan-6304/ApnaCriminal/internal/config"
	"github.com/Madhusudan-6304/ApnaCriminal/internal/types"
)

// MQTTEmitter publishes sentry output to an MQTT broker
type MQTTEmitter struct {
	cfg    config.MQTTConfig
	Client mqtt.Client // Exported for the control plane subscription

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
}

// NewMQTTEmitter creates a new MQTT emitter
func NewMQTTEmitter(cfg config.MQTTConfig) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:       cfg,
		published: make(map[string]uint64),
	}
}

// Connect establishes the connection to the MQTT broker
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.Broker))
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	// Connection handlers
	opts.OnConnect = func(c mqtt.Client) {
		e.mu.Lock()
		e.connected = true
		e.mu.Unlock()
		slog.Info("mqtt connection established",
			"broker", e.cfg.Broker,
			"client_id", e.cfg.ClientID,
			"auto_reconnect", "enabled")
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.Broker,
			"max_retry_interval", "30s",
			"action", "waiting for automatic reconnection")
	}

	e.Client = mqtt.NewClient(opts)

	slog.Info("connecting to mqtt broker", "broker", e.cfg.Broker)

	token := e.Client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()

	return nil
}

// PublishAlert publishes a deduplicated match batch to the alerts topic
func (e *MQTTEmitter) PublishAlert(matches []types.MatchRecord) error {
	payload, err := json.Marshal(AlertMessage{
		TS:      time.Now().UTC(),
		Matches: matches,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	return e.publish(e.cfg.Topics.Alerts, e.qosFor("alerts"), payload)
}

// Notify implements the alert notifier contract by publishing the
// batch to the alerts topic.
func (e *MQTTEmitter) Notify(_ context.Context, matches []types.MatchRecord) error {
	return e.PublishAlert(matches)
}

// PublishEvent publishes a session event to the events topic
func (e *MQTTEmitter) PublishEvent(kind string, data any) error {
	payload, err := json.Marshal(EventMessage{
		TS:   time.Now().UTC(),
		Kind: kind,
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return e.publish(e.cfg.Topics.Events, e.qosFor("events"), payload)
}

// PublishStatus publishes a pre-marshaled status message
func (e *MQTTEmitter) PublishStatus(payload []byte) error {
	return e.publish(e.cfg.Topics.Status, e.qosFor("status"), payload)
}

// PublishFrame publishes a rendered frame to the frames topic.
// Frames use MessagePack: the payload is dominated by JPEG bytes and
// base64-in-JSON would inflate every message by a third.
func (e *MQTTEmitter) PublishFrame(frame types.Frame) error {
	payload, err := EncodeFrame(frame)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	return e.publish(e.cfg.Topics.Frames, e.qosFor("frames"), payload)
}

// publish sends one payload to a topic with the common guard, timeout
// and accounting.
func (e *MQTTEmitter) publish(topic string, qos byte, payload []byte) error {
	if !e.isConnected() {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("mqtt not connected")
	}

	token := e.Client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	slog.Debug("message published",
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

	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()

	return nil
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64)
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
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

// isConnected returns connection status
func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

// qosFor returns the QoS level for a topic kind
func (e *MQTTEmitter) qosFor(kind string) byte {
	if qos, ok := e.cfg.QoS[kind]; ok {
		return qos
	}
	return 0 // default QoS 0
}
