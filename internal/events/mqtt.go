package events

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig configures the MQTT publisher.
type MQTTConfig struct {
	Broker   string // host:port or a full URL (tcp://, ssl://, ws://)
	ClientID string
	QoS      byte
}

// MQTTPublisher publishes events to an MQTT broker.
type MQTTPublisher struct {
	cfg    MQTTConfig
	log    *slog.Logger
	Client mqtt.Client

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
}

var _ Publisher = (*MQTTPublisher)(nil)

// NewMQTTPublisher creates an unconnected publisher.
func NewMQTTPublisher(cfg MQTTConfig, logger *slog.Logger) *MQTTPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTPublisher{
		cfg:       cfg,
		log:       logger,
		published: make(map[string]uint64),
	}
}

// BrokerURL adds the tcp:// scheme to a bare host:port.
func BrokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Connect establishes the broker connection. The client reconnects on its
// own after a connection loss.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	if p.cfg.Broker == "" {
		return fmt.Errorf("mqtt broker is required")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(BrokerURL(p.cfg.Broker))
	opts.SetClientID(p.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		p.setConnected(true)
		p.log.Info("events: mqtt connection established",
			"broker", p.cfg.Broker,
			"client_id", p.cfg.ClientID,
		)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		p.setConnected(false)
		p.log.Warn("events: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", p.cfg.Broker,
		)
	}

	p.Client = mqtt.NewClient(opts)
	p.log.Info("events: connecting to mqtt broker", "broker", p.cfg.Broker)

	token := p.Client.Connect()
	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	p.setConnected(true)
	return nil
}

// Publish sends payload to topic.
func (p *MQTTPublisher) Publish(topic string, payload []byte) error {
	if !p.isConnected() {
		p.countError()
		return fmt.Errorf("mqtt not connected")
	}

	token := p.Client.Publish(topic, p.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		p.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		p.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	p.mu.Lock()
	p.published[topic]++
	p.mu.Unlock()

	p.log.Debug("events: published", "topic", topic, "size", len(payload))
	return nil
}

// Disconnect closes the connection with a 250ms grace period.
func (p *MQTTPublisher) Disconnect() {
	if p.Client != nil && p.Client.IsConnected() {
		p.Client.Disconnect(250)
		p.log.Info("events: mqtt disconnected")
	}
	p.setConnected(false)
}

// MQTTStats are the publisher counters.
type MQTTStats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

// Stats returns a copy of the publisher counters.
func (p *MQTTPublisher) Stats() MQTTStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	published := make(map[string]uint64, len(p.published))
	for k, v := range p.published {
		published[k] = v
	}
	return MQTTStats{
		Connected: p.connected,
		Published: published,
		Errors:    p.errors,
	}
}

func (p *MQTTPublisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *MQTTPublisher) isConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

func (p *MQTTPublisher) countError() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}
