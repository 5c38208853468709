// Package emitter publishes live session metrics to an MQTT broker.
package emitter

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"example.com/repcount/internal/exercise"
	"example.com/repcount/internal/session"
)

// Config describes the broker connection.
type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         byte
	QueueSize   int
}

// publisher is the part of mqtt.Client the emitter needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type message struct {
	topic   string
	payload []byte
}

// MetricsPayload is the JSON body published for every live metrics snapshot.
type MetricsPayload struct {
	SessionID  string `json:"session_id"`
	Exercise   string `json:"exercise"`
	Count      int    `json:"count"`
	Feedback   string `json:"feedback"`
	ElbowAngle int    `json:"elbow_angle"`
	HipAngle   int    `json:"hip_angle"`
}

// Option configures optional behaviour for the emitter.
type Option func(*MQTTEmitter)

// WithLogger overrides the emitter logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *MQTTEmitter) {
		e.logger = logger
	}
}

// MQTTEmitter forwards metrics snapshots to MQTT from a background goroutine. PublishMetrics
// never blocks; snapshots are dropped when the queue is full.
type MQTTEmitter struct {
	client publisher
	cfg    Config
	logger *log.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan message
	done    chan struct{}
	disconn func()

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// Connect dials the broker and starts the publishing loop.
func Connect(cfg Config, opts ...Option) (*MQTTEmitter, error) {
	e := configure(cfg, opts...)

	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(cfg.Broker)
	clientOpts.SetClientID(cfg.ClientID)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetConnectRetry(true)
	clientOpts.SetConnectRetryInterval(2 * time.Second)
	clientOpts.SetMaxReconnectInterval(30 * time.Second)
	clientOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		e.logger.Printf("connection lost, will auto-reconnect: %v", err)
	})

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	e.logger.Printf("connected to %s (client_id=%s)", cfg.Broker, cfg.ClientID)

	e.disconn = func() { client.Disconnect(250) }
	e.start(client)
	return e, nil
}

func newEmitter(client publisher, cfg Config, opts ...Option) *MQTTEmitter {
	e := configure(cfg, opts...)
	e.start(client)
	return e
}

func configure(cfg Config, opts ...Option) *MQTTEmitter {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "repcount"
	}
	e := &MQTTEmitter{
		cfg:    cfg,
		logger: log.New(log.Writer(), "[mqtt] ", log.LstdFlags|log.Lshortfile),
		queue:  make(chan message, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *MQTTEmitter) start(client publisher) {
	e.client = client
	go e.run()
}

// Topic returns the topic metrics of sessionID are published on.
func (e *MQTTEmitter) Topic(sessionID string) string {
	return fmt.Sprintf("%s/sessions/%s/metrics", e.cfg.TopicPrefix, sessionID)
}

// PublishMetrics queues a snapshot for publishing.
func (e *MQTTEmitter) PublishMetrics(sessionID string, kind exercise.Kind, m session.LiveMetrics) {
	payload, err := json.Marshal(MetricsPayload{
		SessionID:  sessionID,
		Exercise:   string(kind),
		Count:      m.Count,
		Feedback:   m.Feedback,
		ElbowAngle: m.ElbowAngle,
		HipAngle:   m.HipAngle,
	})
	if err != nil {
		e.failed.Add(1)
		return
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.dropped.Add(1)
		return
	}
	select {
	case e.queue <- message{topic: e.Topic(sessionID), payload: payload}:
	default:
		e.dropped.Add(1)
	}
}

func (e *MQTTEmitter) run() {
	defer close(e.done)
	for msg := range e.queue {
		token := e.client.Publish(msg.topic, e.cfg.QoS, false, msg.payload)
		if !token.WaitTimeout(2 * time.Second) {
			e.failed.Add(1)
			continue
		}
		if err := token.Error(); err != nil {
			e.failed.Add(1)
			if e.failed.Load()%100 == 1 {
				e.logger.Printf("publish to %s failed: %v", msg.topic, err)
			}
			continue
		}
		e.published.Add(1)
	}
}

// Stats contains emitter counters.
type Stats struct {
	Published uint64
	Dropped   uint64
	Failed    uint64
}

// Stats returns the emitter counters.
func (e *MQTTEmitter) Stats() Stats {
	return Stats{
		Published: e.published.Load(),
		Dropped:   e.dropped.Load(),
		Failed:    e.failed.Load(),
	}
}

// Close drains queued snapshots and disconnects from the broker.
func (e *MQTTEmitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	<-e.done
	if e.disconn != nil {
		e.disconn()
	}
	stats := e.Stats()
	e.logger.Printf("emitter closed (published=%d, dropped=%d, failed=%d)", stats.Published, stats.Dropped, stats.Failed)
}
