// Package publish fans recorded login events out to Kafka for
// downstream consumers (alerting, analytics pipelines).
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"loginwatch/internal/correlate"
	"loginwatch/internal/event"
)

// ErrPublisherClosed is returned after Close.
var ErrPublisherClosed = fmt.Errorf("publish: publisher is closed")

// Config holds Kafka publisher settings.
type Config struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// DefaultConfig returns the default publisher configuration.
func DefaultConfig() Config {
	return Config{
		Brokers:      []string{"localhost:9092"},
		Topic:        "login-events",
		BatchTimeout: 100 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 250 * time.Millisecond,
	}
}

// Validate checks the publisher configuration.
func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("publish: at least one broker is required")
	}
	if c.Topic == "" {
		return fmt.Errorf("publish: topic is required")
	}
	return nil
}

// Metrics is a snapshot of the publisher counters.
type Metrics struct {
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
	Retries   uint64 `json:"retries"`
}

// Publisher writes login events to a Kafka topic, keyed by event id.
type Publisher struct {
	writer *kafka.Writer
	config Config
	closed atomic.Bool

	published uint64
	errors    uint64
	retries   uint64
}

// NewPublisher creates a new Kafka publisher.
func NewPublisher(cfg Config) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			slog.Error(fmt.Sprintf(msg, args...), "component", "kafka-writer")
		}),
	}

	slog.Info("kafka publisher initialized", "brokers", cfg.Brokers, "topic", cfg.Topic)

	return &Publisher{writer: writer, config: cfg}, nil
}

// PublishLoginEvent sends one login event, retrying transient failures
// with exponential backoff.
func (p *Publisher) PublishLoginEvent(ctx context.Context, ev event.LoginEvent) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("publish: failed to marshal login event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.ID, 10)),
		Value: data,
		Time:  ev.Time(),
	}

	var lastErr error
	backoff := p.config.RetryBackoff

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			atomic.AddUint64(&p.retries, 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		if err := p.writer.WriteMessages(ctx, msg); err == nil {
			atomic.AddUint64(&p.published, 1)
			slog.Debug("published login event", "event_id", ev.ID, "topic", p.config.Topic)
			return nil
		} else {
			lastErr = err
			atomic.AddUint64(&p.errors, 1)
			slog.Warn("kafka publish failed",
				"error", err,
				"event_id", ev.ID,
				"attempt", attempt+1,
			)
		}
	}

	return fmt.Errorf("publish: failed after %d attempts: %w", p.config.MaxRetries+1, lastErr)
}

// Sink adapts the publisher to the correlator fan-out.
func (p *Publisher) Sink() correlate.Sink {
	return p.PublishLoginEvent
}

// MetricsSnapshot returns the current counter values.
func (p *Publisher) MetricsSnapshot() Metrics {
	return Metrics{
		Published: atomic.LoadUint64(&p.published),
		Errors:    atomic.LoadUint64(&p.errors),
		Retries:   atomic.LoadUint64(&p.retries),
	}
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	slog.Info("closing kafka publisher", "published", atomic.LoadUint64(&p.published))

	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("publish: failed to close writer: %w", err)
	}
	return nil
}
