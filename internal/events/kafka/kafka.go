// Package kafka forwards bus events to a Kafka topic as JSON envelopes.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/MrWong99/murmur/internal/events"
)

// Writer is the subset of *kafkago.Writer used by the forwarder.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Config holds the broker settings.
type Config struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// Forwarder subscribes to a bus and writes every event to Kafka.
type Forwarder struct {
	w            Writer
	topic        string
	clientID     string
	writeTimeout time.Duration
}

// Option configures a [Forwarder].
type Option func(*Forwarder)

// WithWriter replaces the Kafka writer. Used by tests.
func WithWriter(w Writer) Option {
	return func(f *Forwarder) { f.w = w }
}

// WithWriteTimeout bounds each write. Default: 10s.
func WithWriteTimeout(d time.Duration) Option {
	return func(f *Forwarder) { f.writeTimeout = d }
}

// New creates a forwarder for cfg. Brokers and Topic are required unless a
// writer is injected with [WithWriter].
func New(cfg Config, opts ...Option) (*Forwarder, error) {
	f := &Forwarder{topic: cfg.Topic, clientID: cfg.ClientID, writeTimeout: 10 * time.Second}
	for _, o := range opts {
		o(f)
	}
	if f.w != nil {
		return f, nil
	}
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka: brokers and topic are required")
	}
	dialer := &kafkago.Dialer{Timeout: 10 * time.Second, DualStack: true, ClientID: cfg.ClientID}
	f.w = &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: f.writeTimeout,
		RequiredAcks: kafkago.RequireOne,
		Transport:    &kafkago.Transport{Dial: dialer.DialFunc, ClientID: cfg.ClientID},
	}
	slog.Info("kafka: forwarder initialised", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return f, nil
}

// Forward writes a single event.
func (f *Forwarder) Forward(ctx context.Context, e events.Event) error {
	payload, err := events.Encode(e)
	if err != nil {
		return fmt.Errorf("kafka: %w", err)
	}
	msg := kafkago.Message{
		Key:   []byte(e.Key()),
		Value: payload,
		Headers: []kafkago.Header{
			{Key: "event", Value: []byte(e.EventName())},
		},
	}
	if f.clientID != "" {
		msg.Headers = append(msg.Headers, kafkago.Header{Key: "source", Value: []byte(f.clientID)})
	}
	wctx, cancel := context.WithTimeout(ctx, f.writeTimeout)
	defer cancel()
	if err := f.w.WriteMessages(wctx, msg); err != nil {
		return fmt.Errorf("kafka: write %s: %w", e.EventName(), err)
	}
	return nil
}

// Run forwards events from bus until ctx is cancelled or the bus is closed.
// Write failures are logged and do not stop the loop.
func (f *Forwarder) Run(ctx context.Context, bus *events.Bus) error {
	ch, cancel := bus.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if err := f.Forward(ctx, e); err != nil {
				slog.Warn("kafka: forward failed", "event", e.EventName(), "key", e.Key(), "err", err)
			}
		}
	}
}

// Close flushes and closes the writer.
func (f *Forwarder) Close() error {
	if err := f.w.Close(); err != nil {
		return fmt.Errorf("kafka: close: %w", err)
	}
	return nil
}
