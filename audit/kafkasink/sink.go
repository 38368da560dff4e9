// Package kafkasink publishes tokensapp audit events to a Kafka topic.
package kafkasink

import (
	"context"
	"encoding/json"
	"time"

	tokensapp "github.com/CuckCybsacTEST/tokensapp"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const defaultWriteTimeout = 5 * time.Second

// MessageWriter is the subset of *kafka.Writer used by Sink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink is a tokensapp.AuditSink writing one JSON message per event, keyed
// by owner so an owner's events stay ordered within a partition. Write
// errors are logged and dropped.
type Sink struct {
	writer  MessageWriter
	logger  zerolog.Logger
	timeout time.Duration
}

// Option configures a Sink.
type Option func(*Sink)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Sink) { s.logger = logger }
}

// WithWriteTimeout bounds each publish.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New wraps an existing writer.
func New(w MessageWriter, opts ...Option) *Sink {
	s := &Sink{
		writer:  w,
		logger:  zerolog.Nop(),
		timeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewWriter builds a kafka-go writer for topic with hash balancing.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

func (s *Sink) Emit(ctx context.Context, event tokensapp.AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}

	value, err := json.Marshal(event)
	if err != nil {
		s.logger.Error().Err(err).Str("action", event.Action).Msg("marshal audit event")
		return
	}

	key := event.OwnerID
	if key == "" {
		key = event.TokenID
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(event.Action)},
			{Key: "domain", Value: []byte(event.Domain)},
		},
	}

	wctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.writer.WriteMessages(wctx, msg); err != nil {
		s.logger.Warn().Err(err).Str("action", event.Action).Msg("publish audit event")
	}
}

// Close closes the underlying writer.
func (s *Sink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
