// Package events publishes import session status changes.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rpattn/crmimport/internal/domain"
	"github.com/rpattn/crmimport/internal/metrics"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// SessionEvent is the payload published on every status change.
type SessionEvent struct {
	EventID       string               `json:"event_id"`
	SessionID     int64                `json:"session_id"`
	Status        domain.SessionStatus `json:"status"`
	FileName      string               `json:"file_name,omitempty"`
	TotalRows     *int                 `json:"total_rows,omitempty"`
	ValidRows     *int                 `json:"valid_rows,omitempty"`
	ProcessedRows int                  `json:"processed_rows"`
	CreatedCount  int                  `json:"created_count"`
	UpdatedCount  int                  `json:"updated_count"`
	SkippedCount  int                  `json:"skipped_count"`
	FailedCount   int                  `json:"failed_count"`
	ErrorMessage  *string              `json:"error_message,omitempty"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

// NewSessionEvent snapshots session into an event.
func NewSessionEvent(session domain.ImportSession) SessionEvent {
	return SessionEvent{
		EventID:       uuid.NewString(),
		SessionID:     session.ID,
		Status:        session.Status,
		FileName:      session.FileName,
		TotalRows:     session.TotalRows,
		ValidRows:     session.ValidRows,
		ProcessedRows: session.ProcessedRows,
		CreatedCount:  session.CreatedCount,
		UpdatedCount:  session.UpdatedCount,
		SkippedCount:  session.SkippedCount,
		FailedCount:   session.FailedCount,
		ErrorMessage:  session.ErrorMessage,
		OccurredAt:    time.Now().UTC(),
	}
}

// Publisher emits session events.
type Publisher interface {
	PublishSession(ctx context.Context, session domain.ImportSession) error
	Close() error
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) PublishSession(context.Context, domain.ImportSession) error { return nil }
func (NoopPublisher) Close() error                                               { return nil }

// MessageWriter is the subset of *kafka.Writer used by the publisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes session events to one topic keyed by session id, so
// all events of a session land on one partition in order.
type KafkaPublisher struct {
	writer MessageWriter
	topic  string
	logger *zap.Logger
}

// KafkaConfig configures the Kafka writer.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// NewKafkaPublisher creates a publisher writing to config.Topic.
func NewKafkaPublisher(config KafkaConfig, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Topic:                  config.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           config.WriteTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return NewKafkaPublisherWithWriter(writer, config.Topic, logger), nil
}

// NewKafkaPublisherWithWriter wires a publisher around an existing writer.
func NewKafkaPublisherWithWriter(writer MessageWriter, topic string, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{writer: writer, topic: topic, logger: logger}
}

// PublishSession publishes the session's current state.
func (p *KafkaPublisher) PublishSession(ctx context.Context, session domain.ImportSession) error {
	event := NewSessionEvent(session)
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize session event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(session.ID, 10)),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.EventID)},
			{Key: "status", Value: []byte(session.Status)},
		},
		Time: event.OccurredAt,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		metrics.EventsPublishedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to publish session event: %w", err)
	}
	metrics.EventsPublishedTotal.WithLabelValues("ok").Inc()
	p.logger.Debug("published session event",
		zap.Int64("session_id", session.ID),
		zap.String("status", string(session.Status)),
		zap.String("topic", p.topic),
	)
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
