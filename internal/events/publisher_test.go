package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rpattn/crmimport/internal/domain"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *captureWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisherKeysBySession(t *testing.T) {
	writer := &captureWriter{}
	publisher := NewKafkaPublisherWithWriter(writer, "lead-import-events", nil)
	total := 3
	session := domain.ImportSession{ID: 12, Status: domain.SessionStatusExecuting, TotalRows: &total, ProcessedRows: 1}

	require.NoError(t, publisher.PublishSession(context.Background(), session))

	require.Len(t, writer.messages, 1)
	msg := writer.messages[0]
	assert.Equal(t, "12", string(msg.Key))

	var event SessionEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	assert.Equal(t, int64(12), event.SessionID)
	assert.Equal(t, domain.SessionStatusExecuting, event.Status)
	assert.Equal(t, 1, event.ProcessedRows)
	assert.NotEmpty(t, event.EventID)

	require.NoError(t, publisher.Close())
	assert.True(t, writer.closed)
}

func TestKafkaPublisherWrapsWriteErrors(t *testing.T) {
	boom := errors.New("broker down")
	publisher := NewKafkaPublisherWithWriter(&captureWriter{err: boom}, "t", nil)

	err := publisher.PublishSession(context.Background(), domain.ImportSession{ID: 1})
	assert.ErrorIs(t, err, boom)
}

func TestNewKafkaPublisherRequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{Topic: "t"}, nil)
	assert.Error(t, err)
}
