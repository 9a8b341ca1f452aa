package answersync

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/classroom-exam/internal/logger"
)

// PublisherSyncer publishes answer events as Watermill messages.
type PublisherSyncer struct {
	publisher message.Publisher
	topic     string
}

// NewPublisherSyncer wraps any Watermill publisher.
func NewPublisherSyncer(publisher message.Publisher, topic string) *PublisherSyncer {
	return &PublisherSyncer{publisher: publisher, topic: topic}
}

// NewKafkaSyncer creates a PublisherSyncer backed by a Kafka publisher.
func NewKafkaSyncer(brokers []string, topic string, log zerolog.Logger) (*PublisherSyncer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka answer sync requires KAFKA_BROKERS")
	}

	publisher, err := kafka.NewPublisher(kafka.PublisherConfig{
		Brokers:   brokers,
		Marshaler: kafka.DefaultMarshaler{},
	}, NewWatermillLogger(log))
	if err != nil {
		return nil, fmt.Errorf("create kafka publisher: %w", err)
	}
	return NewPublisherSyncer(publisher, topic), nil
}

func (s *PublisherSyncer) SubmitAnswer(ctx context.Context, ev AnswerEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal answer event: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("event_type", "answer.submitted")
	msg.Metadata.Set("classroom_id", ev.ClassroomID)
	msg.Metadata.Set("student_id", ev.StudentID)
	msg.Metadata.Set("submitted_at", strconv.FormatInt(ev.SubmittedAt, 10))

	if err := s.publisher.Publish(s.topic, msg); err != nil {
		return fmt.Errorf("publish answer event: %w", err)
	}
	return nil
}

// Close releases the underlying publisher.
func (s *PublisherSyncer) Close() error {
	return s.publisher.Close()
}

// watermillLogger adapts zerolog to watermill.LoggerAdapter.
type watermillLogger struct {
	log zerolog.Logger
}

// NewWatermillLogger returns a watermill.LoggerAdapter writing through log.
func NewWatermillLogger(log zerolog.Logger) watermill.LoggerAdapter {
	return &watermillLogger{log: logger.Component(log, "watermill")}
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.log.Error().Err(err).Fields(map[string]any(fields)).Msg(msg)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.log.Info().Fields(map[string]any(fields)).Msg(msg)
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.log.Debug().Fields(map[string]any(fields)).Msg(msg)
}

func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.log.Trace().Fields(map[string]any(fields)).Msg(msg)
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{log: l.log.With().Fields(map[string]any(fields)).Logger()}
}
