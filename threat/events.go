package threat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/subrat243/Intelify/config"
	"github.com/subrat243/Intelify/core"
)

// EventPublisher delivers IOC lifecycle events to downstream consumers.
// Delivery is best effort; a failure never fails ingestion.
type EventPublisher interface {
	Publish(ctx context.Context, events ...core.IOCEvent) error
	Close() error
}

// SightingSink receives every observation of an IOC, e.g. an analytics store
type SightingSink interface {
	RecordSightings(ctx context.Context, sightings []core.Sighting) error
}

// NewIOCEvent builds an event for ioc
func NewIOCEvent(action core.IOCAction, ioc *core.IOC, sourceID string, at time.Time) core.IOCEvent {
	return core.IOCEvent{
		ID:         uuid.New().String(),
		Type:       action.EventType(),
		IOCID:      ioc.ID,
		Indicator:  ioc.Indicator,
		IOCType:    ioc.Type,
		SourceID:   sourceID,
		Confidence: ioc.ConfidenceScore,
		At:         at.UTC(),
	}
}

// NoopPublisher drops every event
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, ...core.IOCEvent) error { return nil }
func (NoopPublisher) Close() error                                    { return nil }

// =============================================================================
// Kafka Publisher
// =============================================================================

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes JSON-encoded events keyed by IOC id, so every event of
// one IOC lands on the same partition
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *zap.SugaredLogger
}

// NewKafkaPublisher builds a publisher for cfg.Brokers and cfg.Topic
func NewKafkaPublisher(cfg config.KafkaConfig, logger *zap.SugaredLogger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic is required")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 100 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warnw(fmt.Sprintf(msg, args...), "component", "kafka-writer")
		}),
	}

	logger.Infow("Kafka event publisher initialized",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic)

	return newKafkaPublisher(writer, cfg.Topic, logger), nil
}

func newKafkaPublisher(writer messageWriter, topic string, logger *zap.SugaredLogger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &KafkaPublisher{writer: writer, topic: topic, logger: logger}
}

// Publish writes events in one batch
func (p *KafkaPublisher) Publish(ctx context.Context, events ...core.IOCEvent) error {
	if len(events) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("kafka: failed to marshal event %s: %w", ev.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(ev.IOCID),
			Value: payload,
			Time:  ev.At,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(ev.Type)},
			},
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka: failed to publish %d events to %s: %w", len(msgs), p.topic, err)
	}
	return nil
}

// Close flushes pending writes
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
