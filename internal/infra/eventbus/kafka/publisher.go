// Package kafka publishes gate outcomes and override audits to Kafka so that
// site systems downstream of the gate can react to them.
package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/events"
	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/gate"
	"github.com/Sourav19o7/ppe-detector-sub002/internal/infra/eventbus/kafka/tracing"
	"github.com/Sourav19o7/ppe-detector-sub002/internal/infra/eventbus/serialization"
	"github.com/Sourav19o7/ppe-detector-sub002/pkg/common/logger"
)

// Config contains the topics gate events are routed to.
type Config struct {
	// Brokers is a list of Kafka broker addresses to connect to.
	Brokers []string
	// ClientID uniquely identifies this gate to the Kafka cluster.
	ClientID string

	// OutcomeTopic receives session lifecycle and identity events.
	OutcomeTopic string
	// AuditTopic receives override approvals.
	AuditTopic string
}

var _ events.DomainEventPublisher = (*DomainEventPublisher)(nil)

// DomainEventPublisher implements events.DomainEventPublisher on top of a
// synchronous Kafka producer. Messages are keyed by the publish key, normally
// the session ID, so one verification stays on one partition.
type DomainEventPublisher struct {
	producer sarama.SyncProducer

	// Maps domain event types to their Kafka topics.
	topicMap map[events.EventType]string

	logger  *logger.Logger
	metrics PublisherMetrics
	tracer  trace.Tracer
}

// NewDomainEventPublisher creates a publisher that routes gate events per cfg.
func NewDomainEventPublisher(
	producer sarama.SyncProducer,
	cfg *Config,
	logger *logger.Logger,
	metrics PublisherMetrics,
	tracer trace.Tracer,
) (*DomainEventPublisher, error) {
	if producer == nil {
		return nil, fmt.Errorf("kafka producer is required")
	}
	if metrics == nil {
		return nil, fmt.Errorf("metrics are required for kafka publisher")
	}
	if cfg.OutcomeTopic == "" || cfg.AuditTopic == "" {
		return nil, fmt.Errorf("outcome and audit topics are required")
	}

	topicMap := map[events.EventType]string{
		gate.EventTypeSessionStarted:   cfg.OutcomeTopic,
		gate.EventTypeSessionFinalized: cfg.OutcomeTopic,
		gate.EventTypeIdentityResolved: cfg.OutcomeTopic,
		gate.EventTypeSessionReset:     cfg.OutcomeTopic,
		gate.EventTypeOverrideApproved: cfg.AuditTopic,
	}

	return &DomainEventPublisher{
		producer: producer,
		topicMap: topicMap,
		logger:   logger.With("component", "kafka_publisher", "client_id", cfg.ClientID),
		metrics:  metrics,
		tracer:   tracer,
	}, nil
}

// PublishDomainEvent encodes event and sends it to the topic mapped to its
// type. It returns once the broker has acknowledged the message.
func (p *DomainEventPublisher) PublishDomainEvent(ctx context.Context, event events.DomainEvent, opts ...events.PublishOption) error {
	env := events.NewEnvelope(event, opts...)

	topic, ok := p.topicMap[env.Type]
	if !ok {
		return fmt.Errorf("unknown event type '%s', no topic mapped", env.Type)
	}

	ctx, span := tracing.StartProducerSpan(ctx, topic, p.tracer)
	defer span.End()
	if env.Key != "" {
		span.SetAttributes(attribute.String("event.key", env.Key))
	}

	msgBytes, err := serialization.SerializeEventEnvelope(env)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "serialization failed")
		p.metrics.IncPublishError(ctx, topic)
		return fmt.Errorf("failed to serialize payload for event %s: %w", env.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(msgBytes),
	}
	if env.Key != "" {
		msg.Key = sarama.StringEncoder(env.Key)
	}
	for k, v := range env.Headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte("event-type"), Value: []byte(env.Type)})
	tracing.InjectTraceContext(ctx, msg)

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		p.metrics.IncPublishError(ctx, topic)
		return fmt.Errorf("failed to send message to kafka topic %s: %w", topic, err)
	}
	p.metrics.IncMessagePublished(ctx, topic)

	p.logger.Debug(ctx, "Published gate event to Kafka",
		"event_type", env.Type,
		"topic", topic,
		"partition", partition,
		"offset", offset,
		"key", env.Key,
	)
	return nil
}

// Close closes the underlying producer.
func (p *DomainEventPublisher) Close() error { return p.producer.Close() }
