// Package tracing carries trace context across Kafka messages.
package tracing

import (
	"context"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StartProducerSpan creates a new span for producing messages.
func StartProducerSpan(ctx context.Context, topic string, tracer trace.Tracer) (context.Context, trace.Span) {
	return tracer.Start(ctx, "kafka.produce",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", topic),
			attribute.String("messaging.operation", "publish"),
		),
	)
}

// MessageCarrier implements propagation.TextMapCarrier for Kafka message headers.
type MessageCarrier struct {
	Headers []sarama.RecordHeader
}

func (mc *MessageCarrier) Get(key string) string {
	for _, h := range mc.Headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (mc *MessageCarrier) Set(key, value string) {
	mc.Headers = append(mc.Headers, sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
}

func (mc *MessageCarrier) Keys() []string {
	out := make([]string, len(mc.Headers))
	for i, h := range mc.Headers {
		out[i] = string(h.Key)
	}
	return out
}

// InjectTraceContext adds the current trace context to Kafka message headers.
func InjectTraceContext(ctx context.Context, msg *sarama.ProducerMessage) {
	carrier := &MessageCarrier{Headers: msg.Headers}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	msg.Headers = carrier.Headers
}
