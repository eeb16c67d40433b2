package detection

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PollerMetrics defines metrics operations needed by the detection pollers.
type PollerMetrics interface {
	IncRequests(ctx context.Context, endpoint string)
	IncRequestErrors(ctx context.Context, endpoint string)
	ObserveRequestDuration(ctx context.Context, endpoint string, d time.Duration)
	IncSkippedTicks(ctx context.Context, endpoint, reason string)
	IncObservations(ctx context.Context, endpoint, item string, violation bool)
	IncUnknownLabels(ctx context.Context, endpoint string)
}

type pollerMetrics struct {
	requests        metric.Int64Counter
	requestErrors   metric.Int64Counter
	requestDuration metric.Float64Histogram
	skippedTicks    metric.Int64Counter
	observations    metric.Int64Counter
	unknownLabels   metric.Int64Counter
}

const namespace = "detection_poller"

// NewPollerMetrics creates the poller instruments on mp.
func NewPollerMetrics(mp metric.MeterProvider) (*pollerMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(pollerMetrics)
	var err error

	if m.requests, err = meter.Int64Counter(
		"requests_total",
		metric.WithDescription("Total number of classification requests issued"),
	); err != nil {
		return nil, err
	}

	if m.requestErrors, err = meter.Int64Counter(
		"request_errors_total",
		metric.WithDescription("Total number of failed classification requests"),
	); err != nil {
		return nil, err
	}

	if m.requestDuration, err = meter.Float64Histogram(
		"request_duration_seconds",
		metric.WithDescription("Round trip time of classification requests"),
	); err != nil {
		return nil, err
	}

	if m.skippedTicks, err = meter.Int64Counter(
		"skipped_ticks_total",
		metric.WithDescription("Total number of poll ticks that issued no request"),
	); err != nil {
		return nil, err
	}

	if m.observations, err = meter.Int64Counter(
		"observations_total",
		metric.WithDescription("Total number of recognised item observations"),
	); err != nil {
		return nil, err
	}

	if m.unknownLabels, err = meter.Int64Counter(
		"unknown_labels_total",
		metric.WithDescription("Total number of labels outside the item vocabulary"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func endpointAttr(endpoint string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("endpoint", endpoint))
}

func (m *pollerMetrics) IncRequests(ctx context.Context, endpoint string) {
	m.requests.Add(ctx, 1, endpointAttr(endpoint))
}

func (m *pollerMetrics) IncRequestErrors(ctx context.Context, endpoint string) {
	m.requestErrors.Add(ctx, 1, endpointAttr(endpoint))
}

func (m *pollerMetrics) ObserveRequestDuration(ctx context.Context, endpoint string, d time.Duration) {
	m.requestDuration.Record(ctx, d.Seconds(), endpointAttr(endpoint))
}

func (m *pollerMetrics) IncSkippedTicks(ctx context.Context, endpoint, reason string) {
	m.skippedTicks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("reason", reason),
	))
}

func (m *pollerMetrics) IncObservations(ctx context.Context, endpoint, item string, violation bool) {
	m.observations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("item", item),
		attribute.Bool("violation", violation),
	))
}

func (m *pollerMetrics) IncUnknownLabels(ctx context.Context, endpoint string) {
	m.unknownLabels.Add(ctx, 1, endpointAttr(endpoint))
}
