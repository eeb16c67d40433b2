package api

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const namespace = "gate_api"

// APIMetrics defines metrics operations needed by the control API.
type APIMetrics interface {
	IncRequestsTotal(ctx context.Context, method, path string, status int)
	ObserveRequestDuration(ctx context.Context, method, path string, duration time.Duration)
	IncOverrideRequests(ctx context.Context, outcome string)
	IncManualScans(ctx context.Context, accepted bool)
}

type apiMetrics struct {
	requestsTotal    metric.Int64Counter
	requestDuration  metric.Float64Histogram
	overrideRequests metric.Int64Counter
	manualScans      metric.Int64Counter
}

// NewAPIMetrics creates the API instruments on mp.
func NewAPIMetrics(mp metric.MeterProvider) (*apiMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(apiMetrics)
	var err error

	if m.requestsTotal, err = meter.Int64Counter(
		"requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return nil, err
	}

	if m.requestDuration, err = meter.Float64Histogram(
		"request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	); err != nil {
		return nil, err
	}

	if m.overrideRequests, err = meter.Int64Counter(
		"override_requests_total",
		metric.WithDescription("Total number of supervisor override requests by outcome"),
	); err != nil {
		return nil, err
	}

	if m.manualScans, err = meter.Int64Counter(
		"manual_scans_total",
		metric.WithDescription("Total number of manual scan key presses received over HTTP"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *apiMetrics) IncRequestsTotal(ctx context.Context, method, path string, status int) {
	m.requestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	))
}

func (m *apiMetrics) ObserveRequestDuration(ctx context.Context, method, path string, duration time.Duration) {
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
	))
}

func (m *apiMetrics) IncOverrideRequests(ctx context.Context, outcome string) {
	m.overrideRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *apiMetrics) IncManualScans(ctx context.Context, accepted bool) {
	m.manualScans.Add(ctx, 1, metric.WithAttributes(attribute.Bool("accepted", accepted)))
}
