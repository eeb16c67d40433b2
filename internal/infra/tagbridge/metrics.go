package tagbridge

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// TagMetrics defines metrics operations needed by the tag client.
type TagMetrics interface {
	IncConnects(ctx context.Context)
	IncDisconnects(ctx context.Context)
	IncSnapshots(ctx context.Context)
	IncScanEvents(ctx context.Context, kind string)
	IncStartScanRequests(ctx context.Context, accepted bool)
}

type tagMetrics struct {
	connects      metric.Int64Counter
	disconnects   metric.Int64Counter
	snapshots     metric.Int64Counter
	scanEvents    metric.Int64Counter
	startRequests metric.Int64Counter
}

const namespace = "tag_bridge"

// NewTagMetrics creates the tag client instruments on mp.
func NewTagMetrics(mp metric.MeterProvider) (*tagMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(tagMetrics)
	var err error

	if m.connects, err = meter.Int64Counter(
		"connects_total",
		metric.WithDescription("Total number of successful bridge connections"),
	); err != nil {
		return nil, err
	}

	if m.disconnects, err = meter.Int64Counter(
		"disconnects_total",
		metric.WithDescription("Total number of lost bridge connections"),
	); err != nil {
		return nil, err
	}

	if m.snapshots, err = meter.Int64Counter(
		"snapshots_received_total",
		metric.WithDescription("Total number of presence snapshots received"),
	); err != nil {
		return nil, err
	}

	if m.scanEvents, err = meter.Int64Counter(
		"scan_events_total",
		metric.WithDescription("Total number of scan events synthesized from snapshots"),
	); err != nil {
		return nil, err
	}

	if m.startRequests, err = meter.Int64Counter(
		"start_scan_requests_total",
		metric.WithDescription("Total number of start-scan commands sent to the bridge"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *tagMetrics) IncConnects(ctx context.Context)    { m.connects.Add(ctx, 1) }
func (m *tagMetrics) IncDisconnects(ctx context.Context) { m.disconnects.Add(ctx, 1) }
func (m *tagMetrics) IncSnapshots(ctx context.Context)   { m.snapshots.Add(ctx, 1) }

func (m *tagMetrics) IncScanEvents(ctx context.Context, kind string) {
	m.scanEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("item", kind)))
}

func (m *tagMetrics) IncStartScanRequests(ctx context.Context, accepted bool) {
	m.startRequests.Add(ctx, 1, metric.WithAttributes(attribute.Bool("accepted", accepted)))
}
