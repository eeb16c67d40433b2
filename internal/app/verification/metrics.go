package verification

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/gate"
)

// EngineMetrics defines metrics operations needed by the verification engine.
type EngineMetrics interface {
	// Session lifecycle metrics
	IncSessionsStarted(ctx context.Context)
	IncSessionsFinalized(ctx context.Context, outcome gate.OverallStatus, timedOut bool)
	ObserveSessionDuration(ctx context.Context, duration time.Duration)
	IncSessionsReset(ctx context.Context)

	// Evidence metrics
	IncEvidenceApplied(ctx context.Context, channel gate.Channel)
	IncEventsDropped(ctx context.Context, reason string)

	// Override and side effect metrics
	IncOverrides(ctx context.Context)
	IncAttendanceRecorded(ctx context.Context)
	IncAttendanceErrors(ctx context.Context)
}

type engineMetrics struct {
	sessionsStarted   metric.Int64Counter
	sessionsFinalized metric.Int64Counter
	sessionsReset     metric.Int64Counter
	sessionDuration   metric.Float64Histogram

	evidenceApplied metric.Int64Counter
	eventsDropped   metric.Int64Counter

	overrides        metric.Int64Counter
	attendanceOK     metric.Int64Counter
	attendanceErrors metric.Int64Counter
}

const namespace = "gate_engine"

// NewEngineMetrics creates the engine instruments on mp.
func NewEngineMetrics(mp metric.MeterProvider) (*engineMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(engineMetrics)
	var err error

	if m.sessionsStarted, err = meter.Int64Counter(
		"sessions_started_total",
		metric.WithDescription("Total number of verification sessions started"),
	); err != nil {
		return nil, err
	}

	if m.sessionsFinalized, err = meter.Int64Counter(
		"sessions_finalized_total",
		metric.WithDescription("Total number of verification sessions that reached an outcome"),
	); err != nil {
		return nil, err
	}

	if m.sessionsReset, err = meter.Int64Counter(
		"sessions_reset_total",
		metric.WithDescription("Total number of sessions discarded by reset"),
	); err != nil {
		return nil, err
	}

	if m.sessionDuration, err = meter.Float64Histogram(
		"session_duration_seconds",
		metric.WithDescription("Time from session start to outcome"),
	); err != nil {
		return nil, err
	}

	if m.evidenceApplied, err = meter.Int64Counter(
		"evidence_applied_total",
		metric.WithDescription("Total number of channel observations that passed a check"),
	); err != nil {
		return nil, err
	}

	if m.eventsDropped, err = meter.Int64Counter(
		"events_dropped_total",
		metric.WithDescription("Total number of events dropped without effect"),
	); err != nil {
		return nil, err
	}

	if m.overrides, err = meter.Int64Counter(
		"overrides_total",
		metric.WithDescription("Total number of supervisor overrides approved"),
	); err != nil {
		return nil, err
	}

	if m.attendanceOK, err = meter.Int64Counter(
		"attendance_recorded_total",
		metric.WithDescription("Total number of attendance records accepted"),
	); err != nil {
		return nil, err
	}

	if m.attendanceErrors, err = meter.Int64Counter(
		"attendance_errors_total",
		metric.WithDescription("Total number of failed attendance calls"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *engineMetrics) IncSessionsStarted(ctx context.Context) { m.sessionsStarted.Add(ctx, 1) }

func (m *engineMetrics) IncSessionsFinalized(ctx context.Context, outcome gate.OverallStatus, timedOut bool) {
	m.sessionsFinalized.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome.String()),
		attribute.Bool("timed_out", timedOut),
	))
}

func (m *engineMetrics) ObserveSessionDuration(ctx context.Context, duration time.Duration) {
	m.sessionDuration.Record(ctx, duration.Seconds())
}

func (m *engineMetrics) IncSessionsReset(ctx context.Context) { m.sessionsReset.Add(ctx, 1) }

func (m *engineMetrics) IncEvidenceApplied(ctx context.Context, channel gate.Channel) {
	m.evidenceApplied.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", channel.String())))
}

func (m *engineMetrics) IncEventsDropped(ctx context.Context, reason string) {
	m.eventsDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *engineMetrics) IncOverrides(ctx context.Context)         { m.overrides.Add(ctx, 1) }
func (m *engineMetrics) IncAttendanceRecorded(ctx context.Context) { m.attendanceOK.Add(ctx, 1) }
func (m *engineMetrics) IncAttendanceErrors(ctx context.Context)   { m.attendanceErrors.Add(ctx, 1) }
