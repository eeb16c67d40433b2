package verification

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/gate"
	"github.com/Sourav19o7/ppe-detector-sub002/pkg/common/logger"
)

// attendanceDispatcher runs the attendance side effect off the engine's call
// path. Each request is attempted once; failures are logged and counted.
type attendanceDispatcher struct {
	recorder gate.AttendanceRecorder
	timeout  time.Duration
	inFlight sync.WaitGroup

	logger  *logger.Logger
	metrics EngineMetrics
	tracer  trace.Tracer
}

func newAttendanceDispatcher(
	recorder gate.AttendanceRecorder,
	timeout time.Duration,
	logger *logger.Logger,
	metrics EngineMetrics,
	tracer trace.Tracer,
) *attendanceDispatcher {
	return &attendanceDispatcher{
		recorder: recorder,
		timeout:  timeout,
		logger:   logger.With("component", "attendance_dispatcher"),
		metrics:  metrics,
		tracer:   tracer,
	}
}

func (d *attendanceDispatcher) dispatch(ctx context.Context, req gate.AttendanceRequest) {
	// Detached from the caller so a reset does not cancel a call already made.
	ctx = context.WithoutCancel(ctx)

	d.inFlight.Add(1)
	go func() {
		defer d.inFlight.Done()

		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		ctx, span := d.tracer.Start(ctx, "attendance_dispatcher.record",
			trace.WithAttributes(
				attribute.String("session_id", req.SessionID.String()),
				attribute.String("identity_id", req.Identity.ID),
				attribute.Int("frame_bytes", len(req.Frame.Data)),
			))
		defer span.End()

		if err := d.recorder.RecordAttendance(ctx, req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "attendance call failed")
			d.metrics.IncAttendanceErrors(ctx)
			d.logger.Error(ctx, "Failed to record attendance",
				"session_id", req.SessionID,
				"identity_id", req.Identity.ID,
				"error", err,
			)
			return
		}

		d.metrics.IncAttendanceRecorded(ctx)
		d.logger.Info(ctx, "Attendance recorded", "session_id", req.SessionID, "identity_id", req.Identity.ID)
	}()
}

func (d *attendanceDispatcher) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
