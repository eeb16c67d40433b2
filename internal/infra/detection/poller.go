// Package detection polls the computer-vision endpoints with the latest
// camera frame and feeds their observations to the verification engine.
package detection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/gate"
	"github.com/Sourav19o7/ppe-detector-sub002/pkg/common"
	"github.com/Sourav19o7/ppe-detector-sub002/pkg/common/logger"
)

// DefaultPollInterval is the cadence of classification requests.
const DefaultPollInterval = time.Second

// Sink receives observations bound to the session they were requested for.
type Sink interface {
	ApplyDetection(ctx context.Context, sessionID uuid.UUID, kind gate.ItemKind, confidence float64) error
	ApplyViolation(ctx context.Context, sessionID uuid.UUID, kind gate.ItemKind) error
	ResolveIdentity(ctx context.Context, sessionID uuid.UUID, id gate.Identity, frame gate.Frame) error
}

// FrameSource supplies the frame to classify.
type FrameSource interface {
	Latest() (gate.Frame, bool)
}

// PollerConfig tunes a Poller.
type PollerConfig struct {
	Interval      time.Duration
	IdentityFloor float64
	// MaxRPS caps requests per second; zero or less means no cap.
	MaxRPS float64
}

// Poller issues classification requests against one endpoint while a session
// is verifying. At most one request is outstanding at a time: a tick that
// finds a request in flight is skipped, never queued. Network failures are
// retried on the next tick only.
type Poller struct {
	classifier Classifier
	frames     FrameSource
	sink       Sink
	normalizer *Normalizer
	cfg        PollerConfig

	limiter  *common.RateLimiter
	inFlight atomic.Bool

	mu      sync.Mutex
	base    context.Context
	current uuid.UUID
	cancel  context.CancelFunc
	workers sync.WaitGroup

	logger  *logger.Logger
	metrics PollerMetrics
	tracer  trace.Tracer
}

// NewPoller creates a stopped poller for classifier.
func NewPoller(
	classifier Classifier,
	frames FrameSource,
	sink Sink,
	normalizer *Normalizer,
	cfg PollerConfig,
	logger *logger.Logger,
	metrics PollerMetrics,
	tracer trace.Tracer,
) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.IdentityFloor <= 0 {
		cfg.IdentityFloor = gate.DefaultIdentityFloor
	}
	return &Poller{
		classifier: classifier,
		frames:     frames,
		sink:       sink,
		normalizer: normalizer,
		cfg:        cfg,
		limiter:    common.NewRateLimiter(cfg.MaxRPS, 1),
		base:       context.Background(),
		logger:     logger.With("component", "detection_poller", "endpoint", classifier.Name()),
		metrics:    metrics,
		tracer:     tracer,
	}
}

// Run binds the poller to ctx and blocks until ctx is done, then stops
// polling and waits for the outstanding request.
func (p *Poller) Run(ctx context.Context) error {
	p.mu.Lock()
	p.base = ctx
	p.mu.Unlock()

	<-ctx.Done()

	p.mu.Lock()
	p.stopLocked()
	p.mu.Unlock()
	p.workers.Wait()
	return ctx.Err()
}

// SessionStarted begins polling on behalf of sessionID.
func (p *Poller) SessionStarted(ctx context.Context, sessionID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	if p.base.Err() != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(p.base)
	p.current = sessionID
	p.cancel = cancel

	p.workers.Add(1)
	go func() {
		defer p.workers.Done()
		p.loop(loopCtx, sessionID)
	}()
	p.logger.Debug(ctx, "Polling started", "session_id", sessionID, "interval", p.cfg.Interval)
}

// SessionEnded stops polling if it runs for sessionID. An outstanding
// request is cancelled; its answer would be stale anyway.
func (p *Poller) SessionEnded(ctx context.Context, sessionID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != sessionID {
		return
	}
	p.stopLocked()
	p.logger.Debug(ctx, "Polling stopped", "session_id", sessionID)
}

func (p *Poller) stopLocked() {
	if p.cancel != nil {
		p.cancel()
	}
	p.cancel = nil
	p.current = uuid.Nil
}

func (p *Poller) loop(ctx context.Context, sessionID uuid.UUID) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// First request goes out immediately rather than after one interval.
	p.Trigger(ctx, sessionID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Trigger(ctx, sessionID)
		}
	}
}

// Trigger issues one classification request for sessionID unless one is
// already outstanding. It reports whether a request was issued.
func (p *Poller) Trigger(ctx context.Context, sessionID uuid.UUID) bool {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.metrics.IncSkippedTicks(ctx, p.classifier.Name(), "in_flight")
		return false
	}
	if !p.limiter.Allow() {
		p.inFlight.Store(false)
		p.metrics.IncSkippedTicks(ctx, p.classifier.Name(), "rate_limited")
		return false
	}
	frame, ok := p.frames.Latest()
	if !ok {
		p.inFlight.Store(false)
		p.metrics.IncSkippedTicks(ctx, p.classifier.Name(), "no_frame")
		return false
	}

	p.workers.Add(1)
	go func() {
		defer p.workers.Done()
		defer p.inFlight.Store(false)
		p.poll(ctx, sessionID, frame)
	}()
	return true
}

func (p *Poller) poll(ctx context.Context, sessionID uuid.UUID, frame gate.Frame) {
	endpoint := p.classifier.Name()
	ctx, span := p.tracer.Start(ctx, "detection_poller.poll",
		trace.WithAttributes(
			attribute.String("endpoint", endpoint),
			attribute.String("session_id", sessionID.String()),
		))
	defer span.End()

	p.metrics.IncRequests(ctx, endpoint)
	start := time.Now()
	res, err := p.classifier.Classify(ctx, frame)
	p.metrics.ObserveRequestDuration(ctx, endpoint, time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "classification failed")
		p.metrics.IncRequestErrors(ctx, endpoint)
		p.logger.Warn(ctx, "Classification request failed, retrying next tick", "session_id", sessionID, "error", err)
		return
	}

	if err := p.apply(ctx, sessionID, frame, res); err != nil {
		span.AddEvent("result_discarded", trace.WithAttributes(attribute.String("reason", err.Error())))
		p.logger.Debug(ctx, "Classification result discarded", "session_id", sessionID, "error", err)
	}
}

// apply forwards res to the sink. It stops at the first sign that the
// session is gone.
func (p *Poller) apply(ctx context.Context, sessionID uuid.UUID, frame gate.Frame, res Result) error {
	endpoint := p.classifier.Name()

	for _, obs := range res.Observations {
		kind, ok := p.normalizer.Normalize(obs.Label)
		if !ok {
			p.metrics.IncUnknownLabels(ctx, endpoint)
			continue
		}

		violation := obs.Violation || p.normalizer.IsViolation(obs.Label)
		p.metrics.IncObservations(ctx, endpoint, kind.String(), violation)

		var err error
		if violation {
			err = p.sink.ApplyViolation(ctx, sessionID, kind)
		} else {
			err = p.sink.ApplyDetection(ctx, sessionID, kind, obs.Confidence)
		}
		if sessionGone(err) {
			return err
		}
	}

	if id, ok := SelectIdentity(res.Candidates, p.cfg.IdentityFloor); ok {
		if err := p.sink.ResolveIdentity(ctx, sessionID, id, frame); sessionGone(err) {
			return err
		}
	}
	return nil
}

func sessionGone(err error) bool {
	return errors.Is(err, gate.ErrStaleResponse) ||
		errors.Is(err, gate.ErrNoActiveSession) ||
		errors.Is(err, gate.ErrSessionClosed)
}
