package verification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sourav19o7/ppe-detector-sub002/pkg/common/logger"
	"github.com/Sourav19o7/ppe-detector-sub002/pkg/common/timeutil"
)

// DefaultTickInterval is the countdown granularity.
const DefaultTickInterval = 100 * time.Millisecond

// maxTickLag caps the elapsed time one tick may spend, in intervals, so a
// stalled process does not burn the whole budget in a single step.
const maxTickLag = 5

// TimerOption is a functional option for configuring the timer.
type TimerOption func(*TimerController)

// WithTimerClock replaces the clock used to measure elapsed time.
func WithTimerClock(tp timeutil.Provider) TimerOption {
	return func(t *TimerController) { t.clock = tp }
}

// SessionTicker is the part of the engine the timer drives.
type SessionTicker interface {
	Tick(ctx context.Context, sessionID uuid.UUID, elapsed time.Duration) error
}

// TimerController supplies elapsed time to the active session while it is
// verifying. It decides nothing; every tick names the session it was started
// for so a late tick cannot spend another session's budget.
type TimerController struct {
	ticker   SessionTicker
	interval time.Duration
	clock    timeutil.Provider

	mu      sync.Mutex
	base    context.Context
	current uuid.UUID
	cancel  context.CancelFunc
	loops   sync.WaitGroup

	logger *logger.Logger
	tracer trace.Tracer
}

var _ SessionObserver = (*TimerController)(nil)

// NewTimerController creates a stopped timer.
func NewTimerController(
	ticker SessionTicker,
	interval time.Duration,
	logger *logger.Logger,
	tracer trace.Tracer,
	opts ...TimerOption,
) *TimerController {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	t := &TimerController{
		ticker:   ticker,
		interval: interval,
		clock:    timeutil.Default(),
		base:     context.Background(),
		logger:   logger.With("component", "timer_controller"),
		tracer:   tracer,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run binds the timer to ctx and blocks until ctx is done, then stops any
// running countdown.
func (t *TimerController) Run(ctx context.Context) error {
	t.mu.Lock()
	t.base = ctx
	t.mu.Unlock()

	<-ctx.Done()

	t.mu.Lock()
	t.stopLocked()
	t.mu.Unlock()
	t.loops.Wait()
	return ctx.Err()
}

// SessionStarted replaces any running countdown with one for sessionID.
func (t *TimerController) SessionStarted(ctx context.Context, sessionID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	if t.base.Err() != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(t.base)
	t.current = sessionID
	t.cancel = cancel

	t.loops.Add(1)
	go func() {
		defer t.loops.Done()
		t.countdown(loopCtx, sessionID)
	}()
	t.logger.Debug(ctx, "Countdown started", "session_id", sessionID, "interval", t.interval)
}

// SessionEnded stops the countdown if it belongs to sessionID.
func (t *TimerController) SessionEnded(ctx context.Context, sessionID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current != sessionID {
		return
	}
	t.stopLocked()
	t.logger.Debug(ctx, "Countdown stopped", "session_id", sessionID)
}

// Running reports the session currently being counted down.
func (t *TimerController) Running() (uuid.UUID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, t.cancel != nil
}

func (t *TimerController) stopLocked() {
	if t.cancel != nil {
		t.cancel()
	}
	t.cancel = nil
	t.current = uuid.Nil
}

func (t *TimerController) countdown(ctx context.Context, sessionID uuid.UUID) {
	ctx, span := t.tracer.Start(ctx, "timer_controller.countdown",
		trace.WithAttributes(attribute.String("session_id", sessionID.String())))
	defer span.End()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	last := t.clock.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Ticks are dropped while the receiver is busy, so spend the time
			// that actually passed rather than one interval.
			now := t.clock.Now()
			elapsed := t.elapsed(last, now)
			last = now

			// Any error means the session can no longer be ticked: it ended,
			// was reset or was superseded.
			if err := t.ticker.Tick(ctx, sessionID, elapsed); err != nil {
				span.AddEvent("countdown_finished")
				t.release(sessionID)
				return
			}
		}
	}
}

func (t *TimerController) elapsed(last, now time.Time) time.Duration {
	d := now.Sub(last)
	if d < 0 {
		return 0
	}
	return min(d, maxTickLag*t.interval)
}

func (t *TimerController) release(sessionID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == sessionID {
		t.stopLocked()
	}
}
