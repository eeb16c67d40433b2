package verification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/events"
	"github.com/Sourav19o7/ppe-detector-sub002/internal/domain/gate"
)

func scan(kind gate.ItemKind) gate.ScanEvent {
	return gate.NewScanEvent(kind, gate.ScanSourceBridge, testNow)
}

func TestEngine_StartRejectsMissingTarget(t *testing.T) {
	s := newTestEngine(t)

	_, err := s.engine.Start(context.Background(), "", "site-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, gate.ErrInvalidTarget)
	assert.True(t, gate.IsValidationError(err))
	assert.Equal(t, gate.StatusIdle, s.engine.Status())
	assert.Empty(t, s.publisher.types())
}

func TestEngine_AllEvidencePassesImmediately(t *testing.T) {
	s := newTestEngine(t)
	ctx := context.Background()

	id, err := s.engine.Start(ctx, "gate-1", "site-1")
	require.NoError(t, err)

	for _, k := range []gate.ItemKind{gate.ItemHelmet, gate.ItemVest, gate.ItemShoes} {
		require.NoError(t, s.engine.HandleScan(ctx, scan(k)))
		require.NoError(t, s.engine.ApplyDetection(ctx, id, k, 0.9))
	}
	require.Equal(t, gate.StatusVerifying, s.engine.Status())
	require.NoError(t, s.engine.ApplyDetection(ctx, id, gate.ItemFace, 0.9))

	assert.Equal(t, gate.StatusPassed, s.engine.Status())
	assert.Equal(t, []uuid.UUID{id}, s.observer.endedIDs())

	evt, ok := s.publisher.last(gate.EventTypeSessionFinalized)
	require.True(t, ok)
	fin := evt.(gate.SessionFinalizedEvent)
	assert.Equal(t, gate.StatusPassed, fin.Outcome)
	assert.Equal(t, 7, fin.PassedChecks)
	assert.False(t, fin.TimedOut)

	_, active := s.engine.ActiveSession()
	assert.False(t, active)
}

func TestEngine_DropsStaleAndMalformedEvents(t *testing.T) {
	s := newTestEngine(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.engine.HandleScan(ctx, scan(gate.ItemHelmet)), gate.ErrNoActiveSession)
	assert.ErrorIs(t, s.engine.ApplyDetection(ctx, uuid.New(), gate.ItemHelmet, 0.9), gate.ErrNoActiveSession)

	old, err := s.engine.Start(ctx, "gate-1", "site-1")
	require.NoError(t, err)
	current, err := s.engine.Start(ctx, "gate-1", "site-1")
	require.NoError(t, err)
	require.NotEqual(t, old, current)

	assert.ErrorIs(t, s.engine.ApplyDetection(ctx, old, gate.ItemHelmet, 0.9), gate.ErrStaleResponse)
	assert.ErrorIs(t, s.engine.Tick(ctx, old, time.Minute), gate.ErrStaleResponse)
	assert.ErrorIs(t,
		s.engine.ResolveIdentity(ctx, old, gate.Identity{ID: "p1", Confidence: 0.9}, gate.Frame{}),
		gate.ErrStaleResponse)

	assert.ErrorIs(t,
		s.engine.HandleScan(ctx, gate.NewScanEvent("GLOVES", gate.ScanSourceManual, testNow)),
		gate.ErrUnknownItemKind)

	snap, ok := s.engine.Snapshot()
	require.True(t, ok)
	assert.Equal(t, current, snap.SessionID)
	assert.Zero(t, snap.PassedChecks)
	assert.Equal(t, gate.StatusVerifying, snap.Status)
	assert.Contains(t, s.observer.endedIDs(), old, "superseded session is ended for observers")
}

func TestEngine_DuplicateEvidenceIsIdempotent(t *testing.T) {
	s := newTestEngine(t)
	ctx := context.Background()
	_, err := s.engine.Start(ctx, "gate-1", "site-1")
	require.NoError(t, err)

	evt := scan(gate.ItemVest)
	require.NoError(t, s.engine.HandleScan(ctx, evt))
	assert.ErrorIs(t, s.engine.HandleScan(ctx, evt), gate.ErrDuplicateEvidence)

	snap, _ := s.engine.Snapshot()
	assert.Equal(t, 1, snap.PassedChecks)
}

func TestEngine_TimeoutThenOverride(t *testing.T) {
	repo := new(mockAuditRepository)
	s := newTestEngine(t, WithAuditRepository(repo))
	ctx := context.Background()

	id, err := s.engine.Start(ctx, "gate-1", "site-1")
	require.NoError(t, err)
	require.NoError(t, s.engine.HandleScan(ctx, scan(gate.ItemHelmet)))
	require.NoError(t, s.engine.ApplyDetection(ctx, id, gate.ItemHelmet, 0.8))
	require.NoError(t, s.engine.HandleScan(ctx, scan(gate.ItemVest)))
	require.NoError(t, s.engine.ApplyDetection(ctx, id, gate.ItemFace, 0.8))

	_, err = s.engine.Override(ctx, "early", "sup")
	assert.ErrorIs(t, err, gate.ErrOverrideUnavailable)

	s.clock.Advance(30 * time.Second)
	require.NoError(t, s.engine.Tick(ctx, id, 30*time.Second))
	require.Equal(t, gate.StatusWarning, s.engine.Status())

	_, err = s.engine.Override(ctx, "   ", "sup")
	assert.ErrorIs(t, err, gate.ErrEmptyReason)
	assert.Equal(t, gate.StatusWarning, s.engine.Status())

	repo.On("SaveOverride", mock.Anything, mock.MatchedBy(func(r gate.AuditRecord) bool {
		return r.SessionID == id && r.PassedChecks == 4 && r.TotalChecks == 7
	})).Return(nil).Once()

	rec, err := s.engine.Override(ctx, "supervisor approved, faulty reader", "sup-7")
	require.NoError(t, err)
	assert.Equal(t, gate.StatusPassed, s.engine.Status())
	assert.Equal(t, 4, rec.PassedChecks)
	assert.Equal(t, 7, rec.TotalChecks)
	assert.Equal(t, "supervisor approved, faulty reader", rec.Reason)
	repo.AssertExpectations(t)

	evt, ok := s.publisher.last(gate.EventTypeOverrideApproved)
	require.True(t, ok)
	assert.Equal(t, rec, evt.(gate.OverrideApprovedEvent).Record)

	fin, ok := s.publisher.last(gate.EventTypeSessionFinalized)
	require.True(t, ok)
	assert.True(t, fin.(gate.SessionFinalizedEvent).Overridden)

	_, err = s.engine.Override(ctx, "again", "sup")
	assert.ErrorIs(t, err, gate.ErrOverrideUnavailable)
}

func TestEngine_OverrideSurvivesAuditStoreFailure(t *testing.T) {
	repo := new(mockAuditRepository)
	repo.On("SaveOverride", mock.Anything, mock.Anything).Return(errors.New("db down"))
	s := newTestEngine(t, WithAuditRepository(repo))
	ctx := context.Background()

	id, err := s.engine.Start(ctx, "gate-1", "site-1")
	require.NoError(t, err)
	require.NoError(t, s.engine.ApplyDetection(ctx, id, gate.ItemFace, 0.8))
	require.NoError(t, s.engine.Tick(ctx, id, time.Minute))

	_, err = s.engine.Override(ctx, "reader offline", "")
	require.NoError(t, err)
	assert.Equal(t, gate.StatusPassed, s.engine.Status())
	_, published := s.publisher.last(gate.EventTypeOverrideApproved)
	assert.True(t, published)
}

func TestEngine_OverrideWithoutSession(t *testing.T) {
	s := newTestEngine(t)
	_, err := s.engine.Override(context.Background(), "reason", "op")
	assert.ErrorIs(t, err, gate.ErrOverrideUnavailable)
	assert.True(t, gate.IsValidationError(err))
}

func TestEngine_TimeoutWithNothingCompleteFails(t *testing.T) {
	s := newTestEngine(t)
	ctx := context.Background()
	id, err := s.engine.Start(ctx, "gate-1", "site-1")
	require.NoError(t, err)

	require.NoError(t, s.engine.Tick(ctx, id, 29*time.Second))
	assert.Equal(t, gate.StatusVerifying, s.engine.Status())
	require.NoError(t, s.engine.Tick(ctx, id, time.Second))
	assert.Equal(t, gate.StatusFailed, s.engine.Status())

	assert.ErrorIs(t, s.engine.Tick(ctx, id, time.Second), gate.ErrSessionClosed)

	evt, ok := s.publisher.last(gate.EventTypeSessionFinalized)
	require.True(t, ok)
	assert.True(t, evt.(gate.SessionFinalizedEvent).TimedOut)
}

func TestEngine_ResolveIdentityRecordsAttendanceOnce(t *testing.T) {
	rec := new(mockAttendanceRecorder)
	s := newTestEngine(t, WithAttendanceRecorder(rec, time.Second))
	ctx := context.Background()

	id, err := s.engine.Start(ctx, "gate-1", "site-1")
	require.NoError(t, err)
	frame := gate.Frame{Data: []byte{0xff, 0xd8}, ContentType: "image/jpeg", CapturedAt: testNow}

	rec.On("RecordAttendance", mock.Anything, mock.MatchedBy(func(r gate.AttendanceRequest) bool {
		return r.SessionID == id && r.Identity.ID == "p1" && len(r.Frame.Data) == 2
	})).Return(nil).Once()

	require.NoError(t, s.engine.ResolveIdentity(ctx, id, gate.Identity{ID: "p1", Name: "Asha", Confidence: 0.7}, frame))
	assert.ErrorIs(t,
		s.engine.ResolveIdentity(ctx, id, gate.Identity{ID: "p2", Confidence: 0.9}, frame),
		gate.ErrIdentityResolved)

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, s.engine.Shutdown(shutdownCtx))
	rec.AssertExpectations(t)

	snap, _ := s.engine.Snapshot()
	assert.True(t, snap.AttendanceRecorded)
	require.NotNil(t, snap.Identity)
	assert.Equal(t, "p1", snap.Identity.ID)
	_, ok := s.publisher.last(gate.EventTypeIdentityResolved)
	assert.True(t, ok)
}

func TestEngine_AttendanceFailureDoesNotAffectOutcome(t *testing.T) {
	rec := new(mockAttendanceRecorder)
	rec.On("RecordAttendance", mock.Anything, mock.Anything).Return(errors.New("503")).Once()
	s := newTestEngine(t, WithAttendanceRecorder(rec, time.Second))
	ctx := context.Background()

	id, err := s.engine.Start(ctx, "gate-1", "site-1")
	require.NoError(t, err)
	require.NoError(t, s.engine.ResolveIdentity(ctx, id, gate.Identity{ID: "p1", Confidence: 0.5}, gate.Frame{}))
	require.NoError(t, s.engine.Shutdown(ctx))

	assert.Equal(t, gate.StatusVerifying, s.engine.Status())
	rec.AssertExpectations(t)
}

func TestEngine_Reset(t *testing.T) {
	s := newTestEngine(t)
	ctx := context.Background()

	s.engine.Reset(ctx)
	assert.Empty(t, s.publisher.types(), "reset while idle is a no-op")

	id, err := s.engine.Start(ctx, "gate-1", "site-1")
	require.NoError(t, err)
	s.engine.Reset(ctx)

	assert.Equal(t, gate.StatusIdle, s.engine.Status())
	_, ok := s.engine.Snapshot()
	assert.False(t, ok)
	assert.Equal(t, []uuid.UUID{id}, s.observer.endedIDs())
	assert.ErrorIs(t, s.engine.Tick(ctx, id, time.Second), gate.ErrNoActiveSession)
	assert.Equal(t,
		[]events.EventType{gate.EventTypeSessionStarted, gate.EventTypeSessionReset},
		s.publisher.types())
}

func TestEngine_ResetAfterOutcomeDoesNotEndTwice(t *testing.T) {
	s := newTestEngine(t)
	ctx := context.Background()

	id, err := s.engine.Start(ctx, "gate-1", "site-1")
	require.NoError(t, err)
	require.NoError(t, s.engine.Tick(ctx, id, time.Minute))
	s.engine.Reset(ctx)

	assert.Equal(t, []uuid.UUID{id}, s.observer.endedIDs())
}

func TestEngine_PublishFailureIsNotFatal(t *testing.T) {
	s := newTestEngine(t)
	s.publisher.err = errors.New("broker unavailable")

	id, err := s.engine.Start(context.Background(), "gate-1", "site-1")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
}

func TestEngine_ConcurrentProducers(t *testing.T) {
	s := newTestEngine(t)
	ctx := context.Background()
	id, err := s.engine.Start(ctx, "gate-1", "site-1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			_ = s.engine.HandleScan(ctx, scan(gate.ItemHelmet))
		}()
		go func() {
			defer wg.Done()
			_ = s.engine.ApplyDetection(ctx, id, gate.ItemHelmet, 0.9)
		}()
		go func() {
			defer wg.Done()
			_ = s.engine.Tick(ctx, id, time.Millisecond)
		}()
	}
	wg.Wait()

	snap, ok := s.engine.Snapshot()
	require.True(t, ok)
	assert.Equal(t, 2, snap.PassedChecks)
	assert.Equal(t, gate.StatusVerifying, snap.Status)
}

// gatedObserver holds the first SessionStarted callback until released.
type gatedObserver struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedObserver() *gatedObserver {
	return &gatedObserver{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedObserver) SessionStarted(context.Context, uuid.UUID) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
}

func (g *gatedObserver) SessionEnded(context.Context, uuid.UUID) {}

func TestEngine_OverlappingStartsNotifyInCommitOrder(t *testing.T) {
	s := newTestEngine(t, WithBudget(200*time.Millisecond))
	gated := newGatedObserver()
	s.engine.AddObserver(gated)
	timer := newTestTimer(s.engine)
	s.engine.AddObserver(timer)
	ctx := context.Background()

	firstDone := make(chan uuid.UUID, 1)
	go func() {
		id, err := s.engine.Start(ctx, "gate-1", "site-1")
		assert.NoError(t, err)
		firstDone <- id
	}()
	<-gated.entered

	secondDone := make(chan uuid.UUID, 1)
	go func() {
		id, err := s.engine.Start(ctx, "gate-1", "site-1")
		assert.NoError(t, err)
		secondDone <- id
	}()

	select {
	case <-secondDone:
		t.Fatal("second start announced before the first finished notifying")
	case <-time.After(50 * time.Millisecond):
	}

	close(gated.release)
	first, second := <-firstDone, <-secondDone
	require.NotEqual(t, first, second)

	// The live session must be counted down to an outcome.
	require.Eventually(t, func() bool {
		return s.engine.Status() == gate.StatusFailed
	}, 2*time.Second, 5*time.Millisecond)

	snap, ok := s.engine.Snapshot()
	require.True(t, ok)
	assert.Equal(t, second, snap.SessionID)
	require.Eventually(t, func() bool { return len(s.observer.endedIDs()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []uuid.UUID{first, second}, s.observer.endedIDs())
}

func TestEngine_LateEndForSupersededSessionIsDropped(t *testing.T) {
	s := newTestEngine(t)
	ctx := context.Background()

	first, err := s.engine.Start(ctx, "gate-1", "site-1")
	require.NoError(t, err)
	second, err := s.engine.Start(ctx, "gate-1", "site-1")
	require.NoError(t, err)

	// A finalization racing with the second start reports the old id.
	s.engine.afterFinalize(ctx, &gate.SessionFinalizedEvent{SessionID: first})

	assert.Equal(t, []uuid.UUID{first}, s.observer.endedIDs())
	id, ok := s.engine.ActiveSession()
	require.True(t, ok)
	assert.Equal(t, second, id)
}
