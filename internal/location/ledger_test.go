package location

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"locshare/backend/internal/apperror"
	"locshare/backend/internal/hub"
	"locshare/backend/internal/models"
	"locshare/backend/internal/store/memory"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// flakyStore wraps the memory store, records every upsert and fails the
// first failN of them with failErr.
type flakyStore struct {
	*memory.Locations

	mu      sync.Mutex
	upserts []models.LocationRecord
	failN   int
	failErr error
}

func newFlakyStore() *flakyStore {
	return &flakyStore{Locations: memory.New().Locations()}
}

func (s *flakyStore) Upsert(ctx context.Context, rec *models.LocationRecord) error {
	s.mu.Lock()
	s.upserts = append(s.upserts, *rec)
	if s.failN != 0 {
		if s.failN > 0 {
			s.failN--
		}
		err := s.failErr
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	return s.Locations.Upsert(ctx, rec)
}

func (s *flakyStore) failWith(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failN, s.failErr = n, err
}

func (s *flakyStore) attempts() []models.LocationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.LocationRecord(nil), s.upserts...)
}

type eventLog struct {
	mu     sync.Mutex
	events []hub.Event
}

func (e *eventLog) Publish(ev hub.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventLog) len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func ptr[T any](v T) *T { return &v }

func fixAt(lat, lon float64) Fix {
	return Fix{Latitude: ptr(lat), Longitude: ptr(lon)}
}

var transient = apperror.TransientIO("connection reset", errors.New("read: connection reset by peer"))

func TestWrite_LeadingFixIsAppliedAndPublished(t *testing.T) {
	store := newFlakyStore()
	events := &eventLog{}
	l := NewLedger(store, events, Options{Throttle: time.Hour})
	user := uuid.New()

	res, err := l.Write(context.Background(), user, fixAt(52.1, 4.3))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	require.NotNil(t, res.Record)
	assert.True(t, res.Record.IsSharing)
	assert.Equal(t, 0, res.Record.Duration)

	stored, err := store.Get(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, 52.1, *stored.Latitude)
	assert.Equal(t, 1, events.len())
}

func TestWrite_BurstPersistsFinalCoordinatesOnce(t *testing.T) {
	store := newFlakyStore()
	const window = 80 * time.Millisecond
	l := NewLedger(store, nil, Options{Throttle: window})
	user := uuid.New()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		res, err := l.Write(ctx, user, fixAt(float64(i), 10))
		require.NoError(t, err)
		if i == 0 {
			assert.Equal(t, OutcomeApplied, res.Outcome)
		} else {
			assert.Equal(t, OutcomeCoalesced, res.Outcome)
		}
	}

	require.Eventually(t, func() bool {
		rec, err := store.Get(ctx, user)
		return err == nil && *rec.Latitude == 9
	}, time.Second, 5*time.Millisecond)

	// Let the re-armed window close with nothing pending.
	time.Sleep(3 * window)

	finals := 0
	upserts := store.attempts()
	for _, rec := range upserts {
		if *rec.Latitude == 9 {
			finals++
		}
	}
	assert.Equal(t, 1, finals)
	assert.LessOrEqual(t, len(upserts), 2)
}

func TestWrite_IdleWindowAppliesAgain(t *testing.T) {
	store := newFlakyStore()
	l := NewLedger(store, nil, Options{Throttle: 20 * time.Millisecond})
	user := uuid.New()

	_, err := l.Write(context.Background(), user, fixAt(1, 1))
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	res, err := l.Write(context.Background(), user, fixAt(2, 2))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
}

func TestClose_FlushesPendingWithDwell(t *testing.T) {
	store := newFlakyStore()
	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	l := NewLedger(store, nil, Options{Throttle: time.Hour, Now: clock.Now})
	user := uuid.New()
	ctx := context.Background()

	_, err := l.Write(ctx, user, fixAt(52.0, 4.0))
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	// About 1.1 meters north.
	res, err := l.Write(ctx, user, fixAt(52.00001, 4.0))
	require.NoError(t, err)
	require.Equal(t, OutcomeCoalesced, res.Outcome)

	require.NoError(t, l.Close(ctx))

	rec, err := store.Get(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 52.00001, *rec.Latitude)
	assert.Equal(t, 30, rec.Duration)
	assert.Equal(t, clock.Now(), rec.Timestamp)

	require.NoError(t, l.Close(ctx))
}

func TestWrite_RetriesTransientFailures(t *testing.T) {
	store := newFlakyStore()
	store.failWith(2, transient)
	l := NewLedger(store, nil, Options{Throttle: time.Hour, RetryBase: time.Millisecond})

	res, err := l.Write(context.Background(), uuid.New(), fixAt(1, 1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Len(t, store.attempts(), 3)
}

func TestWrite_ExhaustedRetriesSurfaceWriteFailed(t *testing.T) {
	store := newFlakyStore()
	store.failWith(-1, transient)
	l := NewLedger(store, nil, Options{Throttle: time.Hour, RetryBase: time.Millisecond, RetryAttempts: 3})

	_, err := l.Write(context.Background(), uuid.New(), fixAt(1, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrWriteFailed)
	assert.ErrorIs(t, err, apperror.ErrTransientIO)
	assert.Equal(t, apperror.CodeRetriesExhausted, apperror.CodeOf(err))
	assert.Len(t, store.attempts(), 3)
}

func TestWrite_CancelledContextStopsBackoff(t *testing.T) {
	store := newFlakyStore()
	store.failWith(-1, transient)
	l := NewLedger(store, nil, Options{Throttle: time.Hour, RetryBase: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := l.Write(ctx, uuid.New(), fixAt(1, 1))
	assert.ErrorIs(t, err, apperror.ErrWriteFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Len(t, store.attempts(), 1)
}

func TestWrite_NonTransientErrorIsNotRetried(t *testing.T) {
	store := newFlakyStore()
	store.failWith(-1, apperror.Conflict(apperror.CodeAlreadyHandled, "constraint"))
	l := NewLedger(store, nil, Options{Throttle: time.Hour, RetryBase: time.Millisecond})

	_, err := l.Write(context.Background(), uuid.New(), fixAt(1, 1))
	assert.ErrorIs(t, err, apperror.ErrConflict)
	assert.Len(t, store.attempts(), 1)
}

func TestWrite_OpenCircuitFailsFast(t *testing.T) {
	store := newFlakyStore()
	store.failWith(-1, transient)
	l := NewLedger(store, nil, Options{
		Throttle:        time.Hour,
		RetryAttempts:   1,
		BreakerFailures: 2,
		BreakerTimeout:  time.Hour,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := l.Write(ctx, uuid.New(), fixAt(1, 1))
		require.ErrorIs(t, err, apperror.ErrWriteFailed)
	}
	before := len(store.attempts())

	_, err := l.Write(ctx, uuid.New(), fixAt(1, 1))
	assert.ErrorIs(t, err, apperror.ErrTransientIO)
	assert.NotErrorIs(t, err, apperror.ErrWriteFailed)
	assert.Len(t, store.attempts(), before)
}

func TestWrite_InvalidFix(t *testing.T) {
	l := NewLedger(newFlakyStore(), nil, Options{Throttle: time.Hour})
	user := uuid.New()

	tests := []struct {
		name string
		fix  Fix
	}{
		{"missing latitude", Fix{Longitude: ptr(1.0)}},
		{"missing longitude", Fix{Latitude: ptr(1.0)}},
		{"latitude out of range", fixAt(91, 0)},
		{"longitude out of range", fixAt(0, -181)},
		{"battery above one", Fix{Latitude: ptr(1.0), Longitude: ptr(1.0), BatteryLevel: ptr(1.5)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Write(context.Background(), user, tt.fix)
			assert.ErrorIs(t, err, apperror.ErrInvalidOperation)
			assert.Equal(t, apperror.CodeInvalidFix, apperror.CodeOf(err))
		})
	}
}

func TestWrite_NoSession(t *testing.T) {
	l := NewLedger(newFlakyStore(), nil, Options{})
	_, err := l.Write(context.Background(), uuid.Nil, fixAt(1, 1))
	assert.ErrorIs(t, err, apperror.ErrNotAuthenticated)
}

func TestWrite_BatteryRoundedAndCarried(t *testing.T) {
	store := newFlakyStore()
	l := NewLedger(store, nil, Options{Throttle: time.Hour})
	user := uuid.New()
	ctx := context.Background()

	fix := fixAt(1, 1)
	fix.BatteryLevel = ptr(0.456)
	fix.IsCharging = ptr(true)
	res, err := l.Write(ctx, user, fix)
	require.NoError(t, err)
	assert.Equal(t, 46, res.Record.BatteryLevel)
	assert.True(t, res.Record.IsCharging)

	// Stop sharing keeps the last battery reading.
	rec, err := l.SetSharing(ctx, user, false)
	require.NoError(t, err)
	assert.Equal(t, 46, rec.BatteryLevel)
	assert.True(t, rec.IsCharging)
}

func TestWrite_StaleWriterGuardCoalesces(t *testing.T) {
	store := newFlakyStore()
	l := NewLedger(store, nil, Options{
		Throttle:         10 * time.Millisecond,
		StaleWriterRate:  rate.Every(time.Hour),
		StaleWriterBurst: 1,
	})
	user := uuid.New()

	res, err := l.Write(context.Background(), user, fixAt(1, 1))
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, res.Outcome)

	time.Sleep(60 * time.Millisecond)

	res, err = l.Write(context.Background(), user, fixAt(2, 2))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCoalesced, res.Outcome)
}

func TestSetSharing_ClearsCoordinatesAndDropsPending(t *testing.T) {
	store := newFlakyStore()
	events := &eventLog{}
	l := NewLedger(store, events, Options{Throttle: time.Hour})
	user := uuid.New()
	ctx := context.Background()

	_, err := l.Write(ctx, user, fixAt(1, 1))
	require.NoError(t, err)
	res, err := l.Write(ctx, user, fixAt(2, 2))
	require.NoError(t, err)
	require.Equal(t, OutcomeCoalesced, res.Outcome)

	rec, err := l.SetSharing(ctx, user, false)
	require.NoError(t, err)
	assert.False(t, rec.IsSharing)
	assert.False(t, rec.HasFix())

	require.NoError(t, l.Close(ctx))

	stored, err := l.ReadOwn(ctx, user)
	require.NoError(t, err)
	assert.Nil(t, stored.Latitude)
	assert.Nil(t, stored.Longitude)
	assert.False(t, stored.IsSharing)
	assert.Equal(t, 2, events.len())
}

func TestReadOwn_NoRecord(t *testing.T) {
	l := NewLedger(newFlakyStore(), nil, Options{})
	_, err := l.ReadOwn(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestWrite_FailedTrailingWriteReachesNextCaller(t *testing.T) {
	store := newFlakyStore()
	l := NewLedger(store, nil, Options{
		Throttle:      30 * time.Millisecond,
		RetryAttempts: 1,
		RetryBase:     time.Millisecond,
	})
	user := uuid.New()
	ctx := context.Background()

	res, err := l.Write(ctx, user, fixAt(1, 1))
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, res.Outcome)

	store.failWith(-1, transient)

	// A steady client keeps landing inside a window; the failed trailing
	// write must still come back to it.
	var surfaced error
	require.Eventually(t, func() bool {
		_, err := l.Write(ctx, user, fixAt(2, 2))
		surfaced = err
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, surfaced, apperror.ErrWriteFailed)
	assert.Equal(t, apperror.CodeRetriesExhausted, apperror.CodeOf(surfaced))

	// Reported once, then cleared.
	store.failWith(0, nil)
	_, err = l.Write(ctx, user, fixAt(3, 3))
	assert.NoError(t, err)
}

func TestSetSharing_ReportsFailedTrailingWrite(t *testing.T) {
	store := newFlakyStore()
	l := NewLedger(store, nil, Options{Throttle: 20 * time.Millisecond, RetryAttempts: 1})
	user := uuid.New()
	ctx := context.Background()

	_, err := l.Write(ctx, user, fixAt(1, 1))
	require.NoError(t, err)
	store.failWith(-1, transient)
	res, err := l.Write(ctx, user, fixAt(2, 2))
	require.NoError(t, err)
	require.Equal(t, OutcomeCoalesced, res.Outcome)

	require.Eventually(t, func() bool {
		return len(store.attempts()) >= 2
	}, time.Second, 5*time.Millisecond)
	store.failWith(0, nil)

	require.Eventually(t, func() bool {
		_, err := l.SetSharing(ctx, user, true)
		return errors.Is(err, apperror.ErrWriteFailed)
	}, time.Second, 5*time.Millisecond)

	_, err = l.SetSharing(ctx, user, true)
	assert.NoError(t, err)
}

func TestWrite_RejectedAfterClose(t *testing.T) {
	store := newFlakyStore()
	l := NewLedger(store, nil, Options{Throttle: 10 * time.Millisecond})
	user := uuid.New()
	ctx := context.Background()

	_, err := l.Write(ctx, user, fixAt(1, 1))
	require.NoError(t, err)
	require.NoError(t, l.Close(ctx))
	before := len(store.attempts())

	_, err = l.Write(ctx, user, fixAt(2, 2))
	assert.ErrorIs(t, err, apperror.ErrTransientIO)
	_, err = l.Write(ctx, uuid.New(), fixAt(2, 2))
	assert.ErrorIs(t, err, apperror.ErrTransientIO)
	_, err = l.SetSharing(ctx, user, false)
	assert.ErrorIs(t, err, apperror.ErrTransientIO)

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, store.attempts(), before)
}
