// Package location implements the Location Ledger: the single current
// location record per user, written through a per-user throttle with
// retry, backoff and a circuit breaker in front of the store.
package location

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"locshare/backend/internal/apperror"
	"locshare/backend/internal/hub"
	"locshare/backend/internal/logging"
	"locshare/backend/internal/metrics"
	"locshare/backend/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// Store persists location records.
type Store interface {
	Get(ctx context.Context, userID uuid.UUID) (models.LocationRecord, error)
	Upsert(ctx context.Context, rec *models.LocationRecord) error
}

// Publisher receives a location event after every persisted write.
type Publisher interface {
	Publish(hub.Event)
}

// Fix is one sample from the device sensors.
type Fix struct {
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
	// BatteryLevel is the raw sensor reading in the range 0.0 to 1.0.
	BatteryLevel *float64 `json:"battery_level" validate:"omitempty,gte=0,lte=1"`
	IsCharging   *bool    `json:"is_charging"`
}

// Outcome says what Write did with a fix.
type Outcome string

const (
	// OutcomeApplied means the fix was persisted before Write returned.
	OutcomeApplied Outcome = "applied"
	// OutcomeCoalesced means the fix was held as the latest pending state and
	// will be persisted when the throttle window closes, unless a newer fix
	// replaces it first.
	OutcomeCoalesced Outcome = "coalesced"
)

type WriteResult struct {
	Outcome Outcome                `json:"outcome"`
	Record  *models.LocationRecord `json:"record,omitempty"`
}

// Options tune the ledger. Zero values take the defaults below.
type Options struct {
	Throttle      time.Duration
	RetryAttempts int
	RetryBase     time.Duration

	// StaleWriterRate and StaleWriterBurst cap persisted writes per user.
	StaleWriterRate  rate.Limit
	StaleWriterBurst int

	// BreakerFailures consecutive transient failures open the circuit for
	// BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration

	// FlushTimeout bounds a trailing write, which has no caller context.
	FlushTimeout time.Duration

	Now func() time.Time
}

func (o *Options) setDefaults() {
	if o.Throttle <= 0 {
		o.Throttle = 5 * time.Second
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 3
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 200 * time.Millisecond
	}
	if o.StaleWriterRate <= 0 {
		o.StaleWriterRate = rate.Every(time.Second)
	}
	if o.StaleWriterBurst <= 0 {
		o.StaleWriterBurst = 3
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = 5
	}
	if o.BreakerTimeout <= 0 {
		o.BreakerTimeout = 30 * time.Second
	}
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = 10 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// userState is the ledger's memory of one user. It is created on the first
// write and kept for the life of the process.
type userState struct {
	mu      sync.Mutex
	window  bool
	pending *Fix
	timer   *time.Timer
	limiter *rate.Limiter
	// flushErr is the failure of the last trailing write, reported by the
	// user's next call.
	flushErr error

	// writeMu serializes persisted writes so duration accumulates from the
	// record that was actually stored last.
	writeMu sync.Mutex
	loaded  bool
	last    *models.LocationRecord
}

// Ledger is the Location Ledger.
type Ledger struct {
	store    Store
	events   Publisher
	opts     Options
	breaker  *gobreaker.CircuitBreaker[struct{}]
	validate *validator.Validate

	mu     sync.Mutex
	users  map[uuid.UUID]*userState
	closed atomic.Bool
}

func NewLedger(store Store, events Publisher, opts Options) *Ledger {
	opts.setDefaults()
	l := &Ledger{
		store:    store,
		events:   events,
		opts:     opts,
		validate: validator.New(),
		users:    make(map[uuid.UUID]*userState),
	}
	l.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "location-store",
		MaxRequests: 1,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		// Only store outages count against the circuit.
		IsSuccessful: func(err error) bool {
			return err == nil || !apperror.IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
	return l
}

var errClosed = apperror.TransientIO("location ledger is closed", nil)

func (l *Ledger) state(userID uuid.UUID) (*userState, error) {
	if l.closed.Load() {
		return nil, errClosed
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.users[userID]
	if !ok {
		st = &userState{limiter: rate.NewLimiter(l.opts.StaleWriterRate, l.opts.StaleWriterBurst)}
		l.users[userID] = st
	}
	return st, nil
}

// takeFlushErrLocked returns and clears a pending trailing write failure.
// st.mu must be held.
func (st *userState) takeFlushErrLocked() error {
	err := st.flushErr
	st.flushErr = nil
	return err
}

// Write records a fix for userID. The first fix in an idle throttle window is
// persisted immediately. Later fixes in the same window replace one pending
// fix, which is persisted once when the window closes.
func (l *Ledger) Write(ctx context.Context, userID uuid.UUID, fix Fix) (WriteResult, error) {
	if userID == uuid.Nil {
		return WriteResult{}, apperror.NotAuthenticated("not authenticated")
	}
	if err := l.validate.Struct(fix); err != nil {
		metrics.LocationWrites.WithLabelValues("rejected").Inc()
		return WriteResult{}, apperror.Wrap(apperror.KindInvalidOperation, apperror.CodeInvalidFix, "invalid location fix", err)
	}

	st, err := l.state(userID)
	if err != nil {
		return WriteResult{}, err
	}

	st.mu.Lock()
	if l.closed.Load() {
		st.mu.Unlock()
		return WriteResult{}, errClosed
	}
	if err := st.takeFlushErrLocked(); err != nil {
		st.mu.Unlock()
		return WriteResult{}, err
	}
	if st.window || !st.limiter.Allow() {
		held := fix
		st.pending = &held
		if !st.window {
			l.armLocked(userID, st)
		}
		st.mu.Unlock()
		metrics.LocationWrites.WithLabelValues("coalesced").Inc()
		return WriteResult{Outcome: OutcomeCoalesced}, nil
	}
	l.armLocked(userID, st)
	st.writeMu.Lock()
	st.mu.Unlock()
	defer st.writeMu.Unlock()

	rec, err := l.persistLocked(ctx, userID, st, fix)
	if err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Outcome: OutcomeApplied, Record: &rec}, nil
}

// armLocked opens a throttle window. No window is opened once the ledger is
// closed. st.mu must be held.
func (l *Ledger) armLocked(userID uuid.UUID, st *userState) {
	if l.closed.Load() {
		return
	}
	st.window = true
	st.timer = time.AfterFunc(l.opts.Throttle, func() { l.flush(userID, st) })
}

// flush runs when a throttle window closes. A pending fix is written and a
// new window opened behind it; otherwise the user goes idle. A failed write
// is kept on st and returned by the user's next Write or SetSharing.
func (l *Ledger) flush(userID uuid.UUID, st *userState) {
	st.mu.Lock()
	fix := st.pending
	st.pending = nil
	if fix == nil {
		st.window = false
		st.timer = nil
		st.mu.Unlock()
		return
	}
	l.armLocked(userID, st)
	st.writeMu.Lock()
	st.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), l.opts.FlushTimeout)
	_, err := l.persistLocked(ctx, userID, st, *fix)
	cancel()
	st.writeMu.Unlock()
	if err == nil {
		return
	}

	logging.Error().Err(err).Str("user_id", userID.String()).Msg("trailing location write failed")
	if apperror.KindOf(err) != apperror.KindWriteFailed {
		err = apperror.Wrap(apperror.KindWriteFailed, apperror.CodeRetriesExhausted, "location write failed", err)
	}
	st.mu.Lock()
	st.flushErr = err
	st.mu.Unlock()
}

// lastLocked returns the most recent stored record for the user, reading it
// from the store once per process. st.writeMu must be held.
func (l *Ledger) lastLocked(ctx context.Context, userID uuid.UUID, st *userState) *models.LocationRecord {
	if st.loaded {
		return st.last
	}
	rec, err := l.store.Get(ctx, userID)
	switch {
	case err == nil:
		st.last = &rec
		st.loaded = true
	case apperror.KindOf(err) == apperror.KindNotFound:
		st.loaded = true
	default:
		logging.Warn().Err(err).Str("user_id", userID.String()).Msg("could not load previous location")
	}
	return st.last
}

// persistLocked builds the next record from fix and the previous record and
// upserts it. st.writeMu must be held.
func (l *Ledger) persistLocked(ctx context.Context, userID uuid.UUID, st *userState, fix Fix) (models.LocationRecord, error) {
	prev := l.lastLocked(ctx, userID, st)
	now := l.opts.Now()

	rec := models.LocationRecord{
		UserID:    userID,
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
		Timestamp: now,
		IsSharing: true,
	}
	if prev != nil {
		rec.BatteryLevel = prev.BatteryLevel
		rec.IsCharging = prev.IsCharging
	}
	if fix.BatteryLevel != nil {
		rec.BatteryLevel = batteryPercent(*fix.BatteryLevel)
	}
	if fix.IsCharging != nil {
		rec.IsCharging = *fix.IsCharging
	}
	rec.Duration = dwell(prev, &rec)

	if err := l.upsert(ctx, &rec); err != nil {
		return models.LocationRecord{}, err
	}
	l.remember(userID, st, rec)
	metrics.LocationWrites.WithLabelValues("applied").Inc()
	return rec, nil
}

// dwell returns next's duration: the previous duration plus the time since
// the previous fix when the user stayed within DwellRadius, zero otherwise.
func dwell(prev, next *models.LocationRecord) int {
	if prev == nil || !prev.HasFix() || !next.HasFix() {
		return 0
	}
	d := Distance(*prev.Latitude, *prev.Longitude, *next.Latitude, *next.Longitude)
	if d > DwellRadius {
		return 0
	}
	elapsed := next.Timestamp.Sub(prev.Timestamp)
	if elapsed < 0 {
		elapsed = 0
	}
	return prev.Duration + int(elapsed/time.Second)
}

func (l *Ledger) remember(userID uuid.UUID, st *userState, rec models.LocationRecord) {
	stored := rec
	st.last = &stored
	st.loaded = true
	if l.events != nil {
		published := rec
		l.events.Publish(hub.Event{Type: hub.EventLocation, Source: userID, Location: &published})
	}
}

// upsert writes through the circuit breaker, retrying transient failures with
// exponential backoff. An open circuit fails fast without retrying.
func (l *Ledger) upsert(ctx context.Context, rec *models.LocationRecord) error {
	delay := l.opts.RetryBase
	var err error
	for attempt := 1; attempt <= l.opts.RetryAttempts; attempt++ {
		_, err = l.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, l.store.Upsert(ctx, rec)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.LocationWrites.WithLabelValues("failed").Inc()
			return apperror.TransientIO("location store unreachable", err)
		}
		if !apperror.IsRetryable(err) {
			metrics.LocationWrites.WithLabelValues("failed").Inc()
			return err
		}
		if attempt == l.opts.RetryAttempts {
			break
		}

		logging.Warn().Err(err).Str("user_id", rec.UserID.String()).Int("attempt", attempt).Dur("backoff", delay).Msg("location write failed, retrying")
		metrics.LocationWriteRetries.Inc()
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return l.writeFailed(rec, ctx.Err())
		case <-t.C:
		}
		delay *= 2
	}
	return l.writeFailed(rec, err)
}

func (l *Ledger) writeFailed(rec *models.LocationRecord, err error) error {
	metrics.LocationWrites.WithLabelValues("failed").Inc()
	logging.Error().Err(err).Str("user_id", rec.UserID.String()).Msg("location write failed")
	return apperror.Wrap(apperror.KindWriteFailed, apperror.CodeRetriesExhausted, "location write failed", err)
}

// SetSharing turns sharing on or off. Turning it off clears the stored
// coordinates and drops any pending throttled fix.
func (l *Ledger) SetSharing(ctx context.Context, userID uuid.UUID, sharing bool) (models.LocationRecord, error) {
	if userID == uuid.Nil {
		return models.LocationRecord{}, apperror.NotAuthenticated("not authenticated")
	}
	st, err := l.state(userID)
	if err != nil {
		return models.LocationRecord{}, err
	}

	st.mu.Lock()
	if l.closed.Load() {
		st.mu.Unlock()
		return models.LocationRecord{}, errClosed
	}
	if err := st.takeFlushErrLocked(); err != nil {
		st.mu.Unlock()
		return models.LocationRecord{}, err
	}
	if !sharing {
		st.pending = nil
	}
	st.writeMu.Lock()
	st.mu.Unlock()
	defer st.writeMu.Unlock()

	rec := models.LocationRecord{UserID: userID, Timestamp: l.opts.Now(), IsSharing: sharing}
	if prev := l.lastLocked(ctx, userID, st); prev != nil {
		rec.BatteryLevel = prev.BatteryLevel
		rec.IsCharging = prev.IsCharging
		if sharing {
			rec.Latitude, rec.Longitude = prev.Latitude, prev.Longitude
			rec.Duration = prev.Duration
		}
	}
	if err := l.upsert(ctx, &rec); err != nil {
		return models.LocationRecord{}, err
	}
	l.remember(userID, st, rec)
	return rec, nil
}

// ReadOwn returns the caller's own record.
func (l *Ledger) ReadOwn(ctx context.Context, userID uuid.UUID) (models.LocationRecord, error) {
	if userID == uuid.Nil {
		return models.LocationRecord{}, apperror.NotAuthenticated("not authenticated")
	}
	return l.store.Get(ctx, userID)
}

// Close stops all throttle timers and writes any pending fixes with ctx.
// Writes after Close fail with a TransientIO error.
func (l *Ledger) Close(ctx context.Context) error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.mu.Lock()
	users := make(map[uuid.UUID]*userState, len(l.users))
	for id, st := range l.users {
		users[id] = st
	}
	l.mu.Unlock()

	var firstErr error
	for id, st := range users {
		st.mu.Lock()
		if st.timer != nil {
			st.timer.Stop()
		}
		fix := st.pending
		st.pending, st.window, st.timer = nil, false, nil
		if fix == nil {
			st.mu.Unlock()
			continue
		}
		st.writeMu.Lock()
		st.mu.Unlock()
		_, err := l.persistLocked(ctx, id, st, *fix)
		st.writeMu.Unlock()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
