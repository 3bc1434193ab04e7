// Package watch tracks whether a user's app is in the foreground and tells
// their friends.
package watch

import (
	"context"
	"sync"
	"time"

	"locshare/backend/internal/apperror"
	"locshare/backend/internal/hub"
	"locshare/backend/internal/logging"
	"locshare/backend/internal/metrics"
	"locshare/backend/internal/models"

	"github.com/google/uuid"
)

// AppState is the client's lifecycle state.
type AppState string

const (
	AppActive     AppState = "active"
	AppInactive   AppState = "inactive"
	AppBackground AppState = "background"
)

func (s AppState) Valid() bool {
	switch s {
	case AppActive, AppInactive, AppBackground:
		return true
	}
	return false
}

// Session is the caller's identity as seen by the auth middleware.
type Session struct {
	UserID    uuid.UUID
	ExpiresAt time.Time
}

// Live reports whether the session identifies a user and has not expired.
func (s Session) Live(now time.Time) bool {
	if s.UserID == uuid.Nil {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}

type Store interface {
	SetWatchState(ctx context.Context, userID uuid.UUID, watching bool) (bool, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Profile, error)
}

type FriendSource interface {
	FriendIDs(ctx context.Context, selfID uuid.UUID) ([]uuid.UUID, error)
}

type Publisher interface {
	Publish(hub.Event)
}

// Tracker is the Watch-State Tracker.
type Tracker struct {
	store   Store
	friends FriendSource
	events  Publisher
	now     func() time.Time

	mu   sync.Mutex
	held map[uuid.UUID]struct{}
}

func NewTracker(store Store, friends FriendSource, events Publisher) *Tracker {
	return &Tracker{
		store:   store,
		friends: friends,
		events:  events,
		now:     time.Now,
		held:    make(map[uuid.UUID]struct{}),
	}
}

// Hold marks the user as kept active by an overlay, so a transient inactive
// state does not clear the watch flag.
func (t *Tracker) Hold(userID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.held[userID] = struct{}{}
}

func (t *Tracker) Release(userID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.held, userID)
}

func (t *Tracker) isHeld(userID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.held[userID]
	return ok
}

// Transition records an app lifecycle change. It reports whether the stored
// flag changed. An expired or missing session is skipped without error.
func (t *Tracker) Transition(ctx context.Context, s Session, state AppState) (bool, error) {
	if !state.Valid() {
		return false, apperror.InvalidOperation(apperror.CodeInvalidAppState, "unknown app state "+string(state))
	}
	if !s.Live(t.now()) {
		metrics.WatchStateWrites.WithLabelValues("skipped").Inc()
		logging.Debug().Str("state", string(state)).Msg("watch state skipped, no live session")
		return false, nil
	}

	watching := state == AppActive
	if state == AppInactive && t.isHeld(s.UserID) {
		metrics.WatchStateWrites.WithLabelValues("suppressed").Inc()
		return false, nil
	}

	changed, err := t.store.SetWatchState(ctx, s.UserID, watching)
	if err != nil {
		return false, err
	}
	if !changed {
		metrics.WatchStateWrites.WithLabelValues("unchanged").Inc()
		return false, nil
	}
	metrics.WatchStateWrites.WithLabelValues("written").Inc()

	if t.events != nil {
		t.events.Publish(hub.Event{
			Type:       hub.EventWatchState,
			Source:     s.UserID,
			WatchState: &hub.WatchState{UserID: s.UserID, WatchState: watching},
		})
	}
	return true, nil
}

// FriendWatchStates returns the current flag of every friend. It is the pull
// that backs up missed watch_state pushes.
func (t *Tracker) FriendWatchStates(ctx context.Context, selfID uuid.UUID) ([]hub.WatchState, error) {
	if selfID == uuid.Nil {
		return nil, apperror.NotAuthenticated("not authenticated")
	}
	ids, err := t.friends.FriendIDs(ctx, selfID)
	if err != nil {
		return nil, err
	}
	out := make([]hub.WatchState, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	profiles, err := t.store.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, p := range profiles {
		out = append(out, hub.WatchState{UserID: p.UserID, WatchState: p.WatchState})
	}
	return out, nil
}
