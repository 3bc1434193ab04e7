// Package fanout scopes location and watch-state changes to a user's friends.
// It offers a pull (GetFriendLocations) and a push (Subscribe); the push
// filter is the friend set at subscribe time, so callers pair it with a
// periodic pull (see Reconciler).
package fanout

import (
	"context"
	"sync"
	"time"

	"locshare/backend/internal/apperror"
	"locshare/backend/internal/hub"
	"locshare/backend/internal/models"
	"locshare/backend/internal/presence"

	"github.com/google/uuid"
)

// FriendSource computes the accepted friend set of a user.
type FriendSource interface {
	FriendIDs(ctx context.Context, selfID uuid.UUID) ([]uuid.UUID, error)
}

// LocationReader loads location records joined with their owner's profile.
type LocationReader interface {
	ListByUserIDs(ctx context.Context, ids []uuid.UUID) ([]models.LocationRecord, error)
}

// FriendLocation is a friend's record with the profile fields a map marker
// needs and the derived presence.
type FriendLocation struct {
	models.LocationRecord
	FullName   string            `json:"full_name"`
	AvatarURL  *string           `json:"avatar_url"`
	WatchState bool              `json:"watch_state"`
	Presence   presence.Presence `json:"presence"`
}

func newFriendLocation(rec models.LocationRecord, now time.Time) FriendLocation {
	watching := rec.Profile.WatchState
	return FriendLocation{
		LocationRecord: rec,
		FullName:       rec.Profile.FullName,
		AvatarURL:      rec.Profile.AvatarURL,
		WatchState:     watching,
		Presence:       presence.Classify(&rec, now, &watching),
	}
}

type Router struct {
	friends   FriendSource
	locations LocationReader
	hub       *hub.Hub
	buffer    int
	now       func() time.Time
}

func NewRouter(friends FriendSource, locations LocationReader, h *hub.Hub) *Router {
	return &Router{friends: friends, locations: locations, hub: h, buffer: 64, now: time.Now}
}

// GetFriendLocations returns the current records of selfID's friends. Users
// who are not sharing, or whose profile is missing, are left out.
func (r *Router) GetFriendLocations(ctx context.Context, selfID uuid.UUID) ([]FriendLocation, error) {
	if selfID == uuid.Nil {
		return nil, apperror.NotAuthenticated("not authenticated")
	}
	ids, err := r.friends.FriendIDs(ctx, selfID)
	if err != nil {
		return nil, err
	}
	out := make([]FriendLocation, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	allowed := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		allowed[id] = struct{}{}
	}

	recs, err := r.locations.ListByUserIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	now := r.now()
	for _, rec := range recs {
		if _, ok := allowed[rec.UserID]; !ok {
			continue
		}
		if !rec.HasFix() || rec.Profile.UserID == uuid.Nil {
			continue
		}
		out = append(out, newFriendLocation(rec, now))
	}
	return out, nil
}

// Subscription is an open push channel. Cancel must be called to release it.
type Subscription struct {
	hub     *hub.Hub
	client  *hub.Client
	friends []uuid.UUID
	once    sync.Once
	done    chan struct{}
}

// Friends is the friend set the subscription was filtered with.
func (s *Subscription) Friends() []uuid.UUID { return s.friends }

// Done is closed once the subscription is cancelled.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Cancel releases the hub slot. It is safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.hub.Unsubscribe(s.client)
		close(s.done)
	})
}

// Subscribe snapshots selfID's friend set and delivers location and
// watch-state changes from those users, plus friendship changes addressed to
// selfID, to onChange on a dedicated goroutine. Delivery is at least once
// and unordered across users. The subscription ends on Cancel or when ctx is
// done.
func (r *Router) Subscribe(ctx context.Context, selfID uuid.UUID, onChange func(hub.Event)) (*Subscription, error) {
	if selfID == uuid.Nil {
		return nil, apperror.NotAuthenticated("not authenticated")
	}
	ids, err := r.friends.FriendIDs(ctx, selfID)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		hub:     r.hub,
		client:  r.hub.Subscribe(selfID, ids, r.buffer),
		friends: ids,
		done:    make(chan struct{}),
	}

	go func() {
		for ev := range sub.client.C() {
			if onChange != nil {
				onChange(ev)
			}
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
			sub.Cancel()
		case <-sub.done:
		}
	}()
	return sub, nil
}
