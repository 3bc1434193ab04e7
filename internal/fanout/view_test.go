package fanout

import (
	"context"
	"sync"
	"testing"
	"time"

	"locshare/backend/internal/hub"
	"locshare/backend/internal/location"
	"locshare/backend/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordAt(user uuid.UUID, lat float64, ts time.Time) models.LocationRecord {
	lon := 1.0
	return models.LocationRecord{UserID: user, Latitude: &lat, Longitude: &lon, Timestamp: ts, IsSharing: true}
}

func TestView_NewestTimestampWins(t *testing.T) {
	v := NewView()
	user := uuid.New()
	t0 := time.Now()

	assert.True(t, v.Apply(recordAt(user, 1, t0)))
	assert.False(t, v.Apply(recordAt(user, 1, t0)), "duplicate")
	assert.False(t, v.Apply(recordAt(user, 0, t0.Add(-time.Second))), "older")
	assert.True(t, v.Apply(recordAt(user, 2, t0.Add(time.Second))))

	got, ok := v.Get(user)
	require.True(t, ok)
	assert.Equal(t, 2.0, *got.Latitude)
}

func TestView_OrderTolerant(t *testing.T) {
	user := uuid.New()
	t0 := time.Now()
	recs := []models.LocationRecord{
		recordAt(user, 1, t0),
		recordAt(user, 3, t0.Add(2*time.Second)),
		recordAt(user, 2, t0.Add(time.Second)),
	}

	forward, backward := NewView(), NewView()
	for i := range recs {
		forward.Apply(recs[i])
		backward.Apply(recs[len(recs)-1-i])
	}
	a, _ := forward.Get(user)
	b, _ := backward.Get(user)
	assert.Equal(t, a, b)
	assert.Equal(t, 3.0, *a.Latitude)
}

func TestView_ResetKeepsNewerPushedRecords(t *testing.T) {
	v := NewView()
	kept, dropped := uuid.New(), uuid.New()
	t0 := time.Now()

	v.Apply(recordAt(kept, 9, t0.Add(time.Minute)))
	v.Apply(recordAt(dropped, 1, t0))

	pulled := recordAt(kept, 1, t0)
	pulled.Profile = models.Profile{UserID: kept, FullName: "Kept"}
	v.Reset([]FriendLocation{{LocationRecord: pulled, FullName: "Kept"}})

	got, ok := v.Get(kept)
	require.True(t, ok)
	assert.Equal(t, 9.0, *got.Latitude)
	_, ok = v.Get(dropped)
	assert.False(t, ok, "pull is authoritative for membership")

	snap := v.Snapshot(t0.Add(time.Minute))
	require.Len(t, snap, 1)
	assert.Equal(t, "Kept", snap[0].FullName)
}

func TestView_SnapshotSkipsUnknownAndNotSharing(t *testing.T) {
	v := NewView()
	known, stranger := uuid.New(), uuid.New()
	t0 := time.Now()

	rec := recordAt(known, 1, t0)
	rec.Profile = models.Profile{UserID: known, FullName: "Known"}
	v.Apply(rec)
	v.Apply(recordAt(stranger, 1, t0))
	assert.Len(t, v.Snapshot(t0), 1)

	v.Apply(models.LocationRecord{UserID: known, Timestamp: t0.Add(time.Second)})
	assert.Empty(t, v.Snapshot(t0))
}

func TestView_ApplyWatchState(t *testing.T) {
	v := NewView()
	user := uuid.New()
	assert.False(t, v.ApplyWatchState(user, true), "unknown user")

	rec := recordAt(user, 1, time.Now())
	rec.Profile = models.Profile{UserID: user, FullName: "U"}
	v.Apply(rec)

	assert.True(t, v.ApplyWatchState(user, true))
	assert.False(t, v.ApplyWatchState(user, true))
	assert.True(t, v.Snapshot(time.Now())[0].WatchState)
}

type snapshots struct {
	mu   sync.Mutex
	last []FriendLocation
	n    int
}

func (s *snapshots) set(list []FriendLocation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = list
	s.n++
}

func (s *snapshots) get() ([]FriendLocation, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.n
}

func TestReconciler_PullPushAndResubscribe(t *testing.T) {
	w := newWorld(t, "a", "b", "c")
	w.befriend(t, "a", "b")
	w.place(t, "b", 1, 1, time.Now())

	snaps := &snapshots{}
	events := &recorder{}
	r := NewReconciler(w.router, w.id("a"), time.Hour, Handlers{Snapshot: snaps.set, Event: events.add})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		list, _ := snaps.get()
		return len(list) == 1
	}, time.Second, 5*time.Millisecond)

	lat, lon := 2.0, 2.0
	_, err := w.ledger.Write(ctx, w.id("b"), location.Fix{Latitude: &lat, Longitude: &lon})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		rec, ok := r.View().Get(w.id("b"))
		return ok && *rec.Latitude == 2
	}, time.Second, 5*time.Millisecond)

	// A new friendship resubscribes, so c's pushes reach a without waiting
	// for the periodic pull.
	w.befriend(t, "c", "a")
	require.Eventually(t, func() bool {
		return w.hub.Subscribers(w.id("c")) == 1
	}, time.Second, 5*time.Millisecond)
	_, err = w.ledger.Write(ctx, w.id("c"), location.Fix{Latitude: &lat, Longitude: &lon})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		for _, src := range events.sources(hub.EventLocation) {
			if src == w.id("c") {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	_, before := snaps.get()
	r.Refresh()
	require.Eventually(t, func() bool {
		_, n := snaps.get()
		return n > before
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 0, w.hub.Subscribers(w.id("b")))
}
