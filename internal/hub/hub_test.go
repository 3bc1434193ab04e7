package hub

import (
	"bytes"
	"testing"

	"locshare/backend/internal/logging"
	"locshare/backend/internal/models"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRelay struct {
	events []Event
}

func (r *recordingRelay) Relay(ev Event) { r.events = append(r.events, ev) }

func locationEvent(src uuid.UUID) Event {
	return Event{Type: EventLocation, Source: src, Location: &models.LocationRecord{UserID: src}}
}

func TestHub_DeliversOnlyToSubscribedSources(t *testing.T) {
	h := NewHub()
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	subB := h.Subscribe(b, []uuid.UUID{a}, 4)
	subC := h.Subscribe(c, nil, 4)

	h.Publish(locationEvent(a))

	require.Len(t, subB.C(), 1)
	ev := <-subB.C()
	assert.Equal(t, a, ev.Source)
	assert.Len(t, subC.C(), 0)
}

func TestHub_TargetedEventsReachOwnerOnly(t *testing.T) {
	h := NewHub()
	a, b := uuid.New(), uuid.New()
	subA := h.Subscribe(a, []uuid.UUID{b}, 4)
	subB := h.Subscribe(b, []uuid.UUID{a}, 4)

	h.Publish(Event{Type: EventFriendship, Source: b, Target: a})

	assert.Len(t, subA.C(), 1)
	assert.Len(t, subB.C(), 0)
}

func TestHub_UnsubscribeIsIdempotentAndClosesChannel(t *testing.T) {
	h := NewHub()
	a, b := uuid.New(), uuid.New()
	sub := h.Subscribe(b, []uuid.UUID{a}, 1)
	require.Equal(t, 1, h.Subscribers(a))

	h.Unsubscribe(sub)
	h.Unsubscribe(sub)

	_, open := <-sub.C()
	assert.False(t, open)
	assert.Equal(t, 0, h.Subscribers(a))

	// Publishing after teardown must not panic on the closed channel.
	h.Publish(locationEvent(a))
}

func TestHub_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub()
	a, b := uuid.New(), uuid.New()
	sub := h.Subscribe(b, []uuid.UUID{a}, 1)

	h.Publish(locationEvent(a))
	h.Publish(locationEvent(a))

	assert.Len(t, sub.C(), 1)
}

func TestHub_OwnerIsNeverItsOwnSource(t *testing.T) {
	h := NewHub()
	a := uuid.New()
	sub := h.Subscribe(a, []uuid.UUID{a}, 1)

	h.Publish(locationEvent(a))
	assert.Len(t, sub.C(), 0)
}

func TestHub_PublishRelaysButDeliverDoesNot(t *testing.T) {
	h := NewHub()
	relay := &recordingRelay{}
	h.SetRelay(relay)
	a := uuid.New()

	h.Publish(locationEvent(a))
	h.Deliver(locationEvent(a))

	assert.Len(t, relay.events, 1)
}

func TestRedisBridge_HandleSkipsOwnEchoes(t *testing.T) {
	h := NewHub()
	a, b := uuid.New(), uuid.New()
	sub := h.Subscribe(b, []uuid.UUID{a}, 4)
	bridge := NewRedisBridge(nil, h, "test")

	own, err := json.Marshal(envelope{Origin: bridge.origin, Event: locationEvent(a)})
	require.NoError(t, err)
	bridge.handle(string(own))
	assert.Len(t, sub.C(), 0)

	other, err := json.Marshal(envelope{Origin: "another-instance", Event: locationEvent(a)})
	require.NoError(t, err)
	bridge.handle(string(other))
	require.Len(t, sub.C(), 1)
	ev := <-sub.C()
	assert.Equal(t, a, ev.Location.UserID)

	bridge.handle("not json")
	assert.Len(t, sub.C(), 0)
}

func TestRedisBridge_LogsAsComponent(t *testing.T) {
	var buf bytes.Buffer
	logging.Init(logging.Config{Level: "debug", Output: &buf})
	t.Cleanup(func() { logging.Init(logging.Config{}) })

	bridge := NewRedisBridge(nil, NewHub(), "test")
	bridge.handle("not json")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "redis_bridge", entry["component"])
	assert.Equal(t, bridge.origin, entry["origin"])
	assert.Equal(t, "warn", entry["level"])
}
