package hub

import (
	"sync"
	"sync/atomic"

	"locshare/backend/internal/metrics"
	"locshare/backend/internal/models"

	"github.com/google/uuid"
)

// EventType names the kind of change carried by an Event.
type EventType string

const (
	EventLocation   EventType = "location"
	EventWatchState EventType = "watch_state"
	// EventFriendship is addressed to a single user, telling the client its
	// friend set changed and the stream should be re-established.
	EventFriendship EventType = "friendship"
)

// WatchState is the payload of an EventWatchState.
type WatchState struct {
	UserID     uuid.UUID `json:"user_id"`
	WatchState bool      `json:"watch_state"`
}

// FriendshipChange is the payload of an EventFriendship.
type FriendshipChange struct {
	EdgeID uuid.UUID               `json:"edge_id"`
	Other  uuid.UUID               `json:"other_user_id"`
	Status models.FriendshipStatus `json:"status"`
}

// Event is a change pushed to subscribers. Source is the user whose data
// changed; Target, when set, restricts delivery to that user's subscriptions.
type Event struct {
	Type       EventType              `json:"type"`
	Source     uuid.UUID              `json:"source"`
	Target     uuid.UUID              `json:"target,omitempty"`
	Location   *models.LocationRecord `json:"location,omitempty"`
	WatchState *WatchState            `json:"watch_state,omitempty"`
	Friendship *FriendshipChange      `json:"friendship,omitempty"`
}

// Relay forwards locally published events to other instances.
type Relay interface {
	Relay(Event)
}

var clientSeq atomic.Uint64

// Client is one open subscription. Events arrive on C until Unsubscribe
// closes it.
type Client struct {
	id      uint64
	owner   uuid.UUID
	sources map[uuid.UUID]struct{}
	send    chan Event
}

func (c *Client) ID() uint64 { return c.id }

func (c *Client) Owner() uuid.UUID { return c.owner }

// C returns the receive side of the subscription.
func (c *Client) C() <-chan Event { return c.send }

// Hub routes events from a source user to the clients that listed that user
// when they subscribed.
type Hub struct {
	bySource map[uuid.UUID]map[*Client]struct{}
	byOwner  map[uuid.UUID]map[*Client]struct{}
	relay    Relay
	mu       sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		bySource: make(map[uuid.UUID]map[*Client]struct{}),
		byOwner:  make(map[uuid.UUID]map[*Client]struct{}),
	}
}

// SetRelay installs a cross-instance relay. Pass nil to remove it.
func (h *Hub) SetRelay(r Relay) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.relay = r
}

// Subscribe registers a client owned by owner that receives events from the
// given sources. The source set is fixed for the life of the client.
func (h *Hub) Subscribe(owner uuid.UUID, sources []uuid.UUID, buffer int) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	c := &Client{
		id:      clientSeq.Add(1),
		owner:   owner,
		sources: make(map[uuid.UUID]struct{}, len(sources)),
		send:    make(chan Event, buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, src := range sources {
		if src == owner {
			continue
		}
		c.sources[src] = struct{}{}
		if _, ok := h.bySource[src]; !ok {
			h.bySource[src] = make(map[*Client]struct{})
		}
		h.bySource[src][c] = struct{}{}
	}
	if _, ok := h.byOwner[owner]; !ok {
		h.byOwner[owner] = make(map[*Client]struct{})
	}
	h.byOwner[owner][c] = struct{}{}

	metrics.OpenSubscriptions.Inc()
	return c
}

// Unsubscribe removes the client and closes its channel. Calling it more than
// once is safe.
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	owned, ok := h.byOwner[c.owner]
	if !ok {
		return
	}
	if _, ok := owned[c]; !ok {
		return
	}
	delete(owned, c)
	if len(owned) == 0 {
		delete(h.byOwner, c.owner)
	}
	for src := range c.sources {
		if clients, ok := h.bySource[src]; ok {
			delete(clients, c)
			if len(clients) == 0 {
				delete(h.bySource, src)
			}
		}
	}
	close(c.send)
	metrics.OpenSubscriptions.Dec()
}

// Publish delivers the event locally and hands it to the relay, if any.
func (h *Hub) Publish(ev Event) {
	h.Deliver(ev)

	h.mu.RLock()
	r := h.relay
	h.mu.RUnlock()
	if r != nil {
		r.Relay(ev)
	}
}

// Deliver sends the event to matching local clients only.
func (h *Hub) Deliver(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var clients map[*Client]struct{}
	if ev.Target != uuid.Nil {
		clients = h.byOwner[ev.Target]
	} else {
		clients = h.bySource[ev.Source]
	}

	for c := range clients {
		// Non-blocking send so a slow client cannot stall the hub. The
		// periodic pull on the consumer side recovers anything dropped.
		select {
		case c.send <- ev:
			metrics.FanoutDelivered.WithLabelValues(string(ev.Type)).Inc()
		default:
			metrics.FanoutDropped.WithLabelValues(string(ev.Type)).Inc()
		}
	}
}

// Subscribers reports how many clients listen to source.
func (h *Hub) Subscribers(source uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.bySource[source])
}
