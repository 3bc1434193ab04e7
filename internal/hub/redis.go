package hub

import (
	"context"
	"time"

	"locshare/backend/internal/logging"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const relayTimeout = 2 * time.Second

// envelope tags relayed events with the instance that published them so an
// instance ignores its own echoes.
type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// RedisBridge relays hub events between server instances over a redis
// pub/sub channel. Delivery is best effort, like the local hub.
type RedisBridge struct {
	client  *redis.Client
	hub     *Hub
	channel string
	origin  string
	log     zerolog.Logger
}

func NewRedisBridge(client *redis.Client, h *Hub, channel string) *RedisBridge {
	origin := uuid.NewString()
	return &RedisBridge{
		client:  client,
		hub:     h,
		channel: channel,
		origin:  origin,
		log:     logging.With().Str("component", "redis_bridge").Str("origin", origin).Logger(),
	}
}

// Relay implements Relay by publishing the event to redis.
func (b *RedisBridge) Relay(ev Event) {
	payload, err := json.Marshal(envelope{Origin: b.origin, Event: ev})
	if err != nil {
		b.log.Error().Err(err).Str("type", string(ev.Type)).Msg("failed to encode relayed event")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
	defer cancel()
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.log.Warn().Err(err).Str("channel", b.channel).Msg("failed to relay event")
	}
}

// Run consumes events published by other instances until ctx is cancelled.
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	b.hub.SetRelay(b)
	defer b.hub.SetRelay(nil)
	b.log.Info().Str("channel", b.channel).Msg("redis bridge subscribed")

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			b.handle(msg.Payload)
		}
	}
}

func (b *RedisBridge) handle(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.log.Warn().Err(err).Msg("dropping malformed relayed event")
		return
	}
	if env.Origin == b.origin {
		return
	}
	b.hub.Deliver(env.Event)
}
