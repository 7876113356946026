package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// envelope wraps an event on the wire with the publishing instance so the
// origin can skip its own echo.
type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// RedisBus mirrors local publications onto a Redis channel and replays
// publications from other instances into the local bus. Every instance sees
// every event exactly once.
type RedisBus struct {
	rdb      *redis.Client
	local    *LocalBus
	channel  string
	instance string
	log      *slog.Logger
}

func NewRedisBus(rdb *redis.Client, local *LocalBus, channel string, log *slog.Logger) *RedisBus {
	if channel == "" {
		channel = "events:broadcast"
	}
	return &RedisBus{
		rdb:      rdb,
		local:    local,
		channel:  channel,
		instance: uuid.New().String(),
		log:      log,
	}
}

// Subscribe registers a handler on the local bus.
func (b *RedisBus) Subscribe(t Type, h Handler) { b.local.Subscribe(t, h) }

// Publish delivers locally, then broadcasts to the other instances. A Redis
// failure does not undo local delivery; the outbox relay retries.
func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	if err := b.local.Publish(ctx, ev); err != nil {
		return err
	}

	raw, err := json.Marshal(envelope{Origin: b.instance, Event: ev})
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.ID, err)
	}
	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		return fmt.Errorf("broadcast event %s: %w", ev.ID, err)
	}
	return nil
}

// Listen consumes the broadcast channel until ctx cancels. Run it in its
// own goroutine.
func (b *RedisBus) Listen(ctx context.Context) {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	b.log.Info("event bus listening", "channel", b.channel)
	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.Error("malformed broadcast event", "error", err)
				continue
			}
			if env.Origin == b.instance {
				continue
			}
			if err := b.local.Publish(ctx, env.Event); err != nil {
				b.log.Error("replay broadcast event", "event_id", env.Event.ID, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
