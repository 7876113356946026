// Package events defines the internal domain event stream: the event
// envelope, an in-process bus, a Redis fan-out for multi-instance
// deployments, and the transactional outbox relay that feeds them.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Type names a domain event.
type Type string

const (
	JobCreated         Type = "job.created"
	JobStatusChanged   Type = "job.status_changed"
	JobMatched         Type = "job.matched"
	JobCancelled       Type = "job.cancelled"
	JobCompleted       Type = "job.completed"
	OfferCreated       Type = "offer.created"
	OfferAccepted      Type = "offer.accepted"
	OfferDeclined      Type = "offer.declined"
	OfferExpired       Type = "offer.expired"
	SlaWarning         Type = "sla.warning"
	SlaBreached        Type = "sla.breached"
	PricingRecorded    Type = "pricing.recorded"
	ProviderPenalized  Type = "provider.penalized"
	ProviderSuspended  Type = "provider.suspended"
	ProviderRecovered  Type = "provider.recovered"
	CredentialExpiring Type = "credential.expiring"
)

// Wildcard subscribes a handler to every event type.
const Wildcard Type = "*"

// Event is the envelope every publication carries.
type Event struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	JobID      string          `json:"job_id,omitempty"`
	ProviderID string          `json:"provider_id,omitempty"`
	CustomerID string          `json:"customer_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Handler consumes one event. Handlers must not block; slow work belongs in
// the handler's own goroutine.
type Handler func(ctx context.Context, ev Event)

// Bus publishes events to subscribed handlers.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(t Type, h Handler)
}

// LocalBus is an in-process bus. Delivery is synchronous and in
// subscription order; cross-instance delivery layers on top via RedisBus.
type LocalBus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
}

func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[Type][]Handler)}
}

// Subscribe registers a handler for a type, or for everything via Wildcard.
func (b *LocalBus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Publish delivers the event to every matching handler in subscription
// order. Each handler runs isolated: a panic in one never withholds the
// event from the rest of the fan-out.
func (b *LocalBus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	matched := make([]Handler, 0, len(b.handlers[ev.Type])+len(b.handlers[Wildcard]))
	matched = append(matched, b.handlers[ev.Type]...)
	matched = append(matched, b.handlers[Wildcard]...)
	b.mu.RUnlock()

	for _, h := range matched {
		deliver(ctx, ev, h)
	}
	return nil
}

func deliver(ctx context.Context, ev Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked", "type", string(ev.Type), "event_id", ev.ID, "panic", r)
		}
	}()
	h(ctx, ev)
}

// MarshalPayload encodes a payload value for the event envelope.
func MarshalPayload(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
