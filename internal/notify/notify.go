// Package notify turns domain events into push notifications. Delivery rides
// Cloud Tasks in production; local development uses the in-memory transport.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/fixline/backend/internal/events"
)

// Notification is one push message addressed to a user or a provider
// profile.
type Notification struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id,omitempty"`
	ProviderID string         `json:"provider_id,omitempty"`
	Kind       string         `json:"kind"`
	Title      string         `json:"title"`
	Body       string         `json:"body"`
	Data       map[string]any `json:"data,omitempty"`
}

// Transport delivers notifications.
type Transport interface {
	Deliver(ctx context.Context, n Notification) error
	Close() error
}

// MemoryTransport records notifications in memory. Local development and
// test double.
type MemoryTransport struct {
	mu   sync.Mutex
	sent []Notification
}

func NewMemoryTransport() *MemoryTransport { return &MemoryTransport{} }

func (t *MemoryTransport) Deliver(_ context.Context, n Notification) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, n)
	return nil
}

func (t *MemoryTransport) Close() error { return nil }

// Sent returns a copy of everything delivered so far.
func (t *MemoryTransport) Sent() []Notification {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Notification, len(t.sent))
	copy(out, t.sent)
	return out
}

// Notifier subscribes to the event bus and translates the events users care
// about into notifications.
type Notifier struct {
	transport Transport
	log       *slog.Logger
}

func NewNotifier(transport Transport, log *slog.Logger) *Notifier {
	return &Notifier{transport: transport, log: log}
}

func (n *Notifier) deliver(ctx context.Context, msg Notification) {
	if err := n.transport.Deliver(ctx, msg); err != nil {
		n.log.Error("notification delivery failed", "kind", msg.Kind, "error", err)
	}
}

// AttachBus wires the notification triggers.
func (n *Notifier) AttachBus(bus events.Bus) {
	bus.Subscribe(events.OfferCreated, func(ctx context.Context, ev events.Event) {
		var p events.OfferPayload
		json.Unmarshal(ev.Payload, &p)
		n.deliver(ctx, Notification{
			ID:         ev.ID,
			ProviderID: ev.ProviderID,
			Kind:       "offer_received",
			Title:      "New job offer",
			Body:       "A job matching your profile is waiting for your response.",
			Data:       map[string]any{"job_id": ev.JobID, "assignment_id": p.AssignmentID},
		})
	})

	bus.Subscribe(events.OfferAccepted, func(ctx context.Context, ev events.Event) {
		n.deliver(ctx, Notification{
			ID:     ev.ID,
			UserID: ev.CustomerID,
			Kind:   "provider_found",
			Title:  "Provider found",
			Body:   "A provider accepted your job. Review and approve them to proceed.",
			Data:   map[string]any{"job_id": ev.JobID},
		})
	})

	bus.Subscribe(events.JobStatusChanged, func(ctx context.Context, ev events.Event) {
		var p events.StatusChangedPayload
		if json.Unmarshal(ev.Payload, &p) != nil {
			return
		}
		body, ok := statusBodies[p.To]
		if !ok {
			return
		}
		n.deliver(ctx, Notification{
			ID:     ev.ID,
			UserID: ev.CustomerID,
			Kind:   "job_status",
			Title:  "Job update",
			Body:   body,
			Data:   map[string]any{"job_id": ev.JobID, "status": p.To},
		})
	})

	bus.Subscribe(events.SlaWarning, func(ctx context.Context, ev events.Event) {
		n.deliver(ctx, Notification{
			ID:         ev.ID,
			ProviderID: ev.ProviderID,
			Kind:       "sla_warning",
			Title:      "Deadline approaching",
			Body:       "One of your jobs is close to a service-level deadline.",
			Data:       map[string]any{"job_id": ev.JobID},
		})
	})

	bus.Subscribe(events.CredentialExpiring, func(ctx context.Context, ev events.Event) {
		n.deliver(ctx, Notification{
			ID:         ev.ID,
			ProviderID: ev.ProviderID,
			Kind:       "credential_expired",
			Title:      "Credential expired",
			Body:       "One of your credentials has expired. Upload a renewal to stay dispatchable.",
		})
	})
}

// statusBodies are the customer-facing messages per target status. Statuses
// absent here notify through other channels or not at all.
var statusBodies = map[string]string{
	"provider_en_route":     "Your provider is on the way.",
	"in_progress":           "Work on your job has started.",
	"completed":             "Your job is complete. Rate your provider.",
	"cancelled_by_provider": "Your provider cancelled. We are finding you a replacement.",
}
