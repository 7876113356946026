package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub"
)

// PubSubBridge mirrors every bus event onto a Cloud Pub/Sub topic for the
// analytics and billing consumers that live outside this service.
type PubSubBridge struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	log    *slog.Logger
}

// NewPubSubBridge connects to the topic. An empty project disables the
// bridge; callers get nil and skip Attach.
func NewPubSubBridge(ctx context.Context, projectID, topicID string, log *slog.Logger) (*PubSubBridge, error) {
	if projectID == "" {
		return nil, nil
	}

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}

	topic := client.Topic(topicID)
	ok, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("check topic %s: %w", topicID, err)
	}
	if !ok {
		client.Close()
		return nil, fmt.Errorf("pubsub topic %s does not exist", topicID)
	}

	return &PubSubBridge{client: client, topic: topic, log: log}, nil
}

// Attach subscribes the bridge to every event on the bus.
func (b *PubSubBridge) Attach(bus Bus) {
	bus.Subscribe(Wildcard, b.mirror)
}

func (b *PubSubBridge) mirror(ctx context.Context, ev Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		b.log.Error("encode event for pubsub", "event_id", ev.ID, "error", err)
		return
	}

	res := b.topic.Publish(ctx, &pubsub.Message{
		Data: raw,
		Attributes: map[string]string{
			"event_type": string(ev.Type),
			"event_id":   ev.ID,
		},
	})

	// publish results resolve asynchronously; log failures without blocking
	// the bus
	go func() {
		if _, err := res.Get(context.Background()); err != nil {
			b.log.Error("pubsub publish failed", "event_id", ev.ID, "error", err)
		}
	}()
}

// Close flushes pending publishes and releases the client.
func (b *PubSubBridge) Close() error {
	b.topic.Stop()
	return b.client.Close()
}
