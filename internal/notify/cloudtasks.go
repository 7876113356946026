package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	taskspb "cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
)

// CloudTasksTransport delivers notifications as Cloud Tasks HTTP pushes to
// the mobile push endpoint. The queue handles retry with backoff, rate
// limiting, and dead-lettering.
type CloudTasksTransport struct {
	client       *cloudtasks.Client
	queuePath    string
	pushEndpoint string
	log          *slog.Logger
}

// NewCloudTasksTransport connects to the Cloud Tasks queue. All identifiers
// empty means the caller should use the memory transport instead.
func NewCloudTasksTransport(ctx context.Context, projectID, locationID, queueID, pushEndpoint string, log *slog.Logger) (*CloudTasksTransport, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := cloudtasks.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("cloudtasks.NewClient: %w", err)
	}

	t := &CloudTasksTransport{
		client:       client,
		queuePath:    fmt.Sprintf("projects/%s/locations/%s/queues/%s", projectID, locationID, queueID),
		pushEndpoint: pushEndpoint,
		log:          log,
	}
	log.Info("cloud tasks transport connected", "queue", t.queuePath)
	return t, nil
}

// Deliver enqueues one HTTP push task.
func (t *CloudTasksTransport) Deliver(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req := &taskspb.CreateTaskRequest{
		Parent: t.queuePath,
		Task: &taskspb.Task{
			MessageType: &taskspb.Task_HttpRequest{
				HttpRequest: &taskspb.HttpRequest{
					HttpMethod: taskspb.HttpMethod_POST,
					Url:        t.pushEndpoint,
					Headers: map[string]string{
						"Content-Type":            "application/json",
						"X-Notification-Kind":     n.Kind,
						"X-Notification-Event-Id": n.ID,
					},
					Body: payload,
				},
			},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := t.client.CreateTask(ctx, req); err != nil {
		return fmt.Errorf("enqueue push task: %w", err)
	}
	return nil
}

// Close shuts down the Cloud Tasks client.
func (t *CloudTasksTransport) Close() error { return t.client.Close() }
