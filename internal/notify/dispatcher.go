package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kwesidev/backend-bundles/internal/common"
	"github.com/kwesidev/backend-bundles/internal/events"
	"github.com/kwesidev/backend-bundles/internal/queue"
)

const emailTask = "email-notification"

// EmailTask returns the queue kind used for email notifications.
func EmailTask() string {
	return emailTask
}

// Dispatcher moves email sending off the request path. It implements
// events.Notifier by enqueueing a task that the worker binary delivers.
type Dispatcher struct {
	Queue              queue.Enqueuer
	DefaultMaxAttempts int
	TopicToggles       map[string]bool
}

// Notify enqueues an email task for the event. Events without a recipient in
// the payload are skipped silently.
func (d Dispatcher) Notify(ctx context.Context, event events.DomainEvent) error {
	if d.Queue.R == nil {
		return nil
	}
	if d.TopicToggles != nil {
		if enabled, ok := d.TopicToggles[event.Topic]; ok && !enabled {
			return nil
		}
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: encode event: %w", err)
	}
	maxAttempts := d.DefaultMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 6
	}
	return d.Queue.Enqueue(ctx, queue.Task{
		Kind:           emailTask,
		Payload:        raw,
		IdempotencyKey: event.ID,
		MaxAttempts:    maxAttempts,
	})
}

// EmailWorkerHandler returns a queue handler that decodes queued events and
// sends the corresponding email.
func EmailWorkerHandler(sender common.EmailSender) func(context.Context, queue.Task) error {
	notifier := EmailNotifier{Mail: sender, Enabled: true}
	return func(ctx context.Context, task queue.Task) error {
		var event events.DomainEvent
		if err := json.Unmarshal(task.Payload, &event); err != nil {
			return fmt.Errorf("notify: decode task: %w", err)
		}
		return notifier.Notify(ctx, event)
	}
}
