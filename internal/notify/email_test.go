package notify_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kwesidev/backend-bundles/internal/common"
	"github.com/kwesidev/backend-bundles/internal/events"
	"github.com/kwesidev/backend-bundles/internal/notify"
	"github.com/kwesidev/backend-bundles/internal/queue"
)

func orderEvent(t *testing.T, topic string, payload map[string]any) events.DomainEvent {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return events.DomainEvent{
		ID:          "evt-1",
		Topic:       topic,
		AggregateID: "order-1",
		Payload:     raw,
		OccurredAt:  time.Now(),
	}
}

func TestEmailNotifierSendsOrderProcessed(t *testing.T) {
	sink := &common.InMemoryEmail{}
	notifier := notify.EmailNotifier{Mail: sink, Enabled: true}

	event := orderEvent(t, events.TopicOrderProcessed, map[string]any{
		"email":     "kofi@example.com",
		"orderId":   "order-1",
		"totalCost": "95.00",
	})
	require.NoError(t, notifier.Notify(context.Background(), event))

	sent := sink.Outbox
	require.Len(t, sent, 1)
	require.Equal(t, "kofi@example.com", sent[0].To)
	require.Equal(t, "Your bundle order has been processed", sent[0].Subject)
	require.Contains(t, sent[0].Body, "GHS 95.00")
}

func TestEmailNotifierSkipsWithoutRecipient(t *testing.T) {
	sink := &common.InMemoryEmail{}
	notifier := notify.EmailNotifier{Mail: sink, Enabled: true}

	event := orderEvent(t, events.TopicOrderCreated, map[string]any{"orderId": "order-1"})
	require.NoError(t, notifier.Notify(context.Background(), event))
	require.Empty(t, sink.Outbox)
}

func TestEmailNotifierHonoursTopicToggle(t *testing.T) {
	sink := &common.InMemoryEmail{}
	notifier := notify.EmailNotifier{
		Mail:         sink,
		Enabled:      true,
		TopicToggles: map[string]bool{events.TopicOrderCreated: false},
	}

	event := orderEvent(t, events.TopicOrderCreated, map[string]any{"email": "a@b.c"})
	require.NoError(t, notifier.Notify(context.Background(), event))
	require.Empty(t, sink.Outbox)
}

func TestEmailWorkerHandlerRoundTrip(t *testing.T) {
	sink := &common.InMemoryEmail{}
	handler := notify.EmailWorkerHandler(sink)

	event := orderEvent(t, events.TopicOrderProcessed, map[string]any{
		"email":   "ama@example.com",
		"orderId": "order-9",
	})
	raw, err := json.Marshal(event)
	require.NoError(t, err)

	require.NoError(t, handler(context.Background(), queue.Task{Kind: notify.EmailTask(), Payload: raw}))
	require.Len(t, sink.Outbox, 1)
}
