package pricing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kwesidev/backend-bundles/internal/events"
)

type captureEventStore struct {
	topics     []string
	aggregates []string
}

func (c *captureEventStore) InsertDomainEvent(_ context.Context, topic, aggregateID string, payload []byte) (events.DomainEvent, error) {
	c.topics = append(c.topics, topic)
	c.aggregates = append(c.aggregates, aggregateID)
	return events.DomainEvent{ID: "ev-1", Topic: topic, AggregateID: aggregateID, Payload: payload}, nil
}

func TestProfileEventsReachTheBus(t *testing.T) {
	store := &captureEventStore{}
	h := &Handler{Bus: &events.Bus{Store: store}}
	ctx := context.Background()

	h.emitProfileEvent(ctx, events.TopicProfileUpdated, "profile-1", map[string]any{"profileId": "profile-1"})
	h.emitProfileEvent(ctx, events.TopicProfileAssigned, "user-1", map[string]any{"userId": "user-1", "profileId": "profile-1"})

	require.Equal(t, []string{events.TopicProfileUpdated, events.TopicProfileAssigned}, store.topics)
	require.Equal(t, []string{"profile-1", "user-1"}, store.aggregates)
}

func TestProfileEventsWithoutBusAreNoOps(t *testing.T) {
	h := &Handler{}
	h.emitProfileEvent(context.Background(), events.TopicProfileUpdated, "profile-1", nil)
}
