package events

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists domain events in PostgreSQL.
type PGStore struct {
	Pool *pgxpool.Pool
}

// InsertDomainEvent appends an event row and returns it with the generated
// id and timestamp.
func (s PGStore) InsertDomainEvent(ctx context.Context, topic, aggregateID string, payload []byte) (DomainEvent, error) {
	const q = `
INSERT INTO domain_events (topic, aggregate_id, payload)
VALUES ($1, $2, $3)
RETURNING id, topic, aggregate_id, payload, occurred_at`
	var (
		id         pgtype.UUID
		aggregate  pgtype.UUID
		occurredAt pgtype.Timestamptz
		ev         DomainEvent
	)
	row := s.Pool.QueryRow(ctx, q, topic, aggregateID, payload)
	if err := row.Scan(&id, &ev.Topic, &aggregate, &ev.Payload, &occurredAt); err != nil {
		return DomainEvent{}, err
	}
	ev.ID = uuidString(id)
	ev.AggregateID = uuidString(aggregate)
	if occurredAt.Valid {
		ev.OccurredAt = occurredAt.Time
	} else {
		ev.OccurredAt = time.Now()
	}
	return ev, nil
}

func uuidString(u pgtype.UUID) string {
	if !u.Valid {
		return ""
	}
	value, err := u.Value()
	if err != nil {
		return ""
	}
	s, _ := value.(string)
	return s
}
