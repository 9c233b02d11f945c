package history

import (
	"context"
	"math/big"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Store persists history entries. Writes are insert-only.
type Store struct {
	Pool *pgxpool.Pool
}

// Insert appends the entry. A conflict on the deterministic id means the
// order's history was already written and the call is a no-op.
func (s Store) Insert(ctx context.Context, e Entry) error {
	const q = `
INSERT INTO history_entries (id, order_id, user_id, actor_user_id, type, total_gb, valid_count, invalid_count, duplicate_count, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO NOTHING`
	_, err := s.Pool.Exec(ctx, q,
		e.ID, e.OrderID, e.UserID, e.ActorUserID, e.Type,
		e.TotalGB, e.ValidCount, e.InvalidCount, e.DuplicateCount, e.CreatedAt,
	)
	return err
}

// InsertTx appends the entry inside an existing transaction, used by order
// processing so history commits atomically with the status flip.
func (s Store) InsertTx(ctx context.Context, tx pgx.Tx, e Entry) error {
	const q = `
INSERT INTO history_entries (id, order_id, user_id, actor_user_id, type, total_gb, valid_count, invalid_count, duplicate_count, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO NOTHING`
	_, err := tx.Exec(ctx, q,
		e.ID, e.OrderID, e.UserID, e.ActorUserID, e.Type,
		e.TotalGB, e.ValidCount, e.InvalidCount, e.DuplicateCount, e.CreatedAt,
	)
	return err
}

// ListForUser returns history entries owned by the given user, newest first.
// A malformed user id owns nothing and yields an empty list.
func (s Store) ListForUser(ctx context.Context, userID string, limit, offset int) ([]Entry, error) {
	uid, err := toUUID(userID)
	if err != nil {
		return []Entry{}, nil
	}
	const q = `
SELECT id, order_id, user_id, actor_user_id, type, total_gb, valid_count, invalid_count, duplicate_count, created_at
FROM history_entries
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`
	rows, err := s.Pool.Query(ctx, q, uid, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// List returns all history entries, newest first.
func (s Store) List(ctx context.Context, limit, offset int) ([]Entry, error) {
	const q = `
SELECT id, order_id, user_id, actor_user_id, type, total_gb, valid_count, invalid_count, duplicate_count, created_at
FROM history_entries
ORDER BY created_at DESC
LIMIT $1 OFFSET $2`
	rows, err := s.Pool.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Count returns the number of history entries, optionally scoped to a user.
func (s Store) Count(ctx context.Context, userID string) (int64, error) {
	var total int64
	if userID == "" {
		err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM history_entries`).Scan(&total)
		return total, err
	}
	uid, err := toUUID(userID)
	if err != nil {
		return 0, nil
	}
	err = s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM history_entries WHERE user_id = $1`, uid).Scan(&total)
	return total, err
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	out := []Entry{}
	for rows.Next() {
		var (
			e         Entry
			id        pgtype.UUID
			orderID   pgtype.UUID
			totalGB   pgtype.Numeric
			createdAt pgtype.Timestamptz
		)
		if err := rows.Scan(&id, &orderID, &e.UserID, &e.ActorUserID, &e.Type,
			&totalGB, &e.ValidCount, &e.InvalidCount, &e.DuplicateCount, &createdAt); err != nil {
			return nil, err
		}
		e.ID = uuidString(id)
		e.OrderID = uuidString(orderID)
		e.TotalGB = fromNumeric(totalGB)
		if createdAt.Valid {
			e.CreatedAt = createdAt.Time
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func toUUID(value string) (pgtype.UUID, error) {
	parsed, err := uuid.Parse(value)
	if err != nil {
		return pgtype.UUID{}, err
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}, nil
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

func fromNumeric(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(new(big.Int).Set(n.Int), n.Exp)
}
