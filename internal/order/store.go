package order

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kwesidev/backend-bundles/internal/history"
)

// PGStore is the PostgreSQL implementation of the service Store.
type PGStore struct {
	Pool *pgxpool.Pool
}

const orderColumns = `id, user_id, user_email, user_name, status, total_count, total_data, cost, estimated_cost, pricing_profile_name, processed_by, processed_at, created_at`

// CreateOrder persists the order and its entries atomically.
func (s PGStore) CreateOrder(ctx context.Context, o Order, entries []Entry) error {
	oID, err := toUUID(o.ID)
	if err != nil {
		return fmt.Errorf("order: invalid order id: %w", err)
	}
	uID, err := toUUID(o.UserID)
	if err != nil {
		return fmt.Errorf("order: invalid user id: %w", err)
	}
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
INSERT INTO orders (id, user_id, user_email, user_name, status, total_count, total_data, cost, estimated_cost, pricing_profile_name, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		oID, uID, o.UserEmail, o.UserName, o.Status, o.TotalCount, o.TotalData,
		o.Cost, o.EstimatedCost, o.PricingProfileName, o.CreatedAt)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		eID, err := toUUID(entry.ID)
		if err != nil {
			return fmt.Errorf("order: invalid entry id: %w", err)
		}
		_, err = tx.Exec(ctx, `
INSERT INTO order_entries (id, order_id, number, allocation_gb, status, cost)
VALUES ($1, $2, $3, $4, $5, $6)`,
			eID, oID, entry.Number, entry.AllocationGB, entry.Status, entry.Cost)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// GetOrder loads an order with its entries.
func (s PGStore) GetOrder(ctx context.Context, orderID string) (Order, []Entry, error) {
	oID, err := toUUID(orderID)
	if err != nil {
		return Order{}, nil, ErrOrderNotFound
	}
	row := s.Pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, oID)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, nil, ErrOrderNotFound
		}
		return Order{}, nil, err
	}
	entries, err := s.listEntries(ctx, oID)
	if err != nil {
		return Order{}, nil, err
	}
	return o, entries, nil
}

// GetOrderForUser loads an order only when owned by the given user.
func (s PGStore) GetOrderForUser(ctx context.Context, orderID, userID string) (Order, []Entry, error) {
	oID, err := toUUID(orderID)
	if err != nil {
		return Order{}, nil, ErrOrderNotFound
	}
	uID, err := toUUID(userID)
	if err != nil {
		return Order{}, nil, ErrOrderNotFound
	}
	row := s.Pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 AND user_id = $2`, oID, uID)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, nil, ErrOrderNotFound
		}
		return Order{}, nil, err
	}
	entries, err := s.listEntries(ctx, oID)
	if err != nil {
		return Order{}, nil, err
	}
	return o, entries, nil
}

// ListForUser returns the user's orders, newest first.
func (s PGStore) ListForUser(ctx context.Context, userID string, limit, offset int) ([]Order, error) {
	uID, err := toUUID(userID)
	if err != nil {
		return []Order{}, nil
	}
	rows, err := s.Pool.Query(ctx, `
SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		uID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

// CountForUser returns the number of orders the user owns.
func (s PGStore) CountForUser(ctx context.Context, userID string) (int64, error) {
	uID, err := toUUID(userID)
	if err != nil {
		return 0, nil
	}
	var total int64
	err = s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE user_id = $1`, uID).Scan(&total)
	return total, err
}

// List returns orders across all users, optionally filtered by status.
func (s PGStore) List(ctx context.Context, status string, limit, offset int) ([]Order, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if status == "" {
		rows, err = s.Pool.Query(ctx, `
SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	} else {
		rows, err = s.Pool.Query(ctx, `
SELECT `+orderColumns+` FROM orders WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, status, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

// Count returns the number of orders, optionally filtered by status.
func (s PGStore) Count(ctx context.Context, status string) (int64, error) {
	var total int64
	if status == "" {
		err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders`).Scan(&total)
		return total, err
	}
	err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE status = $1`, status).Scan(&total)
	return total, err
}

// MarkProcessed commits the processed transition, the entry cascade, and the
// history snapshot in one transaction. The status guard on the order update
// makes the transition win-once: a second attempt affects zero rows and
// reports ErrAlreadyProcessed.
func (s PGStore) MarkProcessed(ctx context.Context, o Order, entries []Entry, hist history.Entry) error {
	oID, err := toUUID(o.ID)
	if err != nil {
		return ErrOrderNotFound
	}
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	processedBy, err := toUUID(o.ProcessedBy)
	if err != nil {
		return fmt.Errorf("order: invalid operator id: %w", err)
	}
	tag, err := tx.Exec(ctx, `
UPDATE orders
SET status = $2, cost = $3, estimated_cost = $4, processed_by = $5, processed_at = $6
WHERE id = $1 AND status = $7`,
		oID, StatusProcessed, o.Cost, o.EstimatedCost, processedBy, o.ProcessedAt, StatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyProcessed
	}

	for _, entry := range entries {
		eID, err := toUUID(entry.ID)
		if err != nil {
			return fmt.Errorf("order: invalid entry id: %w", err)
		}
		_, err = tx.Exec(ctx, `
UPDATE order_entries SET status = $2, cost = $3 WHERE id = $1`,
			eID, entry.Status, entry.Cost)
		if err != nil {
			return err
		}
	}

	if err := (history.Store{}).InsertTx(ctx, tx, hist); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s PGStore) listEntries(ctx context.Context, orderID pgtype.UUID) ([]Entry, error) {
	rows, err := s.Pool.Query(ctx, `
SELECT id, order_id, number, allocation_gb, status, cost
FROM order_entries WHERE order_id = $1 ORDER BY number, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			entry Entry
			id    pgtype.UUID
			oID   pgtype.UUID
			alloc pgtype.Numeric
			cost  pgtype.Numeric
		)
		if err := rows.Scan(&id, &oID, &entry.Number, &alloc, &entry.Status, &cost); err != nil {
			return nil, err
		}
		entry.ID = uuidString(id)
		entry.OrderID = uuidString(oID)
		entry.AllocationGB = fromNumeric(alloc)
		entry.Cost = fromNumeric(cost)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanOrder(row scannable) (Order, error) {
	var (
		o           Order
		id          pgtype.UUID
		userID      pgtype.UUID
		totalData   pgtype.Numeric
		cost        pgtype.Numeric
		estimated   pgtype.Numeric
		processedBy pgtype.UUID
		processedAt pgtype.Timestamptz
		createdAt   pgtype.Timestamptz
	)
	err := row.Scan(&id, &userID, &o.UserEmail, &o.UserName, &o.Status, &o.TotalCount,
		&totalData, &cost, &estimated, &o.PricingProfileName, &processedBy, &processedAt, &createdAt)
	if err != nil {
		return Order{}, err
	}
	o.ID = uuidString(id)
	o.UserID = uuidString(userID)
	o.TotalData = fromNumeric(totalData)
	o.Cost = fromNumeric(cost)
	o.EstimatedCost = fromNumeric(estimated)
	o.ProcessedBy = uuidString(processedBy)
	if processedAt.Valid {
		t := processedAt.Time
		o.ProcessedAt = &t
	}
	if createdAt.Valid {
		o.CreatedAt = createdAt.Time
	}
	return o, nil
}

func scanOrders(rows pgx.Rows) ([]Order, error) {
	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
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

func uuidString(id pgtype.UUID) string {
	if !id.Valid {
		return ""
	}
	value, err := id.Value()
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
