package history

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TypeBundleOrder is the record type written for processed bundle orders.
const TypeBundleOrder = "bundle_order"

// Entry is an immutable audit snapshot derived from one processed order.
type Entry struct {
	ID             string          `json:"id"`
	OrderID        string          `json:"orderId"`
	UserID         string          `json:"userId"`
	ActorUserID    string          `json:"actorUserId"`
	Type           string          `json:"type"`
	TotalGB        decimal.Decimal `json:"totalGb"`
	ValidCount     int             `json:"validCount"`
	InvalidCount   int             `json:"invalidCount"`
	DuplicateCount int             `json:"duplicateCount"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// EntryStat is the slice of an order entry that history derivation needs.
type EntryStat struct {
	Number       string
	AllocationGB decimal.Decimal
	Status       string
}

// Entry statuses mirrored from the order domain.
const (
	statusSent  = "sent"
	statusError = "error"
)

// Namespace for deterministic history ids. Re-deriving history for the same
// order always yields the same id, so inserts can be conflict-free no-ops.
var historyNamespace = uuid.MustParse("b3a9f4c2-88e1-4e37-9b55-0d6f2c41a7de")

// DeterministicID derives the history entry id for an order.
func DeterministicID(orderID string) string {
	return uuid.NewSHA1(historyNamespace, []byte("order-history:"+orderID)).String()
}

// Derive builds the audit snapshot for a processed order. Pure function of
// its inputs: the id is deterministic per order, valid and invalid counts
// come from entry statuses, and duplicates count the extra occurrences of a
// repeated recipient number.
func Derive(orderID, ownerUserID, actorUserID string, entries []EntryStat, now time.Time) Entry {
	e := Entry{
		ID:          DeterministicID(orderID),
		OrderID:     orderID,
		UserID:      ownerUserID,
		ActorUserID: actorUserID,
		Type:        TypeBundleOrder,
		TotalGB:     decimal.Zero,
		CreatedAt:   now,
	}
	seen := make(map[string]int, len(entries))
	for _, entry := range entries {
		seen[entry.Number]++
		if seen[entry.Number] > 1 {
			e.DuplicateCount++
		}
		switch entry.Status {
		case statusSent:
			e.ValidCount++
			e.TotalGB = e.TotalGB.Add(entry.AllocationGB)
		case statusError:
			e.InvalidCount++
		}
	}
	return e
}
