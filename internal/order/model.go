package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order statuses. There is no path back to pending.
const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
)

// Entry statuses. Entries leave pending only as part of an order transition
// to processed.
const (
	EntryPending = "pending"
	EntrySent    = "sent"
	EntryError   = "error"
)

// Order is a bulk bundle order owned by one customer.
type Order struct {
	ID                 string          `json:"id"`
	UserID             string          `json:"userId"`
	UserEmail          string          `json:"userEmail"`
	UserName           string          `json:"userName"`
	Status             string          `json:"status"`
	TotalCount         int             `json:"totalCount"`
	TotalData          decimal.Decimal `json:"totalData"`
	Cost               decimal.Decimal `json:"cost"`
	EstimatedCost      decimal.Decimal `json:"estimatedCost"`
	PricingProfileName string          `json:"pricingProfileName"`
	ProcessedBy        string          `json:"processedBy,omitempty"`
	ProcessedAt        *time.Time      `json:"processedAt,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
}

// Entry is one line item of an order: a recipient number and the allocation
// to deliver to it.
type Entry struct {
	ID           string          `json:"id"`
	OrderID      string          `json:"orderId"`
	Number       string          `json:"number"`
	AllocationGB decimal.Decimal `json:"allocationGb"`
	Status       string          `json:"status"`
	Cost         decimal.Decimal `json:"cost"`
}
