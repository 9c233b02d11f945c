package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Profile is a pricing plan assigned to customers. Exactly one pricing mode
// applies: tiered profiles carry Tiers and ignore the formula fields, formula
// profiles carry no tiers.
type Profile struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	IsTiered       bool            `json:"isTiered"`
	BasePrice      decimal.Decimal `json:"basePrice"`
	DataPricePerGB decimal.Decimal `json:"dataPricePerGb"`
	MinimumCharge  decimal.Decimal `json:"minimumCharge"`
	IsActive       bool            `json:"isActive"`
	Tiers          []Tier          `json:"tiers,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Tier maps one exact allocation size to a price inside a tiered profile.
type Tier struct {
	ID        string          `json:"id"`
	ProfileID string          `json:"profileId"`
	DataGB    decimal.Decimal `json:"dataGb"`
	Price     decimal.Decimal `json:"price"`
}

// Entry is a single order line item to be priced: a recipient number plus the
// allocation size it should receive.
type Entry struct {
	Number       string
	AllocationGB decimal.Decimal
}

// EntryError describes one entry the profile could not price.
type EntryError struct {
	Number       string          `json:"number"`
	AllocationGB decimal.Decimal `json:"allocationGB"`
	Reason       string          `json:"reason"`
}

// Validation aggregates the outcome of pricing every entry of an order.
type Validation struct {
	IsValid        bool         `json:"isValid"`
	InvalidEntries []EntryError `json:"invalidEntries,omitempty"`
}
