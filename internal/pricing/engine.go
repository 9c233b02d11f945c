package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// moneyPlaces is the number of fractional digits kept on computed costs.
// Costs are truncated, never rounded, so repeated pricing passes cannot
// drift.
const moneyPlaces = 2

// ReasonInvalidAllocation marks entries whose allocation size is not a
// positive number. Reported through the same EntryError shape as a tier
// mismatch so the validator can aggregate both in one pass.
const ReasonInvalidAllocation = "invalid allocation"

// ResolveTierPrice returns the price of the tier whose allocation size
// matches requestedGB exactly. Allocation sizes are a closed catalog, so
// there is no rounding and no interpolation: anything that does not match is
// a data-entry error, reported as no match.
func ResolveTierPrice(tiers []Tier, requestedGB decimal.Decimal) (decimal.Decimal, bool) {
	for _, tier := range tiers {
		if tier.DataGB.Equal(requestedGB) {
			return tier.Price, true
		}
	}
	return decimal.Zero, false
}

// PriceEntry computes the cost of a single entry against the profile. A nil
// EntryError means the returned cost is final.
func PriceEntry(profile Profile, entry Entry) (decimal.Decimal, *EntryError) {
	if entry.AllocationGB.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, &EntryError{
			Number:       entry.Number,
			AllocationGB: entry.AllocationGB,
			Reason:       ReasonInvalidAllocation,
		}
	}
	if profile.IsTiered {
		price, ok := ResolveTierPrice(profile.Tiers, entry.AllocationGB)
		if !ok {
			return decimal.Zero, &EntryError{
				Number:       entry.Number,
				AllocationGB: entry.AllocationGB,
				Reason:       fmt.Sprintf("no tier for %sGB", entry.AllocationGB.String()),
			}
		}
		return price.Truncate(moneyPlaces), nil
	}
	// Formula profiles floor every entry at the minimum charge. The floor is
	// per entry, not per order, which makes totals grow non-linearly with
	// entry count.
	cost := profile.BasePrice.Add(entry.AllocationGB.Mul(profile.DataPricePerGB))
	if cost.LessThan(profile.MinimumCharge) {
		cost = profile.MinimumCharge
	}
	return cost.Truncate(moneyPlaces), nil
}

// ValidateEntries prices every entry and collects all failures instead of
// stopping at the first. An order with any invalid entry is rejected
// wholesale by the caller.
func ValidateEntries(profile Profile, entries []Entry) Validation {
	result := Validation{IsValid: true}
	for _, entry := range entries {
		if _, entryErr := PriceEntry(profile, entry); entryErr != nil {
			result.IsValid = false
			result.InvalidEntries = append(result.InvalidEntries, *entryErr)
		}
	}
	return result
}

// PriceEntries prices every entry, returning per-entry costs aligned with the
// input slice plus the aggregate validation outcome. Entries that failed
// pricing carry a zero cost.
func PriceEntries(profile Profile, entries []Entry) ([]decimal.Decimal, Validation) {
	costs := make([]decimal.Decimal, len(entries))
	result := Validation{IsValid: true}
	for i, entry := range entries {
		cost, entryErr := PriceEntry(profile, entry)
		if entryErr != nil {
			result.IsValid = false
			result.InvalidEntries = append(result.InvalidEntries, *entryErr)
			costs[i] = decimal.Zero
			continue
		}
		costs[i] = cost
	}
	return costs, result
}

// SumCosts adds per-entry costs into an order total.
func SumCosts(costs []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, cost := range costs {
		total = total.Add(cost)
	}
	return total
}
