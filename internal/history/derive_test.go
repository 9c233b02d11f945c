package history

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestDeriveCounts(t *testing.T) {
	now := time.Now()
	entries := []EntryStat{
		{Number: "0241000001", AllocationGB: dec("1"), Status: "sent"},
		{Number: "0241000002", AllocationGB: dec("2"), Status: "sent"},
		{Number: "0241000002", AllocationGB: dec("2"), Status: "sent"},
		{Number: "0241000003", AllocationGB: dec("5"), Status: "error"},
	}
	e := Derive("order-1", "user-1", "admin-1", entries, now)

	if e.ValidCount != 3 {
		t.Fatalf("ValidCount = %d, want 3", e.ValidCount)
	}
	if e.InvalidCount != 1 {
		t.Fatalf("InvalidCount = %d, want 1", e.InvalidCount)
	}
	if e.DuplicateCount != 1 {
		t.Fatalf("DuplicateCount = %d, want 1", e.DuplicateCount)
	}
	if !e.TotalGB.Equal(dec("5")) {
		t.Fatalf("TotalGB = %s, want 5", e.TotalGB)
	}
	if e.Type != TypeBundleOrder {
		t.Fatalf("Type = %q", e.Type)
	}
	if !e.CreatedAt.Equal(now) {
		t.Fatalf("CreatedAt = %v, want %v", e.CreatedAt, now)
	}
}

func TestDeriveDeterministicID(t *testing.T) {
	first := Derive("order-1", "u", "a", nil, time.Now())
	second := Derive("order-1", "u", "a", nil, time.Now())
	if first.ID != second.ID {
		t.Fatalf("ids differ: %s vs %s", first.ID, second.ID)
	}
	other := Derive("order-2", "u", "a", nil, time.Now())
	if other.ID == first.ID {
		t.Fatal("different orders must derive different ids")
	}
}

func TestDeriveEmptyEntries(t *testing.T) {
	e := Derive("order-1", "u", "a", nil, time.Now())
	if e.ValidCount != 0 || e.InvalidCount != 0 || e.DuplicateCount != 0 {
		t.Fatalf("counts = %d/%d/%d, want zeros", e.ValidCount, e.InvalidCount, e.DuplicateCount)
	}
	if !e.TotalGB.IsZero() {
		t.Fatalf("TotalGB = %s, want 0", e.TotalGB)
	}
}

func TestDeriveDuplicatesAcrossStatuses(t *testing.T) {
	entries := []EntryStat{
		{Number: "0241000001", AllocationGB: dec("1"), Status: "sent"},
		{Number: "0241000001", AllocationGB: dec("1"), Status: "error"},
		{Number: "0241000001", AllocationGB: dec("1"), Status: "sent"},
	}
	e := Derive("order-1", "u", "a", entries, time.Now())
	if e.DuplicateCount != 2 {
		t.Fatalf("DuplicateCount = %d, want 2", e.DuplicateCount)
	}
	if !e.TotalGB.Equal(dec("2")) {
		t.Fatalf("TotalGB = %s, want 2", e.TotalGB)
	}
}
