package history

import (
	"context"
	"testing"
)

func TestListForUserMalformedID(t *testing.T) {
	s := Store{}
	entries, err := s.ListForUser(context.Background(), "not-a-uuid", 10, 0)
	if err != nil {
		t.Fatalf("ListForUser returned error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries = %d, want 0", len(entries))
	}
}

func TestCountMalformedID(t *testing.T) {
	s := Store{}
	total, err := s.Count(context.Background(), "not-a-uuid")
	if err != nil {
		t.Fatalf("Count returned error: %v", err)
	}
	if total != 0 {
		t.Fatalf("total = %d, want 0", total)
	}
}
