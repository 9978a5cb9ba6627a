package xid

import (
	"strings"
	"testing"
	"time"
)

func TestAtCarriesPrefixAndTimestamp(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	id := At("INV", at)
	if !strings.HasPrefix(id, "INV-1767323045000000006-") {
		t.Fatalf("unexpected id %q", id)
	}
	if len(strings.Split(id, "-")) != 3 {
		t.Fatalf("expected prefix, stamp and random suffix, got %q", id)
	}
}

func TestNewIsUniqueAcrossCalls(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := New("INV")
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q after %d calls", id, i)
		}
		seen[id] = struct{}{}
	}
}
