package utils

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestPrefixedID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := PrefixedID("sub")
		rest, ok := strings.CutPrefix(id, "sub-")
		if !ok {
			t.Fatalf("id %q lacks prefix", id)
		}
		if _, err := uuid.Parse(rest); err != nil {
			t.Fatalf("id %q: %v", id, err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
