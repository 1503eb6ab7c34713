package ids

import (
	"testing"

	"github.com/google/uuid"
)

func TestUUIDProviderIssuesDistinctVersion7Identifiers(t *testing.T) {
	provider := NewUUIDProvider()
	seen := make(map[string]struct{})
	for range 16 {
		id, err := provider.NewID()
		if err != nil {
			t.Fatalf("NewID returned error: %v", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			t.Fatalf("expected a uuid, got %q: %v", id, err)
		}
		if parsed.Version() != 7 {
			t.Fatalf("expected version 7, got %d", parsed.Version())
		}
		if _, duplicate := seen[id]; duplicate {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}
