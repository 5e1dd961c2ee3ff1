package util

import (
	"strings"
	"testing"
)

func TestNewIDCarriesPrefix(t *testing.T) {
	id := NewID("rpt")
	if !strings.HasPrefix(id, "rpt_") {
		t.Fatalf("expected rpt_ prefix, got %q", id)
	}
	if len(id) != len("rpt_")+32 {
		t.Errorf("unexpected length for %q", id)
	}
}

func TestNewIDBareBody(t *testing.T) {
	id := NewID("")
	if len(id) != 32 {
		t.Fatalf("expected a 32-character body, got %q", id)
	}
	for _, r := range id {
		if (r < 'a' || r > 'z') && (r < '2' || r > '7') {
			t.Errorf("character %q outside the id alphabet in %q", r, id)
		}
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := NewID("")
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}
