package catalog

import "testing"

func TestLoadBundled(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Len() == 0 {
		t.Fatal("bundled catalog is empty")
	}
}

func TestResolveByAnyKey(t *testing.T) {
	c, err := parse([]byte(`[
		{"id":"JR-East.Yamanote","odpt:railway":"odpt.Railway:JR-East.Yamanote","route":"JR山手線"},
		{"id":"TokyoMetro.Tozai","odpt:railway":"odpt.Railway:TokyoMetro.Tozai","route":"東京メトロ東西線"}
	]`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	keys := []string{"JR-East.Yamanote", "odpt.Railway:JR-East.Yamanote", "JR山手線"}
	for _, k := range keys {
		r, ok := c.Resolve(k)
		if !ok {
			t.Fatalf("Resolve(%q) not found", k)
		}
		if r.InternalID != "JR-East.Yamanote" {
			t.Fatalf("Resolve(%q) = %q", k, r.InternalID)
		}
	}

	if _, ok := c.Resolve("Chuo"); ok {
		t.Fatal("Resolve should miss unknown key")
	}
}

func TestDisplayNameFallback(t *testing.T) {
	c, err := parse([]byte(`[{"id":"A","odpt:railway":"feed.A","route":"Line A"}]`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := c.DisplayNameOr("A"); got != "Line A" {
		t.Fatalf("DisplayNameOr(A) = %q", got)
	}
	// Unmapped ids fall back to the id itself.
	if got := c.DisplayNameOr("ghost.line"); got != "ghost.line" {
		t.Fatalf("DisplayNameOr(ghost.line) = %q", got)
	}
}

func TestDuplicateIDRejected(t *testing.T) {
	_, err := parse([]byte(`[
		{"id":"A","odpt:railway":"feed.A","route":"Line A"},
		{"id":"A","odpt:railway":"feed.A2","route":"Line A2"}
	]`))
	if err == nil {
		t.Fatal("expected error for duplicate id")
	}
}
