package item

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

type fakeSource struct {
	defs  []Def
	scans int
}

func (f *fakeSource) ListItemDefs(_ context.Context) ([]Def, error) {
	f.scans++
	return f.defs, nil
}

func testDefs() []Def {
	return []Def{
		{Name: "Adaga", Category: CategoryMundane, Kind: "weapon"},
		{Name: "Escudo de Madeira", Category: CategoryMundane, Kind: "shield"},
		{Name: "Corda", Category: CategoryMundane},
		{Name: "Poção de Cura", Category: CategoryPotions},
		{Name: "Ferro", Category: CategoryMaterials},
	}
}

func TestCatalog_ClassifyMundaneSubBuckets(t *testing.T) {
	c := NewCatalog(&fakeSource{defs: testDefs()}, nil)
	if err := c.Warm(context.Background()); err != nil {
		t.Fatalf("warm: %v", err)
	}

	cases := []struct {
		name string
		want Category
	}{
		{"Adaga", CategoryWeapons},
		{"Escudo de Madeira", CategoryArmor},
		{"Corda", CategoryMundane},
		{"poção de cura", CategoryPotions},
		{"Ferro", CategoryMaterials},
	}
	for _, tc := range cases {
		if got := c.Classify(context.Background(), tc.name); got != tc.want {
			t.Fatalf("Classify(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

// Classification must be stable whether the cache is cold or warm.
func TestCatalog_ClassifyIdempotentColdAndWarm(t *testing.T) {
	src := &fakeSource{defs: testDefs()}
	c := NewCatalog(src, nil)

	// Cold: first lookup misses and triggers a rescan.
	cold := c.Classify(context.Background(), "Adaga")
	warm := c.Classify(context.Background(), "Adaga")
	if cold != warm || cold != CategoryWeapons {
		t.Fatalf("cold %q vs warm %q", cold, warm)
	}
	if src.scans != 1 {
		t.Fatalf("expected exactly 1 scan, got %d", src.scans)
	}
}

func TestCatalog_UnknownFallsBackToMisc(t *testing.T) {
	src := &fakeSource{defs: testDefs()}
	c := NewCatalog(src, nil)
	if err := c.Warm(context.Background()); err != nil {
		t.Fatalf("warm: %v", err)
	}
	if got := c.Classify(context.Background(), "Inexistente"); got != CategoryMisc {
		t.Fatalf("expected misc fallback, got %q", got)
	}
	// Miss pays one rescan on top of the warm scan.
	if src.scans != 2 {
		t.Fatalf("expected rescan on miss, scans=%d", src.scans)
	}
}

func TestCatalog_ValidateReportsUnknownAndExemptsMisc(t *testing.T) {
	c := NewCatalog(&fakeSource{defs: testDefs()}, nil)
	if err := c.Warm(context.Background()); err != nil {
		t.Fatalf("warm: %v", err)
	}
	stacks := []Stack{
		{Name: "Adaga", ValidationName: "Adaga", Amount: 1},
		{Name: "Coisa Estranha", ValidationName: "Coisa Estranha", Amount: 1},
		{Name: "Bugiganga", ValidationName: "Bugiganga", Amount: 1, Misc: true},
	}
	unknown := c.Validate(context.Background(), stacks)
	if len(unknown) != 1 || unknown[0] != "Coisa Estranha" {
		t.Fatalf("unexpected unknown list: %v", unknown)
	}
}

func TestLoadDefs_ValidFile(t *testing.T) {
	dir := t.TempDir()
	raw := `[
		{"name": "Adaga", "category": "mundane", "kind": "weapon"},
		{"name": "Poção de Cura", "category": "potions"}
	]`
	if err := os.WriteFile(filepath.Join(dir, "items.json"), []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := LoadDefs(dir)
	if err != nil {
		t.Fatalf("LoadDefs: %v", err)
	}
	if len(got.Defs) != 2 {
		t.Fatalf("expected 2 defs, got %d", len(got.Defs))
	}
	if got.Digest == "" {
		t.Fatal("missing digest")
	}
}

func TestLoadDefs_RejectsBadCategory(t *testing.T) {
	dir := t.TempDir()
	raw := `[{"name": "Adaga", "category": "swords"}]`
	if err := os.WriteFile(filepath.Join(dir, "items.json"), []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadDefs(dir); err == nil {
		t.Fatal("expected schema error")
	}
}

func TestLoadDefs_RejectsDuplicateName(t *testing.T) {
	dir := t.TempDir()
	raw := `[
		{"name": "Adaga", "category": "mundane"},
		{"name": "adaga", "category": "mundane"}
	]`
	if err := os.WriteFile(filepath.Join(dir, "items.json"), []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadDefs(dir); err == nil {
		t.Fatal("expected duplicate error")
	}
}
