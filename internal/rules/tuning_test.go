package rules

import (
	"os"
	"path/filepath"
	"testing"
)

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("could not find repo root from %s", dir)
		}
		dir = parent
	}
}

func TestLoad_ShippedTuningMatchesDefault(t *testing.T) {
	root := findRepoRoot(t)
	got, err := Load(filepath.Join(root, "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := Default()
	if got.StrongholdShare != def.StrongholdShare {
		t.Fatalf("stronghold share %.2f != %.2f", got.StrongholdShare, def.StrongholdShare)
	}
	if got.DoubleTokenCost != def.DoubleTokenCost {
		t.Fatalf("token cost %d != %d", got.DoubleTokenCost, def.DoubleTokenCost)
	}
	if len(got.Tiers) != len(def.Tiers) {
		t.Fatalf("tier bands %d != %d", len(got.Tiers), len(def.Tiers))
	}
	for lvl := 1; lvl <= 20; lvl++ {
		if got.TierFor(lvl) != def.TierFor(lvl) {
			t.Fatalf("TierFor(%d) diverges between file and default", lvl)
		}
	}
}

func TestLoad_RejectsMissingFormula(t *testing.T) {
	dir := t.TempDir()
	raw := `
tiers:
  - { max_level: 20, tier: 1 }
formulas: {}
averages:
  1: { "4": 100, "5": 90, "6": 80 }
stronghold_share: 0.2
`
	path := filepath.Join(dir, "tuning.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoad_RejectsUnorderedBands(t *testing.T) {
	dir := t.TempDir()
	raw := `
tiers:
  - { max_level: 8, tier: 1 }
  - { max_level: 4, tier: 2 }
formulas:
  1: { count: 1, sides: 6, multiplier: 10 }
  2: { count: 1, sides: 6, multiplier: 10 }
averages:
  1: { "4": 100, "5": 90, "6": 80 }
  2: { "4": 100, "5": 90, "6": 80 }
stronghold_share: 0.2
`
	path := filepath.Join(dir, "tuning.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}
