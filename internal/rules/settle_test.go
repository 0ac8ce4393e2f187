package rules

import (
	"math"
	"strings"
	"testing"

	"guildledger.app/internal/dice"
)

func TestTierFor(t *testing.T) {
	tun := Default()
	cases := map[int]int{1: 1, 2: 1, 3: 2, 4: 2, 5: 3, 8: 3, 9: 4, 20: 4, 25: 4}
	for level, want := range cases {
		if got := tun.TierFor(level); got != want {
			t.Fatalf("TierFor(%d) = %d, want %d", level, got, want)
		}
	}
}

func TestBracket(t *testing.T) {
	cases := map[int]string{1: "4", 4: "4", 5: "5", 6: "6", 9: "6"}
	for players, want := range cases {
		if got := Bracket(players); got != want {
			t.Fatalf("Bracket(%d) = %s, want %s", players, got, want)
		}
	}
}

// Levels 1,3,5,9 span four distinct tiers: always the averaged path.
func TestSettle_FourTiersUsesAveragedTable(t *testing.T) {
	tun := Default()
	res, err := tun.Settle(SettleInput{Levels: []int{1, 3, 5, 9}}, dice.NewRoller(1))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.Policy != PolicyAveraged {
		t.Fatalf("expected averaged policy, got %s", res.Policy)
	}
	want := tun.Averages[1]["4"] + tun.Averages[2]["4"] + tun.Averages[3]["4"] + tun.Averages[4]["4"]
	if res.Total != want {
		t.Fatalf("total %.2f, want %.2f", res.Total, want)
	}
}

// Three distinct tiers force the averaged path even when two tiers have a
// single member each.
func TestSettle_ThreeTiersNeverRolls(t *testing.T) {
	tun := Default()
	res, err := tun.Settle(SettleInput{Levels: []int{1, 3, 5, 5, 5}}, dice.NewRoller(1))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.Policy != PolicyAveraged {
		t.Fatalf("expected averaged policy, got %s", res.Policy)
	}
}

func TestSettle_OpenSentinelForcesAveraged(t *testing.T) {
	tun := Default()
	res, err := tun.Settle(SettleInput{Levels: []int{5, 5}, TableTier: "Open"}, dice.NewRoller(1))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.Policy != PolicyAveraged {
		t.Fatalf("expected averaged policy, got %s", res.Policy)
	}
}

func TestSettle_SingleTierRolls(t *testing.T) {
	tun := Default()
	res, err := tun.Settle(SettleInput{Levels: []int{5, 6, 7}}, dice.NewRoller(3))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.Policy != PolicyRolled {
		t.Fatalf("expected rolled policy, got %s", res.Policy)
	}
	f := tun.Formulas[3]
	min := float64(f.Count) * f.Multiplier
	max := float64(f.Count*f.Sides) * f.Multiplier
	if res.Total < min || res.Total > max {
		t.Fatalf("total %.2f outside [%.2f, %.2f]", res.Total, min, max)
	}
	if !strings.Contains(res.Criterion, "tier 3") {
		t.Fatalf("criterion missing tier: %q", res.Criterion)
	}
}

func TestSettle_TwoTierMinorityUsesMajorityFormula(t *testing.T) {
	tun := Default()
	// Three tier-3 players, one tier-4.
	res, err := tun.Settle(SettleInput{Levels: []int{5, 6, 7, 9}}, dice.NewRoller(3))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.Policy != PolicyRolled {
		t.Fatalf("expected rolled policy, got %s", res.Policy)
	}
	if !strings.Contains(res.Criterion, "majority tier 3") {
		t.Fatalf("criterion: %q", res.Criterion)
	}
}

func TestSettle_TwoTierTieSplitsPool(t *testing.T) {
	tun := Default()
	res, err := tun.Settle(SettleInput{Levels: []int{5, 5, 9, 9}}, dice.NewRoller(3))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !strings.Contains(res.Criterion, "mixed tiers 3/4") {
		t.Fatalf("criterion: %q", res.Criterion)
	}
}

func TestSettle_ManualOverride(t *testing.T) {
	tun := Default()
	res, err := tun.Settle(SettleInput{Levels: []int{1, 1}, ManualTotal: 1000}, dice.NewRoller(1))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.Policy != PolicyManual || res.Total != 1000 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.PerPlayer != 400 || res.Stronghold != 200 {
		t.Fatalf("split wrong: per=%.2f stronghold=%.2f", res.PerPlayer, res.Stronghold)
	}
}

// Shares plus stronghold always reconstruct the total within 2-decimal
// rounding, across policies and player counts.
func TestSettle_SplitInvariant(t *testing.T) {
	tun := Default()
	inputs := []SettleInput{
		{Levels: []int{1, 1, 1}},
		{Levels: []int{3, 3, 9, 9, 9}},
		{Levels: []int{1, 3, 5, 9, 9, 9}},
		{Levels: []int{5, 5, 5}, ManualTotal: 997.77},
		{Levels: []int{2, 2}, TableTier: TierOpen},
	}
	for i, in := range inputs {
		res, err := tun.Settle(in, dice.NewRoller(int64(i+1)))
		if err != nil {
			t.Fatalf("settle %d: %v", i, err)
		}
		sum := res.PerPlayer*float64(len(in.Levels)) + res.Stronghold
		if math.Abs(sum-res.Total) > 0.005 {
			t.Fatalf("input %d: %.2f + %.2f shares != total %.2f", i, res.Stronghold, res.PerPlayer, res.Total)
		}
	}
}

func TestSettle_NoPlayers(t *testing.T) {
	if _, err := Default().Settle(SettleInput{}, dice.NewRoller(1)); err == nil {
		t.Fatal("expected error for empty table")
	}
}
