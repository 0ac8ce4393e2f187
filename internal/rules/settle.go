package rules

import (
	"fmt"
	"math"
	"strings"

	"guildledger.app/internal/dice"
)

// TierOpen is the history-row sentinel forcing the averaged gold table.
const TierOpen = "open"

// Policy names the gold computation path taken.
type Policy string

const (
	PolicyManual   Policy = "manual"
	PolicyRolled   Policy = "rolled"
	PolicyAveraged Policy = "averaged"
)

// SettleInput describes one table settlement.
type SettleInput struct {
	// Levels holds one entry per participating player.
	Levels []int
	// TableTier is the history row's tier field; TierOpen forces the
	// averaged table regardless of participant tiers.
	TableTier string
	// ManualTotal overrides rolling entirely when positive.
	ManualTotal float64
	// Advantage rolls every die twice keeping the higher. Derived from the
	// inverse of the "predicted loot" command option.
	Advantage bool
}

// SettleResult is the settled gold split.
type SettleResult struct {
	Total      float64
	PerPlayer  float64
	Stronghold float64
	Policy     Policy
	// Criterion is the human-readable derivation.
	Criterion string
}

// Settle computes the table's gold under one of three policies: a manual
// total, a tier-weighted dice roll (1-2 distinct tiers), or the averaged
// table (3+ tiers or the open sentinel). The stronghold share is diverted
// off the top and the remainder split evenly.
func (t Tuning) Settle(in SettleInput, roller *dice.Roller) (SettleResult, error) {
	n := len(in.Levels)
	if n == 0 {
		return SettleResult{}, fmt.Errorf("settle: no players")
	}

	var out SettleResult
	switch {
	case in.ManualTotal > 0:
		out.Policy = PolicyManual
		out.Total = in.ManualTotal
		out.Criterion = fmt.Sprintf("manual total %.2f", in.ManualTotal)

	case t.useAveraged(in):
		out.Policy = PolicyAveraged
		bracket := Bracket(n)
		var parts []string
		for _, lvl := range in.Levels {
			tier := t.TierFor(lvl)
			avg := t.Averages[tier][bracket]
			out.Total += avg
			parts = append(parts, fmt.Sprintf("T%d:%.0f", tier, avg))
		}
		out.Criterion = fmt.Sprintf("averaged table, bracket %s (%s)", bracket, strings.Join(parts, " + "))

	default:
		out.Policy = PolicyRolled
		total, criterion, err := t.rollGold(in, roller)
		if err != nil {
			return SettleResult{}, err
		}
		out.Total = total
		out.Criterion = criterion
	}

	out.Total = round2(out.Total)
	out.PerPlayer = round2(out.Total * (1 - t.StrongholdShare) / float64(n))
	out.Stronghold = round2(out.Total - out.PerPlayer*float64(n))
	return out, nil
}

func (t Tuning) useAveraged(in SettleInput) bool {
	if strings.EqualFold(strings.TrimSpace(in.TableTier), TierOpen) {
		return true
	}
	return len(t.distinctTiers(in.Levels)) >= 3
}

// distinctTiers returns tier -> member count.
func (t Tuning) distinctTiers(levels []int) map[int]int {
	counts := map[int]int{}
	for _, lvl := range levels {
		counts[t.TierFor(lvl)]++
	}
	return counts
}

func (t Tuning) rollGold(in SettleInput, roller *dice.Roller) (float64, string, error) {
	counts := t.distinctTiers(in.Levels)

	if len(counts) == 1 {
		var tier int
		for k := range counts {
			tier = k
		}
		f := t.Formulas[tier]
		d, err := roller.Roll(f.Count, f.Sides, in.Advantage)
		if err != nil {
			return 0, "", err
		}
		total := float64(d.Total) * f.Multiplier
		return total, fmt.Sprintf("tier %d roll %s x%.0f", tier, d.Format(), f.Multiplier), nil
	}

	// Two distinct tiers. A strict majority's formula applies alone; a tie
	// splits each formula's dice pool in half and sums the weighted parts.
	var tiers []int
	for k := range counts {
		tiers = append(tiers, k)
	}
	if len(tiers) != 2 {
		return 0, "", fmt.Errorf("settle: rolled policy with %d tiers", len(tiers))
	}
	a, b := tiers[0], tiers[1]
	if a > b {
		a, b = b, a
	}

	if counts[a] != counts[b] {
		majority := a
		if counts[b] > counts[a] {
			majority = b
		}
		f := t.Formulas[majority]
		d, err := roller.Roll(f.Count, f.Sides, in.Advantage)
		if err != nil {
			return 0, "", err
		}
		total := float64(d.Total) * f.Multiplier
		return total, fmt.Sprintf("majority tier %d roll %s x%.0f", majority, d.Format(), f.Multiplier), nil
	}

	fa, fb := t.Formulas[a], t.Formulas[b]
	halfLow := fa.Count / 2
	if halfLow == 0 {
		halfLow = 1
	}
	halfHigh := (fb.Count + 1) / 2
	da, err := roller.Roll(halfLow, fa.Sides, in.Advantage)
	if err != nil {
		return 0, "", err
	}
	db, err := roller.Roll(halfHigh, fb.Sides, in.Advantage)
	if err != nil {
		return 0, "", err
	}
	total := float64(da.Total)*fa.Multiplier + float64(db.Total)*fb.Multiplier
	criterion := fmt.Sprintf("mixed tiers %d/%d: %s x%.0f + %s x%.0f",
		a, b, da.Format(), fa.Multiplier, db.Format(), fb.Multiplier)
	return total, criterion, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
