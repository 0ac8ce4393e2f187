// Package rules holds the numeric game tuning and the gold settlement
// policies derived from it.
package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tuning is the game's numeric configuration, loaded from tuning.yaml.
type Tuning struct {
	// Tiers maps ascending level ceilings to reward tiers. A level belongs
	// to the first entry whose MaxLevel is >= level.
	Tiers []TierBand `yaml:"tiers"`

	// Formulas is the per-tier dice formula for the rolled gold policy.
	Formulas map[int]GoldFormula `yaml:"formulas"`

	// Averages is the per-tier averaged gold (per player) keyed by
	// player-count bracket: "4" (up to four), "5", "6" (six or more).
	Averages map[int]map[string]float64 `yaml:"averages"`

	// StrongholdShare is the fraction of settled gold diverted to the
	// communal pool.
	StrongholdShare float64 `yaml:"stronghold_share"`

	DoubleTokenCost int `yaml:"double_token_cost"`
}

type TierBand struct {
	MaxLevel int `yaml:"max_level"`
	Tier     int `yaml:"tier"`
}

type GoldFormula struct {
	Count      int     `yaml:"count"`
	Sides      int     `yaml:"sides"`
	Multiplier float64 `yaml:"multiplier"`
}

// Load reads tuning.yaml.
func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) validate() error {
	if len(t.Tiers) == 0 {
		return fmt.Errorf("no tier bands")
	}
	last := 0
	for _, band := range t.Tiers {
		if band.MaxLevel <= last {
			return fmt.Errorf("tier bands must have ascending max_level")
		}
		last = band.MaxLevel
		if _, ok := t.Formulas[band.Tier]; !ok {
			return fmt.Errorf("tier %d has no formula", band.Tier)
		}
		if _, ok := t.Averages[band.Tier]; !ok {
			return fmt.Errorf("tier %d has no averages", band.Tier)
		}
	}
	if t.StrongholdShare < 0 || t.StrongholdShare >= 1 {
		return fmt.Errorf("stronghold_share out of range")
	}
	return nil
}

// TierFor maps a character level to its reward tier. Levels above the last
// band clamp to the last tier.
func (t Tuning) TierFor(level int) int {
	for _, band := range t.Tiers {
		if level <= band.MaxLevel {
			return band.Tier
		}
	}
	return t.Tiers[len(t.Tiers)-1].Tier
}

// Bracket buckets a player count into the averaged-table key.
func Bracket(players int) string {
	switch {
	case players <= 4:
		return "4"
	case players == 5:
		return "5"
	default:
		return "6"
	}
}

// Default returns the tuning used when no tuning.yaml is supplied, matching
// configs/tuning.yaml.
func Default() Tuning {
	return Tuning{
		Tiers: []TierBand{
			{MaxLevel: 2, Tier: 1},
			{MaxLevel: 4, Tier: 2},
			{MaxLevel: 8, Tier: 3},
			{MaxLevel: 20, Tier: 4},
		},
		Formulas: map[int]GoldFormula{
			1: {Count: 2, Sides: 6, Multiplier: 25},
			2: {Count: 3, Sides: 6, Multiplier: 50},
			3: {Count: 4, Sides: 8, Multiplier: 75},
			4: {Count: 4, Sides: 10, Multiplier: 125},
		},
		Averages: map[int]map[string]float64{
			1: {"4": 175, "5": 150, "6": 125},
			2: {"4": 525, "5": 450, "6": 375},
			3: {"4": 1350, "5": 1150, "6": 950},
			4: {"4": 2750, "5": 2350, "6": 1950},
		},
		StrongholdShare: 0.20,
		DoubleTokenCost: 2,
	}
}
