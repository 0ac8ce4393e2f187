// Package dice implements dice rolling and the boundary parser for the
// third-party dice bot's chat output.
package dice

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// RollDetail captures one formula roll.
type RollDetail struct {
	Sides  int
	Values []int
	Total  int
}

// Roller produces rolls from a private source. A zero seed derives one from
// the clock; tests pass a fixed seed for determinism.
type Roller struct {
	rng *rand.Rand
}

func NewRoller(seed int64) *Roller {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Roller{rng: rand.New(rand.NewSource(seed))}
}

// Roll rolls count dice with the given sides. With advantage every die is
// rolled twice and the higher value kept.
func (r *Roller) Roll(count, sides int, advantage bool) (RollDetail, error) {
	if count <= 0 || sides <= 0 {
		return RollDetail{}, fmt.Errorf("invalid roll %dd%d", count, sides)
	}
	d := RollDetail{Sides: sides, Values: make([]int, 0, count)}
	for i := 0; i < count; i++ {
		v := r.rng.Intn(sides) + 1
		if advantage {
			if again := r.rng.Intn(sides) + 1; again > v {
				v = again
			}
		}
		d.Values = append(d.Values, v)
		d.Total += v
	}
	return d, nil
}

// Format renders a detail as "3d8 [2, 7, 5] = 14".
func (d RollDetail) Format() string {
	parts := make([]string, len(d.Values))
	for i, v := range d.Values {
		parts[i] = fmt.Sprint(v)
	}
	return fmt.Sprintf("%dd%d [%s] = %d", len(d.Values), d.Sides, strings.Join(parts, ", "), d.Total)
}
