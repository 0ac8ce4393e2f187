// Package item converts between the delimited "quantity x name" inventory
// text used in chat and spreadsheet cells and structured item stacks, and
// classifies item names into catalog categories.
package item

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Stack is a named, quantified unit of an item.
type Stack struct {
	// Name is the display name, bracket detail suffix included.
	Name string `json:"name"`
	// ValidationName is Name with any bracketed suffix stripped; category
	// lookups use it.
	ValidationName string `json:"validation_name"`
	Amount         int    `json:"amount"`
	// Predefined items are eligible for x2 duplication when a double
	// reward modifier is active. Marked by a trailing "*" in the text form.
	Predefined bool `json:"predefined,omitempty"`
	// Misc items skip category validation.
	Misc bool `json:"misc,omitempty"`
}

var (
	qtyPrefix     = regexp.MustCompile(`^(\d+)\s*[xX]\s+`)
	bracketSuffix = regexp.MustCompile(`\s*\[[^\]]*\]\s*$`)
)

// ParseList parses a comma-separated item list such as
// "3x Healing Potion, Dagger*". Entries sharing the same case-folded
// display name are summed. The returned stacks keep input casing from the
// first occurrence.
func ParseList(text string) ([]Stack, error) {
	var (
		order []string
		byKey = map[string]*Stack{}
	)
	for _, raw := range strings.Split(text, ",") {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}

		amount := 1
		if m := qtyPrefix.FindStringSubmatch(entry); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid quantity in %q", entry)
			}
			amount = n
			entry = strings.TrimSpace(entry[len(m[0]):])
		}

		predefined := false
		if strings.HasSuffix(entry, "*") {
			predefined = true
			entry = strings.TrimSpace(strings.TrimSuffix(entry, "*"))
		}
		if entry == "" {
			return nil, fmt.Errorf("empty item name in %q", raw)
		}

		key := strings.ToLower(entry)
		if s, ok := byKey[key]; ok {
			s.Amount += amount
			s.Predefined = s.Predefined || predefined
			continue
		}
		byKey[key] = &Stack{
			Name:           entry,
			ValidationName: ValidationName(entry),
			Amount:         amount,
			Predefined:     predefined,
		}
		order = append(order, key)
	}

	out := make([]Stack, 0, len(order))
	for _, key := range order {
		out = append(out, *byKey[key])
	}
	return out, nil
}

// FormatList renders stacks back into the delimited text form, sorted
// alphabetically by name. Zero and negative amounts are dropped.
func FormatList(stacks []Stack) string {
	kept := make([]Stack, 0, len(stacks))
	for _, s := range stacks {
		if s.Amount > 0 {
			kept = append(kept, s)
		}
	}
	sort.Slice(kept, func(i, j int) bool {
		return strings.ToLower(kept[i].Name) < strings.ToLower(kept[j].Name)
	})

	parts := make([]string, 0, len(kept))
	for _, s := range kept {
		name := s.Name
		if s.Predefined {
			name += "*"
		}
		if s.Amount == 1 {
			parts = append(parts, name)
			continue
		}
		parts = append(parts, fmt.Sprintf("%dx %s", s.Amount, name))
	}
	return strings.Join(parts, ", ")
}

// ValidationName strips the bracketed detail suffix from a display name.
func ValidationName(name string) string {
	return strings.TrimSpace(bracketSuffix.ReplaceAllString(name, ""))
}

// Merge applies signed delta stacks onto current stacks and returns the
// result. Amounts that reach zero or below are removed.
func Merge(current, deltas []Stack) []Stack {
	byKey := map[string]*Stack{}
	var order []string
	add := func(s Stack) {
		key := strings.ToLower(s.Name)
		if cur, ok := byKey[key]; ok {
			cur.Amount += s.Amount
			cur.Predefined = cur.Predefined || s.Predefined
			return
		}
		cp := s
		byKey[key] = &cp
		order = append(order, key)
	}
	for _, s := range current {
		add(s)
	}
	for _, s := range deltas {
		add(s)
	}

	out := make([]Stack, 0, len(order))
	for _, key := range order {
		if byKey[key].Amount > 0 {
			out = append(out, *byKey[key])
		}
	}
	return out
}

// Negate returns the stacks with amounts negated, for removal deltas.
func Negate(stacks []Stack) []Stack {
	out := make([]Stack, len(stacks))
	for i, s := range stacks {
		s.Amount = -s.Amount
		out[i] = s
	}
	return out
}

// Count returns the amount held for a display name, case-insensitive.
func Count(stacks []Stack, name string) int {
	key := strings.ToLower(name)
	for _, s := range stacks {
		if strings.ToLower(s.Name) == key {
			return s.Amount
		}
	}
	return 0
}
