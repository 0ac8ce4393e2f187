package item

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Category is a spreadsheet inventory column family.
type Category string

const (
	CategoryWeapons   Category = "weapons"
	CategoryArmor     Category = "armor"
	CategoryMundane   Category = "mundane"
	CategoryMaterials Category = "materials"
	CategoryHerbs     Category = "herbs"
	CategoryPotions   Category = "potions"
	CategoryMagic     Category = "magic"
	CategoryMisc      Category = "misc"
)

// Categories lists every inventory column family in render order.
var Categories = []Category{
	CategoryWeapons, CategoryArmor, CategoryMundane, CategoryMaterials,
	CategoryHerbs, CategoryPotions, CategoryMagic, CategoryMisc,
}

// Def is one authoritative catalog entry.
type Def struct {
	Name     string   `json:"name"`
	Category Category `json:"category"`
	// Kind sub-classifies mundane items: "weapon", "armor" or "".
	Kind string `json:"kind,omitempty"`
}

// Source provides the authoritative item table.
type Source interface {
	ListItemDefs(ctx context.Context) ([]Def, error)
}

// Catalog classifies item names into categories through an in-memory cache
// of the authoritative table. A lookup miss triggers one synchronous rescan
// before falling back to the misc category.
type Catalog struct {
	mu     sync.RWMutex
	source Source
	byName map[string]Def
	logger *slog.Logger
}

func NewCatalog(source Source, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{source: source, byName: map[string]Def{}, logger: logger}
}

// Warm populates the cache with one full scan.
func (c *Catalog) Warm(ctx context.Context) error {
	defs, err := c.source.ListItemDefs(ctx)
	if err != nil {
		return err
	}
	byName := make(map[string]Def, len(defs))
	for _, d := range defs {
		byName[strings.ToLower(d.Name)] = d
	}
	c.mu.Lock()
	c.byName = byName
	c.mu.Unlock()
	return nil
}

// Classify returns the category for a validation name. Unknown names map to
// CategoryMisc after a rescan fails to find them.
func (c *Catalog) Classify(ctx context.Context, validationName string) Category {
	def, ok := c.lookup(validationName)
	if !ok {
		if err := c.Warm(ctx); err != nil {
			c.logger.Warn("catalog rescan failed", "error", err)
			return CategoryMisc
		}
		if def, ok = c.lookup(validationName); !ok {
			return CategoryMisc
		}
	}
	if def.Category == CategoryMundane {
		switch def.Kind {
		case "weapon":
			return CategoryWeapons
		case "armor", "shield":
			return CategoryArmor
		}
	}
	return def.Category
}

// Validate returns the validation names absent from the authoritative
// table. Stacks flagged Misc are exempt. An empty result means every item
// is known.
func (c *Catalog) Validate(ctx context.Context, stacks []Stack) []string {
	var unknown []string
	rescanned := false
	for _, s := range stacks {
		if s.Misc {
			continue
		}
		if _, ok := c.lookup(s.ValidationName); ok {
			continue
		}
		if !rescanned {
			rescanned = true
			if err := c.Warm(ctx); err != nil {
				c.logger.Warn("catalog rescan failed", "error", err)
			}
			if _, ok := c.lookup(s.ValidationName); ok {
				continue
			}
		}
		unknown = append(unknown, s.ValidationName)
	}
	return unknown
}

func (c *Catalog) lookup(name string) (Def, bool) {
	c.mu.RLock()
	def, ok := c.byName[strings.ToLower(name)]
	c.mu.RUnlock()
	return def, ok
}
