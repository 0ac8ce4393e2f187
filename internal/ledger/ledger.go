// Package ledger applies batched reward and trade outcomes to character
// inventories and gold balances.
//
// A batch is applied row by row: the target inventory cell is decoded,
// the signed deltas merged in, and the cell re-encoded and saved. Gold
// never goes below zero. Failures in one row never abort the rest of the
// batch; they are collected as warnings so the caller can report partial
// application instead of silently losing the remainder.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"guildledger.app/internal/item"
	"guildledger.app/internal/store"
)

// MessageEditor edits an already-sent Discord message. Satisfied by a
// thin wrapper over the gateway session; nil disables display refresh.
type MessageEditor interface {
	EditMessage(channelID, messageID, content string) error
}

// Change is one character's slice of a batch: a signed gold delta plus
// signed item stacks (negative amounts remove).
type Change struct {
	PlayerTag string
	Character string
	Gold      float64
	Items     []item.Stack
}

// Result summarizes a batch application.
type Result struct {
	// OK counts changes applied without any warning.
	OK       int
	Warnings []string
}

func (r Result) Failed() bool { return len(r.Warnings) > 0 }

const displayCacheSize = 256

type Ledger struct {
	store   *store.Store
	catalog *item.Catalog
	editor  MessageEditor
	log     *slog.Logger
	// delay paces consecutive row saves so the sheet mirror's writer is
	// never the queue bottleneck.
	delay time.Duration

	display *lru.Cache[string, string]
}

func New(st *store.Store, catalog *item.Catalog, editor MessageEditor, log *slog.Logger, delay time.Duration) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	display, _ := lru.New[string, string](displayCacheSize)
	return &Ledger{
		store:   st,
		catalog: catalog,
		editor:  editor,
		log:     log,
		delay:   delay,
		display: display,
	}
}

// ApplyBatch applies every change sequentially, pausing delay between
// rows. Each change is applied as far as possible; problems are reported
// per change, not per batch.
func (l *Ledger) ApplyBatch(ctx context.Context, changes []Change) Result {
	var res Result
	for i, ch := range changes {
		if i > 0 && l.delay > 0 {
			time.Sleep(l.delay)
		}
		warns := l.applyOne(ctx, ch)
		if len(warns) == 0 {
			res.OK++
		}
		res.Warnings = append(res.Warnings, warns...)
	}
	return res
}

func (l *Ledger) applyOne(ctx context.Context, ch Change) []string {
	var warns []string
	who := ch.PlayerTag + " / " + ch.Character

	if ch.Gold != 0 {
		if _, err := l.store.AddGold(ctx, ch.PlayerTag, ch.Character, ch.Gold); err != nil {
			warns = append(warns, fmt.Sprintf("%s: gold %+.2f: %v", who, ch.Gold, err))
		}
	}

	for cat, deltas := range l.bucket(ctx, ch.Items) {
		cell, err := l.store.InventoryCell(ctx, ch.PlayerTag, ch.Character, cat)
		if err != nil {
			warns = append(warns, fmt.Sprintf("%s: read %s: %v", who, cat, err))
			continue
		}
		current, err := item.ParseList(cell)
		if err != nil {
			warns = append(warns, fmt.Sprintf("%s: decode %s: %v", who, cat, err))
			continue
		}
		encoded := item.FormatList(item.Merge(current, deltas))
		if err := l.store.SetInventoryCell(ctx, ch.PlayerTag, ch.Character, cat, encoded); err != nil {
			warns = append(warns, fmt.Sprintf("%s: save %s: %v", who, cat, err))
		}
	}

	l.display.Remove(displayKey(ch.PlayerTag, ch.Character))
	l.refreshDisplay(ctx, ch.PlayerTag, ch.Character)
	return warns
}

// bucket groups signed stacks by inventory category.
func (l *Ledger) bucket(ctx context.Context, stacks []item.Stack) map[item.Category][]item.Stack {
	out := map[item.Category][]item.Stack{}
	for _, s := range stacks {
		cat := item.CategoryMisc
		if !s.Misc {
			cat = l.catalog.Classify(ctx, s.ValidationName)
		}
		out[cat] = append(out[cat], s)
	}
	return out
}

// ValidateRemoval checks that the character holds at least the requested
// amounts. It returns nil when the removal would succeed and otherwise an
// error naming every shortfall, so the whole request can be rejected
// before anything is written.
func (l *Ledger) ValidateRemoval(ctx context.Context, playerTag, character string, removals []item.Stack) error {
	inv, err := l.store.Inventory(ctx, playerTag, character)
	if err != nil {
		return err
	}
	held := map[string]int{}
	for _, stacks := range inv {
		for _, s := range stacks {
			held[strings.ToLower(s.Name)] += s.Amount
		}
	}

	var short []string
	for _, r := range removals {
		if have := held[strings.ToLower(r.Name)]; have < r.Amount {
			short = append(short, fmt.Sprintf("%s (possui %d, pediu %d)", r.Name, have, r.Amount))
		}
	}
	if len(short) > 0 {
		sort.Strings(short)
		return fmt.Errorf("itens insuficientes: %s", strings.Join(short, "; "))
	}
	return nil
}

// Render returns the character's inventory display text, served from the
// LRU cache when the underlying rows have not changed since the last
// apply.
func (l *Ledger) Render(ctx context.Context, playerTag, character string) (string, error) {
	key := displayKey(playerTag, character)
	if text, ok := l.display.Get(key); ok {
		return text, nil
	}

	c, err := l.store.GetCharacter(ctx, playerTag, character)
	if err != nil {
		return "", err
	}
	inv, err := l.store.Inventory(ctx, playerTag, character)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s** (nível %d)\n", c.Name, c.Level)
	fmt.Fprintf(&b, "Ouro: %.2f | Fichas: %d\n", c.Gold, c.Tokens)
	for _, cat := range item.Categories {
		stacks := inv[cat]
		if len(stacks) == 0 {
			continue
		}
		fmt.Fprintf(&b, "**%s:** %s\n", categoryLabel(cat), item.FormatList(stacks))
	}
	text := b.String()
	l.display.Add(key, text)
	return text, nil
}

func (l *Ledger) refreshDisplay(ctx context.Context, playerTag, character string) {
	if l.editor == nil {
		return
	}
	c, err := l.store.GetCharacter(ctx, playerTag, character)
	if err != nil || c.InvMessageID == "" {
		return
	}
	text, err := l.Render(ctx, playerTag, character)
	if err != nil {
		l.log.Warn("inventory render failed", "player", playerTag, "character", character, "err", err)
		return
	}
	if err := l.editor.EditMessage(c.InvChannelID, c.InvMessageID, text); err != nil {
		l.log.Warn("inventory message edit failed", "player", playerTag, "character", character, "err", err)
	}
}

func displayKey(playerTag, character string) string {
	return playerTag + "\x00" + character
}

var categoryLabels = map[item.Category]string{
	item.CategoryWeapons:   "Armas",
	item.CategoryArmor:     "Armaduras",
	item.CategoryMundane:   "Mundanos",
	item.CategoryMaterials: "Materiais",
	item.CategoryHerbs:     "Ervas",
	item.CategoryPotions:   "Poções",
	item.CategoryMagic:     "Mágicos",
	item.CategoryMisc:      "Diversos",
}

func categoryLabel(cat item.Category) string {
	if l, ok := categoryLabels[cat]; ok {
		return l
	}
	return string(cat)
}
