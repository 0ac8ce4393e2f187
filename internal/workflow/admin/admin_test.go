package admin

import (
	"context"
	"path/filepath"
	"testing"

	"guildledger.app/internal/store"
	"guildledger.app/internal/workflow"
)

func newTestModule(t *testing.T) *Module {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "bot.db"), nil, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return &Module{deps: &workflow.Deps{Store: st}}
}

func TestParseSlots(t *testing.T) {
	slots, n, err := parseSlots("ana#1 - Mira - 3; bia#2 - Lua - 4\ncid#3 - Rex - 2")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if n != 3 || slots[0] != "ana#1 - Mira - 3" || slots[2] != "cid#3 - Rex - 2" {
		t.Fatalf("slots = %v n = %d", slots, n)
	}
	if slots[3] != "" {
		t.Fatalf("unused slot filled: %q", slots[3])
	}

	if _, _, err := parseSlots("ana#1 Mira 3"); err == nil {
		t.Fatal("malformed slot accepted")
	}
	if _, _, err := parseSlots("  ;  "); err == nil {
		t.Fatal("empty list accepted")
	}
	if _, _, err := parseSlots("a - b - 1;a - b - 1;a - b - 1;a - b - 1;a - b - 1;a - b - 1;a - b - 1"); err == nil {
		t.Fatal("seventh player accepted")
	}
}

// A created table only becomes settleable after the staff registers it.
func TestCreateTableThenRegister(t *testing.T) {
	m := newTestModule(t)
	ctx := context.Background()

	id, n, err := m.createTable(ctx, "gm#1", "Caverna", "2", "ana#1 - Mira - 3; bia#2 - Lua - 4")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if n != 2 {
		t.Fatalf("players = %d, want 2", n)
	}

	open, err := m.deps.Store.ListSettleable(ctx, "gm#1", false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("unregistered table already settleable: %+v", open)
	}

	if err := m.deps.Store.RegisterTable(ctx, id); err != nil {
		t.Fatalf("register: %v", err)
	}
	open, err = m.deps.Store.ListSettleable(ctx, "gm#1", false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(open) != 1 || open[0].ID != id || open[0].Players[1] != "bia#2 - Lua - 4" {
		t.Fatalf("registered table missing or mangled: %+v", open)
	}
}

func TestSaveCharacterKeepsOmittedBalances(t *testing.T) {
	m := newTestModule(t)
	ctx := context.Background()

	gold := 50.0
	tokens := 4
	if _, err := m.saveCharacter(ctx, characterInput{
		Tag: "ana#1", Name: "Mira", Level: 3, Gold: &gold, Tokens: &tokens,
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Level bump with gold and tokens omitted leaves the balances alone.
	ch, err := m.saveCharacter(ctx, characterInput{Tag: "ana#1", Name: "Mira", Level: 4})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if ch.Level != 4 || ch.Gold != 50 || ch.Tokens != 4 {
		t.Fatalf("balances not preserved: %+v", ch)
	}

	newGold := 12.5
	ch, err = m.saveCharacter(ctx, characterInput{
		Tag: "ana#1", Name: "Mira", Level: 4, Gold: &newGold,
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if ch.Gold != 12.5 || ch.Tokens != 4 {
		t.Fatalf("explicit gold not applied: %+v", ch)
	}
}

func TestCategoryFor(t *testing.T) {
	for _, c := range shopCategories {
		if got := categoryFor(c.value); got != c.category {
			t.Fatalf("categoryFor(%q) = %q, want %q", c.value, got, c.category)
		}
	}
}
