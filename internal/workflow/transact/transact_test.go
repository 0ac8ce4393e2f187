package transact

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"guildledger.app/internal/item"
	"guildledger.app/internal/ledger"
	"guildledger.app/internal/store"
	"guildledger.app/internal/workflow"
)

func testModule(t *testing.T) (*Module, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "bot.db"), nil, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	if err := st.UpsertShopItem(ctx, store.ShopItem{
		Name: "Poção de Cura", Category: item.CategoryPotions, BuyPrice: 50, SellPrice: 25,
	}); err != nil {
		t.Fatalf("seed shop: %v", err)
	}
	catalog := item.NewCatalog(st, nil)
	deps := &workflow.Deps{
		Store:   st,
		Catalog: catalog,
		Ledger:  ledger.New(st, catalog, nil, nil, 0),
	}
	return &Module{deps: deps}, st
}

func TestPrice_BuyAndSellColumns(t *testing.T) {
	m, _ := testModule(t)
	ctx := context.Background()
	stacks := []item.Stack{{Name: "Poção de Cura", ValidationName: "Poção de Cura", Amount: 3}}

	buy, err := m.price(ctx, stacks, true)
	if err != nil {
		t.Fatalf("buy price: %v", err)
	}
	if buy != 150 {
		t.Fatalf("buy = %.2f, want 150", buy)
	}
	sell, err := m.price(ctx, stacks, false)
	if err != nil {
		t.Fatalf("sell price: %v", err)
	}
	if sell != 75 {
		t.Fatalf("sell = %.2f, want 75", sell)
	}
}

func TestPrice_RejectsOffShopItems(t *testing.T) {
	m, _ := testModule(t)
	_, err := m.price(context.Background(), []item.Stack{
		{Name: "Espada Lendária", ValidationName: "Espada Lendária", Amount: 1},
	}, true)
	if err == nil || !strings.Contains(err.Error(), "Espada Lendária") {
		t.Fatalf("off-shop item not rejected: %v", err)
	}
}

func TestValidateTake_GoldAndStock(t *testing.T) {
	m, st := testModule(t)
	ctx := context.Background()
	if err := st.UpsertCharacter(ctx, store.Character{PlayerTag: "ana#1", Name: "Mira", Gold: 30}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	char, err := st.GetCharacter(ctx, "ana#1", "Mira")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if err := m.validateTake(ctx, char, nil, 30); err != nil {
		t.Fatalf("exact balance rejected: %v", err)
	}
	if err := m.validateTake(ctx, char, nil, 30.01); err == nil {
		t.Fatal("overdraft accepted")
	}
	// Stock check goes through the ledger's removal validation.
	removal := []item.Stack{{Name: "Poção de Cura", ValidationName: "Poção de Cura", Amount: 1}}
	if err := m.validateTake(ctx, char, removal, 0); err == nil {
		t.Fatal("removal of unheld item accepted")
	}
}

func TestSummarize_ShowsAbsoluteAmounts(t *testing.T) {
	s := &Session{
		Kind: KindSell,
		Change: ledger.Change{
			Gold:  75,
			Items: item.Negate([]item.Stack{{Name: "Poção de Cura", ValidationName: "Poção de Cura", Amount: 3}}),
		},
	}
	out := summarize(s, store.Character{PlayerTag: "ana#1", Name: "Mira"})
	if !strings.Contains(out, "3x Poção de Cura") {
		t.Fatalf("negative amount leaked into summary: %q", out)
	}
	if !strings.Contains(out, "+75.00") {
		t.Fatalf("gold direction missing: %q", out)
	}
}
