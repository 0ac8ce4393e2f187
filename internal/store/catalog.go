package store

import (
	"context"
	"database/sql"
	"errors"

	"guildledger.app/internal/item"
)

// ReplaceItemDefs swaps the authoritative item table for the given defs,
// run at startup after the catalog files validate.
func (s *Store) ReplaceItemDefs(ctx context.Context, defs []item.Def) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM items`); err != nil {
		return err
	}
	for _, d := range defs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO items(name, category, kind) VALUES (?, ?, ?)`,
			d.Name, string(d.Category), d.Kind); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListItemDefs implements item.Source.
func (s *Store) ListItemDefs(ctx context.Context) ([]item.Def, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, category, kind FROM items ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []item.Def
	for rows.Next() {
		var d item.Def
		var category string
		if err := rows.Scan(&d.Name, &category, &d.Kind); err != nil {
			return nil, err
		}
		d.Category = item.Category(category)
		out = append(out, d)
	}
	return out, rows.Err()
}

// ShopItem is one catalog row of the community shop.
type ShopItem struct {
	Name      string
	Category  item.Category
	BuyPrice  float64
	SellPrice float64
}

func (s *Store) GetShopItem(ctx context.Context, name string) (ShopItem, error) {
	var (
		it       ShopItem
		category string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT name, category, buy_price, sell_price FROM shop WHERE name = ?`, name).
		Scan(&it.Name, &category, &it.BuyPrice, &it.SellPrice)
	if errors.Is(err, sql.ErrNoRows) {
		return it, ErrNotFound
	}
	it.Category = item.Category(category)
	return it, err
}

func (s *Store) UpsertShopItem(ctx context.Context, it ShopItem) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO shop(name, category, buy_price, sell_price) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			category = excluded.category,
			buy_price = excluded.buy_price,
			sell_price = excluded.sell_price`,
		it.Name, string(it.Category), it.BuyPrice, it.SellPrice)
	return err
}
