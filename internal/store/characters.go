package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"

	"guildledger.app/internal/item"
	"guildledger.app/internal/sheetsync"
)

// Character is one playable character row, keyed by (player tag, name).
type Character struct {
	PlayerTag string
	Name      string
	Level     int
	Gold      float64
	Tokens    int
	// Inventory display message binding; empty when none is rendered.
	InvChannelID string
	InvMessageID string
}

func (s *Store) GetCharacter(ctx context.Context, playerTag, name string) (Character, error) {
	var c Character
	err := s.db.QueryRowContext(ctx,
		`SELECT player_tag, name, level, gold, tokens, inv_channel_id, inv_message_id
		 FROM characters WHERE player_tag = ? AND name = ?`, playerTag, name).
		Scan(&c.PlayerTag, &c.Name, &c.Level, &c.Gold, &c.Tokens, &c.InvChannelID, &c.InvMessageID)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	return c, err
}

func (s *Store) ListCharacters(ctx context.Context, playerTag string) ([]Character, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT player_tag, name, level, gold, tokens, inv_channel_id, inv_message_id
		 FROM characters WHERE player_tag = ? ORDER BY name`, playerTag)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Character
	for rows.Next() {
		var c Character
		if err := rows.Scan(&c.PlayerTag, &c.Name, &c.Level, &c.Gold, &c.Tokens, &c.InvChannelID, &c.InvMessageID); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpsertCharacter(ctx context.Context, c Character) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO characters(player_tag, name, level, gold, tokens, inv_channel_id, inv_message_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(player_tag, name) DO UPDATE SET
			level = excluded.level, gold = excluded.gold, tokens = excluded.tokens,
			inv_channel_id = excluded.inv_channel_id, inv_message_id = excluded.inv_message_id`,
		c.PlayerTag, c.Name, c.Level, round2(c.Gold), c.Tokens, c.InvChannelID, c.InvMessageID)
	if err != nil {
		return err
	}
	s.mirrorCharacter(c)
	return nil
}

// AddGold applies a signed gold delta, clamping the result at zero.
func (s *Store) AddGold(ctx context.Context, playerTag, name string, delta float64) (float64, error) {
	c, err := s.GetCharacter(ctx, playerTag, name)
	if err != nil {
		return 0, err
	}
	c.Gold = round2(math.Max(0, c.Gold+delta))
	if err := s.UpsertCharacter(ctx, c); err != nil {
		return 0, err
	}
	return c.Gold, nil
}

// DebitTokens removes cost tokens, failing with ErrInsufficient when the
// balance cannot cover it. Cost must be positive.
func (s *Store) DebitTokens(ctx context.Context, playerTag, name string, cost int) error {
	if cost <= 0 {
		return fmt.Errorf("debit cost must be positive")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE characters SET tokens = tokens - ?
		 WHERE player_tag = ? AND name = ? AND tokens >= ?`,
		cost, playerTag, name, cost)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetCharacter(ctx, playerTag, name); err != nil {
			return err
		}
		return ErrInsufficient
	}
	if c, err := s.GetCharacter(ctx, playerTag, name); err == nil {
		s.mirrorCharacter(c)
	}
	return nil
}

// SetInventoryMessage binds a character to its rendered inventory message.
func (s *Store) SetInventoryMessage(ctx context.Context, playerTag, name, channelID, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE characters SET inv_channel_id = ?, inv_message_id = ?
		 WHERE player_tag = ? AND name = ?`, channelID, messageID, playerTag, name)
	return err
}

// InventoryCell returns the delimited item string for one category column.
// A missing cell reads as empty, not as an error.
func (s *Store) InventoryCell(ctx context.Context, playerTag, character string, category item.Category) (string, error) {
	var items string
	err := s.db.QueryRowContext(ctx,
		`SELECT items FROM inventory WHERE player_tag = ? AND character = ? AND category = ?`,
		playerTag, character, string(category)).Scan(&items)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return items, err
}

func (s *Store) SetInventoryCell(ctx context.Context, playerTag, character string, category item.Category, items string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO inventory(player_tag, character, category, items) VALUES (?, ?, ?, ?)
		 ON CONFLICT(player_tag, character, category) DO UPDATE SET items = excluded.items`,
		playerTag, character, string(category), items)
	if err != nil {
		return err
	}
	s.mirror.Enqueue(sheetsync.RowUpdate{
		Sheet:  "Inventory",
		Key:    playerTag + "|" + character + "|" + string(category),
		Values: []any{playerTag + "|" + character + "|" + string(category), items},
	})
	return nil
}

// Inventory loads every category cell for a character, decoded.
func (s *Store) Inventory(ctx context.Context, playerTag, character string) (map[item.Category][]item.Stack, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, items FROM inventory WHERE player_tag = ? AND character = ?`,
		playerTag, character)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[item.Category][]item.Stack{}
	for rows.Next() {
		var category, items string
		if err := rows.Scan(&category, &items); err != nil {
			return nil, err
		}
		if items == "" {
			continue
		}
		stacks, err := item.ParseList(items)
		if err != nil {
			return nil, fmt.Errorf("inventory cell %s/%s/%s: %w", playerTag, character, category, err)
		}
		out[item.Category(category)] = stacks
	}
	return out, rows.Err()
}

// WeekOffset is the movable pointer selecting the current week column.
func (s *Store) WeekOffset(ctx context.Context) (int, error) {
	raw, err := s.Meta("week_offset")
	if err != nil || raw == "" {
		return 0, err
	}
	return strconv.Atoi(raw)
}

func (s *Store) SetWeekOffset(ctx context.Context, offset int) error {
	return s.SetMeta("week_offset", strconv.Itoa(offset))
}

// CreditTablePlayed adds one table-played count in the current week column.
func (s *Store) CreditTablePlayed(ctx context.Context, playerTag string) error {
	week, err := s.WeekOffset(ctx)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO weekly(player_tag, week, tables_played) VALUES (?, ?, 1)
		 ON CONFLICT(player_tag, week) DO UPDATE SET tables_played = tables_played + 1`,
		playerTag, week)
	return err
}

func (s *Store) TablesPlayed(ctx context.Context, playerTag string, week int) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT tables_played FROM weekly WHERE player_tag = ? AND week = ?`,
		playerTag, week).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

// IncrementTablesRun bumps a narrator's lifetime counter.
func (s *Store) IncrementTablesRun(ctx context.Context, tag string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO narrators(tag, tables_run) VALUES (?, 1)
		 ON CONFLICT(tag) DO UPDATE SET tables_run = tables_run + 1`, tag)
	return err
}

func (s *Store) TablesRun(ctx context.Context, tag string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT tables_run FROM narrators WHERE tag = ?`, tag).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

func (s *Store) mirrorCharacter(c Character) {
	s.mirror.Enqueue(sheetsync.RowUpdate{
		Sheet:  "Characters",
		Key:    c.PlayerTag + "|" + c.Name,
		Values: []any{c.PlayerTag + "|" + c.Name, c.Level, c.Gold, c.Tokens},
	})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
