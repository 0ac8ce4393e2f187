package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"guildledger.app/internal/sheetsync"
)

// HistoryRow is one game-table session. Lifecycle: open (registered=false)
// -> registered -> finalized. Player assignment uses six fixed slots, each
// "tag - character - level", with six parallel item columns.
type HistoryRow struct {
	ID          int64
	NarratorTag string
	Name        string
	Tier        string
	Registered  bool
	Finalized   bool
	Players     [6]string
	Items       [6]string
	Gold        float64
	Criterion   string
	CreatedAt   time.Time
}

// PlayerSlot encodes one assignment into the fixed-column format.
func PlayerSlot(tag, character string, level int) string {
	return fmt.Sprintf("%s - %s - %d", tag, character, level)
}

// ParsePlayerSlot splits a slot back into its parts.
func ParsePlayerSlot(slot string) (tag, character string, level int, err error) {
	parts := strings.Split(slot, " - ")
	if len(parts) != 3 {
		return "", "", 0, fmt.Errorf("malformed player slot %q", slot)
	}
	if _, err := fmt.Sscanf(parts[2], "%d", &level); err != nil {
		return "", "", 0, fmt.Errorf("malformed player slot %q: %w", slot, err)
	}
	return parts[0], parts[1], level, nil
}

func (s *Store) CreateTable(ctx context.Context, row HistoryRow) (int64, error) {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO history(narrator_tag, name, tier, registered, finalized,
			player1, player2, player3, player4, player5, player6,
			items1, items2, items3, items4, items5, items6,
			gold, criterion, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.NarratorTag, row.Name, row.Tier, boolInt(row.Registered), boolInt(row.Finalized),
		row.Players[0], row.Players[1], row.Players[2], row.Players[3], row.Players[4], row.Players[5],
		row.Items[0], row.Items[1], row.Items[2], row.Items[3], row.Items[4], row.Items[5],
		row.Gold, row.Criterion, row.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	row.ID = id
	s.mirrorHistory(row)
	return id, nil
}

func (s *Store) GetTable(ctx context.Context, id int64) (HistoryRow, error) {
	row := s.db.QueryRowContext(ctx, historySelect+` WHERE id = ?`, id)
	h, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return h, ErrNotFound
	}
	return h, err
}

// ListSettleable returns registered, unfinalized tables. With all=false
// only the narrator's own tables are returned; staff pass all=true.
func (s *Store) ListSettleable(ctx context.Context, narratorTag string, all bool) ([]HistoryRow, error) {
	query := historySelect + ` WHERE registered = 1 AND finalized = 0`
	args := []any{}
	if !all {
		query += ` AND narrator_tag = ?`
		args = append(args, narratorTag)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryRow
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// RegisterTable flips the registered flag.
func (s *Store) RegisterTable(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE history SET registered = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// FinalizeTable writes the settlement columns and sets the finalized flag.
func (s *Store) FinalizeTable(ctx context.Context, row HistoryRow) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE history SET finalized = 1,
			player1 = ?, player2 = ?, player3 = ?, player4 = ?, player5 = ?, player6 = ?,
			items1 = ?, items2 = ?, items3 = ?, items4 = ?, items5 = ?, items6 = ?,
			gold = ?, criterion = ?
		 WHERE id = ? AND finalized = 0`,
		row.Players[0], row.Players[1], row.Players[2], row.Players[3], row.Players[4], row.Players[5],
		row.Items[0], row.Items[1], row.Items[2], row.Items[3], row.Items[4], row.Items[5],
		row.Gold, row.Criterion, row.ID)
	if err != nil {
		return err
	}
	if err := requireRow(res); err != nil {
		return err
	}
	row.Finalized = true
	s.mirrorHistory(row)
	return nil
}

// InsertSettlement appends the settlement log row.
func (s *Store) InsertSettlement(ctx context.Context, id string, historyID int64, payload string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settlements(id, history_id, payload, created_at) VALUES (?, ?, ?, ?)`,
		id, historyID, payload, time.Now().UTC().Format(time.RFC3339))
	return err
}

const historySelect = `SELECT id, narrator_tag, name, tier, registered, finalized,
	player1, player2, player3, player4, player5, player6,
	items1, items2, items3, items4, items5, items6,
	gold, criterion, created_at FROM history`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHistory(r rowScanner) (HistoryRow, error) {
	var (
		h          HistoryRow
		reg, fin   int
		createdRaw string
	)
	err := r.Scan(&h.ID, &h.NarratorTag, &h.Name, &h.Tier, &reg, &fin,
		&h.Players[0], &h.Players[1], &h.Players[2], &h.Players[3], &h.Players[4], &h.Players[5],
		&h.Items[0], &h.Items[1], &h.Items[2], &h.Items[3], &h.Items[4], &h.Items[5],
		&h.Gold, &h.Criterion, &createdRaw)
	if err != nil {
		return h, err
	}
	h.Registered = reg != 0
	h.Finalized = fin != 0
	if createdRaw != "" {
		h.CreatedAt, _ = time.Parse(time.RFC3339, createdRaw)
	}
	return h, nil
}

func (s *Store) mirrorHistory(h HistoryRow) {
	values := []any{h.ID, h.NarratorTag, h.Name, h.Tier, flag(h.Registered), flag(h.Finalized)}
	for _, p := range h.Players {
		values = append(values, p)
	}
	for _, it := range h.Items {
		values = append(values, it)
	}
	values = append(values, h.Gold, h.Criterion)
	s.mirror.Enqueue(sheetsync.RowUpdate{
		Sheet:  "History",
		Key:    fmt.Sprint(h.ID),
		Values: values,
	})
}

func flag(b bool) string {
	if b {
		return "Sim"
	}
	return "Não"
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
