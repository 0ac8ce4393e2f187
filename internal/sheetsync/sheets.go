package sheetsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsMirror pushes row updates to a Google spreadsheet through a single
// writer goroutine with a fixed inter-write delay, respecting the API's
// write-rate limits.
type SheetsMirror struct {
	svc           *sheets.Service
	spreadsheetID string
	delay         time.Duration
	logger        *slog.Logger

	ch     chan RowUpdate
	wg     sync.WaitGroup
	once   sync.Once
	closed atomic.Bool

	// key column index per sheet tab, loaded lazily.
	mu   sync.Mutex
	rows map[string]map[string]int
}

// NewSheetsMirror builds a mirror against the given spreadsheet using a
// service-account credentials file.
func NewSheetsMirror(ctx context.Context, spreadsheetID, credentialsPath string, delay time.Duration, logger *slog.Logger) (*SheetsMirror, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("empty spreadsheet id")
	}
	if logger == nil {
		logger = slog.Default()
	}
	svc, err := sheets.NewService(ctx, option.WithCredentialsFile(credentialsPath))
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	if delay <= 0 {
		delay = time.Second
	}
	m := &SheetsMirror{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		delay:         delay,
		logger:        logger,
		ch:            make(chan RowUpdate, 4096),
		rows:          map[string]map[string]int{},
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.loop()
	}()
	return m, nil
}

// Enqueue queues an update. A full queue drops the update with a warning
// rather than stalling a settlement.
func (m *SheetsMirror) Enqueue(u RowUpdate) {
	if m.closed.Load() {
		return
	}
	select {
	case m.ch <- u:
	default:
		m.logger.Warn("sheet mirror queue full, dropping row", "sheet", u.Sheet, "key", u.Key)
	}
}

// Close drains the queue and stops the writer.
func (m *SheetsMirror) Close() error {
	m.once.Do(func() {
		m.closed.Store(true)
		close(m.ch)
	})
	m.wg.Wait()
	return nil
}

func (m *SheetsMirror) loop() {
	for u := range m.ch {
		if err := m.write(u); err != nil {
			m.logger.Warn("sheet mirror write failed", "sheet", u.Sheet, "key", u.Key, "error", err)
		}
		time.Sleep(m.delay)
	}
}

func (m *SheetsMirror) write(u RowUpdate) error {
	row, err := m.rowFor(u.Sheet, u.Key)
	if err != nil {
		return err
	}
	values := &sheets.ValueRange{Values: [][]any{u.Values}}
	if row == 0 {
		_, err = m.svc.Spreadsheets.Values.
			Append(m.spreadsheetID, fmt.Sprintf("%s!A:A", u.Sheet), values).
			ValueInputOption("RAW").
			InsertDataOption("INSERT_ROWS").
			Do()
		if err == nil {
			m.forget(u.Sheet)
		}
		return err
	}
	_, err = m.svc.Spreadsheets.Values.
		Update(m.spreadsheetID, fmt.Sprintf("%s!A%d", u.Sheet, row), values).
		ValueInputOption("RAW").
		Do()
	return err
}

// rowFor returns the 1-based row for a key, or 0 when the key is new. The
// key is expected in the tab's first column.
func (m *SheetsMirror) rowFor(sheet, key string) (int, error) {
	m.mu.Lock()
	index, ok := m.rows[sheet]
	m.mu.Unlock()
	if !ok {
		resp, err := m.svc.Spreadsheets.Values.Get(m.spreadsheetID, fmt.Sprintf("%s!A:A", sheet)).Do()
		if err != nil {
			return 0, err
		}
		index = map[string]int{}
		for i, row := range resp.Values {
			if len(row) == 0 {
				continue
			}
			index[fmt.Sprint(row[0])] = i + 1
		}
		m.mu.Lock()
		m.rows[sheet] = index
		m.mu.Unlock()
	}
	return index[key], nil
}

func (m *SheetsMirror) forget(sheet string) {
	m.mu.Lock()
	delete(m.rows, sheet)
	m.mu.Unlock()
}
