// Package sheetsync mirrors store rows to a Google spreadsheet so humans
// can keep reading and hand-editing the familiar tables. The mirror is
// best-effort: sqlite is the source of truth and mirror failures are logged
// and dropped, never propagated.
package sheetsync

// RowUpdate is one rendered row destined for a sheet tab. Key identifies
// the logical row (criteria columns joined); Values are the cell contents
// in column order.
type RowUpdate struct {
	Sheet  string
	Key    string
	Values []any
}

// Mirror receives row updates. Enqueue must not block the caller beyond a
// channel send.
type Mirror interface {
	Enqueue(RowUpdate)
	Close() error
}

// Noop discards every update. Used in tests and when no spreadsheet is
// configured.
type Noop struct{}

func (Noop) Enqueue(RowUpdate) {}
func (Noop) Close() error      { return nil }
