package store

import (
	"context"
	"time"
)

// Saga step statuses.
const (
	SagaPending = "pending"
	SagaDone    = "done"
	SagaFailed  = "failed"
)

// SagaStep is one persisted intent-log entry of a finalize run.
type SagaStep struct {
	ID        string
	SessionID string
	Workflow  string
	Step      string
	Status    string
	Detail    string
	CreatedAt time.Time
}

func (s *Store) InsertSagaStep(ctx context.Context, step SagaStep) error {
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO saga(id, session_id, workflow, step, status, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		step.ID, step.SessionID, step.Workflow, step.Step, step.Status, step.Detail,
		step.CreatedAt.Format(time.RFC3339))
	return err
}

func (s *Store) UpdateSagaStep(ctx context.Context, id, step, status, detail string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE saga SET status = ?, detail = ? WHERE id = ? AND step = ?`,
		status, detail, id, step)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// IncompleteSagas lists runs still holding pending steps, for the startup
// repair report. A pending ledger step after a crash means inventories may
// be half-applied and need a human eye.
func (s *Store) IncompleteSagas(ctx context.Context) ([]SagaStep, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, workflow, step, status, detail, created_at
		 FROM saga WHERE status = ? ORDER BY created_at, id`, SagaPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SagaStep
	for rows.Next() {
		var (
			step SagaStep
			raw  string
		)
		if err := rows.Scan(&step.ID, &step.SessionID, &step.Workflow, &step.Step, &step.Status, &step.Detail, &raw); err != nil {
			return nil, err
		}
		step.CreatedAt, _ = time.Parse(time.RFC3339, raw)
		out = append(out, step)
	}
	return out, rows.Err()
}
