// Package saga runs multi-step finalize sequences with a persisted
// intent log. Every step is recorded as pending before it executes and
// marked done or failed after, so a crash mid-run leaves a trail the
// startup report can surface instead of silently losing half a
// settlement.
package saga

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"guildledger.app/internal/store"
)

// Step is one named unit of a run. Exec returns a short human-readable
// detail string stored with the step record.
type Step struct {
	Name string
	Exec func(ctx context.Context) (string, error)
	// Critical steps abort the run on failure. Non-critical failures are
	// collected as warnings and the run continues.
	Critical bool
}

// Result reports a finished run.
type Result struct {
	ID       string
	Warnings []string
	// Aborted is set when a critical step failed and later steps were
	// skipped.
	Aborted bool
}

type Runner struct {
	store *store.Store
	log   *slog.Logger
}

func NewRunner(st *store.Store, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{store: st, log: log}
}

// Run executes steps in order under a fresh run id. Step state is
// persisted before and after each execution.
func (r *Runner) Run(ctx context.Context, workflow, sessionID string, steps []Step) Result {
	res := Result{ID: uuid.NewString()}
	for _, step := range steps {
		if err := r.store.InsertSagaStep(ctx, store.SagaStep{
			ID:        res.ID,
			SessionID: sessionID,
			Workflow:  workflow,
			Step:      step.Name,
			Status:    store.SagaPending,
		}); err != nil {
			// Without the intent record there is no crash trail; treat as
			// critical regardless of the step's own flag.
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: registro de intenção falhou: %v", step.Name, err))
			res.Aborted = true
			return res
		}

		detail, err := step.Exec(ctx)
		status := store.SagaDone
		if err != nil {
			status = store.SagaFailed
			detail = err.Error()
		}
		if uerr := r.store.UpdateSagaStep(ctx, res.ID, step.Name, status, detail); uerr != nil {
			r.log.Error("saga step update failed", "id", res.ID, "step", step.Name, "err", uerr)
		}

		if err != nil {
			r.log.Warn("saga step failed", "workflow", workflow, "id", res.ID, "step", step.Name, "err", err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", step.Name, err))
			if step.Critical {
				res.Aborted = true
				return res
			}
		}
	}
	return res
}

// Resume reports runs interrupted before completion, grouped by run id.
// It does not replay anything: half-applied ledger writes need a human
// decision, not an automatic retry.
func (r *Runner) Resume(ctx context.Context) ([]string, error) {
	steps, err := r.store.IncompleteSagas(ctx)
	if err != nil {
		return nil, err
	}
	var report []string
	for _, s := range steps {
		report = append(report, fmt.Sprintf("%s/%s: etapa %q pendente desde %s",
			s.Workflow, s.ID, s.Step, s.CreatedAt.Format("2006-01-02 15:04")))
	}
	if len(report) > 0 {
		r.log.Warn("incomplete finalize runs found", "count", len(report))
	}
	return report, nil
}
