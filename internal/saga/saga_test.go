package saga

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"guildledger.app/internal/store"
)

func openTestRunner(t *testing.T) (*Runner, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "bot.db"), nil, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return NewRunner(st, nil), st
}

func TestRun_AllStepsRecordedDone(t *testing.T) {
	r, st := openTestRunner(t)
	ctx := context.Background()

	var order []string
	mk := func(name string) Step {
		return Step{Name: name, Exec: func(context.Context) (string, error) {
			order = append(order, name)
			return "ok", nil
		}}
	}
	res := r.Run(ctx, "loot", "sess-1", []Step{mk("gold"), mk("items"), mk("history")})
	if res.Aborted || len(res.Warnings) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if strings.Join(order, ",") != "gold,items,history" {
		t.Fatalf("step order: %v", order)
	}
	pending, err := st.IncompleteSagas(ctx)
	if err != nil {
		t.Fatalf("incomplete: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending steps left: %+v", pending)
	}
}

func TestRun_NonCriticalFailureContinues(t *testing.T) {
	r, _ := openTestRunner(t)
	ctx := context.Background()

	var ran []string
	res := r.Run(ctx, "loot", "sess-2", []Step{
		{Name: "mirror", Exec: func(context.Context) (string, error) {
			ran = append(ran, "mirror")
			return "", errors.New("sheet offline")
		}},
		{Name: "history", Exec: func(context.Context) (string, error) {
			ran = append(ran, "history")
			return "ok", nil
		}},
	})
	if res.Aborted {
		t.Fatal("non-critical failure aborted the run")
	}
	if len(ran) != 2 {
		t.Fatalf("later steps skipped: %v", ran)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "sheet offline") {
		t.Fatalf("warnings: %v", res.Warnings)
	}
}

func TestRun_CriticalFailureAborts(t *testing.T) {
	r, _ := openTestRunner(t)
	ctx := context.Background()

	var ran []string
	res := r.Run(ctx, "loot", "sess-3", []Step{
		{Name: "gold", Critical: true, Exec: func(context.Context) (string, error) {
			ran = append(ran, "gold")
			return "", errors.New("db locked")
		}},
		{Name: "items", Exec: func(context.Context) (string, error) {
			ran = append(ran, "items")
			return "ok", nil
		}},
	})
	if !res.Aborted {
		t.Fatal("critical failure did not abort")
	}
	if len(ran) != 1 {
		t.Fatalf("steps after abort ran: %v", ran)
	}
}

func TestResume_ReportsPendingSteps(t *testing.T) {
	r, st := openTestRunner(t)
	ctx := context.Background()

	// Simulate a crash between intent record and completion.
	if err := st.InsertSagaStep(ctx, store.SagaStep{
		ID: "run-1", SessionID: "sess-4", Workflow: "loot",
		Step: "items", Status: store.SagaPending,
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	report, err := r.Resume(ctx)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if len(report) != 1 || !strings.Contains(report[0], "items") {
		t.Fatalf("report: %v", report)
	}
}
