package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/marimo-team/kernelclient/internal/model"
	"github.com/marimo-team/kernelclient/internal/ops"
)

func openTestRecorder(t *testing.T) (*Recorder, context.Context) {
	t.Helper()
	ctx := context.Background()
	rec, err := Open(ctx, filepath.Join(t.TempDir(), "history.db"), "fp-test")
	if err != nil {
		t.Fatalf("open recorder: %v", err)
	}
	t.Cleanup(func() {
		_ = rec.Close()
	})
	return rec, ctx
}

func TestRecordCellOpInsertsAndUpdates(t *testing.T) {
	rec, ctx := openTestRecorder(t)
	now := time.Now().UTC()

	err := rec.RecordCellOp(ctx, &ops.CellOp{
		CellID: "c1",
		RunID:  "r1",
		Status: model.RunStatusRunning,
	}, now)
	if err != nil {
		t.Fatalf("record first op: %v", err)
	}

	err = rec.RecordCellOp(ctx, &ops.CellOp{
		CellID:  "c1",
		RunID:   "r1",
		Status:  model.RunStatusIdle,
		Output:  &model.CellOutput{Channel: model.ChannelOutput},
		Console: []model.CellOutput{{Channel: model.ChannelStdout}},
	}, now.Add(time.Second))
	if err != nil {
		t.Fatalf("record second op: %v", err)
	}

	run, err := rec.GetRun(ctx, "r1", "c1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != model.RunStatusIdle {
		t.Fatalf("status = %s, want idle", run.Status)
	}
	if run.OutputCount != 2 {
		t.Fatalf("output count = %d, want 2", run.OutputCount)
	}
	if !run.UpdatedAt.After(run.StartedAt) {
		t.Fatalf("updated_at %v not after started_at %v", run.UpdatedAt, run.StartedAt)
	}
}

func TestRecordCellOpSkipsMissingRunID(t *testing.T) {
	rec, ctx := openTestRecorder(t)
	err := rec.RecordCellOp(ctx, &ops.CellOp{CellID: "c1", Status: model.RunStatusRunning}, time.Now())
	if err != nil {
		t.Fatalf("record op: %v", err)
	}
	runs, err := rec.ListRuns(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected no runs, got %d", len(runs))
	}
}

func TestRecordCellOpStatusUpdateKeepsLastKnown(t *testing.T) {
	rec, ctx := openTestRecorder(t)
	now := time.Now().UTC()

	if err := rec.RecordCellOp(ctx, &ops.CellOp{CellID: "c1", RunID: "r1", Status: model.RunStatusError}, now); err != nil {
		t.Fatalf("record op: %v", err)
	}
	// Output-only update carries no status; the recorded error must survive.
	if err := rec.RecordCellOp(ctx, &ops.CellOp{CellID: "c1", RunID: "r1", Output: &model.CellOutput{}}, now.Add(time.Second)); err != nil {
		t.Fatalf("record output op: %v", err)
	}

	run, err := rec.GetRun(ctx, "r1", "c1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != model.RunStatusError {
		t.Fatalf("status = %s, want error", run.Status)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	rec, ctx := openTestRecorder(t)
	base := time.Now().UTC()

	for i, runID := range []model.RunID{"r1", "r2", "r3"} {
		op := &ops.CellOp{CellID: "c1", RunID: runID, Status: model.RunStatusIdle}
		if err := rec.RecordCellOp(ctx, op, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("record %s: %v", runID, err)
		}
	}

	runs, err := rec.ListRuns(ctx, "c1", 2)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].RunID != "r3" || runs[1].RunID != "r2" {
		t.Fatalf("unexpected order: %s, %s", runs[0].RunID, runs[1].RunID)
	}
}

func TestPrune(t *testing.T) {
	rec, ctx := openTestRecorder(t)
	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC()

	if err := rec.RecordCellOp(ctx, &ops.CellOp{CellID: "c1", RunID: "old", Status: model.RunStatusIdle}, old); err != nil {
		t.Fatalf("record old: %v", err)
	}
	if err := rec.RecordCellOp(ctx, &ops.CellOp{CellID: "c1", RunID: "new", Status: model.RunStatusIdle}, recent); err != nil {
		t.Fatalf("record new: %v", err)
	}

	n, err := rec.Prune(ctx, recent.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d rows, want 1", n)
	}
	runs, err := rec.ListRuns(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != "new" {
		t.Fatalf("unexpected surviving runs: %+v", runs)
	}
}

func TestGetRunNotFound(t *testing.T) {
	rec, ctx := openTestRecorder(t)
	if _, err := rec.GetRun(ctx, "missing", "c1"); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
