package model

import (
	"encoding/json"
	"testing"
)

func TestCanonicalRunStatus(t *testing.T) {
	cases := []struct {
		raw  string
		want RunStatus
	}{
		{"queued", RunStatusQueued},
		{"running", RunStatusRunning},
		{"idle", RunStatusIdle},
		{"interrupted", RunStatusInterrupted},
		{"error", RunStatusError},
		{"disabled", RunStatusDisabled},
		{"", RunStatusUnknown},
		{"some-future-state", RunStatusUnknown},
		{"RUNNING", RunStatusUnknown},
	}
	for _, tc := range cases {
		if got := CanonicalRunStatus(tc.raw); got != tc.want {
			t.Fatalf("CanonicalRunStatus(%q) = %s, want %s", tc.raw, got, tc.want)
		}
	}
}

func TestRunStatusPrecedenceCoversAllStates(t *testing.T) {
	all := []RunStatus{
		RunStatusQueued, RunStatusRunning, RunStatusIdle,
		RunStatusInterrupted, RunStatusError, RunStatusDisabled, RunStatusUnknown,
	}
	seen := map[int]RunStatus{}
	for _, st := range all {
		rank, ok := RunStatusPrecedence[st]
		if !ok {
			t.Fatalf("no precedence for %s", st)
		}
		if prev, dup := seen[rank]; dup {
			t.Fatalf("states %s and %s share rank %d", prev, st, rank)
		}
		seen[rank] = st
	}
	if RunStatusPrecedence[RunStatusError] >= RunStatusPrecedence[RunStatusIdle] {
		t.Fatal("error must outrank idle")
	}
}

func TestCellDataJSONShape(t *testing.T) {
	raw := []byte(`{"cell_id": "c1", "name": "load", "code": "x = 1", "config": {"hide_code": true, "disabled": false}}`)
	var cell CellData
	if err := json.Unmarshal(raw, &cell); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cell.ID != "c1" || cell.Name != "load" || !cell.Config.HideCode {
		t.Fatalf("unexpected cell: %+v", cell)
	}
}
