package model

import "encoding/json"

// CellID identifies one notebook cell for the lifetime of the session.
type CellID string

// RunID identifies one execution pass of a cell.
type RunID string

// RunStatus is the normalized runtime state of a cell as reported by the kernel.
type RunStatus string

const (
	RunStatusQueued      RunStatus = "queued"
	RunStatusRunning     RunStatus = "running"
	RunStatusIdle        RunStatus = "idle"
	RunStatusInterrupted RunStatus = "interrupted"
	RunStatusError       RunStatus = "error"
	RunStatusDisabled    RunStatus = "disabled"
	RunStatusUnknown     RunStatus = "unknown"
)

// RunStatusPrecedence resolves competing candidate states when summarizing
// a notebook (lower wins).
var RunStatusPrecedence = map[RunStatus]int{
	RunStatusError:       1,
	RunStatusInterrupted: 2,
	RunStatusRunning:     3,
	RunStatusQueued:      4,
	RunStatusIdle:        5,
	RunStatusDisabled:    6,
	RunStatusUnknown:     7,
}

// CanonicalRunStatus maps arbitrary backend status strings onto the closed set.
func CanonicalRunStatus(raw string) RunStatus {
	switch RunStatus(raw) {
	case RunStatusQueued, RunStatusRunning, RunStatusIdle,
		RunStatusInterrupted, RunStatusError, RunStatusDisabled:
		return RunStatus(raw)
	default:
		return RunStatusUnknown
	}
}

// CellConfig is the per-cell configuration persisted by the backend.
type CellConfig struct {
	HideCode bool `json:"hide_code"`
	Disabled bool `json:"disabled"`
}

// CellData is the authoritative cell definition shipped at kernel-ready.
type CellData struct {
	ID     CellID     `json:"cell_id"`
	Name   string     `json:"name"`
	Code   string     `json:"code"`
	Config CellConfig `json:"config"`
}

// OutputChannel distinguishes where a cell output was produced.
type OutputChannel string

const (
	ChannelOutput OutputChannel = "output"
	ChannelStdout OutputChannel = "stdout"
	ChannelStderr OutputChannel = "stderr"
	ChannelMedia  OutputChannel = "media"
)

// CellOutput is one rendered artifact from a cell run. Data is kept opaque;
// rendering is out of scope for this client.
type CellOutput struct {
	Channel   OutputChannel   `json:"channel"`
	Mimetype  string          `json:"mimetype"`
	Data      json.RawMessage `json:"data"`
	Timestamp float64         `json:"timestamp"`
}

// Variable is a top-level binding declared by one or more cells.
type Variable struct {
	Name       string   `json:"name"`
	DeclaredBy []CellID `json:"declared_by"`
	UsedBy     []CellID `json:"used_by"`
}

// VariableValue is the preview value for a variable after a run.
type VariableValue struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Datatype string `json:"datatype"`
}

// DataTableColumn describes one column of a registered dataset.
type DataTableColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// DataTable is a dataset registered by the kernel, backed by a variable.
type DataTable struct {
	Name         string            `json:"name"`
	Source       string            `json:"source"`
	VariableName string            `json:"variable_name"`
	NumRows      int64             `json:"num_rows"`
	NumColumns   int               `json:"num_columns"`
	Columns      []DataTableColumn `json:"columns"`
}

// DataSourceConnection is an SQL engine/connection registered by the kernel.
type DataSourceConnection struct {
	Name         string `json:"name"`
	Dialect      string `json:"dialect"`
	VariableName string `json:"variable_name"`
	Source       string `json:"source"`
}

// KernelCapabilities advertises optional backend features at kernel-ready.
type KernelCapabilities struct {
	Terminal bool `json:"terminal"`
	SQL      bool `json:"sql"`
}

// AppConfig is the notebook-level display configuration.
type AppConfig struct {
	Width    string `json:"width"`
	AppTitle string `json:"app_title"`
}
