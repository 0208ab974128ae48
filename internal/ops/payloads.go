package ops

import (
	"encoding/json"

	"github.com/marimo-team/kernelclient/internal/model"
)

// KernelReady is the first operation after a session attaches. It carries the
// full notebook definition; Resumed distinguishes reattach from cold start.
type KernelReady struct {
	Cells            []model.CellData         `json:"cells"`
	Layout           json.RawMessage          `json:"layout,omitempty"`
	AppConfig        model.AppConfig          `json:"app_config"`
	Capabilities     model.KernelCapabilities `json:"capabilities"`
	Resumed          bool                     `json:"resumed"`
	LastExecutedCode map[model.CellID]string  `json:"last_executed_code,omitempty"`
}

// Reload asks the client to reload the page, typically after the notebook
// file changed on disk.
type Reload struct{}

// CompletedRun marks the end of an execution pass over the notebook.
type CompletedRun struct{}

// Interrupted reports that the kernel aborted the current run.
type Interrupted struct{}

// KernelStartupError reports that the kernel failed to boot.
type KernelStartupError struct {
	Message string `json:"message"`
}

// CellOp is an incremental update for one cell: any subset of status, output
// and console may be present.
type CellOp struct {
	CellID      model.CellID       `json:"cell_id"`
	RunID       model.RunID        `json:"run_id,omitempty"`
	Status      model.RunStatus    `json:"status,omitempty"`
	Output      *model.CellOutput  `json:"output,omitempty"`
	Console     []model.CellOutput `json:"console,omitempty"`
	StaleInputs *bool              `json:"stale_inputs,omitempty"`
	Timestamp   float64            `json:"timestamp"`
}

// Variables replaces the set of top-level bindings.
type Variables struct {
	Variables []model.Variable `json:"variables"`
}

// VariableValues carries preview values for a subset of variables.
type VariableValues struct {
	Values []model.VariableValue `json:"variables"`
}

// Datasets upserts tables into the dataset registry.
type Datasets struct {
	Tables []model.DataTable `json:"tables"`
	Clear  bool              `json:"clear_channel,omitempty"`
}

// DataColumnPreview delivers a summary for one dataset column.
type DataColumnPreview struct {
	TableName  string          `json:"table_name"`
	ColumnName string          `json:"column_name"`
	Summary    json.RawMessage `json:"summary,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// DataSourceConnections replaces the set of registered SQL connections.
type DataSourceConnections struct {
	Connections []model.DataSourceConnection `json:"connections"`
}

// CompletionOption is one code-completion candidate.
type CompletionOption struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Completion string `json:"completion_info,omitempty"`
}

// CompletionResult answers a code-completion request.
type CompletionResult struct {
	RequestID    string             `json:"request_id"`
	PrefixLength int                `json:"prefix_length"`
	Options      []CompletionOption `json:"options"`
}

// FunctionCallResult answers a UI function-call request.
type FunctionCallResult struct {
	RequestID string          `json:"request_id"`
	Status    string          `json:"status"`
	Return    json.RawMessage `json:"return_value,omitempty"`
}

// SQLTablePreviewResult answers an SQL table preview request.
type SQLTablePreviewResult struct {
	RequestID string          `json:"request_id"`
	Table     json.RawMessage `json:"table,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// SecretKeysResult answers a secret-keys listing request.
type SecretKeysResult struct {
	RequestID string   `json:"request_id"`
	Keys      []string `json:"keys"`
}

// Alert is a modal notification.
type Alert struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Variant     string `json:"variant,omitempty"`
}

// Banner is a dismissible non-modal notification.
type Banner struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Variant     string `json:"variant,omitempty"`
}

// MissingPackageAlert lists packages the kernel could not import.
type MissingPackageAlert struct {
	Packages    []string `json:"packages"`
	IsolatedEnv bool     `json:"isolated_environment"`
}

// InstallingPackageAlert reports per-package install progress.
type InstallingPackageAlert struct {
	Packages map[string]string `json:"packages"`
}

// StartupLogs streams kernel boot output before the session is interactive.
type StartupLogs struct {
	Content string `json:"content"`
	Status  string `json:"status"`
}

// QueryParamsAppend adds a value under a key, keeping existing values.
type QueryParamsAppend struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// QueryParamsSet replaces all values under a key.
type QueryParamsSet struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// QueryParamsDelete removes a key, or a single value when Value is set.
type QueryParamsDelete struct {
	Key   string  `json:"key"`
	Value *string `json:"value,omitempty"`
}

// QueryParamsClear removes every query parameter.
type QueryParamsClear struct{}

// UpdateCellCodes rewrites cell source out-of-band, e.g. after an external
// edit to the notebook file.
type UpdateCellCodes struct {
	CellIDs     []model.CellID `json:"cell_ids"`
	Codes       []string       `json:"codes"`
	CodeIsStale bool           `json:"code_is_stale"`
}

// UpdateCellIDs replaces the notebook cell ordering.
type UpdateCellIDs struct {
	CellIDs []model.CellID `json:"cell_ids"`
}

// RemoveUIElements clears the rendered outputs of one cell.
type RemoveUIElements struct {
	CellID model.CellID `json:"cell_id"`
}

// FocusCell scrolls the given cell into view.
type FocusCell struct {
	CellID model.CellID `json:"cell_id"`
}

// SendUIElementMessage forwards a kernel-originated message to a UI element.
type SendUIElementMessage struct {
	ObjectID string          `json:"object_id"`
	Message  json.RawMessage `json:"message,omitempty"`
	Buffers  []string        `json:"buffers,omitempty"`
}

func (*KernelReady) Tag() Tag            { return TagKernelReady }
func (*Reload) Tag() Tag                 { return TagReload }
func (*CompletedRun) Tag() Tag           { return TagCompletedRun }
func (*Interrupted) Tag() Tag            { return TagInterrupted }
func (*KernelStartupError) Tag() Tag     { return TagKernelStartupError }
func (*CellOp) Tag() Tag                 { return TagCellOp }
func (*Variables) Tag() Tag              { return TagVariables }
func (*VariableValues) Tag() Tag         { return TagVariableValues }
func (*Datasets) Tag() Tag               { return TagDatasets }
func (*DataColumnPreview) Tag() Tag      { return TagDataColumnPreview }
func (*DataSourceConnections) Tag() Tag  { return TagDataSourceConnections }
func (*CompletionResult) Tag() Tag       { return TagCompletionResult }
func (*FunctionCallResult) Tag() Tag     { return TagFunctionCallResult }
func (*SQLTablePreviewResult) Tag() Tag  { return TagSQLTablePreviewResult }
func (*SecretKeysResult) Tag() Tag       { return TagSecretKeysResult }
func (*Alert) Tag() Tag                  { return TagAlert }
func (*Banner) Tag() Tag                 { return TagBanner }
func (*MissingPackageAlert) Tag() Tag    { return TagMissingPackageAlert }
func (*InstallingPackageAlert) Tag() Tag { return TagInstallingPackageAlert }
func (*StartupLogs) Tag() Tag            { return TagStartupLogs }
func (*QueryParamsAppend) Tag() Tag      { return TagQueryParamsAppend }
func (*QueryParamsSet) Tag() Tag         { return TagQueryParamsSet }
func (*QueryParamsDelete) Tag() Tag      { return TagQueryParamsDelete }
func (*QueryParamsClear) Tag() Tag       { return TagQueryParamsClear }
func (*UpdateCellCodes) Tag() Tag        { return TagUpdateCellCodes }
func (*UpdateCellIDs) Tag() Tag          { return TagUpdateCellIDs }
func (*RemoveUIElements) Tag() Tag       { return TagRemoveUIElements }
func (*FocusCell) Tag() Tag              { return TagFocusCell }
func (*SendUIElementMessage) Tag() Tag   { return TagSendUIElementMessage }

func (*KernelReady) isOperation()            {}
func (*Reload) isOperation()                 {}
func (*CompletedRun) isOperation()           {}
func (*Interrupted) isOperation()            {}
func (*KernelStartupError) isOperation()     {}
func (*CellOp) isOperation()                 {}
func (*Variables) isOperation()              {}
func (*VariableValues) isOperation()         {}
func (*Datasets) isOperation()               {}
func (*DataColumnPreview) isOperation()      {}
func (*DataSourceConnections) isOperation()  {}
func (*CompletionResult) isOperation()       {}
func (*FunctionCallResult) isOperation()     {}
func (*SQLTablePreviewResult) isOperation()  {}
func (*SecretKeysResult) isOperation()       {}
func (*Alert) isOperation()                  {}
func (*Banner) isOperation()                 {}
func (*MissingPackageAlert) isOperation()    {}
func (*InstallingPackageAlert) isOperation() {}
func (*StartupLogs) isOperation()            {}
func (*QueryParamsAppend) isOperation()      {}
func (*QueryParamsSet) isOperation()         {}
func (*QueryParamsDelete) isOperation()      {}
func (*QueryParamsClear) isOperation()       {}
func (*UpdateCellCodes) isOperation()        {}
func (*UpdateCellIDs) isOperation()          {}
func (*RemoveUIElements) isOperation()       {}
func (*FocusCell) isOperation()              {}
func (*SendUIElementMessage) isOperation()   {}
