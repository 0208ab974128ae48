// Package ops defines the kernel→client wire protocol: a JSON envelope
// {"op": <tag>, "data": <payload>} decoded into a closed union of operation
// types. Decode is the single chokepoint; an unknown tag never reaches the
// dispatcher.
package ops

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const DefaultMaxFrame = 1 << 20 // 1 MiB

// recordSeparator is the reserved delimiter byte the backend may embed inside
// string payloads. Standard JSON forbids raw control characters in strings,
// so Decode escapes it before unmarshalling.
const recordSeparator = 0x1e

var (
	ErrInvalidFrame     = errors.New("ops: invalid frame")
	ErrFrameTooLarge    = errors.New("ops: frame too large")
	ErrUnknownOperation = errors.New("ops: unknown operation")
)

// Tag names one operation of the kernel→client protocol.
type Tag string

const (
	// Lifecycle.
	TagKernelReady        Tag = "kernel-ready"
	TagReload             Tag = "reload"
	TagCompletedRun       Tag = "completed-run"
	TagInterrupted        Tag = "interrupted"
	TagKernelStartupError Tag = "kernel-startup-error"

	// Cell execution.
	TagCellOp Tag = "cell-op"

	// Registries.
	TagVariables             Tag = "variables"
	TagVariableValues        Tag = "variable-values"
	TagDatasets              Tag = "datasets"
	TagDataColumnPreview     Tag = "data-column-preview"
	TagDataSourceConnections Tag = "data-source-connections"

	// Request/response correlation.
	TagCompletionResult      Tag = "completion-result"
	TagFunctionCallResult    Tag = "function-call-result"
	TagSQLTablePreviewResult Tag = "sql-table-preview-result"
	TagSecretKeysResult      Tag = "secret-keys-result"

	// UI side-channel.
	TagAlert                  Tag = "alert"
	TagBanner                 Tag = "banner"
	TagMissingPackageAlert    Tag = "missing-package-alert"
	TagInstallingPackageAlert Tag = "installing-package-alert"
	TagStartupLogs            Tag = "startup-logs"

	// Query params.
	TagQueryParamsAppend Tag = "query-params-append"
	TagQueryParamsSet    Tag = "query-params-set"
	TagQueryParamsDelete Tag = "query-params-delete"
	TagQueryParamsClear  Tag = "query-params-clear"

	// Structural updates.
	TagUpdateCellCodes      Tag = "update-cell-codes"
	TagUpdateCellIDs        Tag = "update-cell-ids"
	TagRemoveUIElements     Tag = "remove-ui-elements"
	TagFocusCell            Tag = "focus-cell"
	TagSendUIElementMessage Tag = "send-ui-element-message"
)

// Envelope is the raw wire frame before payload decoding.
type Envelope struct {
	Op   Tag             `json:"op"`
	Data json.RawMessage `json:"data"`
}

// Operation is the closed union of kernel→client messages. Payload types live
// in payloads.go; the unexported marker keeps the set closed to this package.
type Operation interface {
	Tag() Tag
	isOperation()
}

// Decode parses one wire frame into a typed operation. Raw record-separator
// bytes inside string values are tolerated; unknown tags are rejected.
func Decode(raw []byte) (Operation, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrInvalidFrame)
	}
	if len(raw) > DefaultMaxFrame {
		return nil, ErrFrameTooLarge
	}
	var env Envelope
	if err := json.Unmarshal(escapeRecordSeparators(raw), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if env.Op == "" {
		return nil, fmt.Errorf("%w: op is required", ErrInvalidFrame)
	}
	op, err := newOperation(env.Op)
	if err != nil {
		return nil, err
	}
	if len(env.Data) > 0 && !bytes.Equal(env.Data, []byte("null")) {
		if err := json.Unmarshal(env.Data, op); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Op, err)
		}
	}
	return op, nil
}

// EncodeRequest builds an outbound client→kernel frame.
func EncodeRequest(op string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", op, err)
	}
	return json.Marshal(Envelope{Op: Tag(op), Data: body})
}

func newOperation(tag Tag) (Operation, error) {
	switch tag {
	case TagKernelReady:
		return &KernelReady{}, nil
	case TagReload:
		return &Reload{}, nil
	case TagCompletedRun:
		return &CompletedRun{}, nil
	case TagInterrupted:
		return &Interrupted{}, nil
	case TagKernelStartupError:
		return &KernelStartupError{}, nil
	case TagCellOp:
		return &CellOp{}, nil
	case TagVariables:
		return &Variables{}, nil
	case TagVariableValues:
		return &VariableValues{}, nil
	case TagDatasets:
		return &Datasets{}, nil
	case TagDataColumnPreview:
		return &DataColumnPreview{}, nil
	case TagDataSourceConnections:
		return &DataSourceConnections{}, nil
	case TagCompletionResult:
		return &CompletionResult{}, nil
	case TagFunctionCallResult:
		return &FunctionCallResult{}, nil
	case TagSQLTablePreviewResult:
		return &SQLTablePreviewResult{}, nil
	case TagSecretKeysResult:
		return &SecretKeysResult{}, nil
	case TagAlert:
		return &Alert{}, nil
	case TagBanner:
		return &Banner{}, nil
	case TagMissingPackageAlert:
		return &MissingPackageAlert{}, nil
	case TagInstallingPackageAlert:
		return &InstallingPackageAlert{}, nil
	case TagStartupLogs:
		return &StartupLogs{}, nil
	case TagQueryParamsAppend:
		return &QueryParamsAppend{}, nil
	case TagQueryParamsSet:
		return &QueryParamsSet{}, nil
	case TagQueryParamsDelete:
		return &QueryParamsDelete{}, nil
	case TagQueryParamsClear:
		return &QueryParamsClear{}, nil
	case TagUpdateCellCodes:
		return &UpdateCellCodes{}, nil
	case TagUpdateCellIDs:
		return &UpdateCellIDs{}, nil
	case TagRemoveUIElements:
		return &RemoveUIElements{}, nil
	case TagFocusCell:
		return &FocusCell{}, nil
	case TagSendUIElementMessage:
		return &SendUIElementMessage{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, tag)
	}
}

// escapeRecordSeparators rewrites raw 0x1e bytes found inside JSON string
// literals as \u001e escapes. Bytes outside strings are left untouched.
func escapeRecordSeparators(raw []byte) []byte {
	if !bytes.ContainsRune(raw, recordSeparator) {
		return raw
	}
	out := make([]byte, 0, len(raw)+16)
	inString := false
	escaped := false
	for i := 0; i < len(raw); i++ {
		b := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			case b == recordSeparator:
				out = append(out, `\u001e`...)
				continue
			}
		} else if b == '"' {
			inString = true
		}
		out = append(out, b)
	}
	return out
}
