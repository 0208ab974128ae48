package kernel

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/marimo-team/kernelclient/internal/model"
	"github.com/marimo-team/kernelclient/internal/ops"
	"github.com/marimo-team/kernelclient/internal/registry"
	"github.com/marimo-team/kernelclient/internal/status"
)

// dispatch routes one decoded operation. Decode already rejected unknown
// tags, so the default arm only fires if a new payload type is added without
// a case here.
func (m *Manager) dispatch(op ops.Operation) {
	switch op := op.(type) {
	case *ops.KernelReady:
		m.handleKernelReady(op)
	case *ops.Reload:
		if m.reload != nil {
			m.reload()
		}
	case *ops.CompletedRun:
		m.logger.Debug("run completed")
	case *ops.Interrupted:
		m.cells.MarkInterrupted()
	case *ops.KernelStartupError:
		m.disarmReconnect()
		m.st.Set(status.Closed(status.ReasonKernelStartupError, op.Message, false))
		if tr := m.transportRef(); tr != nil {
			tr.Close()
		}

	case *ops.CellOp:
		m.cells.ApplyOp(op)
		if m.recorder != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			if err := m.recorder.RecordCellOp(ctx, op, time.Now()); err != nil {
				m.logger.Error("record cell op", zap.Error(err))
			}
			cancel()
		}

	case *ops.Variables:
		removed := m.vars.SetVariables(op.Variables)
		m.datasets.PruneVariables(removed)
		m.dataSources.PruneVariables(removed)
	case *ops.VariableValues:
		m.vars.SetValues(op.Values)
	case *ops.Datasets:
		if op.Clear {
			m.datasets.Clear()
		}
		m.datasets.Upsert(op.Tables)
	case *ops.DataColumnPreview:
		m.datasets.SetColumnPreview(op.TableName, op.ColumnName, registry.ColumnPreview{
			Summary: op.Summary,
			Error:   op.Error,
		})
	case *ops.DataSourceConnections:
		m.dataSources.Set(op.Connections)

	case *ops.CompletionResult:
		m.completions.Resolve(op.RequestID, op)
	case *ops.FunctionCallResult:
		m.functionCalls.Resolve(op.RequestID, op)
	case *ops.SQLTablePreviewResult:
		m.sqlPreviews.Resolve(op.RequestID, op)
	case *ops.SecretKeysResult:
		m.secretKeys.Resolve(op.RequestID, op)

	case *ops.Alert:
		m.notifier.Alert(op.Title, op.Description, op.Variant)
	case *ops.Banner:
		m.notifier.Banner(op.Title, op.Description, op.Variant)
	case *ops.MissingPackageAlert:
		m.notifier.MissingPackages(op.Packages, op.IsolatedEnv)
	case *ops.InstallingPackageAlert:
		m.notifier.InstallingPackages(op.Packages)
	case *ops.StartupLogs:
		m.notifier.StartupLog(op.Content, op.Status)

	case *ops.QueryParamsAppend:
		m.queryParams.Append(op.Key, op.Value)
	case *ops.QueryParamsSet:
		m.queryParams.Set(op.Key, op.Value)
	case *ops.QueryParamsDelete:
		m.queryParams.Delete(op.Key, op.Value)
	case *ops.QueryParamsClear:
		m.queryParams.Clear()

	case *ops.UpdateCellCodes:
		if err := m.cells.SetCodes(op.CellIDs, op.Codes, op.CodeIsStale); err != nil {
			m.logger.Error("update cell codes", zap.Error(err))
		}
	case *ops.UpdateCellIDs:
		m.cells.SetOrder(op.CellIDs)
	case *ops.RemoveUIElements:
		m.cells.ClearOutputs(op.CellID)
	case *ops.FocusCell:
		m.cells.Focus(op.CellID)
	case *ops.SendUIElementMessage:
		if m.onUIMessage != nil {
			m.onUIMessage(op.ObjectID, op.Message, op.Buffers)
		}

	default:
		m.logger.Error("unhandled operation", zap.String("op", string(op.Tag())))
	}
}

// handleKernelReady seeds the notebook exactly once per manager. A resumed
// session replays kernel-ready on reconnect; reseeding would discard state
// accumulated since the first open.
func (m *Manager) handleKernelReady(op *ops.KernelReady) {
	m.mu.Lock()
	first := !m.kernelReadySeen
	m.kernelReadySeen = true
	m.mu.Unlock()
	if !first {
		m.logger.Debug("ignoring repeated kernel-ready")
		return
	}

	m.readyMu.Lock()
	m.appConfig = op.AppConfig
	m.capabilities = op.Capabilities
	m.resumed = op.Resumed
	m.readyMu.Unlock()

	m.cells.SetCells(op.Cells)
	if op.Resumed && len(op.LastExecutedCode) > 0 {
		m.markStaleCells(op.Cells, op.LastExecutedCode)
	}
	m.logger.Info("kernel ready",
		zap.Int("cells", len(op.Cells)),
		zap.Bool("resumed", op.Resumed))

	// The first kernel-ready is the trigger for the first full run: the
	// cell list must be seeded before the kernel starts executing.
	if m.cfg.AutoInstantiate && !m.cfg.Static {
		if err := m.send("instantiate", instantiatePayload{AutoRun: true}); err != nil {
			m.logger.Error("auto-instantiate failed", zap.Error(err))
		}
	}
}

// markStaleCells flags cells whose file code differs from what the resumed
// kernel last executed.
func (m *Manager) markStaleCells(cells []model.CellData, lastExecuted map[model.CellID]string) {
	var ids []model.CellID
	var codes []string
	for _, cell := range cells {
		if prev, ok := lastExecuted[cell.ID]; ok && prev != cell.Code {
			ids = append(ids, cell.ID)
			codes = append(codes, cell.Code)
		}
	}
	if len(ids) == 0 {
		return
	}
	if err := m.cells.SetCodes(ids, codes, true); err != nil {
		m.logger.Error("mark stale cells", zap.Error(err))
	}
}
