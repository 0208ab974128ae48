package registry

import (
	"fmt"
	"sync"

	"github.com/marimo-team/kernelclient/internal/model"
	"github.com/marimo-team/kernelclient/internal/ops"
)

// CellState is the client-side view of one cell. Console entries accumulate
// in arrival order for the duration of a run.
type CellState struct {
	Data        model.CellData
	Status      model.RunStatus
	Output      *model.CellOutput
	Console     []model.CellOutput
	StaleInputs bool
	LastRunID   model.RunID
}

// Cells is the ordered registry of notebook cells.
type Cells struct {
	mu    sync.RWMutex
	order []model.CellID
	cells map[model.CellID]*CellState
	focus model.CellID
}

func NewCells() *Cells {
	return &Cells{cells: make(map[model.CellID]*CellState)}
}

// SetCells replaces the notebook definition wholesale.
func (c *Cells) SetCells(cells []model.CellData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = c.order[:0]
	c.cells = make(map[model.CellID]*CellState, len(cells))
	for _, data := range cells {
		c.order = append(c.order, data.ID)
		c.cells[data.ID] = &CellState{
			Data:   data,
			Status: model.RunStatusIdle,
		}
	}
}

// ApplyOp merges one incremental cell update. Updates for cells that were
// never announced create a placeholder entry rather than being dropped.
func (c *Cells) ApplyOp(op *ops.CellOp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.getOrCreateLocked(op.CellID)

	if op.RunID != "" && op.RunID != st.LastRunID {
		st.LastRunID = op.RunID
		st.Console = nil
	}
	if op.Status != "" {
		st.Status = model.CanonicalRunStatus(string(op.Status))
	}
	if op.Output != nil {
		st.Output = op.Output
	}
	st.Console = append(st.Console, op.Console...)
	if op.StaleInputs != nil {
		st.StaleInputs = *op.StaleInputs
	}
}

// SetCodes rewrites cell source out-of-band. ids and codes must pair up.
func (c *Cells) SetCodes(ids []model.CellID, codes []string, stale bool) error {
	if len(ids) != len(codes) {
		return fmt.Errorf("cells: %d ids for %d codes", len(ids), len(codes))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, id := range ids {
		st := c.getOrCreateLocked(id)
		st.Data.Code = codes[i]
		st.StaleInputs = stale
	}
	return nil
}

// SetOrder replaces the cell ordering. Unknown ids get placeholder entries;
// cells missing from the new order are dropped.
func (c *Cells) SetOrder(ids []model.CellID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := make(map[model.CellID]*CellState, len(ids))
	for _, id := range ids {
		if st, ok := c.cells[id]; ok {
			next[id] = st
		} else {
			next[id] = &CellState{
				Data:   model.CellData{ID: id},
				Status: model.RunStatusIdle,
			}
		}
	}
	c.order = append(c.order[:0], ids...)
	c.cells = next
}

// MarkInterrupted moves every queued or running cell to interrupted.
func (c *Cells) MarkInterrupted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, st := range c.cells {
		if st.Status == model.RunStatusQueued || st.Status == model.RunStatusRunning {
			st.Status = model.RunStatusInterrupted
		}
	}
}

// ClearOutputs removes the rendered output and console of one cell.
func (c *Cells) ClearOutputs(id model.CellID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.cells[id]; ok {
		st.Output = nil
		st.Console = nil
	}
}

// Focus records the cell the UI should scroll to.
func (c *Cells) Focus(id model.CellID) {
	c.mu.Lock()
	c.focus = id
	c.mu.Unlock()
}

// Focused returns the last focused cell, if any.
func (c *Cells) Focused() model.CellID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.focus
}

// Get returns a snapshot of one cell's state.
func (c *Cells) Get(id model.CellID) (CellState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.cells[id]
	if !ok {
		return CellState{}, false
	}
	return snapshotLocked(st), true
}

// Order returns the current cell ordering.
func (c *Cells) Order() []model.CellID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.CellID, len(c.order))
	copy(out, c.order)
	return out
}

// Snapshot returns the state of every cell in notebook order.
func (c *Cells) Snapshot() []CellState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]CellState, 0, len(c.order))
	for _, id := range c.order {
		if st, ok := c.cells[id]; ok {
			out = append(out, snapshotLocked(st))
		}
	}
	return out
}

func (c *Cells) getOrCreateLocked(id model.CellID) *CellState {
	if st, ok := c.cells[id]; ok {
		return st
	}
	st := &CellState{
		Data:   model.CellData{ID: id},
		Status: model.RunStatusIdle,
	}
	c.cells[id] = st
	c.order = append(c.order, id)
	return st
}

func snapshotLocked(st *CellState) CellState {
	out := *st
	out.Console = make([]model.CellOutput, len(st.Console))
	copy(out.Console, st.Console)
	return out
}
