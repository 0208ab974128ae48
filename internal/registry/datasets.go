package registry

import (
	"encoding/json"
	"sync"

	"github.com/marimo-team/kernelclient/internal/model"
)

// ColumnPreview is the cached summary for one dataset column.
type ColumnPreview struct {
	Summary json.RawMessage
	Error   string
}

type datasetEntry struct {
	table    model.DataTable
	previews map[string]ColumnPreview
}

// Datasets is the registry of tables announced by the kernel.
type Datasets struct {
	mu     sync.RWMutex
	tables map[string]*datasetEntry
}

func NewDatasets() *Datasets {
	return &Datasets{tables: make(map[string]*datasetEntry)}
}

// Upsert merges announced tables by name.
func (d *Datasets) Upsert(tables []model.DataTable) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range tables {
		if e, ok := d.tables[t.Name]; ok {
			e.table = t
		} else {
			d.tables[t.Name] = &datasetEntry{table: t, previews: make(map[string]ColumnPreview)}
		}
	}
}

// Clear drops every table.
func (d *Datasets) Clear() {
	d.mu.Lock()
	d.tables = make(map[string]*datasetEntry)
	d.mu.Unlock()
}

// PruneVariables drops tables whose backing variable was removed.
func (d *Datasets) PruneVariables(removed []string) {
	if len(removed) == 0 {
		return
	}
	gone := make(map[string]struct{}, len(removed))
	for _, name := range removed {
		gone[name] = struct{}{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for name, e := range d.tables {
		if _, ok := gone[e.table.VariableName]; ok {
			delete(d.tables, name)
		}
	}
}

// SetColumnPreview caches a column summary for a known table. Previews for
// unknown tables are dropped.
func (d *Datasets) SetColumnPreview(tableName, columnName string, p ColumnPreview) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.tables[tableName]; ok {
		e.previews[columnName] = p
	}
}

// Get returns one table by name.
func (d *Datasets) Get(name string) (model.DataTable, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.tables[name]
	if !ok {
		return model.DataTable{}, false
	}
	return e.table, true
}

// ColumnPreviewFor returns the cached preview for a table column.
func (d *Datasets) ColumnPreviewFor(tableName, columnName string) (ColumnPreview, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.tables[tableName]
	if !ok {
		return ColumnPreview{}, false
	}
	p, ok := e.previews[columnName]
	return p, ok
}

// Len reports the number of registered tables.
func (d *Datasets) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.tables)
}

// DataSources is the registry of SQL connections announced by the kernel.
type DataSources struct {
	mu    sync.RWMutex
	conns map[string]model.DataSourceConnection
}

func NewDataSources() *DataSources {
	return &DataSources{conns: make(map[string]model.DataSourceConnection)}
}

// Set replaces the connection set.
func (d *DataSources) Set(conns []model.DataSourceConnection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns = make(map[string]model.DataSourceConnection, len(conns))
	for _, c := range conns {
		d.conns[c.Name] = c
	}
}

// PruneVariables drops connections whose backing variable was removed.
func (d *DataSources) PruneVariables(removed []string) {
	if len(removed) == 0 {
		return
	}
	gone := make(map[string]struct{}, len(removed))
	for _, name := range removed {
		gone[name] = struct{}{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for name, c := range d.conns {
		if _, ok := gone[c.VariableName]; ok {
			delete(d.conns, name)
		}
	}
}

// Get returns one connection by name.
func (d *DataSources) Get(name string) (model.DataSourceConnection, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.conns[name]
	return c, ok
}

// Len reports the number of registered connections.
func (d *DataSources) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.conns)
}
