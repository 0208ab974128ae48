package registry

import (
	"sync"

	"github.com/marimo-team/kernelclient/internal/model"
)

// Variables tracks top-level bindings and their preview values.
type Variables struct {
	mu     sync.RWMutex
	vars   map[string]model.Variable
	values map[string]model.VariableValue
}

func NewVariables() *Variables {
	return &Variables{
		vars:   make(map[string]model.Variable),
		values: make(map[string]model.VariableValue),
	}
}

// SetVariables replaces the binding set and returns the names that
// disappeared. Values for removed names are dropped with them.
func (v *Variables) SetVariables(vars []model.Variable) (removed []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	next := make(map[string]model.Variable, len(vars))
	for _, vv := range vars {
		next[vv.Name] = vv
	}
	for name := range v.vars {
		if _, ok := next[name]; !ok {
			removed = append(removed, name)
			delete(v.values, name)
		}
	}
	v.vars = next
	return removed
}

// SetValues merges preview values. Values for unknown variables are kept;
// the binding announcement may simply not have arrived yet.
func (v *Variables) SetValues(values []model.VariableValue) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, val := range values {
		v.values[val.Name] = val
	}
}

// Get returns the binding and its preview value, if known.
func (v *Variables) Get(name string) (model.Variable, model.VariableValue, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	vv, ok := v.vars[name]
	if !ok {
		return model.Variable{}, model.VariableValue{}, false
	}
	return vv, v.values[name], true
}

// Names returns the declared variable names in no particular order.
func (v *Variables) Names() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, 0, len(v.vars))
	for name := range v.vars {
		out = append(out, name)
	}
	return out
}
