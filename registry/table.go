package registry

import (
	"sort"
	"sync"

	"mini-lpc/message"
)

// Table is an in-memory Registry guarded by one lock. Last writer wins.
type Table struct {
	mu      sync.RWMutex
	entries map[string]message.Registration
}

var _ Registry = (*Table)(nil)

func NewTable() *Table {
	return &Table{entries: make(map[string]message.Registration)}
}

func (t *Table) Register(reg message.Registration) (message.Registration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.entries[reg.AccessPath]
	t.entries[reg.AccessPath] = reg
	return prev, ok
}

func (t *Table) Deregister(accessPath string) (message.Registration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.entries[accessPath]
	delete(t.entries, accessPath)
	return prev, ok
}

func (t *Table) Lookup(accessPath string) (message.Registration, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	reg, ok := t.entries[accessPath]
	return reg, ok
}

// List returns a snapshot sorted by access path.
func (t *Table) List() []message.Registration {
	t.mu.RLock()
	out := make([]message.Registration, 0, len(t.entries))
	for _, reg := range t.entries {
		out = append(out, reg)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].AccessPath < out[j].AccessPath })
	return out
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
