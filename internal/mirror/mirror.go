// File: internal/mirror/mirror.go
//
// Mirror is a per-device flat cache of a remote device's last-known
// cell values, grounded on central_hub.py's remote_state_cache: every
// device gets one Mirror, keyed two ways just like the original
// ("<component>.<param>[row,col]" and "param_<id>[row,col]"), rebuilt
// from scratch on every successful (re)discovery and left untouched on
// a mere disconnect so stale-but-last-known values remain readable.

package mirror

import (
	"fmt"
	"sync"
)

// Mirror holds the shadow state for exactly one device.
type Mirror struct {
	mu     sync.RWMutex
	byName map[string]any // "component.param[row,col]"
	byId   map[string]any // "param_<id>[row,col]"
}

func New() *Mirror {
	return &Mirror{
		byName: make(map[string]any),
		byId:   make(map[string]any),
	}
}

func nameKey(component, param string, row, col int) string {
	return fmt.Sprintf("%s.%s[%d,%d]", component, param, row, col)
}

func idKey(paramId, row, col int) string {
	return fmt.Sprintf("param_%d[%d,%d]", paramId, row, col)
}

// Update records a fresh value under both key schemes, called from the
// device session's listener on every param_update push.
func (m *Mirror) Update(component, param string, paramId, row, col int, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byName[nameKey(component, param, row, col)] = value
	m.byId[idKey(paramId, row, col)] = value
}

// Get reads by (component, param, row, col), the path the watcher uses
// for remote variable references.
func (m *Mirror) Get(component, param string, row, col int) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.byName[nameKey(component, param, row, col)]
	return v, ok
}

// GetById reads by (param_id, row, col).
func (m *Mirror) GetById(paramId, row, col int) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.byId[idKey(paramId, row, col)]
	return v, ok
}

// Reset discards all cached values. Called only once a discovery pass
// has rebuilt the shadow tree, just before subscription repopulates the
// mirror, never on a plain disconnect — a session that merely
// drops and reconnects keeps serving the last values it mirrored until
// discovery actually replaces them.
func (m *Mirror) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byName = make(map[string]any)
	m.byId = make(map[string]any)
}

// Snapshot returns a copy of the name-keyed view, used by Hub.Snapshot.
func (m *Mirror) Snapshot() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]any, len(m.byName))
	for k, v := range m.byName {
		out[k] = v
	}
	return out
}
