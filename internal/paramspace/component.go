// File: internal/paramspace/component.go
//
// Component groups related parameters under a name, mirroring
// components/base.py's Component base class. Unlike the original, the
// parameter-id counter is not a class-level global: it is an explicit
// Allocator passed to NewComponent, so tests can run fully isolated
// id spaces concurrently.

package paramspace

import (
	"sync"

	"github.com/momentics/parambus-hub/api"
)

// Allocator hands out unique parameter ids to every component built on it.
// It is a plain counter, not a package-level variable, so multiple
// independent hubs (e.g. in tests) never collide.
type Allocator struct {
	mu   sync.Mutex
	next int
}

func NewAllocator() *Allocator { return &Allocator{next: 1} }

func (a *Allocator) Next() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.next
	a.next++
	return id
}

// Component is a named collection of parameters, addressable by name
// or by (type, index) for legacy discovery.
type Component struct {
	mu     sync.RWMutex
	name   string
	alloc  *Allocator
	params []Parameter
	byName map[string]Parameter
}

func NewComponent(name string, alloc *Allocator) *Component {
	return &Component{name: name, alloc: alloc, byName: make(map[string]Parameter)}
}

func (c *Component) Name() string { return c.name }

func (c *Component) addParam(p Parameter) Parameter {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params = append(c.params, p)
	c.byName[p.Name()] = p
	return p
}

func (c *Component) AddInt(name string, rows, cols int, readOnly bool, def int64, hasBounds bool, min, max int64) Parameter {
	return c.AddIntId(c.alloc.Next(), name, rows, cols, readOnly, def, hasBounds, min, max)
}

func (c *Component) AddFloat(name string, rows, cols int, readOnly bool, def float64, hasBounds bool, min, max float64) Parameter {
	return c.AddFloatId(c.alloc.Next(), name, rows, cols, readOnly, def, hasBounds, min, max)
}

func (c *Component) AddBool(name string, rows, cols int, readOnly bool, def bool) Parameter {
	return c.AddBoolId(c.alloc.Next(), name, rows, cols, readOnly, def)
}

func (c *Component) AddString(name string, rows, cols int, readOnly bool, def string) Parameter {
	return c.AddStringId(c.alloc.Next(), name, rows, cols, readOnly, def)
}

// The …Id variants bypass the component's own Allocator and take an
// explicit param id. Device discovery (internal/device) uses these so
// a remote component's shadow carries the exact param_id the device
// itself assigned — outbound SET frames must address that id, not a
// locally-generated one (spec.md §4.C/§4.F).

func (c *Component) AddIntId(id int, name string, rows, cols int, readOnly bool, def int64, hasBounds bool, min, max int64) Parameter {
	cl := newCell(id, name, api.ParamInt, rows, cols, readOnly, def)
	if hasBounds {
		cl.setBounds(float64(min), float64(max))
	}
	return c.addParam(cl)
}

func (c *Component) AddFloatId(id int, name string, rows, cols int, readOnly bool, def float64, hasBounds bool, min, max float64) Parameter {
	cl := newCell(id, name, api.ParamFloat, rows, cols, readOnly, def)
	if hasBounds {
		cl.setBounds(min, max)
	}
	return c.addParam(cl)
}

func (c *Component) AddBoolId(id int, name string, rows, cols int, readOnly bool, def bool) Parameter {
	return c.addParam(newCell(id, name, api.ParamBool, rows, cols, readOnly, def))
}

func (c *Component) AddStringId(id int, name string, rows, cols int, readOnly bool, def string) Parameter {
	return c.addParam(newCell(id, name, api.ParamString, rows, cols, readOnly, def))
}

// Param looks up a parameter by name.
func (c *Component) Param(name string) (Parameter, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byName[name]
	return p, ok
}

// Params returns every parameter in declaration order.
func (c *Component) Params() []Parameter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Parameter, len(c.params))
	copy(out, c.params)
	return out
}

// ParamByTypeIndex returns the idx'th parameter of the given type,
// supporting get_param_info's legacy (component, type, index) lookup.
// idx == -1 signals "just tell me the count".
func (c *Component) ParamByTypeIndex(ptype api.ParamType, idx int) (Parameter, int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	count := 0
	var match Parameter
	for _, p := range c.params {
		if p.Type() != ptype {
			continue
		}
		if count == idx {
			match = p
		}
		count++
	}
	if idx == -1 {
		return nil, count, true
	}
	if match == nil {
		return nil, count, false
	}
	return match, count, true
}
