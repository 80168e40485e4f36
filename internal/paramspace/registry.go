// File: internal/paramspace/registry.go
//
// Registry indexes a set of Components three ways, mirroring the
// lookup paths components/base.py and web_server.py rely on:
// get_param (by param_id), set_param (by component+param name), and
// get_param_info (by component+type+index, the legacy discovery path).
// Grounded on control/config.go's mutex-protected map store, widened
// to three parallel indices instead of one.

package paramspace

import (
	"sync"

	"github.com/momentics/parambus-hub/api"
)

type Registry struct {
	mu         sync.RWMutex
	components []*Component
	byName     map[string]*Component
	byParamId  map[int]Parameter
}

func NewRegistry() *Registry {
	return &Registry{
		byName:    make(map[string]*Component),
		byParamId: make(map[int]Parameter),
	}
}

// Add registers a component and indexes its current parameter set.
// Components are expected to be fully populated before Add is called;
// the registry does not observe later AddX calls on the component.
func (r *Registry) Add(c *Component) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components = append(r.components, c)
	r.byName[c.Name()] = c
	for _, p := range c.Params() {
		r.byParamId[p.Id()] = p
	}
}

func (r *Registry) Components() []*Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Component, len(r.components))
	copy(out, r.components)
	return out
}

func (r *Registry) ComponentByName(name string) (*Component, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	return c, ok
}

func (r *Registry) ParamById(id int) (Parameter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byParamId[id]
	return p, ok
}

// ParamByName resolves (component, param) by name, the path set_param
// and get_param use when no param_id was supplied.
func (r *Registry) ParamByName(component, param string) (Parameter, bool) {
	c, ok := r.ComponentByName(component)
	if !ok {
		return nil, false
	}
	return c.Param(param)
}

// ParamByTypeIndex resolves get_param_info's legacy lookup path.
func (r *Registry) ParamByTypeIndex(component string, ptype api.ParamType, idx int) (Parameter, int, bool) {
	c, ok := r.ComponentByName(component)
	if !ok {
		return nil, 0, false
	}
	return c.ParamByTypeIndex(ptype, idx)
}

// Resolve implements get_param/set_param's priority order: param_id
// first, then (component, param) by name, then (component, type,
// index) for legacy callers.
func (r *Registry) Resolve(req ResolveRequest) (Parameter, error) {
	if req.ParamId != nil {
		if p, ok := r.ParamById(*req.ParamId); ok {
			return p, nil
		}
		return nil, api.NewError(api.ErrCodeNotFound, "no parameter with that id")
	}
	if req.Component != "" && req.Param != "" {
		if p, ok := r.ParamByName(req.Component, req.Param); ok {
			return p, nil
		}
		return nil, api.NewError(api.ErrCodeNotFound, "no such component.param")
	}
	if req.Component != "" && req.ParamType != "" && req.Index != nil {
		pt, ok := api.NormalizeParamType(req.ParamType)
		if !ok {
			return nil, api.NewError(api.ErrCodeInvalidArgument, "unknown param_type")
		}
		p, _, ok := r.ParamByTypeIndex(req.Component, pt, *req.Index)
		if !ok {
			return nil, api.NewError(api.ErrCodeNotFound, "index out of range")
		}
		return p, nil
	}
	return nil, api.NewError(api.ErrCodeInvalidArgument, "insufficient fields to resolve a parameter")
}

// ResolveRequest carries the union of fields a wire request may supply
// to identify a target parameter.
type ResolveRequest struct {
	ParamId   *int
	Component string
	Param     string
	ParamType string
	Index     *int
}
