// File: internal/hub/dispatch.go
//
// Hub implements scheduler.Dispatcher, watcher.ValueSource, and
// netaction.NicknameResolver so each of those components stays free of
// direct registry/session wiring (spec.md §4.F/§4.G/§4.E name the
// collaborator contracts; this file is the one place that satisfies
// all three against the same registry and session map).

package hub

import (
	"context"
	"time"

	"github.com/momentics/parambus-hub/api"
	"github.com/momentics/parambus-hub/internal/paramspace"
	"github.com/momentics/parambus-hub/internal/scheduler"
)

// ResolveNickname satisfies scheduler.Dispatcher, watcher's dispatcher
// field, and netaction.NicknameResolver with one implementation: all
// three expect "" when the name has no mapping.
func (h *Hub) ResolveNickname(name string) string {
	return h.scheduler.ResolveNickname(name)
}

// ExecuteLocal resolves an action's target parameter in the local
// registry (param_id first, then component+param name, per spec.md
// §4.F) and writes it, refusing read-only cells.
func (h *Hub) ExecuteLocal(a scheduler.Action) error {
	p, err := h.registry.Resolve(paramspace.ResolveRequest{
		ParamId:   a.ParamId,
		Component: a.Component,
		Param:     a.Param,
	})
	if err != nil {
		return err
	}
	if p.ReadOnly() {
		return api.ErrReadOnly
	}
	return p.Set(a.Row, a.Col, a.Value, true)
}

// ExecuteRemote sends a SET frame to the named device's live session.
// device has already been nickname-resolved by the caller (the
// scheduler/watcher resolve nicknames themselves before dispatch).
func (h *Hub) ExecuteRemote(device string, a scheduler.Action) error {
	sess, ok := h.sessionForTarget(device)
	if !ok {
		return api.NewError(api.ErrCodeNotFound, "no device session for "+device)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.ParamId != nil {
		return sess.SendSet(ctx, *a.ParamId, a.Row, a.Col, a.Value)
	}
	return sess.SendSetByName(ctx, a.Component, a.Param, a.Row, a.Col, a.Value)
}

// ReadLocal satisfies watcher.ValueSource for "self"-bound variables.
func (h *Hub) ReadLocal(component, param string, row, col int) (any, bool) {
	p, ok := h.registry.ParamByName(component, param)
	if !ok {
		return nil, false
	}
	v, err := p.Get(row, col)
	if err != nil {
		return nil, false
	}
	return v, true
}

// ReadRemote satisfies watcher.ValueSource for device-bound variables,
// consulting that device's mirror store (spec.md §4.D), never its
// shadow component tree, so evaluation never blocks on session state.
func (h *Hub) ReadRemote(device, component, param string, row, col int) (any, bool) {
	sess, ok := h.sessionForTarget(device)
	if !ok {
		return nil, false
	}
	return sess.Mirror.Get(component, param, row, col)
}
