// File: internal/wsserver/dispatch.go
//
// dispatch implements the message-type handlers, matching
// web_server.py's _handle_message exactly: lookup priority for
// get_param/set_param is param_id, then (component, param) by name,
// then (component, type, index).

package wsserver

import (
	"github.com/momentics/parambus-hub/api"
	"github.com/momentics/parambus-hub/internal/paramspace"
)

func (s *Server) dispatch(c *client, req api.Request) api.Response {
	if s.refresh != nil {
		s.refresh()
	}
	switch req.Type {
	case api.MsgGetComponents:
		return s.handleGetComponents(req)
	case api.MsgGetComponentParams:
		return s.handleGetComponentParams(req)
	case api.MsgGetParamInfo:
		return s.handleGetParamInfo(req)
	case api.MsgGetParam:
		return s.handleGetParam(req)
	case api.MsgSetParam, api.MsgSet:
		return s.handleSetParam(req)
	case api.MsgSubscribe:
		return s.handleSubscribe(c, req)
	case api.MsgUnsubscribe:
		return s.handleUnsubscribe(c, req)
	default:
		return api.ErrResponse(req.Id, "unknown message type: "+req.Type)
	}
}

func (s *Server) handleGetComponents(req api.Request) api.Response {
	var out []api.ComponentSummary
	for _, c := range s.reg.Components() {
		out = append(out, api.ComponentSummary{Name: c.Name(), Id: componentID(c.Name())})
	}
	return api.Response{Id: req.Id, Components: out}
}

func (s *Server) handleGetComponentParams(req api.Request) api.Response {
	comp, ok := componentByIdOrName(s.reg, req.ComponentId, req.Component)
	if !ok {
		return api.ErrResponse(req.Id, "unknown component")
	}
	var out []api.ParamInfo
	for _, p := range comp.Params() {
		out = append(out, p.ToInfo())
	}
	return api.Response{Id: req.Id, Params: out}
}

func (s *Server) handleGetParamInfo(req api.Request) api.Response {
	comp, ok := s.reg.ComponentByName(req.Component)
	if !ok {
		return api.ErrResponse(req.Id, "unknown component")
	}
	ptype, ok := api.NormalizeParamType(req.ParamType)
	if !ok {
		return api.ErrResponse(req.Id, "unknown param_type")
	}
	idx := -1
	if req.Index != nil {
		idx = *req.Index
	}
	if idx == -1 {
		_, count, _ := comp.ParamByTypeIndex(ptype, -1)
		return api.Response{Id: req.Id, Count: &count}
	}
	p, _, ok := comp.ParamByTypeIndex(ptype, idx)
	if !ok {
		return api.ErrResponse(req.Id, "index out of range")
	}
	info := p.ToInfo()
	return api.Response{Id: req.Id, Info: &info}
}

func (s *Server) resolveParam(req api.Request) (paramspace.Parameter, error) {
	return s.reg.Resolve(paramspace.ResolveRequest{
		ParamId:   req.ParamId,
		Component: req.Component,
		Param:     req.Param,
		ParamType: req.ParamType,
		Index:     req.Index,
	})
}

func (s *Server) handleGetParam(req api.Request) api.Response {
	p, err := s.resolveParam(req)
	if err != nil {
		return api.ErrResponse(req.Id, err.Error())
	}
	v, err := p.Get(req.Row, req.Col)
	if err != nil {
		return api.ErrResponse(req.Id, err.Error())
	}
	return api.Response{Id: req.Id, Value: v}
}

func (s *Server) handleSetParam(req api.Request) api.Response {
	p, err := s.resolveParam(req)
	if err != nil {
		return api.Fail(req.Id, err.Error())
	}
	if req.Value == nil {
		return api.Fail(req.Id, "missing value field")
	}
	if p.ReadOnly() {
		return api.Fail(req.Id, "parameter is read-only")
	}
	if err := p.Set(req.Row, req.Col, req.Value, true); err != nil {
		return api.Fail(req.Id, err.Error())
	}
	return api.Ok(req.Id)
}

func (s *Server) handleSubscribe(c *client, req api.Request) api.Response {
	p, err := s.resolveParam(req)
	if err != nil {
		return api.ErrResponse(req.Id, err.Error())
	}
	s.subscribe(c, p.Id(), req.Row, req.Col)
	v, _ := p.Get(req.Row, req.Col)
	return api.Response{Id: req.Id, Value: v}
}

func (s *Server) handleUnsubscribe(c *client, req api.Request) api.Response {
	p, err := s.resolveParam(req)
	if err != nil {
		return api.ErrResponse(req.Id, err.Error())
	}
	s.unsubscribe(c, p.Id(), req.Row, req.Col)
	return api.Ok(req.Id)
}
