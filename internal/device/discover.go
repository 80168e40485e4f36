// File: internal/device/discover.go
//
// Discovery and subscription sequencing, grounded on central_hub.py's
// _discover_device/_discover_params_of_type/_subscribe_all: sequential,
// paced requests rather than a burst, so a constrained embedded device
// is never hit with a thundering herd of simultaneous queries.

package device

import (
	"context"
	"time"

	"github.com/momentics/parambus-hub/api"
	"github.com/momentics/parambus-hub/internal/paramspace"
)

var discoveryTypes = []api.ParamType{api.ParamInt, api.ParamFloat, api.ParamBool, api.ParamString}

// discover rebuilds the shadow component tree from scratch: the
// previous tree (and therefore the previous param-id space) is
// discarded entirely, per spec.md's decision that remote param ids are
// not guaranteed stable across rediscovery.
func (s *Session) discover(ctx context.Context) error {
	s.alloc = paramspace.NewAllocator()
	fresh := paramspace.NewRegistry()

	resp, err := s.request(ctx, api.Request{Type: api.MsgGetComponents})
	if err != nil {
		return err
	}

	for _, comp := range resp.Components {
		c := paramspace.NewComponent(comp.Name, s.alloc)
		for _, ptype := range discoveryTypes {
			if err := s.discoverParamsOfType(ctx, c, comp.Name, ptype); err != nil {
				s.log.WithField("err", err).Warnf("discovery of %s/%s failed", comp.Name, ptype)
			}
			time.Sleep(s.cfg.DiscoveryDelay)
		}
		fresh.Add(c)
	}

	s.shadow = fresh
	s.Mirror.Reset()
	return nil
}

func (s *Session) discoverParamsOfType(ctx context.Context, c *paramspace.Component, component string, ptype api.ParamType) error {
	countResp, err := s.request(ctx, api.Request{Type: api.MsgGetParamInfo, Component: component, ParamType: string(ptype), Index: intPtr(-1)})
	if err != nil {
		return err
	}
	count := 0
	if countResp.Count != nil {
		count = *countResp.Count
	}
	for i := 0; i < count; i++ {
		infoResp, err := s.request(ctx, api.Request{Type: api.MsgGetParamInfo, Component: component, ParamType: string(ptype), Index: intPtr(i)})
		if err != nil || infoResp.Info == nil {
			continue
		}
		info := infoResp.Info
		hasBounds := info.Min != nil && info.Max != nil
		// The device's own param_id is preserved (not re-allocated) so
		// outbound SET frames address the id the device actually knows.
		switch ptype {
		case api.ParamInt:
			var min, max int64
			if hasBounds {
				min, max = int64(*info.Min), int64(*info.Max)
			}
			c.AddIntId(info.ParamId, info.Name, info.Rows, info.Cols, info.ReadOnly, 0, hasBounds, min, max)
		case api.ParamFloat:
			var min, max float64
			if hasBounds {
				min, max = *info.Min, *info.Max
			}
			c.AddFloatId(info.ParamId, info.Name, info.Rows, info.Cols, info.ReadOnly, 0, hasBounds, min, max)
		case api.ParamBool:
			c.AddBoolId(info.ParamId, info.Name, info.Rows, info.Cols, info.ReadOnly, false)
		case api.ParamString:
			c.AddStringId(info.ParamId, info.Name, info.Rows, info.Cols, info.ReadOnly, "")
		}
	}
	return nil
}

// subscribeAll requests a subscription for every discovered cell,
// pacing with SubscribeDelay. Failures are logged and skipped, never
// fatal to the session, matching _subscribe_all.
func (s *Session) subscribeAll(ctx context.Context) {
	for _, c := range s.shadow.Components() {
		for _, p := range c.Params() {
			for row := 0; row < p.Rows(); row++ {
				for col := 0; col < p.Cols(); col++ {
					resp, err := s.request(ctx, api.Request{Type: api.MsgSubscribe, Component: c.Name(), Param: p.Name(), Row: row, Col: col})
					if err != nil {
						s.log.WithField("err", err).Warnf("subscribe %s.%s[%d,%d] failed", c.Name(), p.Name(), row, col)
						time.Sleep(s.cfg.SubscribeDelay)
						continue
					}
					if resp.Value != nil {
						p.Set(row, col, resp.Value, false)
						s.Mirror.Update(c.Name(), p.Name(), p.Id(), row, col, resp.Value)
					}
					time.Sleep(s.cfg.SubscribeDelay)
				}
			}
		}
	}
}

func intPtr(i int) *int { return &i }
