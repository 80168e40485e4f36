// File: internal/device/session.go
//
// Session manages one remote device's durable, auto-reconnecting
// WebSocket connection: discovery, subscription, and the live listen
// loop that feeds the mirror store. The reconnect/backoff/heartbeat
// shape is grounded on client/client.go's WebSocketClient (ClientConfig,
// ClientOption, ConnEventHandler, connect()/recvLoop()/heartbeatLoop()),
// adapted from a raw-frame zero-copy transport to gorilla/websocket and
// from a single-shot stress client to a long-lived state machine
// (spec.md §4.C). Discovery/subscription sequencing and the shadow
// param tree follow central_hub.py's _discover_device/_subscribe_all/
// _handle_param_update.

package device

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/momentics/parambus-hub/api"
	"github.com/momentics/parambus-hub/internal/mirror"
	"github.com/momentics/parambus-hub/internal/paramspace"
)

// Config mirrors ClientConfig's role: every knob needed to dial and
// maintain one device session.
type Config struct {
	Name           string // logical name (used in log fields and as the request-id prefix)
	Addr           string // ws://host:port style address
	ReconnectDelay time.Duration
	DiscoveryDelay time.Duration
	SubscribeDelay time.Duration
	RequestTimeout time.Duration
	PingInterval   time.Duration
	PingTimeout    time.Duration
}

func DefaultConfig(name, addr string) Config {
	return Config{
		Name:           name,
		Addr:           addr,
		ReconnectDelay: 5 * time.Second,
		DiscoveryDelay: 50 * time.Millisecond,
		SubscribeDelay: 20 * time.Millisecond,
		RequestTimeout: 10 * time.Second,
		PingInterval:   30 * time.Second,
		PingTimeout:    10 * time.Second,
	}
}

// Option is the functional-options knob, following client.ClientOption.
type Option func(*Session)

// WithDialer overrides the websocket dialer (used by tests to point at
// an in-process httptest server).
func WithDialer(d *websocket.Dialer) Option {
	return func(s *Session) {
		if d != nil {
			s.dialer = d
		}
	}
}

// EventHandler mirrors client.ConnEventHandler: optional lifecycle
// hooks a Hub registers to react to state transitions.
type EventHandler interface {
	OnStateChange(state api.SessionState)
	OnParamUpdate(component, param string, row, col int, value any)
}

// Session is one device's connection state machine.
type Session struct {
	cfg    Config
	dialer *websocket.Dialer
	log    *logrus.Entry

	mu       sync.Mutex
	conn     *websocket.Conn
	state    atomic.Int32 // api.SessionState
	handlers []EventHandler

	shadow *paramspace.Registry // remote component/param tree, rebuilt each discovery
	alloc  *paramspace.Allocator
	Mirror *mirror.Mirror

	pendingMu sync.Mutex
	pending   map[string]chan api.Response
	nextReqId atomic.Uint64
}

func New(cfg Config, log *logrus.Entry) *Session {
	s := &Session{
		cfg:     cfg,
		dialer:  websocket.DefaultDialer,
		log:     log.WithField("device", cfg.Name),
		alloc:   paramspace.NewAllocator(),
		shadow:  paramspace.NewRegistry(),
		Mirror:  mirror.New(),
		pending: make(map[string]chan api.Response),
	}
	s.setState(api.StateDisconnected)
	return s
}

func (s *Session) RegisterHandler(h EventHandler) {
	s.mu.Lock()
	s.handlers = append(s.handlers, h)
	s.mu.Unlock()
}

func (s *Session) State() api.SessionState {
	return api.SessionState(s.state.Load())
}

// Components exposes the current shadow component tree, used by the
// hub's status snapshot (spec.md's supplemented get_state_snapshot).
func (s *Session) Components() []*paramspace.Component {
	return s.shadow.Components()
}

func (s *Session) setState(st api.SessionState) {
	s.state.Store(int32(st))
	s.mu.Lock()
	handlers := append([]EventHandler(nil), s.handlers...)
	s.mu.Unlock()
	for _, h := range handlers {
		h.OnStateChange(st)
	}
}

// Run drives the full reconnect loop until ctx is cancelled, matching
// _manage_device's outer "forever" loop: connect, discover, subscribe,
// listen, and on any failure wait ReconnectDelay before retrying.
func (s *Session) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.connectAndServe(ctx); err != nil {
			s.log.WithField("err", err).Warn("device session ended, will reconnect")
		}
		s.setState(api.StateWaiting)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

func (s *Session) connectAndServe(ctx context.Context) error {
	s.setState(api.StateConnecting)
	conn, _, err := s.dialer.DialContext(ctx, s.cfg.Addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
	}()

	if s.cfg.PingInterval > 0 {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PingInterval + s.cfg.PingTimeout))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(s.cfg.PingInterval + s.cfg.PingTimeout))
			return nil
		})
	}

	listenerDone := make(chan error, 1)
	go func() { listenerDone <- s.listen(conn) }()

	if s.cfg.PingInterval > 0 {
		go s.heartbeat(ctx, conn)
	}

	s.setState(api.StateDiscovering)
	if err := s.discover(ctx); err != nil {
		return fmt.Errorf("discovery: %w", err)
	}

	s.setState(api.StateSubscribing)
	s.subscribeAll(ctx)

	s.setState(api.StateListening)

	select {
	case err := <-listenerDone:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.PingTimeout))
			s.mu.Unlock()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// listen reads frames until the connection fails, correlating
// responses by id and routing param_update pushes to the mirror and
// any registered handlers, matching _listen_for_updates.
func (s *Session) listen(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env api.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.log.WithField("err", err).Debug("malformed frame from device")
			continue
		}
		if env.Type == api.MsgParamUpdate {
			var upd api.ParamUpdate
			if err := json.Unmarshal(data, &upd); err == nil {
				s.handleParamUpdate(upd)
			}
			continue
		}
		if env.Id != "" {
			var resp api.Response
			if err := json.Unmarshal(data, &resp); err != nil {
				continue
			}
			s.pendingMu.Lock()
			ch, ok := s.pending[env.Id]
			if ok {
				delete(s.pending, env.Id)
			}
			s.pendingMu.Unlock()
			if ok {
				ch <- resp
			}
		}
	}
}

func (s *Session) handleParamUpdate(upd api.ParamUpdate) {
	// Resolve which (component, param) this param_id maps to in our
	// shadow tree so the mirror's name-keyed index stays populated.
	for _, c := range s.shadow.Components() {
		for _, p := range c.Params() {
			if p.Id() != upd.ParamId {
				continue
			}
			old, _ := p.Get(upd.Row, upd.Col)
			p.Set(upd.Row, upd.Col, upd.Value, false)
			s.Mirror.Update(c.Name(), p.Name(), upd.ParamId, upd.Row, upd.Col, upd.Value)
			s.log.WithField("param", c.Name()+"."+p.Name()).Debugf("%v -> %v", old, upd.Value)

			s.mu.Lock()
			handlers := append([]EventHandler(nil), s.handlers...)
			s.mu.Unlock()
			for _, h := range handlers {
				h.OnParamUpdate(c.Name(), p.Name(), upd.Row, upd.Col, upd.Value)
			}
			return
		}
	}
}

// request sends a JSON request and blocks for its correlated response
// or RequestTimeout, mirroring _send_request's asyncio.Future pattern.
func (s *Session) request(ctx context.Context, req api.Request) (api.Response, error) {
	id := fmt.Sprintf("%s-%d", s.cfg.Name, s.nextReqId.Add(1))
	req.Id = id

	ch := make(chan api.Response, 1)
	s.pendingMu.Lock()
	s.pending[id] = ch
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	payload, err := json.Marshal(req)
	if err != nil {
		return api.Response{}, err
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return api.Response{}, api.ErrSessionNotConnected
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return api.Response{}, err
	}

	timeout := s.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	select {
	case resp := <-ch:
		return resp, nil
	case <-time.After(timeout):
		return api.Response{}, api.ErrOperationTimeout
	case <-ctx.Done():
		return api.Response{}, ctx.Err()
	}
}

// SendSet writes a remote cell by the device's own param_id, the wire
// shape spec.md §4.C/§9 mandates for outbound writes:
// {"type":"SET","param_id":N,"row":R,"col":C,"value":V}. This is
// fire-and-forget, matching action_manager.py's
// "await ws.send(json.dumps(request))" — no id, no correlated reply, no
// wait. Per spec.md's decision on outbound writes across reconnects,
// this only sends while LISTENING; anything else is dropped with a
// logged warning, never queued.
func (s *Session) SendSet(ctx context.Context, paramId, row, col int, value any) error {
	if s.State() != api.StateListening {
		s.log.WithField("param_id", paramId).Warn("dropping SET: session not listening")
		return api.ErrSessionNotConnected
	}
	payload, err := json.Marshal(api.Request{Type: api.MsgSet, ParamId: &paramId, Row: row, Col: col, Value: value})
	if err != nil {
		return err
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return api.ErrSessionNotConnected
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// SendSetByName resolves (component, param) against this session's
// shadow tree to find the device's real param_id, then sends SendSet.
// Used when an action names the target by component/param rather than
// supplying param_id directly.
func (s *Session) SendSetByName(ctx context.Context, component, param string, row, col int, value any) error {
	p, ok := s.shadow.ParamByName(component, param)
	if !ok {
		return api.NewError(api.ErrCodeNotFound, "unknown remote component.param: "+component+"."+param)
	}
	return s.SendSet(ctx, p.Id(), row, col, value)
}
