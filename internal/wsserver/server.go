// File: internal/wsserver/server.go
//
// Server is the inbound protocol server: it exposes the hub's local
// components over the same JSON-over-WebSocket protocol the hub itself
// speaks to remote devices, grounded on web_server.py's WebServerComponent
// and _handle_message. Each client connection gets one writer goroutine
// draining an eapache/queue-backed mailbox (the teacher's own
// dependency, repurposed here instead of dropped) so broadcasts and
// direct responses never race on the single required gorilla/websocket
// writer.

package wsserver

import (
	"encoding/json"
	"hash/fnv"
	"net/http"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/momentics/parambus-hub/api"
	"github.com/momentics/parambus-hub/internal/paramspace"
)

// Config carries the server's listen address and keepalive settings.
// MailboxCapacity is not read: each client's mailbox is an unbounded
// FIFO.
type Config struct {
	Addr            string
	PingInterval    time.Duration
	PingTimeout     time.Duration
	MailboxCapacity int
}

func DefaultConfig(addr string) Config {
	return Config{Addr: addr, PingInterval: 30 * time.Second, PingTimeout: 10 * time.Second, MailboxCapacity: 256}
}

type subKey struct {
	paramId, row, col int
}

type client struct {
	conn    *websocket.Conn
	mailbox *queue.Queue
	mu      sync.Mutex
	cond    *sync.Cond
	closed  bool
}

func newClient(conn *websocket.Conn) *client {
	c := &client{conn: conn, mailbox: queue.New()}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *client) enqueue(payload []byte) {
	c.mu.Lock()
	if !c.closed {
		c.mailbox.Add(payload)
		c.cond.Signal()
	}
	c.mu.Unlock()
}

func (c *client) writeLoop() {
	for {
		c.mu.Lock()
		for c.mailbox.Length() == 0 && !c.closed {
			c.cond.Wait()
		}
		if c.closed && c.mailbox.Length() == 0 {
			c.mu.Unlock()
			return
		}
		payload := c.mailbox.Remove().([]byte)
		c.mu.Unlock()

		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			c.close()
			return
		}
	}
}

func (c *client) close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		c.cond.Signal()
	}
	c.mu.Unlock()
	c.conn.Close()
}

// Server serves the local component registry to any client speaking
// the bus protocol.
type Server struct {
	cfg Config
	reg *paramspace.Registry
	log *logrus.Entry
	up  websocket.Upgrader

	mu            sync.Mutex
	clients       map[*client]bool
	subsByClient  map[*client]map[subKey]bool
	subsByKey     map[subKey]map[*client]bool
	totalMessages int64

	refresh func() // optional: called before serving any request, see SetRefreshHook
}

func New(cfg Config, reg *paramspace.Registry, log *logrus.Entry) *Server {
	s := &Server{
		cfg:          cfg,
		reg:          reg,
		log:          log.WithField("component", "wsserver"),
		clients:      make(map[*client]bool),
		subsByClient: make(map[*client]map[subKey]bool),
		subsByKey:    make(map[subKey]map[*client]bool),
	}
	s.installBroadcastHooks()
	return s
}

// SetRefreshHook installs a function run once at the top of every
// inbound request's dispatch, before any parameter is read. The Hub
// uses this to keep on-demand-refreshed cells like
// HubStatus.devices_json current for any client that reads them
// (directly or via get_component_params), rather than only when
// something happens to call Hub.Snapshot() first.
func (s *Server) SetRefreshHook(fn func()) {
	s.refresh = fn
}

// installBroadcastHooks registers a change callback on every parameter
// of every currently-registered component, matching
// _setup_broadcast_callbacks. Components added to the registry after
// the server starts are not picked up automatically; callers should
// finish registering components before constructing the server.
func (s *Server) installBroadcastHooks() {
	for _, c := range s.reg.Components() {
		for _, p := range c.Params() {
			p.OnChange(func(row, col int, old, newValue any) {
				s.broadcast(p.Id(), row, col, newValue)
			})
		}
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.up.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithField("err", err).Warn("upgrade failed")
		return
	}
	c := newClient(conn)

	s.mu.Lock()
	s.clients[c] = true
	s.subsByClient[c] = make(map[subKey]bool)
	s.mu.Unlock()

	if s.cfg.PingInterval > 0 {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PingInterval + s.cfg.PingTimeout))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(s.cfg.PingInterval + s.cfg.PingTimeout))
			return nil
		})
		go s.pingLoop(c)
	}

	go c.writeLoop()
	s.handleClient(c)
}

func (s *Server) pingLoop(c *client) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.PingTimeout)); err != nil {
			return
		}
	}
}

func (s *Server) handleClient(c *client) {
	defer s.removeClient(c)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.totalMessages++
		s.mu.Unlock()

		var req api.Request
		if err := json.Unmarshal(data, &req); err != nil {
			s.send(c, api.ErrResponse("", "Invalid JSON"))
			continue
		}
		resp := s.dispatch(c, req)
		s.send(c, resp)
	}
}

func (s *Server) send(c *client, resp api.Response) {
	b, err := json.Marshal(resp)
	if err != nil {
		return
	}
	c.enqueue(b)
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	keys := s.subsByClient[c]
	for k := range keys {
		if set, ok := s.subsByKey[k]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(s.subsByKey, k)
			}
		}
	}
	delete(s.subsByClient, c)
	delete(s.clients, c)
	s.mu.Unlock()
	c.close()
}

// broadcast pushes a param_update to every client subscribed to this
// exact (param_id, row, col), matching _broadcast_update.
func (s *Server) broadcast(paramId, row, col int, value any) {
	key := subKey{paramId, row, col}
	s.mu.Lock()
	recipients := make([]*client, 0, len(s.subsByKey[key]))
	for c := range s.subsByKey[key] {
		recipients = append(recipients, c)
	}
	s.mu.Unlock()
	if len(recipients) == 0 {
		return
	}
	upd := api.NewParamUpdate(paramId, row, col, value)
	b, err := json.Marshal(upd)
	if err != nil {
		return
	}
	for _, c := range recipients {
		c.enqueue(b)
	}
}

func (s *Server) subscribe(c *client, paramId, row, col int) {
	key := subKey{paramId, row, col}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subsByClient[c][key] = true
	if s.subsByKey[key] == nil {
		s.subsByKey[key] = make(map[*client]bool)
	}
	s.subsByKey[key][c] = true
}

func (s *Server) unsubscribe(c *client, paramId, row, col int) {
	key := subKey{paramId, row, col}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subsByClient[c], key)
	if set, ok := s.subsByKey[key]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(s.subsByKey, key)
		}
	}
}

// componentID derives a stable pseudo-id for a component name, playing
// the same cosmetic role as the original's hash(name)&0xFFFFFFFF
// without relying on Python's salted per-process string hash.
func componentID(name string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(name))
	return h.Sum32()
}

func componentByIdOrName(reg *paramspace.Registry, id *int, name string) (*paramspace.Component, bool) {
	if name != "" {
		return reg.ComponentByName(name)
	}
	if id == nil {
		return nil, false
	}
	for _, c := range reg.Components() {
		if int(componentID(c.Name())) == *id {
			return c, true
		}
	}
	return nil, false
}
