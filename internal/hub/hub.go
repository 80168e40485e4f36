// File: internal/hub/hub.go
//
// Hub wires together every component in spec.md §2's composition: the
// local parameter registry, one device.Session per configured remote
// endpoint, the scheduler, the watcher, the network-actions engine, and
// the inbound protocol server. Grounded on central_hub.py's CentralHub
// class (device_sessions dict, component registry, the four background
// tasks it starts in main()), adapted to an errgroup-supervised set of
// goroutines per opensofttools-istio's task-orchestration idiom (see
// SPEC_FULL.md's DOMAIN STACK) instead of the teacher's own bespoke
// shutdownCh/sync.Once pattern.
package hub

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/parambus-hub/internal/device"
	"github.com/momentics/parambus-hub/internal/netaction"
	"github.com/momentics/parambus-hub/internal/paramspace"
	"github.com/momentics/parambus-hub/internal/scheduler"
	"github.com/momentics/parambus-hub/internal/watcher"
	"github.com/momentics/parambus-hub/internal/wsserver"
)

// Config is every knob spec.md §6 lists as hub-level configuration.
type Config struct {
	Devices        []string // "host:port" endpoints, empty permitted
	ServerAddr     string   // inbound protocol server listen address, e.g. ":8765"
	PingInterval   time.Duration
	PingTimeout    time.Duration
	ReconnectDelay time.Duration
	DiscoveryDelay time.Duration
	SubscribeDelay time.Duration
	RequestTimeout time.Duration
}

// Hub owns the local component registry and every background task.
type Hub struct {
	cfg Config
	log *logrus.Entry

	registry *paramspace.Registry
	alloc    *paramspace.Allocator

	sessions   map[string]*device.Session // keyed by device host (ip)
	scheduler  *scheduler.Component
	watcher    *watcher.Component
	netaction  *netaction.Component
	wsServer   *wsserver.Server
	httpServer *http.Server

	status *statusComponent
}

// New builds every local component and device session but starts
// nothing; call Run to bring the hub up.
func New(cfg Config, log *logrus.Entry) (*Hub, error) {
	h := &Hub{
		cfg:      cfg,
		log:      log.WithField("component", "hub"),
		registry: paramspace.NewRegistry(),
		alloc:    paramspace.NewAllocator(),
		sessions: make(map[string]*device.Session),
	}

	schedComp := paramspace.NewComponent("ActionManager", h.alloc)
	h.scheduler = scheduler.Register(schedComp, h, log)
	h.registry.Add(schedComp)

	watchComp := paramspace.NewComponent("Watcher", h.alloc)
	h.watcher = watcher.Register(watchComp, h, h.scheduler, h, log)
	h.registry.Add(watchComp)

	netComp := paramspace.NewComponent("NetworkActions", h.alloc)
	h.netaction = netaction.Register(netComp, h, log)
	h.registry.Add(netComp)

	statusComp := paramspace.NewComponent("HubStatus", h.alloc)
	h.status = newStatusComponent(statusComp, h)
	h.registry.Add(statusComp)

	for _, endpoint := range cfg.Devices {
		host := hostOf(endpoint)
		sessCfg := device.Config{
			Name:           host,
			Addr:           "ws://" + endpoint + "/ws",
			ReconnectDelay: orDefault(cfg.ReconnectDelay, 5*time.Second),
			DiscoveryDelay: orDefault(cfg.DiscoveryDelay, 50*time.Millisecond),
			SubscribeDelay: orDefault(cfg.SubscribeDelay, 20*time.Millisecond),
			RequestTimeout: orDefault(cfg.RequestTimeout, 10*time.Second),
			PingInterval:   cfg.PingInterval,
			PingTimeout:    cfg.PingTimeout,
		}
		sess := device.New(sessCfg, log)
		h.sessions[host] = sess
	}

	// The protocol server is constructed last, once every local
	// component and parameter exists, so installBroadcastHooks (run at
	// construction) sees the full registry — matching web_server.py's
	// requirement that components be registered before the server
	// starts (spec.md §4.H).
	wsCfg := wsserver.DefaultConfig(cfg.ServerAddr)
	wsCfg.PingInterval = cfg.PingInterval
	wsCfg.PingTimeout = cfg.PingTimeout
	h.wsServer = wsserver.New(wsCfg, h.registry, log)
	h.wsServer.SetRefreshHook(func() { h.Snapshot() })
	h.httpServer = &http.Server{Addr: cfg.ServerAddr, Handler: http.HandlerFunc(h.routeHTTP)}

	if len(cfg.Devices) == 0 {
		h.log.Info("no devices configured, running with only local components")
	}

	return h, nil
}

func (h *Hub) routeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/ws" {
		h.wsServer.ServeHTTP(w, r)
		return
	}
	http.NotFound(w, r)
}

func hostOf(endpoint string) string {
	if host, _, err := net.SplitHostPort(endpoint); err == nil {
		return host
	}
	return endpoint
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Run launches every background task under one errgroup: device
// sessions, the scheduler loop, the watcher loop, and the inbound
// protocol server accept loop. Cancelling ctx (or any task failing
// fatally) tears every task down together, matching spec.md §5's
// "a top-level running flag gates all loops".
func (h *Hub) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for host, sess := range h.sessions {
		sess := sess
		host := host
		g.Go(func() error {
			err := sess.Run(ctx)
			if err != nil && ctx.Err() == nil {
				h.log.WithField("err", err).WithField("device", host).Warn("device session exited")
			}
			return nil // a single device dying is never fatal to the hub
		})
	}

	g.Go(func() error {
		h.scheduler.Run()
		return nil
	})
	g.Go(func() error {
		h.watcher.Run()
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		h.scheduler.Stop()
		h.watcher.Stop()
		return nil
	})
	g.Go(func() error {
		errCh := make(chan error, 1)
		go func() { errCh <- h.httpServer.ListenAndServe() }()
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return h.httpServer.Shutdown(shutdownCtx)
		case err := <-errCh:
			if err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("protocol server: %w", err)
			}
			return nil
		}
	})

	return g.Wait()
}

// sessionForTarget resolves a nickname, a device host, or a host:port
// to a *device.Session, consulting the scheduler's nickname map first.
// "self" has no session and reports false.
func (h *Hub) sessionForTarget(target string) (*device.Session, bool) {
	if mapped := h.scheduler.ResolveNickname(target); mapped != "" {
		target = mapped
	}
	target = hostOf(target)
	sess, ok := h.sessions[target]
	return sess, ok
}
