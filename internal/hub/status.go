// File: internal/hub/status.go
//
// statusComponent implements two features central_hub.py/web_server.py
// have that the distilled spec drops: get_state_snapshot (here,
// HubStatus.devices_json, refreshed on demand rather than pushed) and
// _get_local_ip's outbound-interface self-discovery (here,
// HubStatus.local_ip, populated once at startup). See SPEC_FULL.md's
// SUPPLEMENTED FEATURES section.

package hub

import (
	"encoding/json"
	"net"

	"github.com/momentics/parambus-hub/api"
	"github.com/momentics/parambus-hub/internal/paramspace"
)

type statusComponent struct {
	hub     *Hub
	LocalIP paramspace.Parameter
	Devices paramspace.Parameter // read-only JSON snapshot, refreshed on read
}

func newStatusComponent(c *paramspace.Component, h *Hub) *statusComponent {
	sc := &statusComponent{hub: h}
	sc.LocalIP = c.AddString("local_ip", 1, 1, true, localIP())
	sc.Devices = c.AddString("devices_json", 1, 1, true, "{}")
	return sc
}

// localIP mirrors _get_local_ip: dial UDP to a well-known external
// address purely to learn which local interface the OS would route
// through, without ever sending a packet. Falls back to 127.0.0.1.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}
	return addr.IP.String()
}

// deviceSnapshot is one device's entry in HubStatus.devices_json.
type deviceSnapshot struct {
	Connected  bool           `json:"connected"`
	State      string         `json:"state"`
	Components []string       `json:"components"`
	Mirror     map[string]any `json:"mirror"`
}

// Snapshot builds the full nested view get_state_snapshot returned in
// the original: every configured device's connection state and its
// mirrored cell values. Refreshes HubStatus.devices_json as a side
// effect so a client that reads the cell directly (rather than relying
// on push) still sees current data.
func (h *Hub) Snapshot() map[string]deviceSnapshot {
	out := make(map[string]deviceSnapshot, len(h.sessions))
	for host, sess := range h.sessions {
		var comps []string
		for _, c := range sess.Components() {
			comps = append(comps, c.Name())
		}
		out[host] = deviceSnapshot{
			Connected:  sess.State() == api.StateListening,
			State:      sess.State().String(),
			Components: comps,
			Mirror:     sess.Mirror.Snapshot(),
		}
	}
	if b, err := json.Marshal(out); err == nil {
		h.status.Devices.Set(0, 0, string(b), false)
	}
	return out
}
