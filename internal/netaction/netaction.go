// File: internal/netaction/netaction.go
//
// Component fires ad-hoc outbound UDP/TCP/HTTP(S)/WS(S) messages on
// demand, grounded on components/network_actions.py's
// NetworkActionsComponent: a fixed slot count of preconfigured message
// templates, a trigger cell that fires-and-resets, and a read-only
// last_response cell. HTTP and WebSocket use net/http and
// gorilla/websocket respectively; raw UDP/TCP use net.Dial as the original does
// with asyncio's low-level socket/stream APIs.

package netaction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/momentics/parambus-hub/internal/paramspace"
)

const NumSlots = 100

// MessageConfig is one slot's JSON-configured outbound message,
// mirroring network_actions.py's per-slot dict.
type MessageConfig struct {
	Protocol      string            `json:"protocol"` // UDP | TCP | HTTP | HTTPS | WS | WSS (case-insensitive)
	Host          string            `json:"host"`
	Port          int               `json:"port"`
	Path          string            `json:"path"`
	Method        string            `json:"method"`
	Headers       map[string]string `json:"headers"`
	Body          any               `json:"body"`
	AwaitResponse bool              `json:"await_response"`
	TimeoutMs     int               `json:"timeout_ms"`
}

// NicknameResolver maps a device nickname to a host, mirroring the
// scheduler's own nickname map so both components share one naming
// scheme.
type NicknameResolver interface {
	ResolveNickname(name string) string
}

type Component struct {
	log      *logrus.Entry
	resolver NicknameResolver

	Messages     [NumSlots]paramspace.Parameter
	Trigger      paramspace.Parameter
	LastResponse paramspace.Parameter
}

func Register(c *paramspace.Component, resolver NicknameResolver, log *logrus.Entry) *Component {
	nc := &Component{log: log.WithField("component", "netaction"), resolver: resolver}
	for i := 0; i < NumSlots; i++ {
		nc.Messages[i] = c.AddString(fmt.Sprintf("message_%d", i), 1, 1, false, "")
	}
	nc.Trigger = c.AddInt("trigger", 1, 1, false, -1, true, -1, int64(NumSlots-1))
	nc.LastResponse = c.AddString("last_response", 1, 1, true, "")

	nc.Trigger.OnChange(nc.onTriggerChange)
	return nc
}

func (nc *Component) onTriggerChange(row, col int, old, newValue any) {
	slot, _ := newValue.(int64)
	if slot < 0 {
		return
	}
	go nc.execute(int(slot))
	nc.Trigger.Set(row, col, int64(-1), false)
}

func (nc *Component) execute(slot int) {
	if slot < 0 || slot >= NumSlots {
		return
	}
	raw, _ := nc.Messages[slot].Get(0, 0)
	s, _ := raw.(string)
	if s == "" {
		nc.setResponse("ERROR: no message configured for slot")
		return
	}
	var cfg MessageConfig
	if err := json.Unmarshal([]byte(s), &cfg); err != nil {
		nc.setResponse("ERROR: invalid message config JSON")
		return
	}
	// spec.md §4.E/§6 document the wire protocol names in uppercase
	// ("UDP"|"TCP"|"HTTP"|"HTTPS"|"WS"|"WSS"); normalize so a
	// spec-compliant config and a lowercase one both resolve.
	cfg.Protocol = strings.ToUpper(cfg.Protocol)
	if cfg.Host != "" {
		if resolved := nc.resolver.ResolveNickname(cfg.Host); resolved != "" {
			cfg.Host = resolved
		}
	}

	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
		cfg.TimeoutMs = int(timeout / time.Millisecond)
	}

	var resp string
	var err error
	switch cfg.Protocol {
	case "UDP":
		resp, err = sendUDP(cfg, timeout)
	case "TCP":
		resp, err = sendTCP(cfg, timeout)
	case "HTTP", "HTTPS":
		resp, err = sendHTTP(cfg, timeout)
	case "WS", "WSS":
		resp, err = sendWS(cfg, timeout)
	default:
		err = fmt.Errorf("unknown protocol %q", cfg.Protocol)
	}

	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			nc.setResponse(fmt.Sprintf("ERROR: Timeout after %dms", cfg.TimeoutMs))
			return
		}
		nc.setResponse("ERROR: " + err.Error())
		return
	}
	nc.setResponse(resp)
}

func (nc *Component) setResponse(s string) {
	nc.LastResponse.Set(0, 0, s, true)
}

func sendUDP(cfg MessageConfig, timeout time.Duration) (string, error) {
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	conn, err := net.DialTimeout("udp", addr, timeout)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	if _, err := conn.Write(bodyBytes(cfg.Body)); err != nil {
		return "", err
	}
	if !cfg.AwaitResponse {
		return "", nil
	}
	conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

func sendTCP(cfg MessageConfig, timeout time.Duration) (string, error) {
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	if _, err := conn.Write(bodyBytes(cfg.Body)); err != nil {
		return "", err
	}
	if !cfg.AwaitResponse {
		return "", nil
	}
	conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		return "", err
	}
	return string(buf[:n]), nil
}

func sendHTTP(cfg MessageConfig, timeout time.Duration) (string, error) {
	method := cfg.Method
	if method == "" {
		method = http.MethodGet
	}
	scheme := "http"
	if cfg.Protocol == "HTTPS" {
		scheme = "https"
	}
	url := fmt.Sprintf("%s://%s:%d%s", scheme, cfg.Host, cfg.Port, cfg.Path)

	var body io.Reader
	var contentType string
	if cfg.Body != nil {
		b, _ := json.Marshal(cfg.Body)
		body = bytes.NewReader(b)
		contentType = "application/json"
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return "", err
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if !cfg.AwaitResponse {
		return "", nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func sendWS(cfg MessageConfig, timeout time.Duration) (string, error) {
	scheme := "ws"
	if cfg.Protocol == "WSS" {
		scheme = "wss"
	}
	url := fmt.Sprintf("%s://%s:%d%s", scheme, cfg.Host, cfg.Port, cfg.Path)

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, bodyBytes(cfg.Body)); err != nil {
		return "", err
	}
	if !cfg.AwaitResponse {
		return "", nil
	}
	conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func bodyBytes(body any) []byte {
	if body == nil {
		return nil
	}
	if s, ok := body.(string); ok {
		return []byte(s)
	}
	b, _ := json.Marshal(body)
	return b
}
