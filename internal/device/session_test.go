package device

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/momentics/parambus-hub/api"
)

// fakeDevice serves a minimal get_components/get_param_info/subscribe
// handshake so Session.Run can reach StateListening.
func fakeDevice(t *testing.T) *httptest.Server {
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Log("upgrade:", err)
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req api.Request
			json.Unmarshal(data, &req)
			switch req.Type {
			case api.MsgGetComponents:
				resp := api.Response{Id: req.Id, Components: []api.ComponentSummary{{Name: "sensor", Id: 1}}}
				b, _ := json.Marshal(resp)
				conn.WriteMessage(websocket.TextMessage, b)
			case api.MsgGetParamInfo:
				if req.Index != nil && *req.Index == -1 {
					if req.ParamType == "int" {
						count := 1
						b, _ := json.Marshal(api.Response{Id: req.Id, Count: &count})
						conn.WriteMessage(websocket.TextMessage, b)
					} else {
						count := 0
						b, _ := json.Marshal(api.Response{Id: req.Id, Count: &count})
						conn.WriteMessage(websocket.TextMessage, b)
					}
					continue
				}
				info := api.ParamInfo{ParamId: 1, Name: "temp", Type: "int", Rows: 1, Cols: 1}
				b, _ := json.Marshal(api.Response{Id: req.Id, Info: &info})
				conn.WriteMessage(websocket.TextMessage, b)
			case api.MsgSubscribe:
				b, _ := json.Marshal(api.Response{Id: req.Id, Value: 42})
				conn.WriteMessage(websocket.TextMessage, b)
			}
		}
	}))
}

func TestSessionReachesListening(t *testing.T) {
	srv := fakeDevice(t)
	defer srv.Close()

	addr := "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg := DefaultConfig("sensor1", addr)
	cfg.DiscoveryDelay = 0
	cfg.SubscribeDelay = 0
	cfg.RequestTimeout = 2 * time.Second
	cfg.PingInterval = 0

	log := logrus.NewEntry(logrus.New())
	s := New(cfg, log)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for s.State() != api.StateListening {
		select {
		case <-deadline:
			t.Fatalf("session never reached Listening, stuck at %s", s.State())
		case <-time.After(10 * time.Millisecond):
		}
	}

	if v, ok := s.Mirror.Get("sensor", "temp", 0, 0); !ok || v.(float64) != 42 {
		t.Errorf("expected mirrored value 42, got %v ok=%v", v, ok)
	}
}

// TestSendSetIsFireAndForget guards against regressing SendSet into a
// request/response round trip: a real device never replies to a SET
// frame, so SendSet must return immediately rather than blocking for
// RequestTimeout, and the frame it writes must carry no "id" field.
func TestSendSetIsFireAndForget(t *testing.T) {
	received := make(chan map[string]any, 1)
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var raw map[string]any
			json.Unmarshal(data, &raw)
			if raw["type"] == "SET" {
				received <- raw
				continue // never reply, matching a real device's fire-and-forget SET handling
			}
			var req api.Request
			json.Unmarshal(data, &req)
			switch req.Type {
			case api.MsgGetComponents:
				b, _ := json.Marshal(api.Response{Id: req.Id})
				conn.WriteMessage(websocket.TextMessage, b)
			case api.MsgGetParamInfo:
				count := 0
				b, _ := json.Marshal(api.Response{Id: req.Id, Count: &count})
				conn.WriteMessage(websocket.TextMessage, b)
			}
		}
	}))
	defer srv.Close()

	addr := "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg := DefaultConfig("sensor1", addr)
	cfg.DiscoveryDelay = 0
	cfg.SubscribeDelay = 0
	cfg.RequestTimeout = 2 * time.Second
	cfg.PingInterval = 0

	s := New(cfg, logrus.NewEntry(logrus.New()))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go s.Run(ctx)

	deadline := time.After(2 * time.Second)
	for s.State() != api.StateListening {
		select {
		case <-deadline:
			t.Fatalf("session never reached Listening, stuck at %s", s.State())
		case <-time.After(10 * time.Millisecond):
		}
	}

	start := time.Now()
	if err := s.SendSet(context.Background(), 1, 0, 0, 99); err != nil {
		t.Fatalf("SendSet: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("SendSet blocked for %v, want near-instant fire-and-forget", elapsed)
	}

	select {
	case raw := <-received:
		if _, hasId := raw["id"]; hasId {
			t.Errorf("SET frame carried an id field %v, want none (fire-and-forget)", raw["id"])
		}
		if raw["param_id"] != float64(1) {
			t.Errorf("expected param_id 1, got %v", raw["param_id"])
		}
	case <-time.After(time.Second):
		t.Fatal("device never received the SET frame")
	}
}
