// File: internal/watcher/watcher.go
//
// Component periodically evaluates configured boolean expressions
// against named variables and fires actions on rising/falling edges.
// Grounded on components/watcher.py's WatcherComponent: same slot
// count, tick interval, and rising/falling edge semantics, but
// expressions run through expr.go's hand-written evaluator instead of
// a sandboxed eval() call.

package watcher

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/parambus-hub/internal/paramspace"
	"github.com/momentics/parambus-hub/internal/scheduler"
)

const (
	NumSlots     = 50
	EvalInterval = 100 * time.Millisecond
)

// VarRef describes one named variable's source, either a local
// component.param cell or a remote device's mirrored cell.
type VarRef struct {
	Device    string `json:"device"` // "self" or a device name/nickname
	Component string `json:"component"`
	Param     string `json:"param"`
	Row       int    `json:"row"`
	Col       int    `json:"col"`
}

// ValueSource resolves a VarRef to its current value, supplied by the
// Hub so the watcher stays free of direct registry/mirror wiring.
type ValueSource interface {
	ReadLocal(component, param string, row, col int) (any, bool)
	ReadRemote(device, component, param string, row, col int) (any, bool)
}

type slot struct {
	expression     string
	risingActions  []scheduler.Action
	fallingActions []scheduler.Action
	prevResult     bool
	hasPrev        bool
}

// Component is the watcher itself, also exposed as a local component
// (variables, expressions[], rising_actions[], falling_actions[],
// enabled, eval_count) per spec.md §4.G.
type Component struct {
	log        *logrus.Entry
	source     ValueSource
	sched      *scheduler.Component
	dispatcher scheduler.Dispatcher

	Variables paramspace.Parameter
	Enabled   paramspace.Parameter
	EvalCount paramspace.Parameter
	exprs     paramspace.Parameter
	rising    paramspace.Parameter
	falling   paramspace.Parameter

	mu    sync.Mutex
	vars  map[string]VarRef
	slots [NumSlots]slot

	stop    chan struct{}
	stopped chan struct{}
}

// Register builds the watcher's local parameter set and returns the
// ready Component. sched may be nil, in which case triggered actions
// execute inline via dispatcher (matching _execute_actions_directly's
// fallback); dispatcher must be non-nil in that case.
func Register(c *paramspace.Component, source ValueSource, sched *scheduler.Component, dispatcher scheduler.Dispatcher, log *logrus.Entry) *Component {
	w := &Component{
		log:        log.WithField("component", "watcher"),
		source:     source,
		sched:      sched,
		dispatcher: dispatcher,
		vars:       make(map[string]VarRef),
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	w.Variables = c.AddString("variables", 1, 1, false, "{}")
	w.Enabled = c.AddBool("enabled", 1, 1, false, true)
	w.EvalCount = c.AddInt("eval_count", 1, 1, true, 0, false, 0, 0)
	w.exprs = c.AddString("expressions", NumSlots, 1, false, "")
	w.rising = c.AddString("rising_actions", NumSlots, 1, false, "")
	w.falling = c.AddString("falling_actions", NumSlots, 1, false, "")

	w.Variables.OnChange(w.onVariablesChange)
	return w
}

func (w *Component) onVariablesChange(row, col int, old, newValue any) {
	s, _ := newValue.(string)
	var refs map[string]VarRef
	if err := json.Unmarshal([]byte(s), &refs); err != nil {
		w.log.WithField("err", err).Warn("variables: invalid JSON")
		return
	}
	w.mu.Lock()
	w.vars = refs
	w.mu.Unlock()
}

// SetVariable is the programmatic convenience method spec.md's
// supplemented features call for.
func (w *Component) SetVariable(name string, ref VarRef) {
	w.mu.Lock()
	w.vars[name] = ref
	w.mu.Unlock()
}

func (w *Component) SetWatch(slotIdx int, expression string, risingActions, fallingActions []scheduler.Action) {
	if slotIdx < 0 || slotIdx >= NumSlots {
		return
	}
	w.mu.Lock()
	w.slots[slotIdx].expression = expression
	w.slots[slotIdx].risingActions = risingActions
	w.slots[slotIdx].fallingActions = fallingActions
	w.slots[slotIdx].hasPrev = false
	w.mu.Unlock()

	w.exprs.Set(slotIdx, 0, expression, true)
	w.rising.Set(slotIdx, 0, encodeActions(risingActions), true)
	w.falling.Set(slotIdx, 0, encodeActions(fallingActions), true)
}

func (w *Component) ClearWatch(slotIdx int) {
	w.SetWatch(slotIdx, "", nil, nil)
}

func (w *Component) GetVariableValue(name string) (any, bool) {
	w.mu.Lock()
	ref, ok := w.vars[name]
	w.mu.Unlock()
	if !ok {
		return nil, false
	}
	return w.resolve(ref)
}

func encodeActions(actions []scheduler.Action) string {
	if len(actions) == 0 {
		return ""
	}
	b, _ := json.Marshal(actions)
	return string(b)
}

func (w *Component) resolve(ref VarRef) (any, bool) {
	if ref.Device == "" || ref.Device == "self" {
		return w.source.ReadLocal(ref.Component, ref.Param, ref.Row, ref.Col)
	}
	return w.source.ReadRemote(ref.Device, ref.Component, ref.Param, ref.Row, ref.Col)
}

func toExprValue(v any) value {
	switch t := v.(type) {
	case bool:
		return boolVal(t)
	case string:
		return value{isStr: true, str: t}
	case int64:
		return numVal(float64(t))
	case int:
		return numVal(float64(t))
	case float64:
		return numVal(t)
	default:
		return numVal(0)
	}
}

// Run drives the evaluation loop: refresh variables, evaluate every
// configured slot, detect rising/falling edges, and fire actions.
func (w *Component) Run() {
	defer close(w.stopped)
	ticker := time.NewTicker(EvalInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *Component) Stop() {
	close(w.stop)
	<-w.stopped
}

func (w *Component) tick() {
	enabledVal, _ := w.Enabled.Get(0, 0)
	if enabled, _ := enabledVal.(bool); !enabled {
		return
	}

	w.mu.Lock()
	vars := make(Vars, len(w.vars))
	for name, ref := range w.vars {
		if v, ok := w.resolve(ref); ok {
			vars[name] = toExprValue(v)
		}
	}
	w.mu.Unlock()

	for i := 0; i < NumSlots; i++ {
		w.mu.Lock()
		expr := w.slots[i].expression
		w.mu.Unlock()
		if expr == "" {
			continue
		}
		result, err := Eval(expr, vars)
		if err != nil {
			w.log.WithField("err", err).Debugf("watch slot %d eval failed", i)
			continue
		}

		w.mu.Lock()
		sl := &w.slots[i]
		rising := sl.hasPrev && !sl.prevResult && result
		falling := sl.hasPrev && sl.prevResult && !result
		sl.prevResult = result
		sl.hasPrev = true
		riseActions := append([]scheduler.Action(nil), sl.risingActions...)
		fallActions := append([]scheduler.Action(nil), sl.fallingActions...)
		w.mu.Unlock()

		if rising {
			w.fire(riseActions)
		}
		if falling {
			w.fire(fallActions)
		}
	}

	w.EvalCount.Set(0, 0, mustInt(w.EvalCount)+1, false)
}

func mustInt(p paramspace.Parameter) int64 {
	v, _ := p.Get(0, 0)
	n, _ := v.(int64)
	return n
}

// fire hands the batch to the scheduler when one is wired, else runs
// it inline honoring wait_after_ms as a blocking sleep between
// actions, matching _execute_actions_directly.
func (w *Component) fire(actions []scheduler.Action) {
	if len(actions) == 0 {
		return
	}
	if w.sched != nil {
		w.sched.QueueActions(actions)
		return
	}
	for _, a := range actions {
		w.executeInline(a)
		if a.WaitAfterMs > 0 {
			time.Sleep(time.Duration(a.WaitAfterMs) * time.Millisecond)
		}
	}
}

func (w *Component) executeInline(a scheduler.Action) {
	if w.dispatcher == nil {
		return
	}
	target := a.Target
	if target == "" || target == "self" {
		if err := w.dispatcher.ExecuteLocal(a); err != nil {
			w.log.WithField("err", err).Warnf("inline local action %s.%s failed", a.Component, a.Param)
		}
		return
	}
	if mapped := w.dispatcher.ResolveNickname(target); mapped != "" {
		target = mapped
	}
	if err := w.dispatcher.ExecuteRemote(target, a); err != nil {
		w.log.WithField("err", err).Warnf("inline remote action to %s %s.%s failed", target, a.Component, a.Param)
	}
}
