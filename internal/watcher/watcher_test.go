package watcher

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/parambus-hub/internal/paramspace"
	"github.com/momentics/parambus-hub/internal/scheduler"
)

type fakeSource struct {
	mu     sync.Mutex
	remote map[string]any
	local  map[string]any
}

func newFakeSource() *fakeSource {
	return &fakeSource{remote: map[string]any{}, local: map[string]any{}}
}

func (f *fakeSource) ReadLocal(component, param string, row, col int) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.local[component+"."+param]
	return v, ok
}

func (f *fakeSource) ReadRemote(device, component, param string, row, col int) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.remote[device+"/"+component+"."+param]
	return v, ok
}

func (f *fakeSource) setRemote(device, component, param string, v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remote[device+"/"+component+"."+param] = v
}

type fakeDispatcher struct {
	mu    sync.Mutex
	local []scheduler.Action
}

func (f *fakeDispatcher) ResolveNickname(name string) string { return "" }
func (f *fakeDispatcher) ExecuteLocal(a scheduler.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.local = append(f.local, a)
	return nil
}
func (f *fakeDispatcher) ExecuteRemote(device string, a scheduler.Action) error { return nil }
func (f *fakeDispatcher) snapshot() []scheduler.Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]scheduler.Action(nil), f.local...)
}

func TestWatcherRisingAndFallingEdges(t *testing.T) {
	source := newFakeSource()
	disp := &fakeDispatcher{}
	alloc := paramspace.NewAllocator()
	pc := paramspace.NewComponent("Watcher", alloc)
	w := Register(pc, source, nil, disp, logrus.NewEntry(logrus.New()))

	w.SetVariable("lux", VarRef{Device: "sensor1", Component: "light", Param: "lux"})
	w.SetWatch(0, "lux > 50",
		[]scheduler.Action{{Target: "self", Component: "Lamp", Param: "lamp", Value: 1}},
		[]scheduler.Action{{Target: "self", Component: "Lamp", Param: "lamp", Value: 0}})

	go w.Run()
	defer w.Stop()

	source.setRemote("sensor1", "light", "lux", 10.0)
	time.Sleep(250 * time.Millisecond)
	if len(disp.snapshot()) != 0 {
		t.Fatalf("expected no actions fired yet, got %+v", disp.snapshot())
	}

	source.setRemote("sensor1", "light", "lux", 75.0)
	deadline := time.After(500 * time.Millisecond)
	for {
		if len(disp.snapshot()) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("rising edge never fired")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if disp.snapshot()[0].Value.(int) != 1 {
		t.Errorf("expected rising action value 1, got %v", disp.snapshot()[0].Value)
	}

	source.setRemote("sensor1", "light", "lux", 30.0)
	deadline = time.After(500 * time.Millisecond)
	for {
		if len(disp.snapshot()) == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("falling edge never fired")
		case <-time.After(10 * time.Millisecond):
		}
	}

	source.setRemote("sensor1", "light", "lux", 40.0)
	time.Sleep(250 * time.Millisecond)
	if len(disp.snapshot()) != 2 {
		t.Fatalf("expected no further actions below threshold, got %d", len(disp.snapshot()))
	}
}

func TestFirstEvaluationNeverFires(t *testing.T) {
	source := newFakeSource()
	disp := &fakeDispatcher{}
	alloc := paramspace.NewAllocator()
	pc := paramspace.NewComponent("Watcher", alloc)
	w := Register(pc, source, nil, disp, logrus.NewEntry(logrus.New()))

	source.setRemote("sensor1", "light", "lux", 75.0)
	w.SetVariable("lux", VarRef{Device: "sensor1", Component: "light", Param: "lux"})
	w.SetWatch(0, "lux > 50",
		[]scheduler.Action{{Target: "self", Component: "Lamp", Param: "lamp", Value: 1}}, nil)

	go w.Run()
	defer w.Stop()

	time.Sleep(250 * time.Millisecond)
	if len(disp.snapshot()) != 0 {
		t.Errorf("first-ever evaluation must not fire an edge, got %+v", disp.snapshot())
	}
}
