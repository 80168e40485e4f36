package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/parambus-hub/internal/paramspace"
)

type recordedCall struct {
	local  bool
	device string
	action Action
	at     time.Time
}

type fakeDispatcher struct {
	mu        sync.Mutex
	nicknames map[string]string
	calls     []recordedCall
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{nicknames: map[string]string{}}
}

func (f *fakeDispatcher) ResolveNickname(name string) string {
	return f.nicknames[name]
}

func (f *fakeDispatcher) ExecuteLocal(a Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{local: true, action: a, at: time.Now()})
	return nil
}

func (f *fakeDispatcher) ExecuteRemote(device string, a Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{device: device, action: a, at: time.Now()})
	return nil
}

func (f *fakeDispatcher) snapshot() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCall(nil), f.calls...)
}

func newTestComponent() (*Component, *fakeDispatcher) {
	alloc := paramspace.NewAllocator()
	pc := paramspace.NewComponent("ActionManager", alloc)
	disp := newFakeDispatcher()
	sc := Register(pc, disp, logrus.NewEntry(logrus.New()))
	return sc, disp
}

func TestQueueActionsStampsCumulativeDelay(t *testing.T) {
	sc, disp := newTestComponent()
	go sc.Run()
	defer sc.Stop()

	t0 := time.Now()
	sc.QueueActions([]Action{
		{Target: "self", Component: "X", Param: "y", Value: 1, WaitAfterMs: 500},
		{Target: "self", Component: "X", Param: "y", Value: 2, WaitAfterMs: 0},
	})

	deadline := time.After(2 * time.Second)
	for {
		if len(disp.snapshot()) >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("actions never executed, got %d", len(disp.snapshot()))
		case <-time.After(10 * time.Millisecond):
		}
	}

	calls := disp.snapshot()
	first, second := calls[0], calls[1]
	if first.action.Value.(int) != 1 || second.action.Value.(int) != 2 {
		t.Fatalf("unexpected execution order: %+v", calls)
	}
	if first.at.Before(t0) {
		t.Errorf("first action executed before enqueue")
	}
	gap := second.at.Sub(first.at)
	if gap < 350*time.Millisecond {
		t.Errorf("expected ~500ms gap between actions, got %v", gap)
	}
}

func TestQueueLengthTracksHeap(t *testing.T) {
	sc, _ := newTestComponent()

	sc.QueueActions([]Action{
		{Target: "self", Component: "X", Param: "y", Value: 1, WaitAfterMs: 10_000},
		{Target: "self", Component: "X", Param: "y", Value: 2, WaitAfterMs: 10_000},
	})
	v, _ := sc.QueueLength.Get(0, 0)
	if v.(int64) != 2 {
		t.Errorf("expected queue_length 2, got %v", v)
	}

	sc.ClearQueue()
	v, _ = sc.QueueLength.Get(0, 0)
	if v.(int64) != 0 {
		t.Errorf("expected queue_length 0 after clear, got %v", v)
	}
}

func TestNicknameResolution(t *testing.T) {
	sc, disp := newTestComponent()
	sc.AddNickname("kitchen", "10.0.0.46")
	go sc.Run()
	defer sc.Stop()

	paramId := 7
	sc.QueueActions([]Action{
		{Target: "kitchen", ParamId: &paramId, Row: 0, Col: 0, Value: 42},
	})

	deadline := time.After(1 * time.Second)
	for {
		calls := disp.snapshot()
		if len(calls) == 1 {
			if calls[0].device != "10.0.0.46" || *calls[0].action.ParamId != 7 {
				t.Fatalf("expected remote call to resolved nickname with param_id 7, got %+v", calls[0])
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("nickname action never dispatched")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestActionToSendParsesAndClears(t *testing.T) {
	sc, disp := newTestComponent()
	go sc.Run()
	defer sc.Stop()

	sc.ActionToSend.Set(0, 0, `{"actions":[{"target":"self","component":"X","param":"y","value":5}]}`, true)

	deadline := time.After(1 * time.Second)
	for {
		if len(disp.snapshot()) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("batch from action_to_send never executed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	v, _ := sc.ActionToSend.Get(0, 0)
	if v.(string) != "" {
		t.Errorf("expected action_to_send reset to empty, got %q", v)
	}
}
