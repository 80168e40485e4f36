package paramspace

import "testing"

func TestIntParamClamps(t *testing.T) {
	alloc := NewAllocator()
	c := NewComponent("test", alloc)
	p := c.AddInt("level", 1, 1, false, 0, true, 0, 10)

	if err := p.Set(0, 0, int64(99), true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := p.Get(0, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v.(int64) != 10 {
		t.Errorf("expected clamp to 10, got %v", v)
	}
}

func TestBoolParamStringCoercion(t *testing.T) {
	alloc := NewAllocator()
	c := NewComponent("test", alloc)
	p := c.AddBool("enabled", 1, 1, false, false)

	if err := p.Set(0, 0, "yes", true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, _ := p.Get(0, 0)
	if v.(bool) != true {
		t.Errorf("expected true, got %v", v)
	}

	if err := p.Set(0, 0, "nope", true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, _ = p.Get(0, 0)
	if v.(bool) != false {
		t.Errorf("expected false, got %v", v)
	}
}

func TestChangeNotificationOnlyOnActualChange(t *testing.T) {
	alloc := NewAllocator()
	c := NewComponent("test", alloc)
	p := c.AddString("name", 1, 1, false, "a")

	calls := 0
	p.OnChange(func(row, col int, old, new any) { calls++ })

	p.Set(0, 0, "a", true)
	if calls != 0 {
		t.Errorf("expected no notification for unchanged value, got %d calls", calls)
	}
	p.Set(0, 0, "b", true)
	if calls != 1 {
		t.Errorf("expected 1 notification, got %d", calls)
	}
	p.Set(0, 0, "c", false)
	if calls != 1 {
		t.Errorf("expected notify=false to suppress callback, got %d", calls)
	}
}

func TestToInfoCarriesBounds(t *testing.T) {
	alloc := NewAllocator()
	c := NewComponent("test", alloc)
	bounded := c.AddInt("level", 1, 1, false, 0, true, 0, 10)
	unbounded := c.AddFloat("free", 1, 1, false, 0, false, 0, 0)

	info := bounded.ToInfo()
	if info.Min == nil || info.Max == nil {
		t.Fatalf("expected bounded param to carry Min/Max, got %+v", info)
	}
	if *info.Min != 0 || *info.Max != 10 {
		t.Errorf("expected Min=0 Max=10, got Min=%v Max=%v", *info.Min, *info.Max)
	}

	info = unbounded.ToInfo()
	if info.Min != nil || info.Max != nil {
		t.Errorf("expected unbounded param to omit Min/Max, got Min=%v Max=%v", info.Min, info.Max)
	}
}

func TestParamIdsUnique(t *testing.T) {
	alloc := NewAllocator()
	c := NewComponent("test", alloc)
	seen := make(map[int]bool)
	for i := 0; i < 20; i++ {
		p := c.AddInt("p", 1, 1, false, 0, false, 0, 0)
		if seen[p.Id()] {
			t.Fatalf("duplicate param id %d", p.Id())
		}
		seen[p.Id()] = true
	}
}

func TestRegistryResolvePriority(t *testing.T) {
	alloc := NewAllocator()
	c := NewComponent("watcher", alloc)
	p := c.AddInt("eval_count", 1, 1, true, 0, false, 0, 0)

	reg := NewRegistry()
	reg.Add(c)

	got, err := reg.Resolve(ResolveRequest{ParamId: intPtr(p.Id())})
	if err != nil || got.Id() != p.Id() {
		t.Fatalf("resolve by id failed: %v", err)
	}

	got, err = reg.Resolve(ResolveRequest{Component: "watcher", Param: "eval_count"})
	if err != nil || got.Id() != p.Id() {
		t.Fatalf("resolve by name failed: %v", err)
	}
}

func intPtr(i int) *int { return &i }
