package zone

import (
	"context"
	"testing"

	"github.com/hollowpine/tidewatch/internal/config"
	"github.com/hollowpine/tidewatch/internal/vision"
)

func newTestRegistry(names ...string) (*Registry, *fakeAnalyzer) {
	r := NewRegistry()
	analyzer := &fakeAnalyzer{result: &vision.Result{Status: vision.StatusClean, Tasks: []vision.Task{}}}
	for _, name := range names {
		cfg := testZoneConfig()
		cfg.Name = name
		r.Add(New(cfg, &fakeCamera{image: []byte("jpeg")}, analyzer, nil, testLogger()))
	}
	return r, analyzer
}

func TestRegistry_NamesInConfigOrder(t *testing.T) {
	r, _ := newTestRegistry("Kitchen", "Living Room", "Office")

	names := r.Names()
	want := []string{"Kitchen", "Living Room", "Office"}
	if len(names) != len(want) {
		t.Fatalf("names = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestRegistry_AddReplacesExisting(t *testing.T) {
	r, _ := newTestRegistry("Kitchen")

	cfg := testZoneConfig()
	cfg.Name = "Kitchen"
	cfg.Camera = "camera.kitchen_v2"
	r.Add(New(cfg, &fakeCamera{}, &fakeAnalyzer{}, nil, testLogger()))

	if len(r.Names()) != 1 {
		t.Errorf("names = %v, want single entry", r.Names())
	}
	z, _ := r.Get("Kitchen")
	if z.Config().Camera != "camera.kitchen_v2" {
		t.Error("Add did not replace the earlier zone")
	}
}

func TestRegistry_UnknownZoneCommandsAreSilent(t *testing.T) {
	r, analyzer := newTestRegistry("Kitchen")

	// None of these should panic or error.
	r.RequestCheck(context.Background(), "Garage", ReasonService)
	r.Snooze("Garage", 30)
	r.ClearTasks("Garage")

	if analyzer.calls != 0 {
		t.Errorf("analyzer calls = %d, want 0 for unknown zone", analyzer.calls)
	}
}

func TestRegistry_RequestCheckDispatches(t *testing.T) {
	r, analyzer := newTestRegistry("Kitchen", "Office")

	r.RequestCheck(context.Background(), "Office", ReasonService)

	if analyzer.calls != 1 {
		t.Errorf("analyzer calls = %d, want 1", analyzer.calls)
	}
	z, _ := r.Get("Office")
	if z.State().Status != StatusClean {
		t.Errorf("office status = %q, want clean", z.State().Status)
	}
	other, _ := r.Get("Kitchen")
	if other.State().Status != StatusUnknown {
		t.Error("kitchen state should be untouched")
	}
}

func TestRegistry_SetupAndTeardownAll(t *testing.T) {
	r := NewRegistry()
	cfg := testZoneConfig()
	cfg.Name = "Auto Room"
	cfg.Mode = config.ModeAuto
	z := New(cfg, &fakeCamera{}, &fakeAnalyzer{}, nil, testLogger())
	r.Add(z)

	r.SetupAll()
	z.mu.Lock()
	hasTimer := z.stopTimer != nil
	z.mu.Unlock()
	if !hasTimer {
		t.Error("SetupAll did not install auto timer")
	}

	r.TeardownAll()
	z.mu.Lock()
	hasTimer = z.stopTimer != nil
	z.mu.Unlock()
	if hasTimer {
		t.Error("TeardownAll did not cancel auto timer")
	}
}
