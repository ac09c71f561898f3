package homeassistant

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// flakyProbe fails until healthy is set, counting calls.
type flakyProbe struct {
	healthy atomic.Bool
	calls   atomic.Int32
}

func (p *flakyProbe) probe(ctx context.Context) error {
	p.calls.Add(1)
	if p.healthy.Load() {
		return nil
	}
	return errors.New("connection refused")
}

// newTestWatcher shortens the timing knobs so tests run in milliseconds.
func newTestWatcher(probe func(ctx context.Context) error, onReady func()) *Watcher {
	w := NewWatcher(probe, onReady, testLogger())
	w.initialDelay = time.Millisecond
	w.maxDelay = 5 * time.Millisecond
	w.startupTries = 3
	w.pollInterval = 5 * time.Millisecond
	w.probeTimeout = 50 * time.Millisecond
	return w
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWatcher_ReadyImmediately(t *testing.T) {
	p := &flakyProbe{}
	p.healthy.Store(true)

	var readyCalls atomic.Int32
	w := newTestWatcher(p.probe, func() { readyCalls.Add(1) })
	w.Start(context.Background())
	defer w.Stop()

	waitFor(t, w.IsReady, "watcher never became ready")
	waitFor(t, func() bool { return readyCalls.Load() == 1 }, "onReady not called")
}

func TestWatcher_StartupRetryThenReady(t *testing.T) {
	p := &flakyProbe{}
	w := newTestWatcher(p.probe, nil)
	w.Start(context.Background())
	defer w.Stop()

	// Let the startup phase burn through its attempts.
	waitFor(t, func() bool { return p.calls.Load() >= 2 }, "probe not retried")
	if w.IsReady() {
		t.Fatal("ready while probe still failing")
	}

	p.healthy.Store(true)
	waitFor(t, w.IsReady, "watcher did not recover once probe succeeded")
}

func TestWatcher_DetectsOutageAndRecovery(t *testing.T) {
	p := &flakyProbe{}
	p.healthy.Store(true)

	w := newTestWatcher(p.probe, nil)
	w.Start(context.Background())
	defer w.Stop()

	waitFor(t, w.IsReady, "watcher never became ready")

	p.healthy.Store(false)
	waitFor(t, func() bool { return !w.IsReady() }, "outage not detected")

	p.healthy.Store(true)
	waitFor(t, w.IsReady, "recovery not detected")
}

func TestWatcher_Status(t *testing.T) {
	p := &flakyProbe{}
	w := newTestWatcher(p.probe, nil)
	w.Start(context.Background())
	defer w.Stop()

	waitFor(t, func() bool { return p.calls.Load() >= 1 }, "probe never ran")
	waitFor(t, func() bool { return w.Status().LastError != "" }, "last error not recorded")

	s := w.Status()
	if s.Ready {
		t.Error("ready = true while probe failing")
	}
	if s.LastError != "connection refused" {
		t.Errorf("last_error = %q", s.LastError)
	}
	if s.LastCheck.IsZero() {
		t.Error("last_check not set")
	}
}

func TestWatcher_StopWaitsForGoroutine(t *testing.T) {
	var mu sync.Mutex
	running := false

	p := &flakyProbe{}
	p.healthy.Store(true)
	w := newTestWatcher(func(ctx context.Context) error {
		mu.Lock()
		running = true
		mu.Unlock()
		return p.probe(ctx)
	}, nil)
	w.Start(context.Background())

	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return running }, "watcher never ran")
	w.Stop()

	select {
	case <-w.done:
	default:
		t.Fatal("Stop returned before the watcher goroutine exited")
	}
}

func TestWatcher_StopWithoutStart(t *testing.T) {
	w := NewWatcher(func(ctx context.Context) error { return nil }, nil, testLogger())
	w.Stop() // must not panic or block
}
