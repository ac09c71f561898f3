package homeassistant

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Watcher monitors Home Assistant reachability in the background. This
// is distinct from httpkit's transport-level retry, which handles
// sub-second transient dial errors; the watcher handles multi-second to
// multi-minute outages: HA restarts, network partitions, boot ordering.
//
// It probes in two phases:
//  1. Startup: exponential backoff (2s, 4s, 8s, ... capped at 60s)
//  2. Background: periodic polling with state-transition logging
type Watcher struct {
	probe   func(ctx context.Context) error
	onReady func()
	logger  *slog.Logger

	// Timing knobs, set to working defaults by NewWatcher. Tests
	// shorten them.
	initialDelay time.Duration
	maxDelay     time.Duration
	startupTries int
	pollInterval time.Duration
	probeTimeout time.Duration

	ready  atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	lastErr   error
	lastCheck time.Time
}

// ConnStatus is the watcher's health snapshot, serialized into the
// /health endpoint.
type ConnStatus struct {
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// NewWatcher creates a watcher for the given probe. onReady is called
// in its own goroutine each time the connection transitions from down
// to ready (including the first successful probe); it may be nil.
func NewWatcher(probe func(ctx context.Context) error, onReady func(), logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		probe:        probe,
		onReady:      onReady,
		logger:       logger,
		initialDelay: 2 * time.Second,
		maxDelay:     60 * time.Second,
		startupTries: 10,
		pollInterval: 60 * time.Second,
		probeTimeout: 10 * time.Second,
		done:         make(chan struct{}),
	}
}

// Start launches the watcher goroutine. It returns immediately; a
// Home Assistant that is still booting is reported as not ready and
// picked up by the poll loop once it answers.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)
}

// Stop cancels the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
}

// IsReady reports whether Home Assistant answered the most recent probe.
func (w *Watcher) IsReady() bool {
	return w.ready.Load()
}

// Status returns the current health snapshot.
func (w *Watcher) Status() ConnStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := ConnStatus{
		Ready:     w.ready.Load(),
		LastCheck: w.lastCheck,
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	// Phase 1: startup probe with exponential backoff.
	delay := w.initialDelay
	for attempt := 1; attempt <= w.startupTries; attempt++ {
		err := w.probeOnce(ctx)

		if err == nil {
			w.ready.Store(true)
			w.logger.Info("Home Assistant connected", "after_attempts", attempt)
			if w.onReady != nil {
				go w.onReady()
			}
			break
		}

		if attempt == w.startupTries {
			w.logger.Info("Home Assistant unreachable at startup, entering background polling",
				"attempts", attempt, "error", err)
			break
		}

		w.logger.Debug("startup probe failed, retrying",
			"attempt", attempt, "next_delay", delay.String(), "error", err)

		if !sleepCtx(ctx, delay) {
			return
		}
		delay = min(delay*2, w.maxDelay)
	}

	// Phase 2: background periodic polling.
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.probeOnce(ctx)
			wasReady := w.ready.Load()

			switch {
			case wasReady && err != nil:
				w.ready.Store(false)
				w.logger.Warn("Home Assistant became unreachable", "error", err)
			case !wasReady && err == nil:
				w.ready.Store(true)
				w.logger.Info("Home Assistant recovered")
				if w.onReady != nil {
					go w.onReady()
				}
			case !wasReady && err != nil:
				w.logger.Debug("Home Assistant still unreachable", "error", err)
			}
		}
	}
}

// probeOnce runs the probe with a timeout and records the outcome.
func (w *Watcher) probeOnce(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.probeTimeout)
	defer cancel()
	err := w.probe(probeCtx)

	w.mu.Lock()
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()

	return err
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
