// Package zone owns per-room check orchestration: deciding when a
// check runs, capturing a camera image, calling the vision client, and
// propagating the resulting state to registered observers.
package zone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hollowpine/tidewatch/internal/config"
	"github.com/hollowpine/tidewatch/internal/events"
	"github.com/hollowpine/tidewatch/internal/vision"
)

// Reason identifies what triggered a check. Only auto-triggered checks
// are subject to snooze suppression.
type Reason string

// Check trigger reasons.
const (
	ReasonManual  Reason = "manual"
	ReasonAuto    Reason = "auto"
	ReasonService Reason = "service"
)

// Status is a zone's displayed tidy status.
type Status string

// Zone statuses. Clean and messy come from the vision verdict; unknown
// is the initial state and error covers every failed check.
const (
	StatusUnknown Status = "unknown"
	StatusClean   Status = "clean"
	StatusMessy   Status = "messy"
	StatusError   Status = "error"
)

// State is the canonical, observable result of a zone's most recent
// check. The owning Zone is its single writer.
type State struct {
	Status      Status        `json:"status"`
	Tasks       []vision.Task `json:"tasks"`
	Comment     string        `json:"comment"`
	LastError   string        `json:"last_error,omitempty"`
	LastChecked time.Time     `json:"last_checked,omitzero"`
}

// NeedsTidy reports whether the zone needs tidying. Always computed,
// never stored: messy with at least one task.
func (s State) NeedsTidy() bool {
	return s.Status == StatusMessy && len(s.Tasks) > 0
}

// Camera captures still images for zone checks.
type Camera interface {
	CameraSnapshot(ctx context.Context, entityID string) ([]byte, error)
}

// Analyzer produces a tidy verdict for an image.
type Analyzer interface {
	Analyze(ctx context.Context, req vision.Request) (*vision.Result, error)
}

// autoCheckTimeout bounds a timer-fired check, covering the camera
// fetch plus the provider call.
const autoCheckTimeout = 2 * time.Minute

// Zone is one monitored room. It holds the immutable configuration and
// the mutable state, runs the check workflow, and manages the auto
// timer and the snooze window.
type Zone struct {
	cfg      config.ZoneConfig
	camera   Camera
	analyzer Analyzer
	bus      *events.Bus
	logger   *slog.Logger
	now      func() time.Time

	// checking rejects overlapping checks: a RequestCheck that arrives
	// while one is in flight is ignored, so observers never race two
	// workflows writing the same state.
	checking atomic.Bool

	mu          sync.Mutex
	state       State
	listeners   []func()
	snoozeUntil time.Time
	stopTimer   chan struct{}
}

// New creates a Zone from its configuration and collaborators. The bus
// may be nil (events are dropped).
func New(cfg config.ZoneConfig, camera Camera, analyzer Analyzer, bus *events.Bus, logger *slog.Logger) *Zone {
	if logger == nil {
		logger = slog.Default()
	}
	return &Zone{
		cfg:      cfg,
		camera:   camera,
		analyzer: analyzer,
		bus:      bus,
		logger:   logger.With("zone", cfg.Name),
		now:      time.Now,
		state:    State{Status: StatusUnknown, Tasks: []vision.Task{}},
	}
}

// Name returns the zone's display name.
func (z *Zone) Name() string { return z.cfg.Name }

// Config returns the zone's immutable configuration.
func (z *Zone) Config() config.ZoneConfig { return z.cfg }

// State returns a snapshot of the zone's current state. The task slice
// is replaced wholesale on every check, never mutated in place, so the
// snapshot stays consistent for readers.
func (z *Zone) State() State {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.state
}

// NeedsTidy reports whether the zone currently needs tidying.
func (z *Zone) NeedsTidy() bool {
	return z.State().NeedsTidy()
}

// CheckInterval returns the configured auto-check interval:
// 24h divided by runs per day.
func (z *Zone) CheckInterval() time.Duration {
	runs := z.cfg.RunsPerDay
	if runs < 1 {
		runs = 1
	}
	return 24 * time.Hour / time.Duration(runs)
}

// Setup installs the periodic auto-check timer when the zone is in
// auto mode. Calling it again replaces any existing timer.
func (z *Zone) Setup() {
	if z.cfg.Mode != config.ModeAuto {
		return
	}

	z.mu.Lock()
	defer z.mu.Unlock()
	z.installTimerLocked()
}

// installTimerLocked starts the ticker goroutine. Caller holds z.mu.
func (z *Zone) installTimerLocked() {
	if z.stopTimer != nil {
		close(z.stopTimer)
	}
	stop := make(chan struct{})
	z.stopTimer = stop

	interval := z.CheckInterval()
	z.logger.Info("auto checks scheduled", "interval", interval, "runs_per_day", z.cfg.RunsPerDay)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), autoCheckTimeout)
				z.RequestCheck(ctx, ReasonAuto)
				cancel()
			}
		}
	}()
}

// Teardown cancels the auto timer and drops all registered observers.
// Safe to call without a prior Setup. An in-flight check is not
// interrupted; it completes or times out on its own.
func (z *Zone) Teardown() {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.stopTimer != nil {
		close(z.stopTimer)
		z.stopTimer = nil
	}
	z.listeners = nil
}

// AddListener registers a callback invoked after every state change.
// Callbacks run in registration order; a panicking callback does not
// prevent the others from running.
func (z *Zone) AddListener(fn func()) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.listeners = append(z.listeners, fn)
}

// notify invokes all listeners outside the state lock, against a
// snapshot of the list so a callback that unregisters itself doesn't
// corrupt the iteration.
func (z *Zone) notify() {
	z.mu.Lock()
	listeners := make([]func(), len(z.listeners))
	copy(listeners, z.listeners)
	z.mu.Unlock()

	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					z.logger.Warn("zone listener panicked", "panic", r)
				}
			}()
			fn()
		}()
	}
}

// Snooze suppresses auto-triggered checks until now + minutes. Manual
// and service-triggered checks ignore the snooze window.
func (z *Zone) Snooze(minutes int) {
	if minutes < 1 {
		minutes = 1
	}
	until := z.now().Add(time.Duration(minutes) * time.Minute)

	z.mu.Lock()
	z.snoozeUntil = until
	z.mu.Unlock()

	z.logger.Info("auto checks snoozed", "minutes", minutes, "until", until)
	z.bus.Publish(events.Event{
		Timestamp: z.now(),
		Source:    events.SourceZone,
		Kind:      events.KindSnoozed,
		Data: map[string]any{
			"zone":    z.cfg.Name,
			"minutes": minutes,
			"until":   until,
		},
	})
}

// ClearTasks resets the zone to clean with no tasks, regardless of
// prior state, and notifies observers.
func (z *Zone) ClearTasks() {
	now := z.now()

	z.mu.Lock()
	z.state = State{
		Status:      StatusClean,
		Tasks:       []vision.Task{},
		Comment:     "Tasks cleared manually.",
		LastChecked: now,
	}
	z.mu.Unlock()

	z.logger.Info("tasks cleared")
	z.bus.Publish(events.Event{
		Timestamp: now,
		Source:    events.SourceZone,
		Kind:      events.KindTasksCleared,
		Data:      map[string]any{"zone": z.cfg.Name},
	})
	z.notify()
}

// RequestCheck runs the check workflow: snooze gate, image capture,
// vision analysis, state update, observer notification. Every failure
// is absorbed into the zone state as status=error; nothing propagates
// to the caller. A request that arrives while another check is in
// flight is ignored.
func (z *Zone) RequestCheck(ctx context.Context, reason Reason) {
	now := z.now()

	if reason == ReasonAuto {
		z.mu.Lock()
		snoozed := !z.snoozeUntil.IsZero() && now.Before(z.snoozeUntil)
		until := z.snoozeUntil
		z.mu.Unlock()
		if snoozed {
			z.logger.Debug("auto check suppressed by snooze", "until", until)
			return
		}
	}

	if !z.checking.CompareAndSwap(false, true) {
		z.logger.Debug("check already in flight, ignoring request", "reason", reason)
		return
	}
	defer z.checking.Store(false)

	checkID := uuid.NewString()
	started := time.Now()

	z.logger.Info("check started", "check_id", checkID, "reason", reason, "provider", z.cfg.Provider)
	z.bus.Publish(events.Event{
		Timestamp: now,
		Source:    events.SourceZone,
		Kind:      events.KindCheckStart,
		Data: map[string]any{
			"check_id": checkID,
			"zone":     z.cfg.Name,
			"reason":   string(reason),
			"provider": z.cfg.Provider,
			"model":    z.cfg.Model,
		},
	})

	image, err := z.camera.CameraSnapshot(ctx, z.cfg.Camera)
	if err != nil {
		z.failCheck(checkID, now, started, fmt.Sprintf("failed to capture camera image: %v", err))
		return
	}

	result, err := z.analyzer.Analyze(ctx, vision.Request{
		Image:    image,
		RoomName: z.cfg.Name,
		Provider: z.cfg.Provider,
		Model:    z.cfg.Model,
		APIKey:   z.cfg.APIKey,
		BaseURL:  z.cfg.BaseURL,
	})
	if err != nil {
		z.failCheck(checkID, now, started, visionErrorMessage(err))
		return
	}

	z.mu.Lock()
	z.state = State{
		Status:      Status(result.Status),
		Tasks:       result.Tasks,
		Comment:     result.Comment,
		LastChecked: now,
	}
	state := z.state
	z.mu.Unlock()

	z.logger.Info("check complete",
		"check_id", checkID,
		"status", state.Status,
		"tasks", len(state.Tasks),
		"duration", time.Since(started),
	)
	z.bus.Publish(events.Event{
		Timestamp: z.now(),
		Source:    events.SourceZone,
		Kind:      events.KindCheckComplete,
		Data: map[string]any{
			"check_id":    checkID,
			"zone":        z.cfg.Name,
			"status":      string(state.Status),
			"tasks":       len(state.Tasks),
			"duration_ms": time.Since(started).Milliseconds(),
		},
	})
	z.notify()
}

// failCheck records a failed check: status becomes error, the message
// lands in last_error, and the attempt is stamped. Tasks and comment
// from a prior successful check are left in place until the next
// successful check replaces them.
func (z *Zone) failCheck(checkID string, now time.Time, started time.Time, message string) {
	z.mu.Lock()
	z.state.Status = StatusError
	z.state.LastError = message
	z.state.LastChecked = now
	z.mu.Unlock()

	z.logger.Error("check failed", "check_id", checkID, "error", message)
	z.bus.Publish(events.Event{
		Timestamp: z.now(),
		Source:    events.SourceZone,
		Kind:      events.KindCheckFailed,
		Data: map[string]any{
			"check_id":    checkID,
			"zone":        z.cfg.Name,
			"error":       message,
			"duration_ms": time.Since(started).Milliseconds(),
		},
	})
	z.notify()
}

// visionErrorMessage renders an analysis failure for last_error.
// Errors from the vision client's taxonomy speak for themselves;
// anything else gets a generic wrapper.
func visionErrorMessage(err error) string {
	var (
		unsupported *vision.UnsupportedProviderError
		transport   *vision.TransportError
		malformed   *vision.MalformedResponseError
		invalid     *vision.InvalidResponseError
	)
	if errors.As(err, &unsupported) || errors.As(err, &transport) ||
		errors.As(err, &malformed) || errors.As(err, &invalid) {
		return err.Error()
	}
	return fmt.Sprintf("unexpected vision error: %v", err)
}
