package zone

import (
	"context"
	"sync"
)

// Registry maps zone names to their orchestrators and exposes the
// command surface the host platform calls. Commands addressed to an
// unknown zone succeed silently, mirroring how home-automation service
// calls behave when a target has been removed.
type Registry struct {
	mu    sync.RWMutex
	zones map[string]*Zone
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{zones: make(map[string]*Zone)}
}

// Add registers a zone under its configured name. A zone added twice
// replaces the earlier entry.
func (r *Registry) Add(z *Zone) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.zones[z.Name()]; !exists {
		r.order = append(r.order, z.Name())
	}
	r.zones[z.Name()] = z
}

// Get returns the zone with the given name.
func (r *Registry) Get(name string) (*Zone, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	z, ok := r.zones[name]
	return z, ok
}

// Names returns zone names in configuration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// RequestCheck runs a check on the named zone. Unknown zones are ignored.
func (r *Registry) RequestCheck(ctx context.Context, name string, reason Reason) {
	if z, ok := r.Get(name); ok {
		z.RequestCheck(ctx, reason)
	}
}

// Snooze suppresses the named zone's auto checks. Unknown zones are ignored.
func (r *Registry) Snooze(name string, minutes int) {
	if z, ok := r.Get(name); ok {
		z.Snooze(minutes)
	}
}

// ClearTasks clears the named zone's tasks. Unknown zones are ignored.
func (r *Registry) ClearTasks(name string) {
	if z, ok := r.Get(name); ok {
		z.ClearTasks()
	}
}

// SetupAll installs auto timers for every zone in auto mode.
func (r *Registry) SetupAll() {
	for _, name := range r.Names() {
		if z, ok := r.Get(name); ok {
			z.Setup()
		}
	}
}

// TeardownAll cancels every zone's timer and drops all observers.
func (r *Registry) TeardownAll() {
	for _, name := range r.Names() {
		if z, ok := r.Get(name); ok {
			z.Teardown()
		}
	}
}
