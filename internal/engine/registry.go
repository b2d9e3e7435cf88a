package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/murmur/internal/events"
	"github.com/MrWong99/murmur/internal/pipeerr"
	"github.com/MrWong99/murmur/internal/store"
)

// SelectionKey is the store key of the persisted engine selection.
const SelectionKey = "engine.selection"

type selection struct {
	Name  string    `json:"name"`
	SetAt time.Time `json:"set_at"`
}

// Validation answers whether an engine name can be selected.
type Validation struct {
	Known     bool
	Available bool
	Message   string
}

// Registry holds the configured engines in priority order, their last known
// descriptors and the current selection.
//
// Mutations are serialised by one mutex; readers get consistent snapshots.
// Descriptor checks run outside the lock.
type Registry struct {
	store store.Store
	bus   events.Publisher

	mu          sync.RWMutex
	engines     []Engine
	byName      map[string]Engine
	descriptors map[string]Descriptor
	offline     Engine
	current     string
}

// RegistryOption configures a [Registry].
type RegistryOption func(*Registry)

// WithStore persists the selection under [SelectionKey].
func WithStore(s store.Store) RegistryOption {
	return func(r *Registry) { r.store = s }
}

// WithEventPublisher publishes [events.EngineChanged] on selection changes.
func WithEventPublisher(p events.Publisher) RegistryOption {
	return func(r *Registry) { r.bus = p }
}

// NewRegistry builds a registry over engines in the given order. The first
// [KindLocal] engine becomes the offline fallback; if none is given a
// [Local] engine is appended. Duplicate names are rejected.
//
// The current engine is the offline one until [Registry.Restore] runs.
func NewRegistry(engines []Engine, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{descriptors: make(map[string]Descriptor)}
	for _, o := range opts {
		o(r)
	}
	list, byName, offline, err := indexEngines(engines)
	if err != nil {
		return nil, err
	}
	r.engines, r.byName, r.offline = list, byName, offline
	r.current = offline.Name()
	r.descriptors[offline.Name()] = offline.Descriptor(context.Background())
	return r, nil
}

// Replace swaps the configured engines and selects again as [Registry.Restore]
// does. Calls already holding an engine finish on it.
func (r *Registry) Replace(ctx context.Context, engines []Engine) (string, error) {
	list, byName, offline, err := indexEngines(engines)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.engines, r.byName, r.offline = list, byName, offline
	for name := range r.descriptors {
		if _, ok := byName[name]; !ok {
			delete(r.descriptors, name)
		}
	}
	if _, ok := byName[r.current]; !ok {
		r.current = offline.Name()
	}
	r.mu.Unlock()
	return r.Restore(ctx)
}

func indexEngines(engines []Engine) ([]Engine, map[string]Engine, Engine, error) {
	var (
		list    []Engine
		byName  = make(map[string]Engine, len(engines)+1)
		offline Engine
	)
	for _, e := range engines {
		if _, dup := byName[e.Name()]; dup {
			return nil, nil, nil, fmt.Errorf("engine: duplicate engine name %q", e.Name())
		}
		list = append(list, e)
		byName[e.Name()] = e
		if offline == nil && e.Kind() == KindLocal {
			offline = e
		}
	}
	if offline == nil {
		l := NewLocal()
		if _, dup := byName[l.Name()]; dup {
			return nil, nil, nil, fmt.Errorf("engine: name %q is reserved for the offline engine", l.Name())
		}
		list = append(list, l)
		byName[l.Name()] = l
		offline = l
	}
	return list, byName, offline, nil
}

// Refresh re-evaluates every engine's descriptor and returns them in
// registry order. It does not change the selection.
func (r *Registry) Refresh(ctx context.Context) []Descriptor {
	r.mu.RLock()
	engines := append([]Engine(nil), r.engines...)
	r.mu.RUnlock()

	fresh := make([]Descriptor, len(engines))
	for i, e := range engines {
		fresh[i] = e.Descriptor(ctx)
		fresh[i].Name = e.Name()
		fresh[i].Kind = e.Kind()
	}

	r.mu.Lock()
	for _, d := range fresh {
		r.descriptors[d.Name] = d
	}
	r.mu.Unlock()
	return fresh
}

// Descriptors returns the last known descriptors in registry order. Engines
// never refreshed report as unavailable.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.engines))
	for _, e := range r.engines {
		d, ok := r.descriptors[e.Name()]
		if !ok {
			d = Descriptor{Name: e.Name(), Kind: e.Kind(), Requirements: []string{"not yet checked"}}
		}
		out = append(out, d)
	}
	return out
}

// Get returns the engine called name.
func (r *Registry) Get(name string) (Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	return e, ok
}

// Current returns the selected engine.
func (r *Registry) Current() Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[r.current]
}

// CurrentName returns the name of the selected engine.
func (r *Registry) CurrentName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// CurrentAvailable reports whether the selected engine was available at the
// last refresh.
func (r *Registry) CurrentAvailable() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.descriptors[r.current].Available
}

// Offline returns the always-available rule-based engine.
func (r *Registry) Offline() Engine { return r.offline }

// AnyNetworkAvailable reports whether at least one network engine was
// available at the last refresh.
func (r *Registry) AnyNetworkAvailable() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.engines {
		if e.Kind().IsNetwork() && r.descriptors[e.Name()].Available {
			return true
		}
	}
	return false
}

// Validate reports whether name could be selected right now. A name that is
// not configured but is a known engine kind counts as known.
func (r *Registry) Validate(name string) Validation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.byName[name]; !ok {
		if k, err := ParseKind(name); err == nil {
			return Validation{Known: true, Message: fmt.Sprintf("engine type %q is known but not configured", k)}
		}
		return Validation{Message: fmt.Sprintf("unknown engine %q", name)}
	}
	d, ok := r.descriptors[name]
	switch {
	case !ok:
		return Validation{Known: true, Message: fmt.Sprintf("engine %q has not been checked yet", name)}
	case d.ComingSoon:
		return Validation{Known: true, Message: fmt.Sprintf("engine %q is coming soon", name)}
	case !d.Available:
		return Validation{Known: true, Message: fmt.Sprintf("engine %q is unavailable: %s", name, joinRequirements(d.Requirements))}
	}
	return Validation{Known: true, Available: true, Message: fmt.Sprintf("engine %q is available", name)}
}

// SetCurrent selects name, persists the choice and publishes
// [events.EngineChanged] if the selection changed. The engine must be known
// and available at the last refresh.
func (r *Registry) SetCurrent(ctx context.Context, name string) error {
	v := r.Validate(name)
	if !v.Known {
		return fmt.Errorf("engine: %s", v.Message)
	}
	if !v.Available {
		return fmt.Errorf("engine: %w: %s", &pipeerr.EngineUnavailableError{Name: name}, v.Message)
	}

	r.mu.Lock()
	prev := r.current
	r.current = name
	r.mu.Unlock()

	if r.store != nil {
		if err := store.SetJSON(ctx, r.store, SelectionKey, selection{Name: name, SetAt: time.Now().UTC()}); err != nil {
			return fmt.Errorf("engine: persist selection: %w", err)
		}
	}
	r.announce(prev, name)
	return nil
}

// Restore refreshes every engine and selects, in order of preference: the
// persisted selection if it is available, the first available engine in
// registry order, or the offline engine.
func (r *Registry) Restore(ctx context.Context) (string, error) {
	descs := r.Refresh(ctx)

	var saved selection
	if r.store != nil {
		err := store.GetJSON(ctx, r.store, SelectionKey, &saved)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			slog.Warn("engine: could not read persisted selection", "err", err)
		}
	}

	choice := ""
	if saved.Name != "" {
		for _, d := range descs {
			if d.Name == saved.Name && d.Available {
				choice = d.Name
			}
		}
		if choice == "" {
			slog.Info("engine: persisted selection unavailable", "engine", saved.Name)
		}
	}
	if choice == "" {
		for _, d := range descs {
			if d.Available {
				choice = d.Name
				break
			}
		}
	}
	if choice == "" {
		choice = r.offline.Name()
	}

	r.mu.Lock()
	prev := r.current
	r.current = choice
	r.mu.Unlock()

	slog.Info("engine: selection restored", "engine", choice, "persisted", saved.Name)
	r.announce(prev, choice)
	return choice, nil
}

// Next returns the first available engine after the one called after, in
// registry order, wrapping around. The engine called after is never
// returned. ok is false when no other engine is available.
func (r *Registry) Next(after string) (Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	start := -1
	for i, e := range r.engines {
		if e.Name() == after {
			start = i
			break
		}
	}
	n := len(r.engines)
	for step := 1; step <= n; step++ {
		e := r.engines[(start+step+n)%n]
		if e.Name() == after {
			continue
		}
		if r.descriptors[e.Name()].Available {
			return e, true
		}
	}
	return nil, false
}

// ChangedSince reports whether the current engine differs from engineName,
// the engine that produced an earlier summary.
func (r *Registry) ChangedSince(engineName string) bool {
	return r.CurrentName() != engineName
}

func (r *Registry) announce(from, to string) {
	if from == to || r.bus == nil {
		return
	}
	r.bus.Publish(events.EngineChanged{From: from, To: to, At: time.Now().UTC()})
}

func joinRequirements(reqs []string) string {
	if len(reqs) == 0 {
		return "no reason reported"
	}
	return strings.Join(reqs, "; ")
}
