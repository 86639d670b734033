package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/station-mesh/orchestrator/internal/logging"
)

// Registry is the authoritative in-memory name->descriptor map
// (spec.md §4.7). It is read by many goroutines and written by the
// file-reload routine and the auxiliary discovery sources; a single
// RWMutex gives the reader/writer discipline spec.md §5 requires. File
// reloads and auxiliary additions replace the whole map; SetHealth
// updates a single entry in place under the write lock.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]ServiceDescriptor
	fileOwned   map[string]bool // names currently sourced from the file registry

	dispatcher *Dispatcher
}

// New creates an empty Registry. Pass nil for dispatcher to run with
// no observers.
func New(dispatcher *Dispatcher) *Registry {
	if dispatcher == nil {
		dispatcher = NewDispatcher()
	}
	return &Registry{
		descriptors: make(map[string]ServiceDescriptor),
		fileOwned:   make(map[string]bool),
		dispatcher:  dispatcher,
	}
}

// Get returns the descriptor for name.
func (r *Registry) Get(name string) (ServiceDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[name]
	if !ok {
		return ServiceDescriptor{}, false
	}
	return d.Clone(), true
}

// List returns every known descriptor, sorted by name for determinism.
func (r *Registry) List() []ServiceDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(func(ServiceDescriptor) bool { return true })
}

// ListByCapability returns descriptors advertising tag.
func (r *Registry) ListByCapability(tag string) []ServiceDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(func(d ServiceDescriptor) bool { return d.HasCapability(tag) })
}

// ListByTool returns descriptors advertising tool name.
func (r *Registry) ListByTool(name string) []ServiceDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(func(d ServiceDescriptor) bool { return d.HasTool(name) })
}

// ListHealthy returns descriptors currently marked healthy.
func (r *Registry) ListHealthy() []ServiceDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(func(d ServiceDescriptor) bool { return d.Healthy })
}

func (r *Registry) snapshotLocked(keep func(ServiceDescriptor) bool) []ServiceDescriptor {
	out := make([]ServiceDescriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		if keep(d) {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Metrics returns a point-in-time snapshot (spec.md §6 get_metrics).
func (r *Registry) Metrics() Metrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := Metrics{BySource: make(map[Source]int)}
	for _, d := range r.descriptors {
		m.Total++
		if d.Healthy {
			m.Healthy++
		} else {
			m.Unhealthy++
		}
		m.BySource[d.Source]++
	}
	return m
}

// ApplyFileReload validates and merges a freshly-parsed file registry
// into the authoritative map, per spec.md §4.7's reload protocol and
// validation policy. On validation failure the previous map is kept
// untouched (spec.md §8 invariant 6) and the returned error describes
// why.
//
// globalOverlay is merged into every incoming descriptor after its
// required fields have been checked (spec.md's registry file
// globalConfig overlay); envOverlay
// is keyed by descriptor name and takes precedence over globalOverlay.
func (r *Registry) ApplyFileReload(parsed map[string]RawDescriptor, globalOverlay, envOverlay map[string]any) error {
	merged := make(map[string]ServiceDescriptor, len(parsed))

	for name, raw := range parsed {
		d, err := raw.normalize(name, globalOverlay, envOverlay[name])
		if err != nil {
			return fmt.Errorf("validating descriptor %q: %w", name, err)
		}
		if err := resolveEnvRefs(&d); err != nil {
			return fmt.Errorf("resolving env refs for %q: %w", name, err)
		}
		d.Source = SourceFile
		merged[name] = d
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	added, removed, updated := r.diffFileOwnedLocked(merged)

	next := make(map[string]ServiceDescriptor, len(r.descriptors))
	nextFileOwned := make(map[string]bool, len(merged))

	// Keep every non-file-owned (auxiliary) descriptor untouched.
	for name, d := range r.descriptors {
		if !r.fileOwned[name] {
			next[name] = d
		}
	}
	for name, d := range merged {
		existing, wasPresent := r.descriptors[name]
		if wasPresent && !r.fileOwned[name] {
			// An auxiliary source already registered this name first;
			// auxiliary sources win per spec.md §4.7 ("only add").
			next[name] = existing
			continue
		}
		if wasPresent {
			d.Healthy = existing.Healthy
			d.LastHealthCheck = existing.LastHealthCheck
			d.LastError = existing.LastError
		} else {
			d.Timestamp = now()
		}
		next[name] = d
		nextFileOwned[name] = true
	}

	r.descriptors = next
	r.fileOwned = nextFileOwned

	logging.Info("registry reload applied: %d added, %d removed, %d updated", len(added), len(removed), len(updated))

	r.dispatcher.OnRegistryLoaded(r.cloneAllLocked())
	r.dispatcher.OnMCPsAdded(added)
	r.dispatcher.OnMCPsRemoved(removed)
	r.dispatcher.OnMCPsUpdated(updated)

	return nil
}

func (r *Registry) cloneAllLocked() map[string]ServiceDescriptor {
	out := make(map[string]ServiceDescriptor, len(r.descriptors))
	for k, v := range r.descriptors {
		out[k] = v.Clone()
	}
	return out
}

// diffFileOwnedLocked computes added/removed/updated among file-owned
// descriptors only: auxiliary-sourced descriptors are never removed by
// a file reload (spec.md §3 lifecycle).
func (r *Registry) diffFileOwnedLocked(merged map[string]ServiceDescriptor) (added, removed, updated []string) {
	for name := range merged {
		existing, ok := r.descriptors[name]
		if !ok {
			added = append(added, name)
			continue
		}
		if !r.fileOwned[name] {
			continue // auxiliary already owns this name
		}
		if !descriptorsEqual(existing, merged[name]) {
			updated = append(updated, name)
		}
	}
	for name := range r.fileOwned {
		if _, ok := merged[name]; !ok {
			removed = append(removed, name)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(updated)
	return added, removed, updated
}

// AddAuxiliary registers a descriptor discovered by an auxiliary
// source. Per spec.md §4.7, auxiliary sources only add: a name already
// present (from the file registry or another auxiliary source) is left
// untouched, and AddAuxiliary reports added=false.
func (r *Registry) AddAuxiliary(d ServiceDescriptor) (added bool, err error) {
	if d.Name == "" {
		return false, fmt.Errorf("auxiliary descriptor missing name")
	}
	if len(d.Endpoints) == 0 {
		return false, fmt.Errorf("auxiliary descriptor %q has no endpoints", d.Name)
	}
	if err := resolveEnvRefs(&d); err != nil {
		return false, fmt.Errorf("resolving env refs for %q: %w", d.Name, err)
	}
	if d.Capabilities == nil {
		d.Capabilities = []string{}
	}
	if d.Tools == nil {
		d.Tools = []string{}
	}
	if d.Version == "" {
		d.Version = "1.0.0"
	}
	if d.Status == "" {
		d.Status = StatusDiscovered
	}
	d.Timestamp = now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.descriptors[d.Name]; exists {
		return false, nil
	}

	next := make(map[string]ServiceDescriptor, len(r.descriptors)+1)
	for k, v := range r.descriptors {
		next[k] = v
	}
	next[d.Name] = d
	r.descriptors = next

	logging.Info("discovered mcp %q via %s", d.Name, d.Source)
	r.dispatcher.OnMCPsAdded([]string{d.Name})
	return true, nil
}

// SetHealth updates a descriptor's health fields after a health check
// (spec.md §4.7). It emits mcp_unhealthy on a healthy->unhealthy
// transition.
func (r *Registry) SetHealth(name string, healthy bool, checkedAt time.Time, lastErr string) {
	r.mu.Lock()
	d, ok := r.descriptors[name]
	if !ok {
		r.mu.Unlock()
		return
	}
	wasHealthy := d.Healthy
	d.Healthy = healthy
	d.LastHealthCheck = checkedAt
	d.LastError = lastErr
	if healthy {
		d.Status = StatusActive
	} else if d.Status == StatusActive || d.Status == StatusDiscovered {
		d.Status = StatusFailed
	}
	r.descriptors[name] = d
	r.mu.Unlock()

	if wasHealthy && !healthy {
		r.dispatcher.OnMCPUnhealthy(name, lastErr)
	}
}

// Names returns every descriptor name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.descriptors))
	for n := range r.descriptors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func descriptorsEqual(a, b ServiceDescriptor) bool {
	a.Healthy, b.Healthy = false, false
	a.LastHealthCheck, b.LastHealthCheck = time.Time{}, time.Time{}
	a.LastError, b.LastError = "", ""
	a.Timestamp, b.Timestamp = time.Time{}, time.Time{}
	a.Status, b.Status = "", ""
	if a.Name != b.Name || a.Version != b.Version || a.Source != b.Source {
		return false
	}
	if a.Priority != b.Priority || a.Weight != b.Weight {
		return false
	}
	if len(a.Endpoints) != len(b.Endpoints) {
		return false
	}
	for k, ae := range a.Endpoints {
		be, ok := b.Endpoints[k]
		if !ok || !endpointsEqual(ae, be) {
			return false
		}
	}
	return stringSliceEqual(a.Capabilities, b.Capabilities) &&
		stringSliceEqual(a.Tools, b.Tools) &&
		stringSliceEqual(a.Dependencies, b.Dependencies)
}

func endpointsEqual(a, b Endpoint) bool {
	if a.Transport != b.Transport || a.URL != b.URL || a.Command != b.Command {
		return false
	}
	if a.Timeout != b.Timeout || a.MaxRetries != b.MaxRetries {
		return false
	}
	return stringSliceEqual(a.Args, b.Args)
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var now = time.Now
