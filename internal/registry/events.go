package registry

// Observer receives registry change notifications (spec.md §6 events:
// mcp_discovered, mcp_unhealthy, mcps_added/removed/updated,
// registry_loaded). Multiple observers compose via Dispatcher.
type Observer interface {
	OnRegistryLoaded(descriptors map[string]ServiceDescriptor)
	OnMCPsAdded(names []string)
	OnMCPsRemoved(names []string)
	OnMCPsUpdated(names []string)
	OnMCPUnhealthy(name string, reason string)
}

// NopObserver implements Observer with no-ops; embed it to implement
// only the callbacks you care about.
type NopObserver struct{}

func (NopObserver) OnRegistryLoaded(map[string]ServiceDescriptor) {}
func (NopObserver) OnMCPsAdded([]string)                          {}
func (NopObserver) OnMCPsRemoved([]string)                        {}
func (NopObserver) OnMCPsUpdated([]string)                        {}
func (NopObserver) OnMCPUnhealthy(string, string)                 {}

// Dispatcher fans a single registry's events out to many observers, in
// registration order, synchronously (spec.md §5: events are emitted in
// the order the corresponding transitions occur).
type Dispatcher struct {
	observers []Observer
}

// NewDispatcher builds a fan-out dispatcher over the given observers.
func NewDispatcher(observers ...Observer) *Dispatcher {
	return &Dispatcher{observers: observers}
}

// Add registers another observer.
func (d *Dispatcher) Add(o Observer) {
	d.observers = append(d.observers, o)
}

func (d *Dispatcher) OnRegistryLoaded(descriptors map[string]ServiceDescriptor) {
	for _, o := range d.observers {
		o.OnRegistryLoaded(descriptors)
	}
}

func (d *Dispatcher) OnMCPsAdded(names []string) {
	if len(names) == 0 {
		return
	}
	for _, o := range d.observers {
		o.OnMCPsAdded(names)
	}
}

func (d *Dispatcher) OnMCPsRemoved(names []string) {
	if len(names) == 0 {
		return
	}
	for _, o := range d.observers {
		o.OnMCPsRemoved(names)
	}
}

func (d *Dispatcher) OnMCPsUpdated(names []string) {
	if len(names) == 0 {
		return
	}
	for _, o := range d.observers {
		o.OnMCPsUpdated(names)
	}
}

func (d *Dispatcher) OnMCPUnhealthy(name, reason string) {
	for _, o := range d.observers {
		o.OnMCPUnhealthy(name, reason)
	}
}
