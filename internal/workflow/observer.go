package workflow

import "sync"

// Observer receives the workflow-engine event contract (spec.md §6).
// Implementations must return quickly: events are dispatched
// synchronously, serialized per execution context, in transition
// order (spec.md §5).
type Observer interface {
	OnWorkflowStarted(ctx *ExecutionContext)
	OnWorkflowCompleted(ctx *ExecutionContext)
	OnWorkflowFailed(ctx *ExecutionContext)
	OnWorkflowCancelled(ctx *ExecutionContext, reason string)
	OnWorkflowCompensationStarted(ctx *ExecutionContext)
	OnWorkflowCompensated(ctx *ExecutionContext)

	OnStepStarted(ctx *ExecutionContext, step string)
	OnStepCompleted(ctx *ExecutionContext, step string)
	OnStepFailed(ctx *ExecutionContext, step string, err error)
	OnStepSkipped(ctx *ExecutionContext, step string, reason string)
	OnStepCompensated(ctx *ExecutionContext, step string)
	OnStepCompensationFailed(ctx *ExecutionContext, step string, err error)

	OnHeartbeat(activeCount int)
}

// NopObserver is the zero-value Observer; embed it so new event
// methods added later don't break existing implementations.
type NopObserver struct{}

func (NopObserver) OnWorkflowStarted(*ExecutionContext)                  {}
func (NopObserver) OnWorkflowCompleted(*ExecutionContext)                {}
func (NopObserver) OnWorkflowFailed(*ExecutionContext)                   {}
func (NopObserver) OnWorkflowCancelled(*ExecutionContext, string)        {}
func (NopObserver) OnWorkflowCompensationStarted(*ExecutionContext)      {}
func (NopObserver) OnWorkflowCompensated(*ExecutionContext)              {}
func (NopObserver) OnStepStarted(*ExecutionContext, string)              {}
func (NopObserver) OnStepCompleted(*ExecutionContext, string)            {}
func (NopObserver) OnStepFailed(*ExecutionContext, string, error)        {}
func (NopObserver) OnStepSkipped(*ExecutionContext, string, string)      {}
func (NopObserver) OnStepCompensated(*ExecutionContext, string)          {}
func (NopObserver) OnStepCompensationFailed(*ExecutionContext, string, error) {}
func (NopObserver) OnHeartbeat(int)                                      {}

// Dispatcher fans events out to every registered Observer in
// registration order, holding a mutex so concurrently running
// workflows don't interleave events from different contexts.
type Dispatcher struct {
	mu        sync.Mutex
	observers []Observer
}

func NewDispatcher(observers ...Observer) *Dispatcher {
	return &Dispatcher{observers: observers}
}

func (d *Dispatcher) Add(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, o)
}

func (d *Dispatcher) workflowStarted(ctx *ExecutionContext) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, o := range d.observers {
		o.OnWorkflowStarted(ctx)
	}
}

func (d *Dispatcher) workflowCompleted(ctx *ExecutionContext) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, o := range d.observers {
		o.OnWorkflowCompleted(ctx)
	}
}

func (d *Dispatcher) workflowFailed(ctx *ExecutionContext) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, o := range d.observers {
		o.OnWorkflowFailed(ctx)
	}
}

func (d *Dispatcher) workflowCancelled(ctx *ExecutionContext, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, o := range d.observers {
		o.OnWorkflowCancelled(ctx, reason)
	}
}

func (d *Dispatcher) workflowCompensationStarted(ctx *ExecutionContext) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, o := range d.observers {
		o.OnWorkflowCompensationStarted(ctx)
	}
}

func (d *Dispatcher) workflowCompensated(ctx *ExecutionContext) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, o := range d.observers {
		o.OnWorkflowCompensated(ctx)
	}
}

func (d *Dispatcher) stepStarted(ctx *ExecutionContext, step string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, o := range d.observers {
		o.OnStepStarted(ctx, step)
	}
}

func (d *Dispatcher) stepCompleted(ctx *ExecutionContext, step string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, o := range d.observers {
		o.OnStepCompleted(ctx, step)
	}
}

func (d *Dispatcher) stepFailed(ctx *ExecutionContext, step string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, o := range d.observers {
		o.OnStepFailed(ctx, step, err)
	}
}

func (d *Dispatcher) stepSkipped(ctx *ExecutionContext, step, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, o := range d.observers {
		o.OnStepSkipped(ctx, step, reason)
	}
}

func (d *Dispatcher) stepCompensated(ctx *ExecutionContext, step string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, o := range d.observers {
		o.OnStepCompensated(ctx, step)
	}
}

func (d *Dispatcher) stepCompensationFailed(ctx *ExecutionContext, step string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, o := range d.observers {
		o.OnStepCompensationFailed(ctx, step, err)
	}
}

func (d *Dispatcher) heartbeat(activeCount int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, o := range d.observers {
		o.OnHeartbeat(activeCount)
	}
}
