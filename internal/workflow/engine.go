package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/station-mesh/orchestrator/internal/logging"
)

// now is a mockable clock seam for tests.
var now = time.Now

// ToolInvoker is the narrow surface the engine needs from a downstream
// connection: invoke one action and get back its JSON-RPC result.
// resilience.Client satisfies this.
type ToolInvoker interface {
	Call(ctx context.Context, action string, params map[string]any) (json.RawMessage, error)
}

// ClientProvider resolves a step's target MCP name to the resilient
// client that owns its connection pool, circuit breaker, and retry
// policy. The orchestrator package implements this by subscribing to
// registry events and creating/destroying resilience.Client instances
// as descriptors come and go (spec.md §9 design note on the
// registry/client lifecycle).
type ClientProvider interface {
	Client(serviceName string) (ToolInvoker, bool)
}

// EngineConfig bounds the engine's concurrency (spec.md §5).
type EngineConfig struct {
	MaxConcurrentWorkflows int
	MaxConcurrentSteps     int // global across all active workflows
	HistoryRetention       time.Duration
}

func (c *EngineConfig) applyDefaults() {
	if c.MaxConcurrentWorkflows <= 0 {
		c.MaxConcurrentWorkflows = 50
	}
	if c.MaxConcurrentSteps <= 0 {
		c.MaxConcurrentSteps = 100
	}
	if c.HistoryRetention <= 0 {
		c.HistoryRetention = 24 * time.Hour
	}
}

// ErrOverloaded is returned when the engine is already running
// MaxConcurrentWorkflows executions.
type ErrOverloaded struct{ Limit int }

func (e *ErrOverloaded) Error() string {
	return fmt.Sprintf("engine at capacity: %d concurrent workflows already running", e.Limit)
}

// DeadlockError reports a scheduler loop that found pending steps with
// no executable candidate and nothing in flight (spec.md §4.4).
type DeadlockError struct{ Blocked []string }

func (e *DeadlockError) Error() string {
	return fmt.Sprintf("deadlock: steps blocked with unmet dependencies: %s", strings.Join(e.Blocked, ", "))
}

// Engine owns workflow definitions and runs executions against them.
type Engine struct {
	config     EngineConfig
	clients    ClientProvider
	dispatcher *Dispatcher

	mu          sync.RWMutex
	definitions map[string]*Definition
	active      map[string]*ExecutionContext
	history     map[string]*ExecutionContext

	stepSlots chan struct{} // global step concurrency budget (spec.md §5)
}

func NewEngine(clients ClientProvider, dispatcher *Dispatcher, config EngineConfig) *Engine {
	config.applyDefaults()
	if dispatcher == nil {
		dispatcher = NewDispatcher()
	}
	return &Engine{
		config:      config,
		clients:     clients,
		dispatcher:  dispatcher,
		definitions: map[string]*Definition{},
		active:      map[string]*ExecutionContext{},
		history:     map[string]*ExecutionContext{},
		stepSlots:   make(chan struct{}, config.MaxConcurrentSteps),
	}
}

// RegisterWorkflow validates and stores a definition. Re-registering an
// existing name replaces it; executions started afterwards use the new
// definition (spec.md §8 round-trip law).
func (e *Engine) RegisterWorkflow(def *Definition) (*Definition, error) {
	if err := Validate(def); err != nil {
		return nil, err
	}
	clone := *def
	clone.Steps = append([]StepDefinition(nil), def.Steps...)
	e.mu.Lock()
	e.definitions[def.Name] = &clone
	e.mu.Unlock()
	return &clone, nil
}

func (e *Engine) ListWorkflows() []*Definition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Definition, 0, len(e.definitions))
	for _, d := range e.definitions {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ExecuteWorkflow admits, runs, and blocks until an execution reaches a
// terminal state (spec.md §6 execute_workflow). Concurrent callers each
// run their own execution up to MaxConcurrentWorkflows; beyond that the
// call is rejected immediately with ErrOverloaded rather than queued.
func (e *Engine) ExecuteWorkflow(ctx context.Context, name string, input, metadata map[string]any) (*ExecutionContext, error) {
	e.mu.RLock()
	def, ok := e.definitions[name]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("workflow %q is not registered", name)
	}

	e.mu.Lock()
	if len(e.active) >= e.config.MaxConcurrentWorkflows {
		e.mu.Unlock()
		return nil, &ErrOverloaded{Limit: e.config.MaxConcurrentWorkflows}
	}
	execID := uuid.NewString()
	execCtx := newExecutionContext(execID, def, input, metadata)
	e.active[execID] = execCtx
	e.mu.Unlock()

	runCtx, cancel := context.WithCancelCause(ctx)
	execCtx.cancel = cancel
	if def.Timeout > 0 {
		var timeoutCancel context.CancelFunc
		runCtx, timeoutCancel = context.WithTimeout(runCtx, def.Timeout)
		defer timeoutCancel()
	}
	defer cancel(nil)

	execCtx.startTime = now()
	execCtx.setState(WorkflowRunning)
	e.dispatcher.workflowStarted(execCtx)

	e.run(runCtx, execCtx)

	execCtx.endTime = now()
	e.retire(execCtx)
	return execCtx, nil
}

func (e *Engine) retire(execCtx *ExecutionContext) {
	e.mu.Lock()
	delete(e.active, execCtx.WorkflowID)
	e.history[execCtx.WorkflowID] = execCtx
	e.sweepHistoryLocked()
	e.mu.Unlock()
}

func (e *Engine) sweepHistoryLocked() {
	cutoff := now().Add(-e.config.HistoryRetention)
	for id, c := range e.history {
		if c.endTime.Before(cutoff) {
			delete(e.history, id)
		}
	}
}

// CancelWorkflow marks an active execution cancelled (spec.md §4.6).
// In-flight steps are not forcibly terminated; the scheduler loop stops
// admitting new steps and, once every running step drains naturally,
// runs compensation.
func (e *Engine) CancelWorkflow(id, reason string) error {
	e.mu.RLock()
	execCtx, ok := e.active[id]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no active execution %q", id)
	}
	execCtx.mu.Lock()
	execCtx.cancelMsg = reason
	execCtx.mu.Unlock()
	execCtx.setState(WorkflowCancelled)
	if execCtx.cancel != nil {
		execCtx.cancel(cancelReason{reason: reason})
	}
	return nil
}

func (e *Engine) GetWorkflowStatus(id string) (*ExecutionContext, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if c, ok := e.active[id]; ok {
		return c, true
	}
	c, ok := e.history[id]
	return c, ok
}

func (e *Engine) ListActiveExecutions() []*ExecutionContext {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*ExecutionContext, 0, len(e.active))
	for _, c := range e.active {
		out = append(out, c)
	}
	return out
}

// EngineMetrics summarizes engine-wide state for get_metrics (spec.md §6).
type EngineMetrics struct {
	RegisteredWorkflows int
	ActiveExecutions    int
	HistorySize         int
}

func (e *Engine) GetMetrics() EngineMetrics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return EngineMetrics{
		RegisteredWorkflows: len(e.definitions),
		ActiveExecutions:    len(e.active),
		HistorySize:         len(e.history),
	}
}

// run drives one execution's scheduler loop to completion (spec.md
// §4.4): compute the executable set, admit as many as the global step
// budget allows, wait for progress, and repeat until every step is
// terminal, the workflow is cancelled, or a deadlock is detected.
func (e *Engine) run(ctx context.Context, execCtx *ExecutionContext) {
	def := execCtx.Definition
	byName := make(map[string]*StepDefinition, len(def.Steps))
	for i := range def.Steps {
		byName[def.Steps[i].Name] = &def.Steps[i]
	}

	completions := make(chan string, len(def.Steps))
	var wg sync.WaitGroup
	running := map[string]bool{}

	cancelled := false

	for {
		select {
		case <-ctx.Done():
			cancelled = true
		default:
		}

		// Resolve false conditions directly to SKIPPED; this never
		// satisfies a dependent's depends_on (spec.md §8 deadlock
		// boundary behavior: a step blocked on a skipped dependency
		// deadlocks rather than silently proceeding).
		if !cancelled {
			for _, s := range def.Steps {
				st, _ := execCtx.StepState(s.Name)
				if st.State != StepPending {
					continue
				}
				if !dependenciesSatisfied(execCtx, s.DependsOn) {
					continue
				}
				if s.Condition == "" {
					continue
				}
				root := execCtx.BuildRoot(nil)
				if !EvaluateCondition(s.Condition, root) {
					execCtx.transitionStep(s.Name, func(st *StepExecutionState) {
						st.State = StepSkipped
						st.EndTime = now()
					})
					e.dispatcher.stepSkipped(execCtx, s.Name, "condition evaluated false")
				}
			}
		}

		allTerminal := true
		var executable []string
		var pendingBlocked []string

		for _, s := range def.Steps {
			st, _ := execCtx.StepState(s.Name)
			switch st.State {
			case StepCompleted, StepFailed, StepSkipped:
				continue
			case StepRunning:
				allTerminal = false
				continue
			case StepPending:
				allTerminal = false
				if cancelled {
					continue
				}
				if dependenciesSatisfied(execCtx, s.DependsOn) {
					executable = append(executable, s.Name)
				} else {
					pendingBlocked = append(pendingBlocked, s.Name)
				}
			}
		}

		if allTerminal {
			wg.Wait()
			break
		}

		if !cancelled && len(executable) == 0 && len(running) == 0 && len(pendingBlocked) > 0 {
			execCtx.setState(WorkflowFailed)
			setWorkflowError(execCtx, &DeadlockError{Blocked: pendingBlocked})
			wg.Wait()
			break
		}

		started := 0
		for _, name := range executable {
			select {
			case e.stepSlots <- struct{}{}:
			default:
				continue
			}
			running[name] = true
			started++
			wg.Add(1)
			go func(stepName string) {
				defer wg.Done()
				defer func() { <-e.stepSlots }()
				// Cancellation stops admission only; an admitted step
				// runs to completion or to its own deadline.
				e.runStep(context.WithoutCancel(ctx), execCtx, byName[stepName])
				completions <- stepName
			}(name)
		}

		if started == 0 && len(running) == 0 {
			if cancelled {
				wg.Wait()
				break
			}
			// Every executable step exists but the global step budget
			// is held by other concurrent workflows: nothing of ours
			// is in flight to wait on, so poll briefly instead of
			// blocking forever on this workflow's completions channel.
			select {
			case <-time.After(10 * time.Millisecond):
			case <-ctx.Done():
				cancelled = true
			}
			continue
		}

		if cancelled {
			// Already cancelled: only in-flight steps can still make
			// progress, so wait on their completion directly instead
			// of spinning on an already-closed ctx.Done().
			name := <-completions
			delete(running, name)
			continue
		}

		select {
		case name := <-completions:
			delete(running, name)
		case <-ctx.Done():
			cancelled = true
		}
	}

	finalize(execCtx, e.dispatcher)
	if execCtx.State() == WorkflowFailed || execCtx.State() == WorkflowCancelled {
		e.compensate(context.Background(), execCtx, byName)
	}
}

func dependenciesSatisfied(execCtx *ExecutionContext, deps []string) bool {
	for _, d := range deps {
		st, ok := execCtx.StepState(d)
		if !ok || st.State != StepCompleted {
			return false
		}
	}
	return true
}

// runStep executes one step attempt, retrying up to step.Retries times
// before the step is considered terminally FAILED (critical) or
// SKIPPED (non-critical). step.Timeout, when set, bounds the step's
// entire attempt sequence rather than any single attempt: the client's
// own per-call timeout already bounds an individual network round
// trip, so the two timeouts compose as outer/inner deadlines instead
// of duplicating the same bound (decided; spec.md §9 open question 1).
func (e *Engine) runStep(ctx context.Context, execCtx *ExecutionContext, step *StepDefinition) {
	execCtx.transitionStep(step.Name, func(st *StepExecutionState) {
		st.State = StepRunning
		st.Attempt++
		if st.StartTime.IsZero() {
			st.StartTime = now()
			if step.Timeout > 0 {
				st.deadline = st.StartTime.Add(step.Timeout)
			}
		}
	})

	stepCtx := ctx
	if step.Timeout > 0 {
		st, _ := execCtx.StepState(step.Name)
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithDeadline(ctx, st.deadline)
		defer cancel()
	}
	e.dispatcher.stepStarted(execCtx, step.Name)

	root := execCtx.BuildRoot(nil)
	params, _ := Interpolate(step.Params, root).(map[string]any)

	client, ok := e.clients.Client(step.MCP)
	var result json.RawMessage
	var callErr error
	if !ok {
		callErr = fmt.Errorf("no client available for service %q", step.MCP)
	} else {
		result, callErr = client.Call(stepCtx, step.Action, params)
	}

	if callErr == nil {
		execCtx.transitionStep(step.Name, func(st *StepExecutionState) {
			st.State = StepCompleted
			st.Result = result
			st.EndTime = now()
		})
		e.dispatcher.stepCompleted(execCtx, step.Name)
		return
	}

	st, _ := execCtx.StepState(step.Name)
	if st.Attempt <= step.Retries {
		execCtx.transitionStep(step.Name, func(st *StepExecutionState) {
			st.State = StepPending
			st.Error = callErr.Error()
		})
		return
	}

	if step.Critical {
		execCtx.transitionStep(step.Name, func(st *StepExecutionState) {
			st.State = StepFailed
			st.Error = callErr.Error()
			st.EndTime = now()
		})
		e.dispatcher.stepFailed(execCtx, step.Name, callErr)
		return
	}

	execCtx.transitionStep(step.Name, func(st *StepExecutionState) {
		st.State = StepSkipped
		st.Error = callErr.Error()
		st.EndTime = now()
	})
	logging.Warn("workflow %s: non-critical step %q exhausted retries: %v", execCtx.Definition.Name, step.Name, callErr)
	e.dispatcher.stepSkipped(execCtx, step.Name, "retries exhausted")
}

// finalize decides the workflow's terminal state: COMPLETED only if
// every critical step reached COMPLETED (spec.md §4.4).
func finalize(execCtx *ExecutionContext, dispatcher *Dispatcher) {
	if execCtx.State() == WorkflowCancelled {
		if execCtx.Error() == "" {
			setWorkflowError(execCtx, fmt.Errorf("cancelled: %s", execCtx.CancelReason()))
		}
		dispatcher.workflowCancelled(execCtx, execCtx.CancelReason())
		return
	}
	if execCtx.State() == WorkflowFailed {
		dispatcher.workflowFailed(execCtx)
		return
	}

	failed := false
	for _, s := range execCtx.Definition.Steps {
		if !s.Critical {
			continue
		}
		st, _ := execCtx.StepState(s.Name)
		if st.State != StepCompleted {
			failed = true
			setWorkflowError(execCtx, fmt.Errorf("critical step %q ended in state %s: %s", s.Name, st.State, st.Error))
			break
		}
	}

	if failed {
		execCtx.setState(WorkflowFailed)
		dispatcher.workflowFailed(execCtx)
		return
	}

	execCtx.setState(WorkflowCompleted)
	dispatcher.workflowCompleted(execCtx)
}

func setWorkflowError(execCtx *ExecutionContext, err error) {
	execCtx.mu.Lock()
	execCtx.errMsg = err.Error()
	execCtx.mu.Unlock()
}
