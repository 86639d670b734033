package workflow

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// ExecutionContext is the mutable state of one workflow run (spec.md
// §3 Workflow Execution Context). All fields behind mu must be read
// and written through the accessor methods: the scheduler loop, step
// goroutines, cancellation, and status queries touch it concurrently.
type ExecutionContext struct {
	WorkflowID string
	Definition *Definition
	Input      map[string]any
	Metadata   map[string]any

	mu        sync.Mutex
	steps     map[string]*StepExecutionState
	variables map[string]any
	state     WorkflowState
	result    json.RawMessage
	errMsg    string
	startTime time.Time
	endTime   time.Time
	nextOrder int
	cancelMsg string

	cancel context.CancelCauseFunc
}

// cancelReason carries a human-readable reason through context
// cancellation (spec.md §4.6 cancel_workflow(id, reason)).
type cancelReason struct{ reason string }

func (r cancelReason) Error() string { return r.reason }

func newExecutionContext(id string, def *Definition, input, metadata map[string]any) *ExecutionContext {
	steps := make(map[string]*StepExecutionState, len(def.Steps))
	for _, s := range def.Steps {
		steps[s.Name] = &StepExecutionState{Name: s.Name, State: StepPending}
	}
	if input == nil {
		input = map[string]any{}
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &ExecutionContext{
		WorkflowID: id,
		Definition: def,
		Input:      input,
		Metadata:   metadata,
		steps:      steps,
		variables:  map[string]any{},
		state:      WorkflowPending,
	}
}

func (c *ExecutionContext) State() WorkflowState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *ExecutionContext) setState(s WorkflowState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *ExecutionContext) StepState(name string) (StepExecutionState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.steps[name]
	if !ok {
		return StepExecutionState{}, false
	}
	return *s, true
}

func (c *ExecutionContext) StepStates() map[string]StepExecutionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]StepExecutionState, len(c.steps))
	for k, v := range c.steps {
		out[k] = *v
	}
	return out
}

// transitionStep applies fn to the named step's state under lock and
// stamps a completion order when the step reaches COMPLETED, used by
// reverse_order compensation (spec.md §4.5).
func (c *ExecutionContext) transitionStep(name string, fn func(*StepExecutionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.steps[name]
	if !ok {
		return
	}
	fn(s)
	if s.State == StepCompleted && s.completionOrder == 0 {
		c.nextOrder++
		s.completionOrder = c.nextOrder
	}
}

// completedStepsInCompensationOrder returns the steps that reached
// COMPLETED and declare a compensation action, ordered per the
// workflow's CompensationStrategy (spec.md §4.5).
func (c *ExecutionContext) completedStepsInCompensationOrder() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var entries []compensationEntry
	byName := make(map[string]*StepDefinition, len(c.Definition.Steps))
	defIndex := make(map[string]int, len(c.Definition.Steps))
	for i := range c.Definition.Steps {
		byName[c.Definition.Steps[i].Name] = &c.Definition.Steps[i]
		defIndex[c.Definition.Steps[i].Name] = i
	}
	for name, s := range c.steps {
		if s.State != StepCompleted {
			continue
		}
		def, ok := byName[name]
		if !ok || def.Compensation == nil {
			continue
		}
		entries = append(entries, compensationEntry{name: name, order: s.completionOrder, defIndex: defIndex[name]})
	}

	switch c.Definition.CompensationStrategy {
	case InOrder:
		// Compensate in the steps' position within Definition.Steps, not
		// the order they happened to finish at runtime: parallel/fan-out
		// steps can complete out of definition order (spec.md §4.5).
		sortEntriesByDefIndex(entries)
	default: // ReverseOrder is the default per spec.md §4.5
		sortEntries(entries, true)
	}

	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.name
	}
	return out
}

type compensationEntry struct {
	name     string
	order    int
	defIndex int
}

func sortEntriesByDefIndex(entries []compensationEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j-1].defIndex > entries[j].defIndex; j-- {
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}
}

func sortEntries(entries []compensationEntry, descending bool) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0; j-- {
			less := entries[j-1].order > entries[j].order
			if descending {
				less = entries[j-1].order < entries[j].order
			}
			if less {
				entries[j-1], entries[j] = entries[j], entries[j-1]
			} else {
				break
			}
		}
	}
}

// BuildRoot assembles the interpolation root for params/condition
// resolution (spec.md §4.3): input, steps.<name>.result, workflowId,
// variables.<key>. extra subtrees (e.g. compensation.original_result)
// are merged in last and take precedence.
func (c *ExecutionContext) BuildRoot(extra map[string]any) map[string]any {
	c.mu.Lock()
	stepsRoot := make(map[string]any, len(c.steps))
	for name, s := range c.steps {
		var result any
		if len(s.Result) > 0 {
			_ = json.Unmarshal(s.Result, &result)
		}
		stepsRoot[name] = map[string]any{
			"result": result,
			"state":  string(s.State),
			"error":  s.Error,
		}
	}
	variables := make(map[string]any, len(c.variables))
	for k, v := range c.variables {
		variables[k] = v
	}
	c.mu.Unlock()

	root := map[string]any{
		"input":      c.Input,
		"steps":      stepsRoot,
		"workflowId": c.WorkflowID,
		"variables":  variables,
		"metadata":   c.Metadata,
	}
	for k, v := range extra {
		root[k] = v
	}
	return root
}

// CancelReason returns the reason passed to Engine.CancelWorkflow, or
// "" if the execution was never cancelled.
func (c *ExecutionContext) CancelReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelMsg
}

// Error returns the final error message, if the execution is FAILED,
// CANCELLED, or ended up with a deadlock.
func (c *ExecutionContext) Error() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errMsg
}

func (c *ExecutionContext) SetVariable(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[key] = value
}
