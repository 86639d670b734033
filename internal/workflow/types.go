// Package workflow implements the DAG-based Workflow Engine: step
// scheduling under bounded concurrency, parameter interpolation, and
// saga-style compensation (spec.md §3, §4.3–§4.6).
package workflow

import (
	"encoding/json"
	"time"
)

// CompensationStrategy selects the order compensations run in.
type CompensationStrategy string

const (
	ReverseOrder CompensationStrategy = "reverse_order"
	InOrder      CompensationStrategy = "in_order"
)

// Definition is an immutable, registered workflow (spec.md §3).
type Definition struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`

	Timeout    time.Duration `json:"timeout"`
	MaxRetries int           `json:"maxRetries"`

	CompensationStrategy CompensationStrategy `json:"compensationStrategy"`

	Steps []StepDefinition `json:"steps"`
}

// CompensationDefinition describes the undo action for a step.
type CompensationDefinition struct {
	MCP    string         `json:"mcp,omitempty"` // defaults to the owning step's MCP
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

// StepDefinition is one node in a workflow's DAG (spec.md §3).
type StepDefinition struct {
	Name   string         `json:"name"`
	MCP    string         `json:"mcp"`
	Action string         `json:"action"`
	Params map[string]any `json:"params"`

	Timeout time.Duration `json:"timeout"`
	Retries int           `json:"retries"`

	Condition string `json:"condition,omitempty"`

	Compensation *CompensationDefinition `json:"compensation,omitempty"`

	Parallel bool `json:"parallel,omitempty"` // hint only; the scheduler already parallelizes independent steps
	Critical bool `json:"critical"`

	DependsOn []string `json:"dependsOn,omitempty"`
}

// StepState is a step execution's lifecycle state (spec.md §3).
type StepState string

const (
	StepPending      StepState = "PENDING"
	StepRunning      StepState = "RUNNING"
	StepCompleted    StepState = "COMPLETED"
	StepFailed       StepState = "FAILED"
	StepSkipped      StepState = "SKIPPED"
	StepCompensating StepState = "COMPENSATING"
	StepCompensated  StepState = "COMPENSATED"
)

// StepExecutionState is the mutable per-execution record of one step.
type StepExecutionState struct {
	Name  string
	State StepState

	Result json.RawMessage
	Error  string

	StartTime time.Time
	EndTime   time.Time
	Attempt   int

	completionOrder int // set when the step first reaches COMPLETED; used by reverse_order compensation
	deadline        time.Time // first-attempt now()+step.Timeout; reused across retries so the bound is cumulative
}

// WorkflowState is a workflow execution's lifecycle state (spec.md §3).
type WorkflowState string

const (
	WorkflowPending      WorkflowState = "PENDING"
	WorkflowRunning      WorkflowState = "RUNNING"
	WorkflowCompleted    WorkflowState = "COMPLETED"
	WorkflowFailed       WorkflowState = "FAILED"
	WorkflowCancelled    WorkflowState = "CANCELLED"
	WorkflowCompensating WorkflowState = "COMPENSATING"
	WorkflowCompensated  WorkflowState = "COMPENSATED"
)

// ValidationError reports a workflow definition rejected at
// registration time (spec.md §3 invariant: DAG with no cycles, every
// depends_on name resolves).
type ValidationError struct {
	Workflow string
	Issues   []string
}

func (e *ValidationError) Error() string {
	msg := "workflow " + e.Workflow + " failed validation:"
	for _, issue := range e.Issues {
		msg += " " + issue + ";"
	}
	return msg
}
