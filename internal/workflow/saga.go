package workflow

import (
	"context"
	"encoding/json"

	"github.com/station-mesh/orchestrator/internal/logging"
)

// compensate runs the saga rollback for a FAILED or CANCELLED
// execution (spec.md §4.5): every COMPLETED step with a declared
// compensation action is unwound, in reverse_order (default) or
// in_order per the definition's CompensationStrategy, on a best-effort
// basis — a compensation failure is recorded and logged but never
// aborts the remaining rollback, and never re-fails an
// already-terminal workflow.
func (e *Engine) compensate(ctx context.Context, execCtx *ExecutionContext, byName map[string]*StepDefinition) {
	names := execCtx.completedStepsInCompensationOrder()
	if len(names) == 0 {
		return
	}

	execCtx.setState(WorkflowCompensating)
	e.dispatcher.workflowCompensationStarted(execCtx)

	for _, name := range names {
		step, ok := byName[name]
		if !ok || step.Compensation == nil {
			continue
		}

		st, _ := execCtx.StepState(name)
		execCtx.transitionStep(name, func(s *StepExecutionState) {
			s.State = StepCompensating
		})

		var originalResult any
		if len(st.Result) > 0 {
			_ = json.Unmarshal(st.Result, &originalResult)
		}
		root := execCtx.BuildRoot(map[string]any{
			"compensation": map[string]any{
				"original_result": originalResult,
				"original_error":  st.Error,
			},
		})
		params, _ := Interpolate(step.Compensation.Params, root).(map[string]any)

		target := step.Compensation.MCP
		if target == "" {
			target = step.MCP
		}

		client, ok := e.clients.Client(target)
		var err error
		if !ok {
			err = &compensationTargetError{service: target}
		} else {
			_, err = client.Call(ctx, step.Compensation.Action, params)
		}

		if err != nil {
			execCtx.transitionStep(name, func(s *StepExecutionState) {
				s.Error = err.Error()
			})
			logging.Warn("workflow %s: compensation for step %q failed: %v", execCtx.Definition.Name, name, err)
			e.dispatcher.stepCompensationFailed(execCtx, name, err)
			continue
		}

		execCtx.transitionStep(name, func(s *StepExecutionState) {
			s.State = StepCompensated
		})
		e.dispatcher.stepCompensated(execCtx, name)
	}

	execCtx.setState(WorkflowCompensated)
	e.dispatcher.workflowCompensated(execCtx)
}

type compensationTargetError struct{ service string }

func (e *compensationTargetError) Error() string {
	return "no client available for compensation target " + e.service
}
