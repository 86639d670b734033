package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsWellFormedDAG(t *testing.T) {
	def := &Definition{
		Name: "ok",
		Steps: []StepDefinition{
			{Name: "A", MCP: "svc", Action: "do", Critical: true},
			{Name: "B", MCP: "svc", Action: "do", Critical: true, DependsOn: []string{"A"}},
			{Name: "C", MCP: "svc", Action: "do", Critical: true, DependsOn: []string{"A", "B"}},
		},
	}
	require.NoError(t, Validate(def))
}

func TestValidateRejectsUnknownDependency(t *testing.T) {
	def := &Definition{
		Name: "bad",
		Steps: []StepDefinition{
			{Name: "A", MCP: "svc", Action: "do", Critical: true, DependsOn: []string{"ghost"}},
		},
	}
	err := Validate(def)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Issues[0], "ghost")
}

func TestValidateRejectsSelfDependency(t *testing.T) {
	def := &Definition{
		Name:  "bad",
		Steps: []StepDefinition{{Name: "A", MCP: "svc", Action: "do", Critical: true, DependsOn: []string{"A"}}},
	}
	require.Error(t, Validate(def))
}

func TestValidateRejectsDuplicateStepNames(t *testing.T) {
	def := &Definition{
		Name: "dup",
		Steps: []StepDefinition{
			{Name: "A", MCP: "svc", Action: "do", Critical: true},
			{Name: "A", MCP: "svc", Action: "do", Critical: true},
		},
	}
	require.Error(t, Validate(def))
}

func TestValidateDetectsCycle(t *testing.T) {
	def := &Definition{
		Name: "cycle",
		Steps: []StepDefinition{
			{Name: "A", MCP: "svc", Action: "do", Critical: true, DependsOn: []string{"C"}},
			{Name: "B", MCP: "svc", Action: "do", Critical: true, DependsOn: []string{"A"}},
			{Name: "C", MCP: "svc", Action: "do", Critical: true, DependsOn: []string{"B"}},
		},
	}
	err := Validate(def)
	require.Error(t, err)
	require.Contains(t, err.Error(), "cycle")
}

func TestValidateRejectsEmptyWorkflow(t *testing.T) {
	require.Error(t, Validate(&Definition{Name: "empty"}))
}
