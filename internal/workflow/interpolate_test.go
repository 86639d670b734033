package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInterpolateZeroTokenStringIsIdentity(t *testing.T) {
	root := map[string]any{"input": map[string]any{"name": "alice"}}
	require.Equal(t, "plain text, no tokens", Interpolate("plain text, no tokens", root))
}

func TestInterpolateWholeBracedTokenYieldsNativeType(t *testing.T) {
	root := map[string]any{
		"steps": map[string]any{"x": map[string]any{"result": map[string]any{"y": 42.0}}},
	}
	require.Equal(t, 42.0, Interpolate("${steps.x.result.y}", root))
}

func TestInterpolateWholeBareTokenYieldsNativeType(t *testing.T) {
	root := map[string]any{"workflowId": "wf-1"}
	require.Equal(t, "wf-1", Interpolate("$workflowId", root))
}

func TestInterpolateEmbedsResolvedValueAsText(t *testing.T) {
	root := map[string]any{"input": map[string]any{"name": "alice"}}
	require.Equal(t, "hello alice!", Interpolate("hello ${input.name}!", root))
}

func TestInterpolateUnresolvedPathLeavesLiteralToken(t *testing.T) {
	root := map[string]any{"input": map[string]any{}}
	require.Equal(t, "${input.missing}", Interpolate("${input.missing}", root))
}

func TestInterpolateDescendsIntoNestedStructures(t *testing.T) {
	root := map[string]any{"variables": map[string]any{"region": "us-east-1"}}
	value := map[string]any{
		"tags": []any{"${variables.region}", "static"},
		"meta": map[string]any{"zone": "$variables.region"},
	}
	got := Interpolate(value, root).(map[string]any)
	require.Equal(t, []any{"us-east-1", "static"}, got["tags"])
	require.Equal(t, "us-east-1", got["meta"].(map[string]any)["zone"])
}

func TestInterpolateNonStringLeavesPassThroughUnchanged(t *testing.T) {
	root := map[string]any{}
	value := map[string]any{"count": 7, "enabled": true, "nil": nil}
	got := Interpolate(value, root).(map[string]any)
	require.Equal(t, 7, got["count"])
	require.Equal(t, true, got["enabled"])
	require.Nil(t, got["nil"])
}
