package workflow

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// conditionMaxSteps bounds a single condition evaluation so a
// pathological expression cannot stall the scheduler loop.
const conditionMaxSteps = 10000

// attrDict exposes a Go map as a Starlark value reachable both by
// dict.get()/["key"] and by dotted attribute access (steps.create_user
// .result.id), matching how workflow authors write conditions against
// the interpolation root.
type attrDict struct {
	dict *starlark.Dict
}

var (
	_ starlark.Value    = (*attrDict)(nil)
	_ starlark.Mapping  = (*attrDict)(nil)
	_ starlark.HasAttrs = (*attrDict)(nil)
)

func newAttrDict(data map[string]any) *attrDict {
	d := starlark.NewDict(len(data))
	for k, v := range data {
		_ = d.SetKey(starlark.String(k), goToStarlark(v))
	}
	return &attrDict{dict: d}
}

func (d *attrDict) String() string       { return d.dict.String() }
func (d *attrDict) Type() string         { return "attrdict" }
func (d *attrDict) Freeze()              { d.dict.Freeze() }
func (d *attrDict) Truth() starlark.Bool { return d.dict.Truth() }
func (d *attrDict) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: attrdict")
}

func (d *attrDict) Get(key starlark.Value) (starlark.Value, bool, error) { return d.dict.Get(key) }

func (d *attrDict) Attr(name string) (starlark.Value, error) {
	v, found, err := d.dict.Get(starlark.String(name))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, starlark.NoSuchAttrError(fmt.Sprintf("attrdict has no .%s field", name))
	}
	return v, nil
}

func (d *attrDict) AttrNames() []string {
	var names []string
	for _, item := range d.dict.Items() {
		if key, ok := item[0].(starlark.String); ok {
			names = append(names, string(key))
		}
	}
	sort.Strings(names)
	return names
}

func goToStarlark(v any) starlark.Value {
	switch val := v.(type) {
	case nil:
		return starlark.None
	case bool:
		return starlark.Bool(val)
	case int:
		return starlark.MakeInt(val)
	case int64:
		return starlark.MakeInt64(val)
	case float64:
		return starlark.Float(val)
	case string:
		return starlark.String(val)
	case []any:
		elems := make([]starlark.Value, len(val))
		for i, e := range val {
			elems[i] = goToStarlark(e)
		}
		return starlark.NewList(elems)
	case map[string]any:
		return newAttrDict(val)
	default:
		return starlark.String(fmt.Sprintf("%v", val))
	}
}

// EvaluateCondition evaluates a step's boolean condition expression
// against the interpolation root (spec.md §4.3: string equality,
// numeric comparison, boolean and/or/not, and references into the
// resolved workflow context). A malformed expression, a runtime error,
// or an execution-step overrun is NOT surfaced as an error: per spec it
// is treated as false, which skips the step.
func EvaluateCondition(expression string, root map[string]any) bool {
	if expression == "" {
		return true
	}

	thread := &starlark.Thread{Name: "condition"}
	thread.SetMaxExecutionSteps(conditionMaxSteps)

	globals := make(starlark.StringDict, len(root))
	for k, v := range root {
		globals[k] = goToStarlark(v)
	}

	fileOpts := syntax.FileOptions{}
	expr, err := fileOpts.ParseExpr("condition", expression, 0)
	if err != nil {
		return false
	}

	result, err := starlark.EvalExprOptions(&fileOpts, thread, expr, globals)
	if err != nil {
		return false
	}

	switch v := result.(type) {
	case starlark.Bool:
		return bool(v)
	case starlark.NoneType:
		return false
	default:
		return v.Truth() == starlark.True
	}
}
