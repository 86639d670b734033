package workflow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const identPath = `[A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)*`

var (
	wholeBraced = regexp.MustCompile(`^\$\{(` + identPath + `)\}$`)
	wholeBare   = regexp.MustCompile(`^\$(` + identPath + `)$`)
	bracedAny   = regexp.MustCompile(`\$\{` + identPath + `\}`)
	bareAny     = regexp.MustCompile(`\$` + identPath)
)

// Interpolate walks value (typically a step's or compensation's params,
// decoded from JSON into plain map[string]any/[]any/scalars) and
// resolves every "${path.to.value}" or bare "$path.to.value" token
// against root (spec.md §4.3). A token whose path does not resolve is
// left as the literal source text; this is not an error.
func Interpolate(value any, root map[string]any) any {
	switch v := value.(type) {
	case string:
		return interpolateString(v, root)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, vv := range v {
			out[k] = Interpolate(vv, root)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, vv := range v {
			out[i] = Interpolate(vv, root)
		}
		return out
	default:
		return value
	}
}

// interpolateString resolves tokens in a single string. When the
// entire string is exactly one token, the resolved value's native type
// is returned (so "${steps.x.result.count}" can yield a number, not
// its stringification); otherwise resolved values are substituted as
// text into the surrounding string.
func interpolateString(s string, root map[string]any) any {
	if m := wholeBraced.FindStringSubmatch(s); m != nil {
		if v, ok := resolvePath(root, m[1]); ok {
			return v
		}
		return s
	}
	if m := wholeBare.FindStringSubmatch(s); m != nil {
		if v, ok := resolvePath(root, m[1]); ok {
			return v
		}
		return s
	}

	out := bracedAny.ReplaceAllStringFunc(s, func(tok string) string {
		path := tok[2 : len(tok)-1]
		if v, ok := resolvePath(root, path); ok {
			return stringify(v)
		}
		return tok
	})
	out = bareAny.ReplaceAllStringFunc(out, func(tok string) string {
		path := tok[1:]
		if v, ok := resolvePath(root, path); ok {
			return stringify(v)
		}
		return tok
	})
	return out
}

// resolvePath walks a dotted path through nested map[string]any,
// returning ok=false for any missing segment or non-map intermediate
// (spec.md §4.3: unresolvable paths are left as literal tokens, never
// an error).
func resolvePath(root map[string]any, path string) (any, bool) {
	var cur any = root
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, present := m[seg]
		if !present {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case float64, int, int64, bool:
		return fmt.Sprintf("%v", t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}
