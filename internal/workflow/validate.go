package workflow

import "fmt"

// Validate checks a workflow definition for structural correctness
// before it can be registered: unique step names, dependency references
// that resolve to sibling steps, and a dependency graph free of cycles
// (spec.md §3). It never panics; malformed definitions are rejected
// with a ValidationError so the caller's previously registered
// definition (if any) is left untouched.
func Validate(def *Definition) error {
	var issues []string

	if def.Name == "" {
		issues = append(issues, "workflow name must not be empty")
	}
	if len(def.Steps) == 0 {
		issues = append(issues, "workflow must declare at least one step")
	}

	byName := make(map[string]*StepDefinition, len(def.Steps))
	for i := range def.Steps {
		s := &def.Steps[i]
		if s.Name == "" {
			issues = append(issues, fmt.Sprintf("step %d has an empty name", i))
			continue
		}
		if _, dup := byName[s.Name]; dup {
			issues = append(issues, fmt.Sprintf("step %q is declared more than once", s.Name))
			continue
		}
		byName[s.Name] = s
	}

	for _, s := range def.Steps {
		if s.Name == "" {
			continue
		}
		for _, dep := range s.DependsOn {
			if _, ok := byName[dep]; !ok {
				issues = append(issues, fmt.Sprintf("step %q depends on undefined step %q", s.Name, dep))
			}
			if dep == s.Name {
				issues = append(issues, fmt.Sprintf("step %q cannot depend on itself", s.Name))
			}
		}
	}

	if len(issues) == 0 {
		if cyclePath, ok := findCycle(def.Steps); ok {
			issues = append(issues, fmt.Sprintf("dependency cycle detected: %s", cyclePath))
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Workflow: def.Name, Issues: issues}
	}
	return nil
}

// findCycle runs a standard three-color DFS over the depends_on graph
// and returns a human-readable path through the first cycle found.
func findCycle(steps []StepDefinition) (string, bool) {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	deps := make(map[string][]string, len(steps))
	for _, s := range steps {
		deps[s.Name] = s.DependsOn
	}

	color := make(map[string]int, len(steps))
	var path []string

	var visit func(name string) bool
	visit = func(name string) bool {
		color[name] = gray
		path = append(path, name)
		for _, dep := range deps[name] {
			switch color[dep] {
			case gray:
				path = append(path, dep)
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[name] = black
		return false
	}

	for _, s := range steps {
		if color[s.Name] == white {
			if visit(s.Name) {
				cycle := path
				out := ""
				for i, n := range cycle {
					if i > 0 {
						out += " -> "
					}
					out += n
				}
				return out, true
			}
		}
	}
	return "", false
}
