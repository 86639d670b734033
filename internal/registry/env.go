package registry

import (
	"fmt"
	"os"
	"regexp"
)

// envRefPattern matches ${VAR_NAME} references in descriptor fields
// that accept secrets (endpoint URLs and headers), grounded on the
// pack's ${VAR} secret-expansion convention.
var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// resolveEnvRefs expands ${VAR} references in a descriptor's endpoint
// URLs and header values against the process environment. A reference
// to an unset variable is an error so a misconfigured registry entry
// fails the reload loudly rather than silently dialing a malformed URL.
func resolveEnvRefs(d *ServiceDescriptor) error {
	for key, ep := range d.Endpoints {
		expandedURL, err := expandEnvStrict(ep.URL)
		if err != nil {
			return fmt.Errorf("endpoint %q url: %w", key, err)
		}
		ep.URL = expandedURL

		expandedCommand, err := expandEnvStrict(ep.Command)
		if err != nil {
			return fmt.Errorf("endpoint %q command: %w", key, err)
		}
		ep.Command = expandedCommand

		for i, arg := range ep.Args {
			expanded, err := expandEnvStrict(arg)
			if err != nil {
				return fmt.Errorf("endpoint %q args[%d]: %w", key, i, err)
			}
			ep.Args[i] = expanded
		}

		for hk, hv := range ep.Headers {
			expanded, err := expandEnvStrict(hv)
			if err != nil {
				return fmt.Errorf("endpoint %q header %q: %w", key, hk, err)
			}
			ep.Headers[hk] = expanded
		}

		d.Endpoints[key] = ep
	}
	return nil
}

func expandEnvStrict(s string) (string, error) {
	var missing string
	expanded := envRefPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envRefPattern.FindStringSubmatch(match)[1]
		val, ok := os.LookupEnv(name)
		if !ok {
			missing = name
			return match
		}
		return val
	})
	if missing != "" {
		return "", fmt.Errorf("referenced environment variable %q is not set", missing)
	}
	return expanded, nil
}
