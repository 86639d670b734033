package registry

import (
	"fmt"
	"os"
	"strings"

	"github.com/station-mesh/orchestrator/internal/logging"
)

// EnvSource discovers downstream services from environment variables
// of the form MCP_<NAME>_ENDPOINT=http://host:port (spec.md §3 env
// discovery source). A same-named MCP_<NAME>_TOOLS/CAPABILITIES can
// optionally carry a comma-separated advertisement list.
type EnvSource struct {
	registry *Registry
	environ  []string // overridable in tests; defaults to os.Environ()
}

// NewEnvSource builds an EnvSource reading from the real process
// environment.
func NewEnvSource(registry *Registry) *EnvSource {
	return &EnvSource{registry: registry, environ: os.Environ()}
}

const (
	envPrefix      = "MCP_"
	envEndpointSfx = "_ENDPOINT"
	envToolsSfx    = "_TOOLS"
	envCapsSfx     = "_CAPABILITIES"
)

// Scan reads the environment once and adds any discovered descriptor
// to the registry. It is idempotent: re-scanning after the registry
// already knows a name is a no-op for that name (spec.md §4.7 auxiliary
// "only add" rule, enforced by Registry.AddAuxiliary).
func (s *EnvSource) Scan() error {
	endpoints := map[string]string{}
	tools := map[string][]string{}
	caps := map[string][]string{}

	for _, kv := range s.environ {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, envPrefix) {
			continue
		}
		switch {
		case strings.HasSuffix(key, envEndpointSfx):
			name := envServiceName(key, envEndpointSfx)
			endpoints[name] = val
		case strings.HasSuffix(key, envToolsSfx):
			name := envServiceName(key, envToolsSfx)
			tools[name] = splitNonEmpty(val)
		case strings.HasSuffix(key, envCapsSfx):
			name := envServiceName(key, envCapsSfx)
			caps[name] = splitNonEmpty(val)
		}
	}

	for name, raw := range endpoints {
		d := ServiceDescriptor{
			Name:         name,
			Version:      "1.0.0",
			Source:       SourceEnv,
			Capabilities: caps[name],
			Tools:        tools[name],
			Endpoints:    map[string]Endpoint{"primary": envEndpoint(raw)},
		}
		added, err := s.registry.AddAuxiliary(d)
		if err != nil {
			return fmt.Errorf("env discovery for %q: %w", name, err)
		}
		if added {
			logging.Info("env discovery registered %q at %s", name, raw)
		}
	}
	return nil
}

// envEndpoint implements spec.md §4.7's env-discovery transport rule:
// a value beginning with "http" is an HTTP endpoint; anything else is
// split on spaces into (command, args) for a subprocess endpoint.
func envEndpoint(raw string) Endpoint {
	if strings.HasPrefix(raw, "http") {
		return Endpoint{Transport: TransportHTTP, URL: raw}
	}
	parts := strings.Fields(raw)
	if len(parts) == 0 {
		return Endpoint{Transport: TransportSubprocess}
	}
	return Endpoint{Transport: TransportSubprocess, Command: parts[0], Args: parts[1:]}
}

func envServiceName(key, suffix string) string {
	trimmed := strings.TrimPrefix(key, envPrefix)
	trimmed = strings.TrimSuffix(trimmed, suffix)
	return strings.ToLower(trimmed)
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
