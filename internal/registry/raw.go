package registry

import (
	"encoding/json"
	"fmt"
	"time"
)

// RawDescriptor is the on-disk shape of one entry in the registry file
// (spec.md §6). Fields are loosely typed so normalize can tell "absent"
// apart from "zero value" and apply the documented auto-fill /
// hard-error validation policy.
type RawDescriptor struct {
	Name    string `json:"name"`
	Version string `json:"version"`

	Priority int `json:"priority"`
	Weight   int `json:"weight"`

	Endpoints json.RawMessage `json:"endpoints"`

	Capabilities json.RawMessage `json:"capabilities"`
	Tools        json.RawMessage `json:"tools"`
	Dependencies []string        `json:"dependencies"`

	HealthCheck    *HealthCheckConfig    `json:"healthCheck"`
	CircuitBreaker *CircuitBreakerConfig `json:"circuitBreaker"`
}

// normalize applies the registry file's validation policy: a missing
// name is filled from the map key, a missing version defaults to
// "1.0.0", missing capabilities/tools become empty lists, and a
// missing or malformed endpoints field or a present but non-list
// capabilities/tools field is a hard error that rejects the whole
// reload (spec.md §4.7, §8 invariant 6).
func (r RawDescriptor) normalize(key string, globalOverlay map[string]any, envOverlay any) (ServiceDescriptor, error) {
	name := r.Name
	if name == "" {
		name = key
	}

	version := r.Version
	if version == "" {
		version = "1.0.0"
	}

	if len(r.Endpoints) == 0 {
		return ServiceDescriptor{}, fmt.Errorf("%q: endpoints is required", name)
	}
	var endpoints map[string]Endpoint
	if err := json.Unmarshal(r.Endpoints, &endpoints); err != nil {
		return ServiceDescriptor{}, fmt.Errorf("%q: endpoints must be an object of endpoint definitions: %w", name, err)
	}
	if len(endpoints) == 0 {
		return ServiceDescriptor{}, fmt.Errorf("%q: endpoints must define at least one entry", name)
	}

	capabilities, err := normalizeStringList(r.Capabilities)
	if err != nil {
		return ServiceDescriptor{}, fmt.Errorf("%q: capabilities must be a list of strings: %w", name, err)
	}
	tools, err := normalizeStringList(r.Tools)
	if err != nil {
		return ServiceDescriptor{}, fmt.Errorf("%q: tools must be a list of strings: %w", name, err)
	}

	d := ServiceDescriptor{
		Name:         name,
		Version:      version,
		Status:       StatusActive,
		Priority:     r.Priority,
		Weight:       r.Weight,
		Endpoints:    endpoints,
		Capabilities: capabilities,
		Tools:        tools,
		Dependencies: append([]string(nil), r.Dependencies...),
	}
	if r.HealthCheck != nil {
		d.HealthCheck = *r.HealthCheck
	}
	if r.CircuitBreaker != nil {
		d.CircuitBreaker = *r.CircuitBreaker
	}
	if d.HealthCheck.Interval == 0 {
		d.HealthCheck.Interval = 30 * time.Second
	}

	applyOverlay(&d, globalOverlay)
	applyOverlay(&d, asOverlay(envOverlay))

	return d, nil
}

// normalizeStringList treats an absent field as empty (auxiliary
// sources and hand-written entries may omit it) but rejects a present,
// non-list value outright.
func normalizeStringList(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return []string{}, nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func asOverlay(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// applyOverlay merges a loosely-typed overlay (from the registry
// file's globalConfig block, or from an MCP_<NAME>_* env override) onto
// a descriptor. Only recognized keys are applied; unknown keys are
// ignored rather than erroring, since the overlay is meant to be a
// forward-compatible convenience, not a strict schema.
func applyOverlay(d *ServiceDescriptor, overlay map[string]any) {
	if overlay == nil {
		return
	}
	if v, ok := overlay["priority"].(float64); ok {
		d.Priority = int(v)
	}
	if v, ok := overlay["weight"].(float64); ok {
		d.Weight = int(v)
	}
	if v, ok := overlay["healthCheckInterval"].(string); ok {
		if dur, err := time.ParseDuration(v); err == nil {
			d.HealthCheck.Interval = dur
		}
	}
}
