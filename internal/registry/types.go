// Package registry maintains the authoritative, hot-reloadable view of
// discovered downstream MCP services (spec.md §3, §4.7).
package registry

import "time"

// Status is the lifecycle state of a ServiceDescriptor.
type Status string

const (
	StatusActive     Status = "active"
	StatusDiscovered Status = "discovered"
	StatusFailed     Status = "failed"
)

// Source identifies which discovery mechanism produced a descriptor.
type Source string

const (
	SourceFile      Source = "file"
	SourceEnv       Source = "env"
	SourceDNS       Source = "dns"
	SourceMulticast Source = "multicast"
	SourceCluster   Source = "cluster"
)

// Transport identifies how an Endpoint is reached.
type Transport string

const (
	TransportHTTP       Transport = "http"
	TransportSubprocess Transport = "subprocess"
)

// Endpoint is a single reachable role of a service (spec.md §3).
type Endpoint struct {
	Transport Transport `json:"transport"`

	// HTTP transport fields.
	URL string `json:"url,omitempty"`

	// Subprocess transport fields.
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`

	Timeout    time.Duration     `json:"timeout,omitempty"`
	MaxRetries int               `json:"maxRetries,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// HealthCheckConfig configures how a descriptor is probed (spec.md §4.7).
type HealthCheckConfig struct {
	Enabled bool `json:"enabled"`
	// Path is an HTTP path to GET; when ToolCall is set a minimal tool
	// call is used instead and Path is ignored (spec.md §9 open
	// question 3 — resolved, see DESIGN.md).
	Path     string        `json:"path,omitempty"`
	ToolCall string        `json:"toolCall,omitempty"`
	Interval time.Duration `json:"interval,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

// CircuitBreakerConfig is the descriptor-level override for the
// downstream's Resilient Client breaker (spec.md §3, §4.1).
type CircuitBreakerConfig struct {
	FailureThreshold int           `json:"failureThreshold,omitempty"`
	ResetTimeout     time.Duration `json:"resetTimeout,omitempty"`
	MonitoringPeriod time.Duration `json:"monitoringPeriod,omitempty"`
}

// ServiceDescriptor identifies one downstream MCP (spec.md §3).
type ServiceDescriptor struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Status  Status `json:"status"`

	Priority int `json:"priority,omitempty"`
	Weight   int `json:"weight,omitempty"`

	Endpoints map[string]Endpoint `json:"endpoints"`

	Capabilities []string `json:"capabilities"`
	Tools        []string `json:"tools"`
	Dependencies []string `json:"dependencies,omitempty"`

	HealthCheck    HealthCheckConfig    `json:"healthCheck"`
	CircuitBreaker CircuitBreakerConfig `json:"circuitBreaker"`

	Source    Source    `json:"source"`
	Healthy   bool      `json:"healthy"`
	Timestamp time.Time `json:"timestamp"`

	LastHealthCheck time.Time `json:"lastHealthCheck,omitempty"`
	LastError       string    `json:"lastError,omitempty"`
}

// Clone returns a deep-enough copy safe to hand to a reader while the
// registry continues to mutate its own maps (spec.md §5: readers never
// observe a partial state).
func (d ServiceDescriptor) Clone() ServiceDescriptor {
	out := d
	out.Endpoints = make(map[string]Endpoint, len(d.Endpoints))
	for k, v := range d.Endpoints {
		ev := v
		if v.Args != nil {
			ev.Args = append([]string(nil), v.Args...)
		}
		if v.Headers != nil {
			h := make(map[string]string, len(v.Headers))
			for hk, hv := range v.Headers {
				h[hk] = hv
			}
			ev.Headers = h
		}
		out.Endpoints[k] = ev
	}
	out.Capabilities = append([]string(nil), d.Capabilities...)
	out.Tools = append([]string(nil), d.Tools...)
	out.Dependencies = append([]string(nil), d.Dependencies...)
	return out
}

// HasCapability reports whether the descriptor advertises tag.
func (d ServiceDescriptor) HasCapability(tag string) bool {
	for _, c := range d.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// HasTool reports whether the descriptor advertises tool name.
func (d ServiceDescriptor) HasTool(name string) bool {
	for _, t := range d.Tools {
		if t == name {
			return true
		}
	}
	return false
}

// PrimaryEndpoint returns the "primary" role endpoint, or any single
// endpoint when there is exactly one and no "primary" key exists.
func (d ServiceDescriptor) PrimaryEndpoint() (Endpoint, bool) {
	if ep, ok := d.Endpoints["primary"]; ok {
		return ep, true
	}
	if len(d.Endpoints) == 1 {
		for _, ep := range d.Endpoints {
			return ep, true
		}
	}
	return Endpoint{}, false
}

// Metrics is the in-memory snapshot surfaced by Registry.Metrics()
// (spec.md §6 get_metrics; payload shape defined in SPEC_FULL.md §4).
type Metrics struct {
	Total     int
	Healthy   int
	Unhealthy int
	BySource  map[Source]int
}
