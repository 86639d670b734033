package registry

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/station-mesh/orchestrator/internal/logging"
)

// ToolCaller invokes a named tool against a descriptor's primary
// endpoint; the Resilient Client package supplies the real
// implementation. Used only when a descriptor's health check specifies
// ToolCall instead of an HTTP Path (spec.md §9 open question 3).
type ToolCaller interface {
	CallTool(ctx context.Context, serviceName, toolName string, args map[string]any) error
}

// HealthChecker periodically probes every descriptor's health endpoint
// and reports results back into the Registry (spec.md §4.7).
type HealthChecker struct {
	registry    *Registry
	httpClient  *http.Client
	toolCaller  ToolCaller
	defaultTick time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewHealthChecker builds a HealthChecker. toolCaller may be nil; a
// descriptor whose health check specifies ToolCall without a configured
// toolCaller fails every probe and is marked unhealthy.
func NewHealthChecker(registry *Registry, toolCaller ToolCaller, defaultInterval time.Duration) *HealthChecker {
	return &HealthChecker{
		registry:    registry,
		httpClient:  &http.Client{},
		toolCaller:  toolCaller,
		defaultTick: defaultInterval,
		cancels:     make(map[string]context.CancelFunc),
	}
}

// Start begins a per-descriptor probe loop for every currently known
// descriptor with health checks enabled by running Sync once. It does
// not follow later registry changes: descriptors added or removed
// afterwards are picked up only by a further call to Sync.
func (h *HealthChecker) Start(ctx context.Context) {
	h.Sync(ctx)
}

// Sync reconciles the set of running probe loops against the
// registry's current descriptors: new descriptors get a loop started,
// removed ones get theirs cancelled.
func (h *HealthChecker) Sync(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[string]bool)
	for _, d := range h.registry.List() {
		seen[d.Name] = true
		if _, running := h.cancels[d.Name]; running {
			continue
		}
		if !d.HealthCheck.Enabled {
			continue
		}
		loopCtx, cancel := context.WithCancel(ctx)
		h.cancels[d.Name] = cancel
		go h.loop(loopCtx, d.Name)
	}
	for name, cancel := range h.cancels {
		if !seen[name] {
			cancel()
			delete(h.cancels, name)
		}
	}
}

// Stop cancels every running probe loop.
func (h *HealthChecker) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, cancel := range h.cancels {
		cancel()
	}
	h.cancels = make(map[string]context.CancelFunc)
}

func (h *HealthChecker) loop(ctx context.Context, name string) {
	d, ok := h.registry.Get(name)
	if !ok {
		return
	}
	interval := d.HealthCheck.Interval
	if interval <= 0 {
		interval = h.defaultTick
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.probeOnce(ctx, name)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.probeOnce(ctx, name)
		}
	}
}

func (h *HealthChecker) probeOnce(ctx context.Context, name string) {
	d, ok := h.registry.Get(name)
	if !ok {
		return
	}
	ep, ok := d.PrimaryEndpoint()
	if !ok {
		return
	}

	timeout := d.HealthCheck.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := h.check(checkCtx, d, ep)
	h.registry.SetHealth(name, err == nil, time.Now(), errString(err))
}

func (h *HealthChecker) check(ctx context.Context, d ServiceDescriptor, ep Endpoint) error {
	switch {
	case d.HealthCheck.ToolCall != "":
		if h.toolCaller == nil {
			return fmt.Errorf("tool-call health check configured for %q but no tool caller is wired", d.Name)
		}
		return h.toolCaller.CallTool(ctx, d.Name, d.HealthCheck.ToolCall, nil)
	case ep.Transport == TransportHTTP:
		path := d.HealthCheck.Path
		if path == "" {
			path = "/health"
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.URL+path, nil)
		if err != nil {
			return err
		}
		resp, err := h.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("health check returned status %d", resp.StatusCode)
		}
		return nil
	default:
		logging.Debug("health check skipped for %q: subprocess transport has no out-of-band probe", d.Name)
		return nil
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
