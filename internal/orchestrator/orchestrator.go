// Package orchestrator wires the Discovery Registry, the Resilient
// Client, and the Workflow Engine into one running service: it reacts
// to registry events by creating and tearing down per-descriptor
// resilience.Client instances, and hands those clients to the
// workflow engine through the narrow workflow.ClientProvider seam
// (spec.md §9 design note on registry/client lifecycle coupling).
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/station-mesh/orchestrator/internal/config"
	"github.com/station-mesh/orchestrator/internal/logging"
	"github.com/station-mesh/orchestrator/internal/registry"
	"github.com/station-mesh/orchestrator/internal/resilience"
	"github.com/station-mesh/orchestrator/internal/workflow"
)

// Orchestrator is the top-level composition root for the three
// subsystems spec.md describes.
type Orchestrator struct {
	cfg      *config.Config
	Registry *registry.Registry
	Engine   *workflow.Engine

	mu      sync.RWMutex
	clients map[string]*resilience.Client

	fileSource      *registry.FileSource
	envSource       *registry.EnvSource
	dnsSource       *registry.DNSSource
	multicastSource *registry.MulticastSource
	clusterSource   *registry.ClusterSource
	healthChecker   *registry.HealthChecker

	stopBackground chan struct{}
	backgroundWG   sync.WaitGroup
}

var _ registry.Observer = (*Orchestrator)(nil)
var _ registry.ToolCaller = (*Orchestrator)(nil)
var _ workflow.ClientProvider = (*Orchestrator)(nil)

// New builds an Orchestrator from configuration. The registry and
// engine are ready to use immediately; call Start to begin file
// watching, auxiliary discovery, and health checking.
func New(cfg *config.Config) *Orchestrator {
	o := &Orchestrator{cfg: cfg, clients: map[string]*resilience.Client{}}

	dispatcher := registry.NewDispatcher(o)
	o.Registry = registry.New(dispatcher)

	workflowDispatcher := workflow.NewDispatcher(loggingObserver{})
	o.Engine = workflow.NewEngine(o, workflowDispatcher, workflow.EngineConfig{
		MaxConcurrentWorkflows: cfg.MaxConcurrentWorkflows,
		MaxConcurrentSteps:     cfg.MaxConcurrentSteps,
		HistoryRetention:       cfg.HistoryRetention,
	})

	o.fileSource = registry.NewFileSource(cfg.RegistryFilePath, cfg.ReloadDebounce, o.Registry)
	if cfg.EnvDiscovery {
		o.envSource = registry.NewEnvSource(o.Registry)
	}
	if cfg.DNSDiscovery.Enabled {
		o.dnsSource = registry.NewDNSSource(cfg.DNSDiscovery.Domain, o.Registry)
	}
	if cfg.MulticastDiscovery.Enabled {
		o.multicastSource = registry.NewMulticastSource(cfg.MulticastDiscovery.Group, cfg.MulticastDiscovery.Iface, o.Registry)
	}
	if cfg.ClusterDiscovery.Enabled {
		if src, err := registry.NewClusterSource(cfg.ClusterDiscovery.Namespace, cfg.ClusterDiscovery.Label, o.Registry); err != nil {
			logging.Warn("cluster discovery disabled: %v", err)
		} else {
			o.clusterSource = src
		}
	}
	o.healthChecker = registry.NewHealthChecker(o.Registry, o, cfg.HealthCheckDefault)

	return o
}

// Start loads the registry file, launches its watcher, runs the
// configured auxiliary discovery sources once, and starts health
// checking and periodic auxiliary re-scans.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.fileSource.LoadOnce(); err != nil {
		logging.Warn("initial registry file load failed: %v", err)
	}
	if err := o.fileSource.Watch(); err != nil {
		return fmt.Errorf("starting registry file watch: %w", err)
	}

	if o.envSource != nil {
		if err := o.envSource.Scan(); err != nil {
			logging.Warn("env discovery scan failed: %v", err)
		}
	}
	if o.multicastSource != nil {
		if err := o.multicastSource.Listen(); err != nil {
			logging.Warn("multicast discovery disabled: %v", err)
			o.multicastSource = nil
		}
	}

	o.scanPeriodicSources(ctx)
	o.healthChecker.Start(ctx)

	o.stopBackground = make(chan struct{})
	o.backgroundWG.Add(1)
	go o.backgroundLoop(ctx)
	return nil
}

// backgroundLoop periodically re-runs DNS/cluster discovery (services
// come and go between registry file reloads) and touches the engine's
// active-execution set. It does not dispatch a heartbeat event.
func (o *Orchestrator) backgroundLoop(ctx context.Context) {
	defer o.backgroundWG.Done()
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopBackground:
			return
		case <-ticker.C:
			o.scanPeriodicSources(ctx)
			o.Engine.ListActiveExecutions() // touch active set so metrics stay warm
		}
	}
}

func (o *Orchestrator) scanPeriodicSources(ctx context.Context) {
	if o.dnsSource != nil {
		if err := o.dnsSource.Scan(ctx, o.Registry.Names()); err != nil {
			logging.Warn("dns discovery scan failed: %v", err)
		}
	}
	if o.clusterSource != nil {
		if err := o.clusterSource.Scan(ctx); err != nil {
			logging.Warn("cluster discovery scan failed: %v", err)
		}
	}
}

// Stop tears down every background goroutine and resilient client.
func (o *Orchestrator) Stop() {
	o.fileSource.Stop()
	if o.multicastSource != nil {
		o.multicastSource.Stop()
	}
	o.healthChecker.Stop()
	if o.stopBackground != nil {
		close(o.stopBackground)
		o.backgroundWG.Wait()
	}

	o.mu.Lock()
	for name, c := range o.clients {
		c.Shutdown()
		delete(o.clients, name)
	}
	o.mu.Unlock()
}

// Client implements workflow.ClientProvider.
func (o *Orchestrator) Client(serviceName string) (workflow.ToolInvoker, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	c, ok := o.clients[serviceName]
	return c, ok
}

// CallTool implements registry.ToolCaller, letting the health checker
// probe a descriptor through its own resilient connection rather than
// a bare HTTP GET when one is available.
func (o *Orchestrator) CallTool(ctx context.Context, serviceName, toolName string, args map[string]any) error {
	o.mu.RLock()
	c, ok := o.clients[serviceName]
	o.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no client for service %q", serviceName)
	}
	_, err := c.Call(ctx, toolName, args)
	return err
}

// --- registry.Observer: owns resilience.Client lifecycle ---

func (o *Orchestrator) OnRegistryLoaded(descriptors map[string]registry.ServiceDescriptor) {
	logging.Info("registry reloaded: %d services known", len(descriptors))
}

func (o *Orchestrator) OnMCPsAdded(names []string) {
	for _, name := range names {
		o.buildClient(name)
	}
}

func (o *Orchestrator) OnMCPsRemoved(names []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, name := range names {
		if c, ok := o.clients[name]; ok {
			c.Shutdown()
			delete(o.clients, name)
		}
	}
}

func (o *Orchestrator) OnMCPsUpdated(names []string) {
	for _, name := range names {
		o.buildClient(name)
	}
}

func (o *Orchestrator) OnMCPUnhealthy(name string, lastErr string) {
	logging.Warn("service %q marked unhealthy: %s", name, lastErr)
}

// buildClient (re)creates the resilient client for name from its
// current descriptor, replacing and shutting down any prior instance.
func (o *Orchestrator) buildClient(name string) {
	d, ok := o.Registry.Get(name)
	if !ok {
		return
	}
	endpoint, ok := d.PrimaryEndpoint()
	if !ok {
		logging.Warn("service %q has no usable endpoint, skipping client creation", name)
		return
	}

	breakerCfg := resilience.BreakerConfig{
		FailureThreshold: d.CircuitBreaker.FailureThreshold,
		ResetTimeout:     d.CircuitBreaker.ResetTimeout,
		MonitoringPeriod: d.CircuitBreaker.MonitoringPeriod,
	}
	maxRetries := endpoint.MaxRetries
	if maxRetries == 0 {
		maxRetries = o.cfg.DefaultMaxRetries
	}
	retryCfg := resilience.RetryConfig{
		MaxAttempts:  maxRetries + 1, // the initial attempt plus maxRetries retries
		BaseDelay:    o.cfg.Backoff.BaseDelay,
		MaxDelay:     o.cfg.Backoff.MaxDelay,
		Multiplier:   o.cfg.Backoff.Multiplier,
		JitterFactor: o.cfg.Backoff.JitterFactor,
	}
	poolCfg := resilience.PoolConfig{
		MinSize:        o.cfg.Pool.MinSize,
		MaxSize:        o.cfg.Pool.MaxSize,
		AcquireTimeout: o.cfg.Pool.AcquireTimeout,
		IdleTimeout:    o.cfg.Pool.IdleTimeout,
	}

	client := resilience.NewClient(name, endpoint, breakerCfg, retryCfg, poolCfg)

	o.mu.Lock()
	if old, exists := o.clients[name]; exists {
		old.Shutdown()
	}
	o.clients[name] = client
	o.mu.Unlock()
}

// Metrics aggregates registry and engine metrics for get_metrics
// (spec.md §6).
type Metrics struct {
	Registry registry.Metrics
	Engine   workflow.EngineMetrics
}

func (o *Orchestrator) GetMetrics() Metrics {
	return Metrics{Registry: o.Registry.Metrics(), Engine: o.Engine.GetMetrics()}
}

// loggingObserver is the default workflow.Observer: it logs every
// transition so operators have a record without wiring an external
// sink (spec.md's Non-goals exclude telemetry sinks, not logging).
type loggingObserver struct{ workflow.NopObserver }

func (loggingObserver) OnWorkflowStarted(ctx *workflow.ExecutionContext) {
	logging.Info("workflow %s execution %s started", ctx.Definition.Name, ctx.WorkflowID)
}

func (loggingObserver) OnWorkflowCompleted(ctx *workflow.ExecutionContext) {
	logging.Info("workflow %s execution %s completed", ctx.Definition.Name, ctx.WorkflowID)
}

func (loggingObserver) OnWorkflowFailed(ctx *workflow.ExecutionContext) {
	logging.Warn("workflow %s execution %s failed: %s", ctx.Definition.Name, ctx.WorkflowID, ctx.Error())
}

func (loggingObserver) OnWorkflowCancelled(ctx *workflow.ExecutionContext, reason string) {
	logging.Info("workflow %s execution %s cancelled: %s", ctx.Definition.Name, ctx.WorkflowID, reason)
}

func (loggingObserver) OnStepFailed(ctx *workflow.ExecutionContext, step string, err error) {
	logging.Warn("workflow %s execution %s step %s failed: %v", ctx.Definition.Name, ctx.WorkflowID, step, err)
}

func (loggingObserver) OnStepCompensationFailed(ctx *workflow.ExecutionContext, step string, err error) {
	logging.Warn("workflow %s execution %s compensation for %s failed: %v", ctx.Definition.Name, ctx.WorkflowID, step, err)
}
