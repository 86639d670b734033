package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/station-mesh/orchestrator/internal/config"
	"github.com/station-mesh/orchestrator/internal/registry"
)

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		MaxConcurrentWorkflows: 10,
		MaxConcurrentSteps:     10,
		HistoryRetention:       time.Hour,
		RegistryFilePath:       dir + "/registry.json",
		ReloadDebounce:         10 * time.Millisecond,
		HealthCheckDefault:     time.Minute,
		DefaultCallTimeout:     time.Second,
		DefaultMaxRetries:      2,
		Pool:                   config.PoolConfig{MinSize: 0, MaxSize: 2, AcquireTimeout: time.Second, IdleTimeout: time.Minute},
		Backoff:                config.BackoffConfig{BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2, JitterFactor: 0},
	}
}

func jsonrpcEchoServer(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": map[string]any{"ok": true}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func descriptorFor(name, url string) registry.ServiceDescriptor {
	return registry.ServiceDescriptor{
		Name:      name,
		Source:    registry.SourceEnv,
		Endpoints: map[string]registry.Endpoint{"primary": {Transport: registry.TransportHTTP, URL: url, Timeout: time.Second}},
	}
}

func TestOrchestratorBuildsClientOnMCPAdded(t *testing.T) {
	srv := jsonrpcEchoServer(t)
	defer srv.Close()

	o := New(testConfig(t))
	added, err := o.Registry.AddAuxiliary(descriptorFor("search", srv.URL))
	require.NoError(t, err)
	require.True(t, added)

	client, ok := o.Client("search")
	require.True(t, ok)
	result, err := client.Call(context.Background(), "search.query", map[string]any{"q": "x"})
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(result))
}

func TestOrchestratorBuildClientHonorsPerEndpointMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.DefaultMaxRetries = 5 // the descriptor below overrides this down to 1

	o := New(cfg)
	d := descriptorFor("flaky", srv.URL)
	ep := d.Endpoints["primary"]
	ep.MaxRetries = 1
	d.Endpoints["primary"] = ep
	added, err := o.Registry.AddAuxiliary(d)
	require.NoError(t, err)
	require.True(t, added)

	client, ok := o.Client("flaky")
	require.True(t, ok)
	_, err = client.Call(context.Background(), "flaky.call", nil)
	require.Error(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls), "endpoint.MaxRetries=1 must override the config default of 5 and make exactly one retry (two attempts)")
}

func TestOrchestratorUnknownServiceHasNoClient(t *testing.T) {
	o := New(testConfig(t))
	_, ok := o.Client("ghost")
	require.False(t, ok)
}

func TestOrchestratorCallToolDelegatesToClient(t *testing.T) {
	srv := jsonrpcEchoServer(t)
	defer srv.Close()

	o := New(testConfig(t))
	_, err := o.Registry.AddAuxiliary(descriptorFor("search", srv.URL))
	require.NoError(t, err)

	require.NoError(t, o.CallTool(context.Background(), "search", "search.query", nil))
	require.Error(t, o.CallTool(context.Background(), "missing", "any.tool", nil))
}

func TestOrchestratorRemovesClientOnMCPRemoved(t *testing.T) {
	srv := jsonrpcEchoServer(t)
	defer srv.Close()

	o := New(testConfig(t))
	_, err := o.Registry.AddAuxiliary(descriptorFor("search", srv.URL))
	require.NoError(t, err)
	_, ok := o.Client("search")
	require.True(t, ok)

	o.OnMCPsRemoved([]string{"search"})
	_, ok = o.Client("search")
	require.False(t, ok)
}

func TestOrchestratorGetMetricsAggregatesBothSubsystems(t *testing.T) {
	srv := jsonrpcEchoServer(t)
	defer srv.Close()

	o := New(testConfig(t))
	_, err := o.Registry.AddAuxiliary(descriptorFor("search", srv.URL))
	require.NoError(t, err)

	metrics := o.GetMetrics()
	require.Equal(t, 1, metrics.Registry.Total)
	require.Equal(t, 0, metrics.Engine.ActiveExecutions)
}

func TestOrchestratorStopShutsDownAllClients(t *testing.T) {
	srv := jsonrpcEchoServer(t)
	defer srv.Close()

	o := New(testConfig(t))
	_, err := o.Registry.AddAuxiliary(descriptorFor("search", srv.URL))
	require.NoError(t, err)
	require.NoError(t, o.Start(context.Background()))

	o.Stop()
	_, ok := o.Client("search")
	require.False(t, ok, "Stop shuts down and removes every live client")
}
