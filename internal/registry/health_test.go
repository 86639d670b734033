package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHealthCheckerProbeOnceMarksHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg := New(nil)
	_, err := reg.AddAuxiliary(ServiceDescriptor{
		Name:        "search",
		Source:      SourceEnv,
		Endpoints:   map[string]Endpoint{"primary": {Transport: TransportHTTP, URL: srv.URL}},
		HealthCheck: HealthCheckConfig{Enabled: true, Interval: time.Hour},
	})
	require.NoError(t, err)

	hc := NewHealthChecker(reg, nil, time.Hour)
	hc.probeOnce(context.Background(), "search")

	d, _ := reg.Get("search")
	require.True(t, d.Healthy)
	require.Empty(t, d.LastError)
}

func TestHealthCheckerProbeOnceMarksUnhealthyOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	reg := New(nil)
	_, err := reg.AddAuxiliary(ServiceDescriptor{
		Name:        "search",
		Source:      SourceEnv,
		Endpoints:   map[string]Endpoint{"primary": {Transport: TransportHTTP, URL: srv.URL}},
		HealthCheck: HealthCheckConfig{Enabled: true, Interval: time.Hour},
	})
	require.NoError(t, err)
	reg.SetHealth("search", true, time.Now(), "")

	hc := NewHealthChecker(reg, nil, time.Hour)
	hc.probeOnce(context.Background(), "search")

	d, _ := reg.Get("search")
	require.False(t, d.Healthy)
	require.Contains(t, d.LastError, "503")
}

func TestHealthCheckerSyncSkipsDisabledDescriptorEvenWithPathConfigured(t *testing.T) {
	var probed int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&probed, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg := New(nil)
	_, err := reg.AddAuxiliary(ServiceDescriptor{
		Name:      "search",
		Source:    SourceEnv,
		Endpoints: map[string]Endpoint{"primary": {Transport: TransportHTTP, URL: srv.URL}},
		// Enabled is false even though a Path is configured (e.g. left
		// over from a previous config); Sync must not start a loop.
		HealthCheck: HealthCheckConfig{Enabled: false, Path: "/health", Interval: 10 * time.Millisecond},
	})
	require.NoError(t, err)

	hc := NewHealthChecker(reg, nil, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hc.Start(ctx)

	time.Sleep(50 * time.Millisecond)
	hc.Stop()

	require.Equal(t, int32(0), atomic.LoadInt32(&probed), "a disabled descriptor must never be probed, regardless of a configured Path")
}

func TestHealthCheckerSyncStartsAndStopsLoops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg := New(nil)
	_, err := reg.AddAuxiliary(ServiceDescriptor{
		Name:        "search",
		Source:      SourceEnv,
		Endpoints:   map[string]Endpoint{"primary": {Transport: TransportHTTP, URL: srv.URL}},
		HealthCheck: HealthCheckConfig{Enabled: true, Interval: 10 * time.Millisecond},
	})
	require.NoError(t, err)

	hc := NewHealthChecker(reg, nil, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hc.Start(ctx)

	require.Eventually(t, func() bool {
		d, _ := reg.Get("search")
		return d.Healthy
	}, time.Second, 10*time.Millisecond)

	hc.Stop()
}
