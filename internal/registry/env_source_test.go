package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvSourceScanRegistersEndpoints(t *testing.T) {
	reg := New(nil)
	src := NewEnvSource(reg)
	src.environ = []string{
		"MCP_SEARCH_ENDPOINT=http://localhost:9001",
		"MCP_SEARCH_TOOLS=search.query,search.reindex",
		"MCP_SEARCH_CAPABILITIES=full-text-search",
		"UNRELATED=1",
	}

	require.NoError(t, src.Scan())

	d, ok := reg.Get("search")
	require.True(t, ok)
	require.Equal(t, SourceEnv, d.Source)
	require.Equal(t, "http://localhost:9001", d.Endpoints["primary"].URL)
	require.ElementsMatch(t, []string{"search.query", "search.reindex"}, d.Tools)
	require.Equal(t, []string{"full-text-search"}, d.Capabilities)
}

func TestEnvSourceScanSplitsSubprocessCommand(t *testing.T) {
	reg := New(nil)
	src := NewEnvSource(reg)
	src.environ = []string{"MCP_LOCAL_ENDPOINT=/usr/bin/mcp-local --flag value"}

	require.NoError(t, src.Scan())

	d, ok := reg.Get("local")
	require.True(t, ok)
	ep := d.Endpoints["primary"]
	require.Equal(t, TransportSubprocess, ep.Transport)
	require.Equal(t, "/usr/bin/mcp-local", ep.Command)
	require.Equal(t, []string{"--flag", "value"}, ep.Args)
}

func TestEnvSourceScanIsIdempotent(t *testing.T) {
	reg := New(nil)
	src := NewEnvSource(reg)
	src.environ = []string{"MCP_SEARCH_ENDPOINT=http://localhost:9001"}

	require.NoError(t, src.Scan())
	require.NoError(t, src.Scan())

	require.Len(t, reg.List(), 1)
}
