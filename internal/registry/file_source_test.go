package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeRegistryFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestFileSourceLoadOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcp-registry.json")
	writeRegistryFile(t, path, `{
		"mcps": {
			"search": {
				"endpoints": {"primary": {"transport": "http", "url": "http://localhost:9001"}}
			}
		}
	}`)

	reg := New(nil)
	src := NewFileSource(path, 10*time.Millisecond, reg)
	require.NoError(t, src.LoadOnce())

	d, ok := reg.Get("search")
	require.True(t, ok)
	require.Equal(t, "http://localhost:9001", d.Endpoints["primary"].URL)
}

func TestFileSourceLoadOnceRejectsMalformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcp-registry.json")
	writeRegistryFile(t, path, `{"mcps": {"broken": {}}}`)

	reg := New(nil)
	src := NewFileSource(path, 10*time.Millisecond, reg)
	require.Error(t, src.LoadOnce())
}

func TestFileSourceWatchPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcp-registry.json")
	writeRegistryFile(t, path, `{
		"mcps": {
			"search": {"endpoints": {"primary": {"transport": "http", "url": "http://localhost:9001"}}}
		}
	}`)

	reg := New(nil)
	src := NewFileSource(path, 20*time.Millisecond, reg)
	require.NoError(t, src.LoadOnce())
	require.NoError(t, src.Watch())
	defer src.Stop()

	writeRegistryFile(t, path, `{
		"mcps": {
			"search": {"endpoints": {"primary": {"transport": "http", "url": "http://localhost:9002"}}},
			"billing": {"endpoints": {"primary": {"transport": "http", "url": "http://localhost:9010"}}}
		}
	}`)

	require.Eventually(t, func() bool {
		_, ok := reg.Get("billing")
		return ok
	}, 2*time.Second, 20*time.Millisecond)

	d, _ := reg.Get("search")
	require.Equal(t, "http://localhost:9002", d.Endpoints["primary"].URL)
}
