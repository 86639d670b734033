package registry

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMulticastSourceHandleRegistersAnnouncementWithURL(t *testing.T) {
	reg := New(nil)
	src := NewMulticastSource("224.0.0.251:9999", "", reg)

	src.handle([]byte(`{"type":"mcp_announcement","name":"search","url":"http://10.0.0.5:9001","capabilities":["full-text-search"]}`), nil)

	d, ok := reg.Get("search")
	require.True(t, ok)
	require.Equal(t, SourceMulticast, d.Source)
	require.Equal(t, "1.0.0", d.Version)
	require.Equal(t, "http://10.0.0.5:9001", d.Endpoints["primary"].URL)
}

func TestMulticastSourceHandleBuildsURLFromSenderAndPort(t *testing.T) {
	reg := New(nil)
	src := NewMulticastSource("224.0.0.251:9999", "", reg)
	sender := &net.UDPAddr{IP: net.ParseIP("10.0.0.9"), Port: 54321}

	src.handle([]byte(`{"type":"mcp_announcement","name":"billing","port":9002}`), sender)

	d, ok := reg.Get("billing")
	require.True(t, ok)
	require.Equal(t, "http://10.0.0.9:9002", d.Endpoints["primary"].URL)
}

func TestMulticastSourceHandleIgnoresMalformed(t *testing.T) {
	reg := New(nil)
	src := NewMulticastSource("224.0.0.251:9999", "", reg)

	src.handle([]byte(`not json`), nil)
	src.handle([]byte(`{"name":""}`), nil)
	src.handle([]byte(`{"name":"noaddr"}`), nil)

	require.Empty(t, reg.List())
}
