package registry

import (
	"encoding/json"
	"fmt"
	"net"

	"github.com/station-mesh/orchestrator/internal/logging"
)

// multicastAnnouncement is the wire shape of a self-announcement
// datagram a downstream service broadcasts (spec.md §4.7 multicast
// discovery source): {type: "mcp_announcement", name, port, url?,
// protocol?}. When url is absent, the descriptor is built from the
// sender's source address and the announced port.
type multicastAnnouncement struct {
	Type         string   `json:"type"`
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Port         int      `json:"port"`
	URL          string   `json:"url"`
	Protocol     string   `json:"protocol"`
	Capabilities []string `json:"capabilities"`
	Tools        []string `json:"tools"`
}

// MulticastSource listens on a UDP multicast group for downstream
// self-announcements and adds each one to the registry.
type MulticastSource struct {
	group    string
	iface    string
	registry *Registry

	conn *net.UDPConn
	done chan struct{}
}

// NewMulticastSource builds a MulticastSource bound to group
// (e.g. "224.0.0.251:9999"); iface may be empty to use the default.
func NewMulticastSource(group, iface string, registry *Registry) *MulticastSource {
	return &MulticastSource{group: group, iface: iface, registry: registry}
}

// Listen joins the multicast group and processes announcements until
// Stop is called.
func (s *MulticastSource) Listen() error {
	addr, err := net.ResolveUDPAddr("udp", s.group)
	if err != nil {
		return fmt.Errorf("resolving multicast group %s: %w", s.group, err)
	}

	var ifi *net.Interface
	if s.iface != "" {
		ifi, err = net.InterfaceByName(s.iface)
		if err != nil {
			return fmt.Errorf("resolving interface %s: %w", s.iface, err)
		}
	}

	conn, err := net.ListenMulticastUDP("udp", ifi, addr)
	if err != nil {
		return fmt.Errorf("joining multicast group %s: %w", s.group, err)
	}
	conn.SetReadBuffer(64 * 1024)

	s.conn = conn
	s.done = make(chan struct{})
	go s.loop(conn, s.done)
	return nil
}

// Stop closes the multicast socket and stops the listen goroutine.
func (s *MulticastSource) Stop() {
	if s.conn != nil {
		s.conn.Close()
	}
	if s.done != nil {
		close(s.done)
	}
}

func (s *MulticastSource) loop(conn *net.UDPConn, done chan struct{}) {
	buf := make([]byte, 4096)
	for {
		select {
		case <-done:
			return
		default:
		}
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-done:
				return
			default:
				logging.Warn("multicast discovery read error: %v", err)
				return
			}
		}
		s.handle(buf[:n], addr)
	}
}

func (s *MulticastSource) handle(payload []byte, sender *net.UDPAddr) {
	var ann multicastAnnouncement
	if err := json.Unmarshal(payload, &ann); err != nil {
		logging.Warn("multicast discovery: malformed announcement: %v", err)
		return
	}
	if ann.Type != "" && ann.Type != "mcp_announcement" {
		return
	}
	if ann.Name == "" {
		logging.Warn("multicast discovery: announcement missing name")
		return
	}

	url := ann.URL
	if url == "" {
		if ann.Port == 0 || sender == nil {
			logging.Warn("multicast discovery: announcement for %q has no url and no usable sender/port", ann.Name)
			return
		}
		url = fmt.Sprintf("http://%s:%d", sender.IP.String(), ann.Port)
	}

	version := ann.Version
	if version == "" {
		version = "1.0.0"
	}

	d := ServiceDescriptor{
		Name:         ann.Name,
		Version:      version,
		Source:       SourceMulticast,
		Capabilities: ann.Capabilities,
		Tools:        ann.Tools,
		Endpoints:    map[string]Endpoint{"primary": {Transport: TransportHTTP, URL: url}},
	}
	added, err := s.registry.AddAuxiliary(d)
	if err != nil {
		logging.Warn("multicast discovery for %q: %v", ann.Name, err)
		return
	}
	if added {
		logging.Info("multicast discovery registered %q at %s", ann.Name, url)
	}
}
