package registry

import (
	"context"
	"fmt"
	"net"

	"github.com/station-mesh/orchestrator/internal/logging"
)

// resolver is the subset of net.Resolver used, so tests can substitute
// a fake SRV lookup.
type resolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

// DNSSource discovers services by resolving SRV records under a
// configured domain (spec.md §3 DNS discovery source), the way an
// operator running the orchestrator under Consul/Kubernetes DNS would
// register downstreams.
type DNSSource struct {
	domain   string
	registry *Registry
	resolve  resolver
}

// NewDNSSource builds a DNSSource that resolves _<name>._tcp.<domain>
// SRV records for every name in names.
func NewDNSSource(domain string, registry *Registry) *DNSSource {
	return &DNSSource{domain: domain, registry: registry, resolve: net.DefaultResolver}
}

// Scan resolves an SRV record for each candidate name and adds any
// service found to the registry.
func (s *DNSSource) Scan(ctx context.Context, names []string) error {
	for _, name := range names {
		_, addrs, err := s.resolve.LookupSRV(ctx, name, "tcp", s.domain)
		if err != nil {
			logging.Debug("dns discovery: no SRV record for %s._tcp.%s: %v", name, s.domain, err)
			continue
		}
		if len(addrs) == 0 {
			continue
		}
		target := addrs[0]
		url := fmt.Sprintf("http://%s:%d", trimTrailingDot(target.Target), target.Port)

		d := ServiceDescriptor{
			Name:      name,
			Version:   "1.0.0",
			Source:    SourceDNS,
			Endpoints: map[string]Endpoint{"primary": {Transport: TransportHTTP, URL: url}},
		}
		added, err := s.registry.AddAuxiliary(d)
		if err != nil {
			return fmt.Errorf("dns discovery for %q: %w", name, err)
		}
		if added {
			logging.Info("dns discovery registered %q at %s", name, url)
		}
	}
	return nil
}

func trimTrailingDot(host string) string {
	if n := len(host); n > 0 && host[n-1] == '.' {
		return host[:n-1]
	}
	return host
}
