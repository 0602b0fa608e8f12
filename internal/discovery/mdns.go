package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/muurk/rotlink/internal/logging"
	"go.uber.org/zap"
)

const (
	// ServiceType is the mDNS service type rotlink servers register.
	ServiceType = "_rotlink._tcp"

	// ServiceDomain is the mDNS domain.
	ServiceDomain = "local."

	// DefaultScanTimeout bounds a browse.
	DefaultScanTimeout = 5 * time.Second
)

// Advertisement is a live mDNS registration.
type Advertisement struct {
	server *zeroconf.Server
}

// Advertise registers instance on port with the given TXT metadata.
func Advertise(instance string, port int, meta map[string]string) (*Advertisement, error) {
	server, err := zeroconf.Register(instance, ServiceType, ServiceDomain, port, EncodeTXT(meta), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	logging.Info("mDNS service registered",
		zap.String("instance", instance),
		zap.String("service", ServiceType),
		zap.Int("port", port),
	)
	return &Advertisement{server: server}, nil
}

// Shutdown withdraws the registration.
func (a *Advertisement) Shutdown() {
	if a != nil && a.server != nil {
		a.server.Shutdown()
	}
}

// Scanner browses for rotlink servers.
type Scanner struct {
	Timeout time.Duration
}

// NewScanner creates a scanner with DefaultScanTimeout.
func NewScanner() *Scanner {
	return &Scanner{Timeout: DefaultScanTimeout}
}

// Browse collects servers until the timeout or ctx ends.
func (s *Scanner) Browse(ctx context.Context) ([]*Server, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	collected := make(chan []*Server, 1)
	go func() {
		seen := make(map[string]bool)
		var servers []*Server
		for entry := range entries {
			srv := parseServiceEntry(entry)
			if srv == nil || seen[srv.Instance+"@"+srv.Addr()] {
				continue
			}
			seen[srv.Instance+"@"+srv.Addr()] = true
			servers = append(servers, srv)
		}
		collected <- servers
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()
	// The resolver closes entries once ctx is done.
	select {
	case servers := <-collected:
		return servers, nil
	case <-time.After(time.Second):
		return nil, fmt.Errorf("mDNS resolver did not finish")
	}
}

// parseServiceEntry converts an answer to a Server, or nil if it has no address.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Server {
	if entry == nil || entry.Port == 0 {
		return nil
	}

	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	return &Server{
		Instance:     entry.Instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         entry.Port,
		Metadata:     DecodeTXT(entry.Text),
		DiscoveredAt: time.Now(),
	}
}
