package discovery

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"
)

// TXT record keys.
const (
	TXTFraming = "framing"
	TXTTLS     = "tls"
	TXTVersion = "version"
)

// Server is a rotlink server found on the network.
type Server struct {
	Instance string
	Hostname string
	IP       string
	Port     int

	// Metadata holds the raw TXT records.
	Metadata map[string]string

	DiscoveredAt time.Time
}

// Addr returns the dialable host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.IP, strconv.Itoa(s.Port))
}

// Framing returns the advertised framing, "raw" when absent.
func (s *Server) Framing() string {
	if f := s.Metadata[TXTFraming]; f != "" {
		return f
	}
	return "raw"
}

// TLS reports whether the server advertised TLS.
func (s *Server) TLS() bool {
	return s.Metadata[TXTTLS] == "true"
}

func (s *Server) String() string {
	return fmt.Sprintf("%s at %s (framing=%s tls=%t)", s.Instance, s.Addr(), s.Framing(), s.TLS())
}

// EncodeTXT renders metadata as sorted key=value records.
func EncodeTXT(meta map[string]string) []string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	txt := make([]string, 0, len(keys))
	for _, k := range keys {
		txt = append(txt, k+"="+meta[k])
	}
	return txt
}

// DecodeTXT parses key=value records. A record without "=" maps to "".
func DecodeTXT(txt []string) map[string]string {
	meta := make(map[string]string, len(txt))
	for _, record := range txt {
		k, v, _ := strings.Cut(record, "=")
		if k != "" {
			meta[k] = v
		}
	}
	return meta
}
