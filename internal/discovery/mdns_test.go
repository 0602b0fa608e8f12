package discovery

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

func TestParseServiceEntry(t *testing.T) {
	tests := []struct {
		name     string
		entry    *zeroconf.ServiceEntry
		wantNil  bool
		wantAddr string
		wantTLS  bool
		framing  string
	}{
		{
			name: "IPv4 with TXT",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "office"},
				HostName:      "office.local.",
				Port:          9900,
				AddrIPv4:      []net.IP{net.ParseIP("192.168.4.16")},
				Text:          []string{"framing=length", "tls=true"},
			},
			wantAddr: "192.168.4.16:9900",
			wantTLS:  true,
			framing:  "length",
		},
		{
			name: "IPv6 fallback and default framing",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "lab"},
				Port:          9900,
				AddrIPv6:      []net.IP{net.ParseIP("fe80::1")},
			},
			wantAddr: "[fe80::1]:9900",
			framing:  "raw",
		},
		{
			name: "no address",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "ghost"},
				Port:          9900,
			},
			wantNil: true,
		},
		{
			name: "no port",
			entry: &zeroconf.ServiceEntry{
				AddrIPv4: []net.IP{net.ParseIP("10.0.0.1")},
			},
			wantNil: true,
		},
		{name: "nil entry", wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := parseServiceEntry(tt.entry)
			if tt.wantNil {
				if srv != nil {
					t.Fatalf("parseServiceEntry() = %v, want nil", srv)
				}
				return
			}
			if srv == nil {
				t.Fatal("parseServiceEntry() = nil")
			}
			if got := srv.Addr(); got != tt.wantAddr {
				t.Errorf("Addr() = %q, want %q", got, tt.wantAddr)
			}
			if srv.TLS() != tt.wantTLS {
				t.Errorf("TLS() = %v, want %v", srv.TLS(), tt.wantTLS)
			}
			if srv.Framing() != tt.framing {
				t.Errorf("Framing() = %q, want %q", srv.Framing(), tt.framing)
			}
			if srv.DiscoveredAt.IsZero() {
				t.Error("DiscoveredAt should be set")
			}
		})
	}
}

func TestTXTRoundTrip(t *testing.T) {
	meta := map[string]string{TXTTLS: "false", TXTFraming: "raw", TXTVersion: "v1"}
	txt := EncodeTXT(meta)

	want := []string{"framing=raw", "tls=false", "version=v1"}
	if len(txt) != len(want) {
		t.Fatalf("EncodeTXT() = %v, want %v", txt, want)
	}
	for i := range want {
		if txt[i] != want[i] {
			t.Errorf("EncodeTXT()[%d] = %q, want %q", i, txt[i], want[i])
		}
	}

	got := DecodeTXT(append(txt, "flag", "=orphan"))
	if got[TXTFraming] != "raw" || got[TXTVersion] != "v1" {
		t.Errorf("DecodeTXT() = %v", got)
	}
	if v, ok := got["flag"]; !ok || v != "" {
		t.Errorf("bare key should map to empty string, got %q (present=%v)", v, ok)
	}
	if _, ok := got[""]; ok {
		t.Error("empty keys should be dropped")
	}
}

func TestServerString(t *testing.T) {
	s := &Server{Instance: "office", IP: "10.0.0.2", Port: 9900, Metadata: map[string]string{}}
	if got, want := s.String(), "office at 10.0.0.2:9900 (framing=raw tls=false)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
