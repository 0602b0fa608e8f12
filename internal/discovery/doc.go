// Package discovery advertises and finds rotlink servers over mDNS.
//
// Servers register the "_rotlink._tcp" service with TXT records describing
// how to talk to them:
//
//	framing=raw      packet framing (raw or length)
//	tls=false        whether the port expects TLS
//	version=v1.2.3   server build version
//
// Clients browse for the service and get a Server per answer.
//
//	servers, err := discovery.NewScanner().Browse(ctx)
//	for _, s := range servers {
//	    fmt.Println(s.Instance, s.Addr())
//	}
package discovery
