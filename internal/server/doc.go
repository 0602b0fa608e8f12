// Package server runs the rotlink server: one TCP port that carries both
// the encrypted session protocol and an HTTP application.
//
// # Routing
//
// Every accepted connection is peeked before anything is consumed. The
// first four bytes decide the route:
//
//	"GET ", "POST", "HEAD", "PUT ", "DEL "  -> HTTP application (gin)
//	anything else                             -> session protocol
//
// With TLS enabled the first byte is inspected instead. A TLS handshake
// record (0x16) is terminated in-process and the decrypted stream is
// routed as above. Anything else is answered by a redirect server that
// sends 301 to the https URL. When tls.tls_addr and tls.redirect_addr are
// configured the front relays to those listeners instead and prefixes
// each stream with a PROXY protocol header.
//
// # HTTP application
//
//	GET  /healthz         version and live session count
//	GET  /metrics         Prometheus metrics
//	POST /api/data        body is the access password; latest DATA per user
//	GET  /api/sessions    authenticated usernames
//	POST /api/broadcast   {"to": "...", "text": "..."}; to is optional
//	GET  /api/events      websocket feed of session events
//	GET  /api/history     stored events when store.path is set
//
// The /api routes exist only when an access password is configured. All
// but /api/data take it in the X-Access-Password header or the password
// query parameter. Unknown GET paths are served from the public directory
// when the website is enabled.
//
// # Usage
//
//	cfg, _ := config.Load("")
//	srv, err := server.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Start(); err != nil {
//	    log.Fatal(err)
//	}
package server
