// Package demux shares one listening port between several protocols.
//
// Each accepted connection is peeked for a few bytes without consuming them.
// The first Rule whose matcher accepts the peeked bytes receives the
// connection, wrapped in a PeekedConn so the handler still reads the bytes
// that were used for the decision. Connections no rule claims go to the
// Mux's Default handler.
//
// Handlers are plain ConnHandlers: a Listener feeds connections into a
// net/http server, a Relay splices them to an internal address, and a Mux
// is itself a ConnHandler so muxes can be stacked (TLS first, then HTTP
// versus raw inside the tunnel).
package demux
