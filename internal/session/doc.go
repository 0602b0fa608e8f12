// Package session implements the rotlink connection state machines and the
// server-side registry of authenticated sessions.
//
// A ServerSession wraps one accepted connection. It starts Unauthenticated,
// moves to Authenticated on a successful HANDSHAKE and ends Closed when the
// socket goes away. A ClientSession is the mirror image: it sends HANDSHAKE
// as soon as it connects and reports whether the server accepted it.
//
// Inbound packets on one session are processed strictly in order, because
// the rotating cipher state depends on every byte that came before. Outbound
// packets are encrypted and written under a per-session lock so the keystream
// order always equals the wire order.
//
// Sessions report what happens through a Bus of typed events (validated,
// message, data, terminated, closed) that loggers, stores and dashboards
// subscribe to.
package session
