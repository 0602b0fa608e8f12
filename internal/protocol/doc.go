// Package protocol implements the rotlink packet format.
//
// This package handles parsing and construction of the plaintext packets
// exchanged between a rotlink client and server, and the framing used to
// carry the encrypted packets over a byte stream. Encryption itself lives
// in the rotcipher package; this package only sees plaintext.
//
// # Packet Format
//
// Every packet is a single type byte followed by a type-specific payload.
// All multi-byte values are little-endian and strings are NUL-terminated
// UTF-8 (see the codec package):
//
//	HANDSHAKE  0x00  client->server: string username, string password
//	                 server->client: u8 result (1 accepted, 0 rejected)
//	MESSAGE    0x01  string text
//	DATA       0x02  string serialized structured data (JSON)
//	TERMINATE  0x03  server->client only: string reason
//
// Packets carry no length and no checksum.
//
// # Framing
//
// Two framers are available and both peers must agree on one:
//   - RawFramer: one transport read is one packet. This is the historical
//     wire format. It breaks on transports that split or coalesce writes,
//     which TCP is free to do under load.
//   - LengthFramer: a plaintext u16 little-endian length precedes each
//     encrypted packet.
//
// # Usage Example - Construction
//
//	pkt := protocol.Encode(&protocol.Message{Text: "hi"})
//	out.Transform(pkt)
//	err := framer.WritePacket(conn, pkt)
//
// # Usage Example - Parsing
//
//	raw, err := framer.ReadPacket(conn)
//	in.Transform(raw)
//	pkt, err := protocol.ParseFromClient(raw)
//	switch p := pkt.(type) {
//	case *protocol.HandshakeRequest:
//	    // authenticate p.Username / p.Password
//	}
//
// # Error Handling
//
// Parse errors wrap codec.ErrOutOfBounds when a payload is truncated.
// Unrecognised type bytes decode to *Unknown rather than an error so that
// the session state machine decides how to react.
//
// # Thread Safety
//
// Encode and the Parse functions are stateless and safe for concurrent use.
// Framers are stateless; concurrent writers must still serialise their calls
// on a shared connection.
package protocol
