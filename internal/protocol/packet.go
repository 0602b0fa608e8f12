package protocol

import (
	"fmt"
)

// PacketType is the one-byte tag that selects how a payload is read.
type PacketType uint8

const (
	PacketHandshake PacketType = 0x00
	PacketMessage   PacketType = 0x01
	PacketData      PacketType = 0x02
	PacketTerminate PacketType = 0x03
)

// String returns the packet type name
func (t PacketType) String() string {
	switch t {
	case PacketHandshake:
		return "HANDSHAKE"
	case PacketMessage:
		return "MESSAGE"
	case PacketData:
		return "DATA"
	case PacketTerminate:
		return "TERMINATE"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(t))
	}
}

// Valid reports whether t is one of the defined packet types.
func (t PacketType) Valid() bool {
	return t <= PacketTerminate
}

// Handshake results carried by a server HANDSHAKE reply.
const (
	HandshakeRejected uint8 = 0
	HandshakeAccepted uint8 = 1
)

// Packet is a decoded packet.
type Packet interface {
	Type() PacketType
	String() string
}

// HandshakeRequest (0x00, client->server) carries login credentials.
type HandshakeRequest struct {
	Username string
	Password string
}

func (p *HandshakeRequest) Type() PacketType { return PacketHandshake }

// String never includes the password.
func (p *HandshakeRequest) String() string {
	return fmt.Sprintf("HandshakeRequest{username=%q}", p.Username)
}

// HandshakeResponse (0x00, server->client) carries the login outcome.
type HandshakeResponse struct {
	Accepted bool
}

func (p *HandshakeResponse) Type() PacketType { return PacketHandshake }

func (p *HandshakeResponse) String() string {
	return fmt.Sprintf("HandshakeResponse{accepted=%v}", p.Accepted)
}

// Message (0x01) is a text message in either direction.
type Message struct {
	Text string
}

func (p *Message) Type() PacketType { return PacketMessage }

func (p *Message) String() string {
	return fmt.Sprintf("Message{len=%d}", len(p.Text))
}

// Data (0x02) carries serialized structured data, opaque to the protocol.
type Data struct {
	Payload string
}

func (p *Data) Type() PacketType { return PacketData }

func (p *Data) String() string {
	return fmt.Sprintf("Data{len=%d}", len(p.Payload))
}

// Terminate (0x03, server->client) announces that the server is closing.
type Terminate struct {
	Reason string
}

func (p *Terminate) Type() PacketType { return PacketTerminate }

func (p *Terminate) String() string {
	return fmt.Sprintf("Terminate{reason=%q}", p.Reason)
}

// Unknown is the fallback for unrecognised type bytes.
type Unknown struct {
	Kind PacketType
	Data []byte
}

func (p *Unknown) Type() PacketType { return p.Kind }

func (p *Unknown) String() string {
	return fmt.Sprintf("Unknown{type=0x%02x, len=%d}", uint8(p.Kind), len(p.Data))
}
