package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/muurk/rotlink/internal/codec"
)

var (
	// ErrEmptyPacket is returned when a packet has no type byte.
	ErrEmptyPacket = errors.New("protocol: empty packet")
	// ErrUnknownPacketType marks a type byte outside the known set. Parsing
	// still succeeds with an *Unknown so callers decide how to react.
	ErrUnknownPacketType = errors.New("protocol: unknown packet type")
)

// ParseFromClient decodes a packet sent by a client. A HANDSHAKE decodes to
// *HandshakeRequest.
func ParseFromClient(data []byte) (Packet, error) {
	return parse(data, true)
}

// ParseFromServer decodes a packet sent by a server. A HANDSHAKE decodes to
// *HandshakeResponse.
func ParseFromServer(data []byte) (Packet, error) {
	return parse(data, false)
}

func parse(data []byte, fromClient bool) (Packet, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrEmptyPacket, codec.ErrOutOfBounds)
	}

	r := codec.NewReader(data, binary.LittleEndian)
	kind, _ := r.Uint8()
	t := PacketType(kind)

	var (
		p   Packet
		err error
	)
	switch t {
	case PacketHandshake:
		if fromClient {
			p, err = parseHandshakeRequest(r)
		} else {
			p, err = parseHandshakeResponse(r)
		}
	case PacketMessage:
		var s string
		if s, err = r.String(); err == nil {
			p = &Message{Text: s}
		}
	case PacketData:
		var s string
		if s, err = r.String(); err == nil {
			p = &Data{Payload: s}
		}
	case PacketTerminate:
		var s string
		if s, err = r.String(); err == nil {
			p = &Terminate{Reason: s}
		}
	default:
		rest := make([]byte, len(data)-1)
		copy(rest, data[1:])
		return &Unknown{Kind: t, Data: rest}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to parse %s packet: %w", t, err)
	}
	return p, nil
}

func parseHandshakeRequest(r *codec.Reader) (*HandshakeRequest, error) {
	username, err := r.String()
	if err != nil {
		return nil, fmt.Errorf("username: %w", err)
	}
	password, err := r.String()
	if err != nil {
		return nil, fmt.Errorf("password: %w", err)
	}
	return &HandshakeRequest{Username: username, Password: password}, nil
}

func parseHandshakeResponse(r *codec.Reader) (*HandshakeResponse, error) {
	result, err := r.Uint8()
	if err != nil {
		return nil, fmt.Errorf("result: %w", err)
	}
	return &HandshakeResponse{Accepted: result == HandshakeAccepted}, nil
}
