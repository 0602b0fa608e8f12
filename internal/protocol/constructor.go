package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/muurk/rotlink/internal/codec"
)

// Encode serialises a packet to its plaintext wire form.
// Encoding an *Unknown packet writes its type byte and raw data unchanged.
func Encode(p Packet) []byte {
	w := codec.NewWriter(binary.LittleEndian)
	w.PutUint8(uint8(p.Type()))

	switch m := p.(type) {
	case *HandshakeRequest:
		w.PutString(m.Username).PutString(m.Password)
	case *HandshakeResponse:
		if m.Accepted {
			w.PutUint8(HandshakeAccepted)
		} else {
			w.PutUint8(HandshakeRejected)
		}
	case *Message:
		w.PutString(m.Text)
	case *Data:
		w.PutString(m.Payload)
	case *Terminate:
		w.PutString(m.Reason)
	case *Unknown:
		out := w.Bytes()
		return append(out, m.Data...)
	default:
		panic(fmt.Sprintf("protocol: cannot encode %T", p))
	}

	return w.Bytes()
}

// BuildHandshake builds a client HANDSHAKE packet.
func BuildHandshake(username, password string) []byte {
	return Encode(&HandshakeRequest{Username: username, Password: password})
}

// BuildHandshakeResult builds a server HANDSHAKE reply.
func BuildHandshakeResult(accepted bool) []byte {
	return Encode(&HandshakeResponse{Accepted: accepted})
}

// BuildMessage builds a MESSAGE packet.
func BuildMessage(text string) []byte {
	return Encode(&Message{Text: text})
}

// BuildData builds a DATA packet from an already serialized payload.
func BuildData(payload string) []byte {
	return Encode(&Data{Payload: payload})
}

// BuildTerminate builds a TERMINATE packet.
func BuildTerminate(reason string) []byte {
	return Encode(&Terminate{Reason: reason})
}
