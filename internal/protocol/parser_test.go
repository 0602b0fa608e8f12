package protocol

import (
	"testing"

	"github.com/muurk/rotlink/internal/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketTypeString(t *testing.T) {
	tests := []struct {
		pt   PacketType
		want string
	}{
		{PacketHandshake, "HANDSHAKE"},
		{PacketMessage, "MESSAGE"},
		{PacketData, "DATA"},
		{PacketTerminate, "TERMINATE"},
		{PacketType(0x7f), "UNKNOWN(0x7f)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.pt.String())
	}
	assert.True(t, PacketTerminate.Valid())
	assert.False(t, PacketType(4).Valid())
}

func TestEncodeLayout(t *testing.T) {
	tests := []struct {
		name string
		pkt  []byte
		want []byte
	}{
		{"handshake", BuildHandshake("bob", "pw"), []byte{0x00, 'b', 'o', 'b', 0, 'p', 'w', 0}},
		{"handshake accepted", BuildHandshakeResult(true), []byte{0x00, 0x01}},
		{"handshake rejected", BuildHandshakeResult(false), []byte{0x00, 0x00}},
		{"message", BuildMessage("hi"), []byte{0x01, 'h', 'i', 0}},
		{"data", BuildData(`{}`), []byte{0x02, '{', '}', 0}},
		{"terminate", BuildTerminate("x"), []byte{0x03, 'x', 0}},
		{"unknown", Encode(&Unknown{Kind: 9, Data: []byte{1, 2}}), []byte{0x09, 1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pkt)
		})
	}
}

func TestParseFromClient(t *testing.T) {
	p, err := ParseFromClient(BuildHandshake("alice", "s3cret"))
	require.NoError(t, err)
	hs, ok := p.(*HandshakeRequest)
	require.True(t, ok, "got %T", p)
	assert.Equal(t, "alice", hs.Username)
	assert.Equal(t, "s3cret", hs.Password)
	assert.NotContains(t, hs.String(), "s3cret")

	p, err = ParseFromClient(BuildMessage("héllo"))
	require.NoError(t, err)
	assert.Equal(t, &Message{Text: "héllo"}, p)

	p, err = ParseFromClient(BuildData(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, &Data{Payload: `{"a":1}`}, p)
}

func TestParseFromServer(t *testing.T) {
	p, err := ParseFromServer(BuildHandshakeResult(true))
	require.NoError(t, err)
	assert.Equal(t, &HandshakeResponse{Accepted: true}, p)

	// Anything other than 1 is a rejection.
	p, err = ParseFromServer([]byte{0x00, 0x02})
	require.NoError(t, err)
	assert.Equal(t, &HandshakeResponse{Accepted: false}, p)

	p, err = ParseFromServer(BuildTerminate("bye"))
	require.NoError(t, err)
	assert.Equal(t, &Terminate{Reason: "bye"}, p)
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"handshake without password", []byte{0x00, 'b', 0}},
		{"handshake unterminated", []byte{0x00, 'b', 'o'}},
		{"message unterminated", []byte{0x01, 'h', 'i'}},
		{"data without payload", []byte{0x02}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFromClient(tt.data)
			assert.ErrorIs(t, err, codec.ErrOutOfBounds)
		})
	}

	_, err := ParseFromServer([]byte{0x00})
	assert.ErrorIs(t, err, codec.ErrOutOfBounds)
}

func TestParseUnknownType(t *testing.T) {
	p, err := ParseFromClient([]byte{0x42, 1, 2, 3})
	require.NoError(t, err)
	u, ok := p.(*Unknown)
	require.True(t, ok)
	assert.Equal(t, PacketType(0x42), u.Type())
	assert.Equal(t, []byte{1, 2, 3}, u.Data)
}

func TestParseIgnoresTrailingBytes(t *testing.T) {
	data := append(BuildMessage("one"), BuildMessage("two")...)
	p, err := ParseFromClient(data)
	require.NoError(t, err)
	assert.Equal(t, &Message{Text: "one"}, p)
}
