package session

import "errors"

var (
	// ErrBadCredentials covers both an unknown username and a wrong password.
	ErrBadCredentials = errors.New("session: bad credentials")
	// ErrDuplicateLogin is returned when the username already has a live session.
	ErrDuplicateLogin = errors.New("session: user already logged in")
	// ErrNotValidated is returned for application traffic before a successful handshake.
	ErrNotValidated = errors.New("session: not validated")
	// ErrAlreadyValidated is returned for a second handshake on one session.
	ErrAlreadyValidated = errors.New("session: already validated")
	// ErrMalformedPacket is returned when a packet cannot be decoded.
	ErrMalformedPacket = errors.New("session: malformed packet")
	// ErrUnexpectedPacket is returned for a packet type the peer may not send.
	ErrUnexpectedPacket = errors.New("session: unexpected packet")
	// ErrRateLimited is returned when a peer exceeds its message rate.
	ErrRateLimited = errors.New("session: rate limit exceeded")
	// ErrHandshakeTimeout is returned when no handshake completes in time.
	ErrHandshakeTimeout = errors.New("session: handshake timeout")
	// ErrClosed is returned when using a closed session.
	ErrClosed = errors.New("session: closed")
)

// Reasons sent to clients in TERMINATE packets.
const (
	ReasonNotValidated     = "not validated"
	ReasonAlreadyValidated = "already validated"
	ReasonAuthFailed       = "authentication failed"
	ReasonMalformed        = "malformed packet"
	ReasonUnexpected       = "unexpected packet"
	ReasonRateLimited      = "rate limit exceeded"
	ReasonShutdown         = "server shutting down"
)
