package demux

import "bytes"

// Matcher decides from the peeked bytes whether a rule claims a connection.
type Matcher func(peeked []byte) bool

// HTTPPrefixLen is the number of bytes IsHTTPRequest inspects.
const HTTPPrefixLen = 4

var httpPrefixes = [][]byte{
	[]byte("GET "),
	[]byte("POST"),
	[]byte("HEAD"),
	[]byte("PUT "),
	[]byte("DEL "),
}

// IsHTTPRequest reports whether b starts like an HTTP request line.
func IsHTTPRequest(b []byte) bool {
	if len(b) < HTTPPrefixLen {
		return false
	}
	for _, p := range httpPrefixes {
		if bytes.Equal(b[:HTTPPrefixLen], p) {
			return true
		}
	}
	return false
}

// tlsRecordHandshake is the TLS record content type for handshake messages.
const tlsRecordHandshake = 0x16

// IsTLSHandshake reports whether b starts with a TLS handshake record.
func IsTLSHandshake(b []byte) bool {
	return len(b) > 0 && b[0] == tlsRecordHandshake
}
