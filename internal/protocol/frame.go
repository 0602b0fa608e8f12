package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// MaxPacketSize bounds a single packet under either framing.
	MaxPacketSize = 65535

	lengthHeaderSize = 2
)

var (
	// ErrPacketTooLarge is returned when a packet exceeds MaxPacketSize.
	ErrPacketTooLarge = errors.New("protocol: packet too large")
	// ErrUnknownFraming is returned for an unrecognised framing name.
	ErrUnknownFraming = errors.New("protocol: unknown framing")
)

// Framer delimits encrypted packets on a byte stream.
type Framer interface {
	// ReadPacket returns the next packet. The slice is owned by the caller.
	ReadPacket(r io.Reader) ([]byte, error)
	// WritePacket writes p as exactly one packet.
	WritePacket(w io.Writer, p []byte) error
	// Name returns the configuration name of the framing.
	Name() string
}

// Framing names accepted by NewFramer.
const (
	FramingRaw    = "raw"
	FramingLength = "length"
)

// NewFramer returns the framer registered under name. Empty means raw.
func NewFramer(name string) (Framer, error) {
	switch strings.ToLower(name) {
	case "", FramingRaw:
		return RawFramer{}, nil
	case FramingLength:
		return LengthFramer{}, nil
	default:
		return nil, fmt.Errorf("%w: %q (expected %s or %s)", ErrUnknownFraming, name, FramingRaw, FramingLength)
	}
}

// RawFramer treats every successful Read as one packet.
type RawFramer struct{}

func (RawFramer) Name() string { return FramingRaw }

func (RawFramer) ReadPacket(r io.Reader) ([]byte, error) {
	buf := make([]byte, MaxPacketSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			// A trailing error is reported by the next call.
			return buf[:n], nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (RawFramer) WritePacket(w io.Writer, p []byte) error {
	if len(p) > MaxPacketSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrPacketTooLarge, len(p), MaxPacketSize)
	}
	_, err := w.Write(p)
	return err
}

// LengthFramer prefixes each packet with a plaintext u16 little-endian length.
type LengthFramer struct{}

func (LengthFramer) Name() string { return FramingLength }

func (LengthFramer) ReadPacket(r io.Reader) ([]byte, error) {
	var header [lengthHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint16(header[:])
	p := make([]byte, n)
	if _, err := io.ReadFull(r, p); err != nil {
		return nil, fmt.Errorf("failed to read %d byte packet: %w", n, err)
	}
	return p, nil
}

func (LengthFramer) WritePacket(w io.Writer, p []byte) error {
	if len(p) > MaxPacketSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrPacketTooLarge, len(p), MaxPacketSize)
	}
	frame := make([]byte, lengthHeaderSize+len(p))
	binary.LittleEndian.PutUint16(frame, uint16(len(p)))
	copy(frame[lengthHeaderSize:], p)
	_, err := w.Write(frame)
	return err
}
