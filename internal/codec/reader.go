package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrOutOfBounds is returned when a read needs more bytes than remain.
var ErrOutOfBounds = errors.New("codec: read out of bounds")

// Reader consumes values sequentially from a byte slice.
type Reader struct {
	order ByteOrder
	buf   []byte
	off   int
}

// NewReader creates a Reader positioned at the start of buf.
// A nil order defaults to little-endian.
func NewReader(buf []byte, order ByteOrder) *Reader {
	if order == nil {
		order = binary.LittleEndian
	}
	return &Reader{order: order, buf: buf}
}

// Reset repositions the reader at the start of buf.
func (r *Reader) Reset(buf []byte) {
	r.buf = buf
	r.off = 0
}

// Offset returns the current cursor position.
func (r *Reader) Offset() int {
	return r.off
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

func (r *Reader) next(n int) ([]byte, error) {
	if r.Remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrOutOfBounds, n, r.off, r.Remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) Uint8() (uint8, error) {
	b, err := r.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) Int8() (int8, error) {
	v, err := r.Uint8()
	return int8(v), err
}

func (r *Reader) Uint16() (uint16, error) {
	b, err := r.next(2)
	if err != nil {
		return 0, err
	}
	return r.order.Uint16(b), nil
}

func (r *Reader) Int16() (int16, error) {
	v, err := r.Uint16()
	return int16(v), err
}

func (r *Reader) Uint32() (uint32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return r.order.Uint32(b), nil
}

func (r *Reader) Int32() (int32, error) {
	v, err := r.Uint32()
	return int32(v), err
}

func (r *Reader) Float32() (float32, error) {
	v, err := r.Uint32()
	return math.Float32frombits(v), err
}

func (r *Reader) Float64() (float64, error) {
	b, err := r.next(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(r.order.Uint64(b)), nil
}

// String reads bytes up to the next zero byte and consumes the terminator.
// A missing terminator is an out of bounds read and leaves the cursor in place.
func (r *Reader) String() (string, error) {
	i := bytes.IndexByte(r.buf[r.off:], 0)
	if i < 0 {
		return "", fmt.Errorf("%w: unterminated string at offset %d", ErrOutOfBounds, r.off)
	}
	s := string(r.buf[r.off : r.off+i])
	r.off += i + 1
	return s, nil
}
