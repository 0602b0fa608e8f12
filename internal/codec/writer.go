package codec

import (
	"encoding/binary"
	"math"
)

// ByteOrder is satisfied by binary.LittleEndian and binary.BigEndian.
type ByteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// Writer appends values to a growing byte buffer.
type Writer struct {
	order ByteOrder
	buf   []byte
}

// NewWriter creates an empty Writer using the given byte order.
// A nil order defaults to little-endian.
func NewWriter(order ByteOrder) *Writer {
	if order == nil {
		order = binary.LittleEndian
	}
	return &Writer{order: order}
}

// Reset discards the written bytes, keeping the byte order.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Bytes returns a copy of the written bytes.
func (w *Writer) Bytes() []byte {
	out := make([]byte, len(w.buf))
	copy(out, w.buf)
	return out
}

func (w *Writer) PutUint8(v uint8) *Writer {
	w.buf = append(w.buf, v)
	return w
}

func (w *Writer) PutInt8(v int8) *Writer {
	w.buf = append(w.buf, byte(v))
	return w
}

func (w *Writer) PutUint16(v uint16) *Writer {
	w.buf = w.order.AppendUint16(w.buf, v)
	return w
}

func (w *Writer) PutInt16(v int16) *Writer {
	w.buf = w.order.AppendUint16(w.buf, uint16(v))
	return w
}

func (w *Writer) PutUint32(v uint32) *Writer {
	w.buf = w.order.AppendUint32(w.buf, v)
	return w
}

func (w *Writer) PutInt32(v int32) *Writer {
	w.buf = w.order.AppendUint32(w.buf, uint32(v))
	return w
}

func (w *Writer) PutFloat32(v float32) *Writer {
	w.buf = w.order.AppendUint32(w.buf, math.Float32bits(v))
	return w
}

func (w *Writer) PutFloat64(v float64) *Writer {
	w.buf = w.order.AppendUint64(w.buf, math.Float64bits(v))
	return w
}

// PutString writes s as UTF-8 followed by a zero terminator.
// Embedded NUL bytes are not rejected; see the package documentation.
func (w *Writer) PutString(s string) *Writer {
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
	return w
}
