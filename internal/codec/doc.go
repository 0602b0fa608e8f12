// Package codec implements the sequential binary writer and reader used to
// build and consume rotlink packet payloads.
//
// Values are laid out back to back with no alignment or padding, in a byte
// order chosen when the Writer or Reader is created. Packets on the wire are
// always little-endian.
//
// # Supported Values
//
//   - Unsigned and signed 8, 16 and 32-bit integers
//   - IEEE-754 float32 and float64 (bit-exact)
//   - UTF-8 strings terminated by a single zero byte
//
// # Strings
//
// Strings are written as their raw bytes followed by a 0x00 terminator. The
// writer does not inspect the contents, so a string holding an embedded NUL
// is truncated at that NUL when read back. Callers that need arbitrary bytes
// must choose another encoding.
//
// # Usage Example
//
//	w := codec.NewWriter(binary.LittleEndian)
//	w.PutUint8(1).PutString("hello")
//
//	r := codec.NewReader(w.Bytes(), binary.LittleEndian)
//	kind, _ := r.Uint8()
//	text, _ := r.String()
//
// # Thread Safety
//
// Writer and Reader are not safe for concurrent use.
package codec
