// Package varint implements unsigned LEB128 variable-length integers, the
// encoding BLIP uses for message numbers, properties-block lengths, and ACK
// byte counts on the wire.
package varint

import "github.com/pkg/errors"

// MaxLen is the maximum number of bytes a 64-bit varint can occupy.
const MaxLen = 10

// ErrOverflow is returned when a decoded value would not fit the requested
// width, or when more than MaxLen continuation bytes are seen.
var ErrOverflow = errors.New("varint: overflow")

// ErrTruncated is returned when the buffer ends before a varint is complete.
var ErrTruncated = errors.New("varint: truncated")

// PutUvarint encodes v into buf using LEB128 and returns the number of bytes
// written. buf must have at least MaxLen bytes available.
func PutUvarint(buf []byte, v uint64) int {
	i := 0
	for v >= 0x80 {
		buf[i] = byte(v) | 0x80
		v >>= 7
		i++
	}
	buf[i] = byte(v)
	return i + 1
}

// AppendUvarint appends the LEB128 encoding of v to buf and returns the
// extended slice.
func AppendUvarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// Len returns the number of bytes needed to encode v.
func Len(v uint64) int {
	n := 1
	for v >= 0x80 {
		n++
		v >>= 7
	}
	return n
}

// ReadUvarint decodes an unsigned varint from the front of buf and returns
// the value plus the number of bytes consumed. It does not mutate buf.
func ReadUvarint(buf []byte) (uint64, int, error) {
	var v uint64
	var shift uint
	for i, b := range buf {
		if i >= MaxLen {
			return 0, 0, ErrOverflow
		}
		if i == MaxLen-1 && b > 1 {
			return 0, 0, ErrOverflow
		}
		v |= uint64(b&0x7F) << shift
		if b < 0x80 {
			return v, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, ErrTruncated
}

// ReadUVarInt32 decodes an unsigned varint from *buf, advances *buf past the
// bytes consumed, and returns the value as a uint32. It fails if the decoded
// value exceeds 2^32-1 or if buf ends mid-varint — matching the narrower
// accessor the message layer uses for properties-block lengths.
func ReadUVarInt32(buf *[]byte) (uint32, error) {
	v, n, err := ReadUvarint(*buf)
	if err != nil {
		return 0, err
	}
	if v > 0xFFFFFFFF {
		return 0, ErrOverflow
	}
	*buf = (*buf)[n:]
	return uint32(v), nil
}

// ReadUVarInt64 decodes an unsigned varint from *buf and advances *buf past
// the bytes consumed. Used for message numbers and ACK byte counts, which
// are full 63/64-bit values.
func ReadUVarInt64(buf *[]byte) (uint64, error) {
	v, n, err := ReadUvarint(*buf)
	if err != nil {
		return 0, err
	}
	*buf = (*buf)[n:]
	return v, nil
}
