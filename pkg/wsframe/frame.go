// Package wsframe implements client-side RFC 6455 WebSocket framing:
// it turns outgoing messages into masked wire frames, turns an inbound byte
// stream into whole messages, runs the closing handshake, and exposes a
// back-pressure signal. It is deliberately transport-agnostic — see
// Transport in transport.go — and knows nothing about BLIP; BLIP frames are
// just the binary payload of a WebSocket BINARY message.
package wsframe

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Opcode identifies the kind of WebSocket frame.
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

func (op Opcode) isControl() bool { return op >= 0x8 }

const (
	// SendBufferSize is the buffered-bytes threshold past which Send starts
	// returning false to signal the caller it has lost back-pressure
	// guarantees until OnWriteable fires.
	SendBufferSize = 64 * 1024

	// MaxMessageLength is the largest reassembled message the engine will
	// accept; payload lengths beyond it are rejected before any body bytes
	// for that frame are read.
	MaxMessageLength = 1 * 1024 * 1024
)

// ErrProtocol is the sentinel wrapped by every protocol-violation error the
// engine produces; a caller observing an error rooted in ErrProtocol must
// force-disconnect.
var ErrProtocol = errors.New("wsframe: protocol error")

func protoErrf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrProtocol, format, args...)
}

// header is a decoded RFC 6455 frame header.
type header struct {
	fin     bool
	opcode  Opcode
	masked  bool
	maskKey [4]byte
	length  uint64
}

// encodeHeader writes a client->server frame header (always masked) for a
// payload of the given length and opcode, returning the header bytes and a
// freshly generated mask key.
func encodeHeader(opcode Opcode, length int, fin bool) (hdr []byte, maskKey [4]byte) {
	rand.Read(maskKey[:])

	b0 := byte(opcode)
	if fin {
		b0 |= 0x80
	}

	switch {
	case length <= 125:
		hdr = []byte{b0, 0x80 | byte(length)}
	case length <= 0xFFFF:
		hdr = make([]byte, 4)
		hdr[0] = b0
		hdr[1] = 0x80 | 126
		binary.BigEndian.PutUint16(hdr[2:], uint16(length))
	default:
		hdr = make([]byte, 10)
		hdr[0] = b0
		hdr[1] = 0x80 | 127
		binary.BigEndian.PutUint64(hdr[2:], uint64(length))
	}
	hdr = append(hdr, maskKey[:]...)
	return hdr, maskKey
}

// maskPayload masks (or unmasks — XOR is symmetric) p in place with key,
// cycling the 4-byte key starting at offset.
func maskPayload(p []byte, key [4]byte, offset int) {
	for i := range p {
		p[i] ^= key[(offset+i)%4]
	}
}

// decodeHeader attempts to parse a frame header from the front of buf.
// Returns the header, the number of bytes consumed, and false if buf does
// not yet contain a complete header.
func decodeHeader(buf []byte) (header, int, bool) {
	if len(buf) < 2 {
		return header{}, 0, false
	}
	b0, b1 := buf[0], buf[1]
	h := header{
		fin:    b0&0x80 != 0,
		opcode: Opcode(b0 & 0x0F),
		masked: b1&0x80 != 0,
	}
	lenBits := b1 & 0x7F
	pos := 2

	switch {
	case lenBits <= 125:
		h.length = uint64(lenBits)
	case lenBits == 126:
		if len(buf) < pos+2 {
			return header{}, 0, false
		}
		h.length = uint64(binary.BigEndian.Uint16(buf[pos:]))
		pos += 2
	default: // 127
		if len(buf) < pos+8 {
			return header{}, 0, false
		}
		h.length = binary.BigEndian.Uint64(buf[pos:])
		pos += 8
	}

	if h.masked {
		if len(buf) < pos+4 {
			return header{}, 0, false
		}
		copy(h.maskKey[:], buf[pos:pos+4])
		pos += 4
	}

	return h, pos, true
}
