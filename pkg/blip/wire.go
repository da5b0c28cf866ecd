package blip

import "github.com/blipkit/blip/pkg/varint"

// encodeFrameHeader prepends a BLIP frame header (message number varint,
// then the one-byte flags) to payload.
func encodeFrameHeader(number MessageNo, flags Flags) []byte {
	buf := varint.AppendUvarint(make([]byte, 0, varint.MaxLen+1), uint64(number))
	return append(buf, byte(flags))
}

// decodeFrameHeader parses a BLIP frame header from the front of a WS
// BINARY message payload, returning the message number, flags, and the
// remainder of the payload.
func decodeFrameHeader(data []byte) (MessageNo, Flags, []byte, error) {
	n, err := varint.ReadUVarInt64(&data)
	if err != nil {
		return 0, 0, nil, newProtocolError("truncated frame header: %v", err)
	}
	if len(data) < 1 {
		return 0, 0, nil, newProtocolError("frame missing flags byte")
	}
	flags := Flags(data[0])
	return MessageNo(n), flags, data[1:], nil
}
