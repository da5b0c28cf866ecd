package blip

// MessageNo is a 63-bit unsigned counter, unique per-direction per-connection,
// monotonically increasing from 1. Wraparound is not permitted within a
// connection's lifetime; Connection.allocateOutboundNo panics rather than
// wrap, which for any real connection lifetime is unreachable.
type MessageNo uint64

// MessageType occupies the low 3 bits of Flags.
type MessageType uint8

const (
	Request    MessageType = 0
	Response   MessageType = 1
	ErrorType  MessageType = 2
	AckRequest MessageType = 4
	AckResponse MessageType = 5
)

func (t MessageType) String() string {
	switch t {
	case Request:
		return "REQUEST"
	case Response:
		return "RESPONSE"
	case ErrorType:
		return "ERROR"
	case AckRequest:
		return "ACK-REQUEST"
	case AckResponse:
		return "ACK-RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// Flags is the one-byte frame header field: message type in the low 3
// bits, then four independent bit flags.
type Flags uint8

const (
	flagTypeMask Flags = 0x07

	FlagCompressed Flags = 0x08
	FlagUrgent     Flags = 0x10
	FlagNoReply    Flags = 0x20
	FlagMoreComing Flags = 0x40
)

// Type extracts the message type from the low bits.
func (f Flags) Type() MessageType { return MessageType(f & flagTypeMask) }

// WithType returns f with its type bits replaced by t.
func (f Flags) WithType(t MessageType) Flags { return (f &^ flagTypeMask) | Flags(t) }

func (f Flags) Compressed() bool  { return f&FlagCompressed != 0 }
func (f Flags) Urgent() bool      { return f&FlagUrgent != 0 }
func (f Flags) NoReply() bool     { return f&FlagNoReply != 0 }
func (f Flags) MoreComing() bool  { return f&FlagMoreComing != 0 }
func (f Flags) IsAck() bool {
	t := f.Type()
	return t == AckRequest || t == AckResponse
}
