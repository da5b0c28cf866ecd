package blip

import (
	"bytes"
	"strconv"

	"github.com/blipkit/blip/pkg/varint"
)

// property is one ordered (key, value) pair. Order matters on the wire and
// for duplicate-key semantics (first match wins), so MessageBuilder keeps a
// slice rather than a map.
type property struct {
	key   string
	value string
}

// MessageBuilder accumulates a message's type, flags, properties, and body
// before it is handed to a Connection to send — it produces the wire-level
// property block and flags for a message.
type MessageBuilder struct {
	Type  MessageType
	Flags Flags

	properties []property
	body       []byte
}

// NewRequest starts a REQUEST with the given BLIP profile.
func NewRequest(profile string) *MessageBuilder {
	b := &MessageBuilder{Type: Request}
	b.SetProperty("Profile", profile)
	return b
}

// NewResponse starts a RESPONSE.
func NewResponse() *MessageBuilder {
	return &MessageBuilder{Type: Response}
}

// SetProperty appends a (key, value) pair. If key already exists this adds
// a second entry rather than replacing it — Properties.Get returns the
// first match, so the earlier value wins on the wire, matching the
// "first match by name" testable property.
func (b *MessageBuilder) SetProperty(key, value string) *MessageBuilder {
	b.properties = append(b.properties, property{key, value})
	return b
}

// SetBody sets the message body.
func (b *MessageBuilder) SetBody(body []byte) *MessageBuilder {
	b.body = body
	return b
}

// Urgent sets the scheduling-priority hint.
func (b *MessageBuilder) Urgent() *MessageBuilder {
	b.Flags |= FlagUrgent
	return b
}

// NoReply marks the message as not expecting (or producing) a reply.
func (b *MessageBuilder) NoReply() *MessageBuilder {
	b.Flags |= FlagNoReply
	return b
}

// CompressIfWorthwhile compresses the body via DefaultCompressor and keeps
// the compressed form, setting FlagCompressed, only if doing so actually
// shrinks it below the original size — the same message-layer compression
// negotiation Couchbase Lite's own MessageBuilder supports, distinct from
// the permessage-deflate WS extension, which remains out of scope. A
// builder is constructed independently of any Connection, so it always
// uses the package-level default rather than a per-connection Compressor.
func (b *MessageBuilder) CompressIfWorthwhile(minSize int) *MessageBuilder {
	if len(b.body) < minSize {
		return b
	}
	compressed, err := DefaultCompressor.Compress(b.body)
	if err != nil {
		return b
	}
	if len(compressed) < len(b.body) {
		b.body = compressed
		b.Flags |= FlagCompressed
	}
	return b
}

// MakeError turns this builder into an ERROR-type response carrying err's
// domain, code, and message.
func (b *MessageBuilder) MakeError(err Error) *MessageBuilder {
	b.Type = ErrorType
	b.SetProperty("Error-Domain", err.Domain)
	b.SetProperty("Error-Code", strconv.Itoa(err.Code))
	b.body = []byte(err.Message)
	return b
}

// buildPayload serialises the properties block (length-prefixed, tokenised,
// NUL-terminated pairs) followed by the body, returning the payload and the
// final frame flags (type + the independent bit flags set on the builder).
func (b *MessageBuilder) buildPayload() ([]byte, Flags) {
	var props bytes.Buffer
	for _, p := range b.properties {
		if tok := tokenizeProperty(p.key); tok != 0 {
			props.WriteByte(tok)
		} else {
			props.WriteString(p.key)
		}
		props.WriteByte(0)
		props.WriteString(p.value)
		props.WriteByte(0)
	}

	payload := varint.AppendUvarint(nil, uint64(props.Len()))
	payload = append(payload, props.Bytes()...)
	payload = append(payload, b.body...)

	return payload, b.Flags.WithType(b.Type)
}
