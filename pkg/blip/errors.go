package blip

import (
	"strconv"

	"github.com/pkg/errors"
)

// ProtocolError is a malformed-frame or malformed-message condition: a
// truncated varint, a missing properties terminator, an orphan ACK, invalid
// UTF-8, or corrupt compressed data. Any
// ProtocolError closes the connection with WS status 1002 and is surfaced
// to the handler, never just logged and swallowed.
type ProtocolError struct {
	Code    int
	Message string
}

func (e *ProtocolError) Error() string { return e.Message }

func newProtocolError(format string, args ...interface{}) error {
	return &ProtocolError{Code: 1002, Message: errors.Errorf(format, args...).Error()}
}

// Error is an application-level error carried by a RESPONSE whose type is
// ERROR: a domain string, a numeric code, and a message body.
type Error struct {
	Domain  string
	Code    int
	Message string
}

func (e Error) Error() string {
	if e.Domain == "" {
		return e.Message
	}
	return e.Domain + " " + strconv.Itoa(e.Code) + ": " + e.Message
}

// ErrNotHandled is the canonical "no handler for this profile" error, sent
// by notHandled().
var ErrNotHandled = Error{Domain: "BLIP", Code: 404, Message: "no handler for message"}
