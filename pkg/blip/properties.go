package blip

import (
	"bytes"
	"strconv"
	"strings"
)

// propertyTokens is the wire tokenisation table: well-known property names
// that collapse to a single byte below 0x20 instead of being spelled out.
// Couchbase Lite's own BLIP implementations share a fixed table so peers
// interoperate over the wire; this module defines its own
// internally-consistent table instead of reproducing theirs verbatim, so
// two connections both built from this package interoperate, but a
// connection speaking to an unrelated BLIP peer will not see its
// well-known property names tokenised the same way (values still
// round-trip; token byte 0 means "not tokenised" and is never assigned a
// name).
var propertyTokens = [...]string{
	"", // 0: reserved, "not tokenised"
	"Profile",
	"Error-Domain",
	"Error-Code",
	"Content-Type",
	"Content-Encoding",
	"Content-Length",
	"Accept",
	"Channel",
}

func tokenizeProperty(name string) byte {
	for i := 1; i < len(propertyTokens); i++ {
		if propertyTokens[i] == name {
			return byte(i)
		}
	}
	return 0
}

// Properties is a finalised, read-only view over a wire property block: a
// sequence of NUL-terminated (key, value) byte strings. It is safe for
// concurrent reads once constructed.
type Properties struct {
	raw []byte
}

// newProperties wraps a properties block whose well-formedness (ends in a
// NUL, or is empty) has already been checked by the caller.
func newProperties(raw []byte) *Properties {
	return &Properties{raw: raw}
}

// Get returns the value for name, or "" if absent. Per the reference
// implementation's property(), lookup is a linear scan and returns the
// first match by name on the wire.
func (p *Properties) Get(name string) string {
	if p == nil || len(p.raw) == 0 {
		return ""
	}
	key := []byte(name)
	if tok := tokenizeProperty(name); tok != 0 {
		key = []byte{tok}
	}

	buf := p.raw
	for len(buf) > 0 {
		keyEnd := bytes.IndexByte(buf, 0)
		if keyEnd < 0 {
			break
		}
		rest := buf[keyEnd+1:]
		valEnd := bytes.IndexByte(rest, 0)
		if valEnd < 0 {
			break // illegal: missing value
		}
		if bytes.Equal(buf[:keyEnd], key) {
			return string(rest[:valEnd])
		}
		buf = rest[valEnd+1:]
	}
	return ""
}

// Int returns the property parsed as a decimal signed integer, or def if
// the property is absent or not a valid integer.
func (p *Properties) Int(name string, def int64) int64 {
	v := p.Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// Bool interprets "true"/"YES" as true and "false"/"NO" as false,
// case-insensitively; anything else falls back to Int(name, def) != 0.
func (p *Properties) Bool(name string, def bool) bool {
	v := p.Get(name)
	switch strings.ToLower(v) {
	case "true", "yes":
		return true
	case "false", "no":
		return false
	default:
		return p.Int(name, boolToInt64(def)) != 0
	}
}

func boolToInt64(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Raw returns the underlying wire bytes. The returned slice must not be
// mutated.
func (p *Properties) Raw() []byte {
	if p == nil {
		return nil
	}
	return p.raw
}
