package blip

import (
	"bytes"
	"compress/gzip"
	"io"
	"testing"

	"github.com/blipkit/blip/pkg/varint"
)

func TestNewRequestSetsProfile(t *testing.T) {
	mb := NewRequest("myProfile")
	payload, flags := mb.buildPayload()
	if flags.Type() != Request {
		t.Fatalf("type = %v, want Request", flags.Type())
	}
	props := parsePropertiesForTest(t, payload)
	if got := props.Get("Profile"); got != "myProfile" {
		t.Fatalf("Profile = %q, want myProfile", got)
	}
}

func TestUrgentAndNoReplySetFlags(t *testing.T) {
	mb := NewRequest("x").Urgent().NoReply()
	_, flags := mb.buildPayload()
	if !flags.Urgent() || !flags.NoReply() {
		t.Fatalf("flags = %v, want Urgent and NoReply set", flags)
	}
}

func TestCompressIfWorthwhileSkipsSmallBodies(t *testing.T) {
	mb := NewRequest("x").SetBody([]byte("short"))
	mb.CompressIfWorthwhile(1000)
	_, flags := mb.buildPayload()
	if flags.Compressed() {
		t.Fatal("expected body under minSize to be left uncompressed")
	}
}

func TestCompressIfWorthwhileCompressesLargeCompressibleBody(t *testing.T) {
	body := bytes.Repeat([]byte("a"), 10000)
	mb := NewRequest("x").SetBody(body)
	mb.CompressIfWorthwhile(100)
	payload, flags := mb.buildPayload()
	if !flags.Compressed() {
		t.Fatal("expected a large, highly compressible body to be compressed")
	}

	rest := payload
	n, err := varint.ReadUVarInt32(&rest)
	if err != nil {
		t.Fatalf("read propsSize: %v", err)
	}
	compressedBody := rest[n:]

	gz, err := gzip.NewReader(bytes.NewReader(compressedBody))
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	got, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatal("decompressed body does not round-trip")
	}
}

func TestMakeErrorSetsErrorProperties(t *testing.T) {
	mb := NewResponse()
	mb.MakeError(Error{Domain: "BLIP", Code: 404, Message: "nope"})
	payload, flags := mb.buildPayload()
	if flags.Type() != ErrorType {
		t.Fatalf("type = %v, want ErrorType", flags.Type())
	}
	props := parsePropertiesForTest(t, payload)
	if got := props.Get("Error-Domain"); got != "BLIP" {
		t.Fatalf("Error-Domain = %q, want BLIP", got)
	}
	if got := props.Get("Error-Code"); got != "404" {
		t.Fatalf("Error-Code = %q, want 404", got)
	}
}
