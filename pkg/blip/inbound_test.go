package blip

import (
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/blipkit/blip/pkg/varint"
)

// encodeFirstFrame builds the payload of a first frame: a properties block
// (tokenised where possible, NUL-terminated pairs) length-prefixed by a
// varint, followed by body.
func encodeFirstFrame(t *testing.T, props map[string]string, body []byte) []byte {
	t.Helper()
	var propsBuf bytes.Buffer
	for k, v := range props {
		if tok := tokenizeProperty(k); tok != 0 {
			propsBuf.WriteByte(tok)
		} else {
			propsBuf.WriteString(k)
		}
		propsBuf.WriteByte(0)
		propsBuf.WriteString(v)
		propsBuf.WriteByte(0)
	}
	out := varint.AppendUvarint(nil, uint64(propsBuf.Len()))
	out = append(out, propsBuf.Bytes()...)
	out = append(out, body...)
	return out
}

func TestReceivedFrameSingleFrameMessage(t *testing.T) {
	msg := newInboundRequest(1, nil, nil)
	frame := encodeFirstFrame(t, map[string]string{"Profile": "hello"}, []byte("body"))

	state, err := msg.ReceivedFrame(frame, Flags(Request))
	if err != nil {
		t.Fatalf("ReceivedFrame: %v", err)
	}
	if state != StateEnd {
		t.Fatalf("state = %v, want StateEnd", state)
	}
	if !msg.IsComplete() {
		t.Fatal("expected message to be complete")
	}
	if got := string(msg.Body()); got != "body" {
		t.Fatalf("body = %q, want %q", got, "body")
	}
	if got := msg.Profile(); got != "hello" {
		t.Fatalf("profile = %q, want hello", got)
	}
}

func TestReceivedFrameAcrossMultipleFrames(t *testing.T) {
	msg := newInboundRequest(1, nil, nil)
	first := encodeFirstFrame(t, map[string]string{"Profile": "chunked"}, []byte("part1"))

	state, err := msg.ReceivedFrame(first, Flags(Request)|FlagMoreComing)
	if err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if state != StateBeginning {
		t.Fatalf("state after first frame = %v, want StateBeginning", state)
	}
	if msg.IsComplete() {
		t.Fatal("message should not be complete yet")
	}

	state, err = msg.ReceivedFrame([]byte("part2"), Flags(Request))
	if err != nil {
		t.Fatalf("second frame: %v", err)
	}
	if state != StateEnd {
		t.Fatalf("state after final frame = %v, want StateEnd", state)
	}
	if got := string(msg.Body()); got != "part1part2" {
		t.Fatalf("body = %q, want part1part2", got)
	}
}

func TestReceivedFrameAcrossMultipleFramesPropertiesBlock(t *testing.T) {
	msg := newInboundRequest(1, nil, nil)
	longValue := string(bytes.Repeat([]byte("x"), 100))
	full := encodeFirstFrame(t, map[string]string{"Profile": longValue}, []byte("body"))

	// Split strictly inside the properties block (well before its end), so
	// the first frame's varint-prefix byte count plus its remaining bytes
	// falls short of propsSize and must be accumulated rather than dropped.
	splitAt := len(full) - len("body") - 20
	first, second := full[:splitAt], full[splitAt:]

	state, err := msg.ReceivedFrame(first, Flags(Request)|FlagMoreComing)
	if err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if state != StateOther {
		t.Fatalf("state after partial properties frame = %v, want StateOther", state)
	}
	if msg.Properties() != nil {
		t.Fatal("properties should not be complete yet")
	}

	state, err = msg.ReceivedFrame(second, Flags(Request))
	if err != nil {
		t.Fatalf("second frame: %v", err)
	}
	if state != StateEnd {
		t.Fatalf("state after final frame = %v, want StateEnd", state)
	}
	if got := msg.Property("Profile"); got != longValue {
		t.Fatalf("profile = %q, want the full %d-byte value", got, len(longValue))
	}
	if got := string(msg.Body()); got != "body" {
		t.Fatalf("body = %q, want body", got)
	}
}

func TestReceivedFrameAckPayloadCountsPropertiesBufferingBytes(t *testing.T) {
	var acked []uint64
	sendAck := func(number MessageNo, isResponse bool, bytesReceived uint64) {
		acked = append(acked, bytesReceived)
	}
	msg := newInboundRequest(1, nil, sendAck)

	longValue := string(bytes.Repeat([]byte("x"), 100))
	body := make([]byte, AckThreshold)
	full := encodeFirstFrame(t, map[string]string{"Profile": longValue}, body)

	// Same split point as TestReceivedFrameAcrossMultipleFramesPropertiesBlock:
	// the first frame contributes only properties-buffering bytes and no
	// body bytes at all, so if those bytes were left out of the running
	// total the reported ack byte count would fall short of what was
	// actually received on the wire.
	splitAt := len(full) - len(body) - 20
	first, second := full[:splitAt], full[splitAt:]

	if _, err := msg.ReceivedFrame(first, Flags(Request)|FlagMoreComing); err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if len(acked) != 0 {
		t.Fatalf("did not expect an ack yet, got %v", acked)
	}

	if _, err := msg.ReceivedFrame(second, Flags(Request)|FlagMoreComing); err != nil {
		t.Fatalf("second frame: %v", err)
	}
	if len(acked) != 1 {
		t.Fatalf("acked = %v, want exactly one ack once the threshold is crossed", acked)
	}
	if want := uint64(len(full)); acked[0] != want {
		t.Fatalf("ack byte count = %d, want %d (the full running total, including the first frame's properties-buffering bytes)", acked[0], want)
	}
}

func TestReceivedFrameEmitsAckAtThreshold(t *testing.T) {
	var acked []uint64
	sendAck := func(number MessageNo, isResponse bool, bytesReceived uint64) {
		acked = append(acked, bytesReceived)
	}
	msg := newInboundRequest(1, nil, sendAck)

	first := encodeFirstFrame(t, map[string]string{"Profile": "big"}, nil)
	if _, err := msg.ReceivedFrame(first, Flags(Request)|FlagMoreComing); err != nil {
		t.Fatalf("first frame: %v", err)
	}

	big := make([]byte, AckThreshold)
	if _, err := msg.ReceivedFrame(big, Flags(Request)|FlagMoreComing); err != nil {
		t.Fatalf("big frame: %v", err)
	}
	if len(acked) != 1 {
		t.Fatalf("acked = %v, want exactly one ack once the threshold is crossed", acked)
	}
}

func TestReceivedFrameRejectsMissingNulTerminator(t *testing.T) {
	msg := newInboundRequest(1, nil, nil)
	// propsSize claims 3 bytes, but the block has no terminating NUL.
	frame := varint.AppendUvarint(nil, 3)
	frame = append(frame, 'a', 'b', 'c')

	_, err := msg.ReceivedFrame(frame, Flags(Request))
	if err == nil {
		t.Fatal("expected a protocol error for a non-terminated properties block")
	}
	var pe *ProtocolError
	if !asProtocolError(err, &pe) {
		t.Fatalf("err = %v, want *ProtocolError", err)
	}
}

func TestReceivedFrameRejectsBodyBeforePropertiesComplete(t *testing.T) {
	msg := newInboundRequest(1, nil, nil)
	// propsSize claims more bytes than are ever delivered, and the message
	// ends anyway: properties never complete.
	frame := varint.AppendUvarint(nil, 100)
	frame = append(frame, 'x', 0)

	_, err := msg.ReceivedFrame(frame, Flags(Request)) // no MoreComing: message ends here
	if err == nil {
		t.Fatal("expected a protocol error when the message ends mid-properties")
	}
}

func TestReceivedFrameDecompressesGzipBody(t *testing.T) {
	var plain bytes.Buffer
	gz := gzip.NewWriter(&plain)
	gz.Write([]byte("decompressed body"))
	gz.Close()

	msg := newInboundRequest(1, nil, nil)
	frame := encodeFirstFrame(t, map[string]string{"Profile": "gz"}, plain.Bytes())

	_, err := msg.ReceivedFrame(frame, Flags(Request)|FlagCompressed)
	if err != nil {
		t.Fatalf("ReceivedFrame: %v", err)
	}
	if got := string(msg.Body()); got != "decompressed body" {
		t.Fatalf("body = %q, want decompressed body", got)
	}
}

func TestReceivedFrameRejectsCorruptGzipBody(t *testing.T) {
	msg := newInboundRequest(1, nil, nil)
	frame := encodeFirstFrame(t, map[string]string{"Profile": "gz"}, []byte("not gzip data"))

	_, err := msg.ReceivedFrame(frame, Flags(Request)|FlagCompressed)
	if err == nil {
		t.Fatal("expected a protocol error for corrupt compressed data")
	}
}

func TestRespondIsNoOpForNoReplyMessage(t *testing.T) {
	var replied bool
	reply := func(*OutboundMessage) { replied = true }
	msg := newInboundRequest(1, reply, nil)
	frame := encodeFirstFrame(t, map[string]string{"Profile": "x"}, nil)
	msg.ReceivedFrame(frame, Flags(Request)|FlagNoReply)

	msg.Respond(NewResponse())
	if replied {
		t.Fatal("expected Respond to be a no-op for a NoReply message")
	}
}

func TestNotHandledSendsErrNotHandled(t *testing.T) {
	var got *OutboundMessage
	reply := func(out *OutboundMessage) { got = out }
	msg := newInboundRequest(1, reply, nil)
	frame := encodeFirstFrame(t, map[string]string{"Profile": "x"}, nil)
	msg.ReceivedFrame(frame, Flags(Request))

	msg.NotHandled()
	if got == nil {
		t.Fatal("expected NotHandled to send a reply")
	}
	if got.Type() != ErrorType {
		t.Fatalf("reply type = %v, want ErrorType", got.Type())
	}
}

func asProtocolError(err error, target **ProtocolError) bool {
	pe, ok := err.(*ProtocolError)
	if ok {
		*target = pe
	}
	return ok
}
