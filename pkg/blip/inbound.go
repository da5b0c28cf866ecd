package blip

import (
	"sync"

	"github.com/blipkit/blip/pkg/varint"
)

// ReceiveState is the return value of InboundMessage.ReceivedFrame.
type ReceiveState int

const (
	StateOther ReceiveState = iota
	StateBeginning
	StateEnd
)

// AckThreshold is how many unacknowledged payload bytes an inbound message
// accumulates before it emits an ACK: body bytes, plus the properties bytes
// of frames that arrive before the properties block is complete.
const AckThreshold = 50000

// replyFunc hands a reply built by respond/respondWithError/notHandled back
// to the owning connection. It is a short-lived handle assigned at
// registration time rather than a long-lived back pointer to the
// connection.
type replyFunc func(*OutboundMessage)

// ackSenderFunc asks the owning connection to schedule a dedicated ACK
// message.
type ackSenderFunc func(number MessageNo, isResponse bool, bytesReceived uint64)

// InboundMessage reassembles frames into a complete message: properties,
// then body, with ACKs emitted along the way and optional gzip
// decompression of the body.
type InboundMessage struct {
	mu sync.Mutex

	number       MessageNo
	outgoingSize uint64 // size of the outbound message this replies to, 0 for a genuine inbound request

	started    bool
	flags      Flags
	propsSize  uint32
	propsBuf   []byte
	properties *Properties

	raw      []byte // body bytes received so far, pre-decompression
	body     []byte
	complete bool

	totalReceived uint64 // cumulative wire bytes accepted across the whole message: header, properties, and body
	unackedBytes  uint64
	ackThreshold  uint64 // 0 falls back to the package AckThreshold
	ackWindow     uint64 // passed through to NewOutboundMessage when this message is Respond()-ed
	onProgress    ProgressCallback
	compressor    Compressor

	reply      replyFunc
	sendAck    ackSenderFunc
}

// newPlaceholderInbound creates the awaiter registered for an outbound
// request's eventual response (CreateResponse). Its flags become
// authoritative once the response's first frame arrives.
func newPlaceholderInbound(number MessageNo, onProgress ProgressCallback, outgoingSize uint64) *InboundMessage {
	return &InboundMessage{
		number:       number,
		outgoingSize: outgoingSize,
		flags:        Flags(Response),
		onProgress:   onProgress,
	}
}

// newInboundRequest creates the reassembly state for a freshly observed
// request message number.
func newInboundRequest(number MessageNo, reply replyFunc, sendAck ackSenderFunc) *InboundMessage {
	return &InboundMessage{
		number:  number,
		reply:   reply,
		sendAck: sendAck,
	}
}

func (m *InboundMessage) Number() MessageNo { return m.number }

func (m *InboundMessage) Type() MessageType {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flags.Type()
}

func (m *InboundMessage) IsError() bool { return m.Type() == ErrorType }

func (m *InboundMessage) NoReply() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flags.NoReply()
}

// IsComplete reports whether the body has been fully received.
func (m *InboundMessage) IsComplete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.complete
}

// Body returns the finalised body. It is only meaningful once IsComplete.
func (m *InboundMessage) Body() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.body
}

// Properties returns the finalised property block, or nil if the first
// frame hasn't arrived yet.
func (m *InboundMessage) Properties() *Properties {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.properties
}

func (m *InboundMessage) Property(name string) string    { return m.Properties().Get(name) }
func (m *InboundMessage) IntProperty(name string, def int64) int64 {
	return m.Properties().Int(name, def)
}
func (m *InboundMessage) BoolProperty(name string, def bool) bool {
	return m.Properties().Bool(name, def)
}

func (m *InboundMessage) Profile() string      { return m.Property("Profile") }
func (m *InboundMessage) ErrorDomain() string  { return m.Property("Error-Domain") }
func (m *InboundMessage) ErrorCode() int64     { return m.IntProperty("Error-Code", 0) }
func (m *InboundMessage) ContentType() string  { return m.Property("Content-Type") }

// GetError reconstructs the Error carried by an ERROR-type response.
func (m *InboundMessage) GetError() Error {
	if !m.IsError() {
		return Error{}
	}
	return Error{Domain: m.ErrorDomain(), Code: int(m.ErrorCode()), Message: string(m.Body())}
}

// ReceivedFrame applies one frame's worth of bytes to this message's
// reassembly state. frame must have already had the message-number
// and flags header stripped by the connection.
func (m *InboundMessage) ReceivedFrame(frame []byte, frameFlags Flags) (ReceiveState, error) {
	m.mu.Lock()

	// totalReceived is a single running total across the whole message, so
	// it stays correct whether this frame lands mid-properties,
	// mid-body, or completes either — unlike summing len(m.propsBuf) and
	// len(m.raw) separately, which misses whichever one frame still
	// has buffered only in the other.
	m.totalReceived += uint64(len(frame))
	bytesReceived := m.totalReceived

	state := StateOther

	if !m.started {
		m.started = true
		m.flags = frameFlags &^ FlagMoreComing
		n, err := varint.ReadUVarInt32(&frame)
		if err != nil {
			m.mu.Unlock()
			return StateOther, newProtocolError("frame too small: %v", err)
		}
		m.propsSize = n
	}

	if m.properties == nil {
		if uint32(len(m.propsBuf)+len(frame)) >= m.propsSize {
			remaining := int(m.propsSize) - len(m.propsBuf)
			m.propsBuf = append(m.propsBuf, frame[:remaining]...)
			frame = frame[remaining:]
			if len(m.propsBuf) > 0 && m.propsBuf[len(m.propsBuf)-1] != 0 {
				m.mu.Unlock()
				return StateOther, newProtocolError("message properties not null-terminated")
			}
			m.properties = newProperties(m.propsBuf)
			m.propsBuf = nil
			state = StateBeginning
		} else {
			m.propsBuf = append(m.propsBuf, frame...)
		}
	}

	threshold := m.ackThreshold
	if threshold == 0 {
		threshold = AckThreshold
	}
	m.unackedBytes += uint64(len(frame))
	if m.unackedBytes >= threshold {
		if m.sendAck != nil {
			m.sendAck(m.number, m.flags.Type() != Request, bytesReceived)
		}
		m.unackedBytes = 0
	}

	if m.properties != nil {
		m.raw = append(m.raw, frame...)
	}

	var finishErr error
	if !frameFlags.MoreComing() {
		if m.properties == nil {
			finishErr = newProtocolError("message ends before end of properties")
		} else {
			body, err := m.finishBody()
			if err != nil {
				finishErr = err
			} else {
				m.body = body
				m.raw = nil
				m.complete = true
				state = StateEnd
			}
		}
	}

	props := m.properties
	cb := m.onProgress
	outgoingSize := m.outgoingSize
	m.mu.Unlock()

	if finishErr != nil {
		return StateOther, finishErr
	}

	if cb != nil {
		progressState := ReceivingReply
		if state == StateEnd {
			progressState = Complete
		}
		var reply *InboundMessage
		if props != nil {
			reply = m
		}
		cb(Progress{State: progressState, BytesSent: outgoingSize, BytesReceived: bytesReceived, Reply: reply})
	}
	return state, nil
}

// finishBody decompresses m.raw if FlagCompressed is set, otherwise returns
// it unchanged. Decompression happens once, at completion, rather than
// frame-by-frame: a Compressor has no obligation to support resuming a
// partially-fed stream across calls, and buffering the compressed bytes
// until completion is observably
// equivalent — same final body, same protocol-error-on-corrupt-data.
func (m *InboundMessage) finishBody() ([]byte, error) {
	if !m.flags.Compressed() {
		return m.raw, nil
	}
	if len(m.raw) == 0 {
		return nil, nil
	}
	compressor := m.compressor
	if compressor == nil {
		compressor = DefaultCompressor
	}
	out, err := compressor.Decompress(m.raw)
	if err != nil {
		return nil, newProtocolError("invalid gzipped data: %v", err)
	}
	if len(out) == 0 {
		return nil, newProtocolError("invalid gzipped data")
	}
	return out, nil
}

// fail delivers a terminal error progress notification to an awaiter still
// registered when the connection closes with this message incomplete.
func (m *InboundMessage) fail(err error) {
	m.mu.Lock()
	cb := m.onProgress
	received := m.totalReceived
	outgoingSize := m.outgoingSize
	m.mu.Unlock()
	if cb != nil {
		cb(Progress{State: ProgressError, BytesSent: outgoingSize, BytesReceived: received, Err: err})
	}
}

// Respond sends mb as the reply to this message, promoting a REQUEST
// builder to RESPONSE. A no-op if this message was sent NO-REPLY.
func (m *InboundMessage) Respond(mb *MessageBuilder) {
	if m.NoReply() {
		return
	}
	if mb.Type == Request {
		mb.Type = Response
	}
	payload, flags := mb.buildPayload()
	out := NewOutboundMessage(m.number, flags, payload, nil, m.ackWindow)
	if m.reply != nil {
		m.reply(out)
	}
}

// RespondWithError sends err back wrapped in an ERROR-type response.
func (m *InboundMessage) RespondWithError(err Error) {
	if m.NoReply() {
		return
	}
	mb := NewResponse()
	mb.MakeError(err)
	m.Respond(mb)
}

// NotHandled sends the canonical 404 response.
func (m *InboundMessage) NotHandled() {
	m.RespondWithError(ErrNotHandled)
}
