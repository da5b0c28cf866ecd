package blip

import (
	"sync"

	"github.com/blipkit/blip/pkg/buffer"
)

// DefaultAckWindow is the per-message unacked-bytes window: a message
// whose unackedBytes reaches this window is ineligible for scheduling until an
// ACK reduces it, so one slow reader can't monopolise RAM.
const DefaultAckWindow = 128 * 1024

// OutboundMessage holds a fully-serialised payload (properties+body) and
// tracks how much of it has reached the wire and how much is still
// unacknowledged. The payload itself lives in a buffer.Buffer so that
// NextFrameToSend can hand out successive frames as zero-copy sub-slices
// rather than re-slicing a raw []byte by hand.
type OutboundMessage struct {
	mu sync.Mutex

	number    MessageNo
	flags     Flags
	payload   *buffer.Buffer
	ackWindow uint64

	bytesSent    uint64
	unackedBytes uint64
	onProgress   ProgressCallback
}

// NewOutboundMessage constructs an outbound message ready for scheduling.
// A zero ackWindow falls back to DefaultAckWindow.
func NewOutboundMessage(number MessageNo, flags Flags, payload []byte, onProgress ProgressCallback, ackWindow uint64) *OutboundMessage {
	if ackWindow == 0 {
		ackWindow = DefaultAckWindow
	}
	return &OutboundMessage{
		number:     number,
		flags:      flags,
		payload:    buffer.FromBytes(payload),
		ackWindow:  ackWindow,
		onProgress: onProgress,
	}
}

func (m *OutboundMessage) Number() MessageNo { return m.number }
func (m *OutboundMessage) Type() MessageType { return m.flags.Type() }
func (m *OutboundMessage) NoReply() bool     { return m.flags.NoReply() }

// Done reports whether every payload byte has been handed to NextFrameToSend.
func (m *OutboundMessage) Done() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int(m.bytesSent) >= m.payload.Len()
}

// Eligible reports whether the message may be scheduled right now: its
// unacked-bytes window is not full.
func (m *OutboundMessage) Eligible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unackedBytes < m.ackWindow
}

// NextFrameToSend returns up to maxSize bytes of payload not yet sent,
// along with the frame flags to send alongside it (type plus MORE-COMING
// if bytes remain). It advances bytesSent and unackedBytes and fires the
// progress callback outside the lock.
func (m *OutboundMessage) NextFrameToSend(maxSize int) ([]byte, Flags) {
	m.mu.Lock()
	remaining := m.payload.Len() - int(m.bytesSent)
	n := remaining
	if n > maxSize {
		n = maxSize
	}
	frame := m.payload.Slice(int(m.bytesSent), int(m.bytesSent)+n).Bytes()
	m.bytesSent += uint64(n)
	m.unackedBytes += uint64(n)

	outFlags := m.flags
	var state ProgressState
	switch {
	case int(m.bytesSent) < m.payload.Len():
		outFlags |= FlagMoreComing
		state = Sending
	case m.flags.NoReply():
		state = Complete
	default:
		state = AwaitingReply
	}
	bytesSent := m.bytesSent
	cb := m.onProgress
	m.mu.Unlock()

	if cb != nil {
		cb(Progress{State: state, BytesSent: bytesSent})
	}
	return frame, outFlags
}

// ReceivedAck lowers unackedBytes in response to a peer ACK carrying the
// total bytes it has received of this message so far.
func (m *OutboundMessage) ReceivedAck(byteCount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if byteCount > m.bytesSent {
		return // local misuse: invalid byte count, ignored
	}
	if rem := m.bytesSent - byteCount; rem < m.unackedBytes {
		m.unackedBytes = rem
	}
}

// CreateResponse returns a placeholder inbound message with this message's
// number, to be registered with the connection before the request's first
// frame reaches the wire — or nil if this message is not a
// reply-expecting REQUEST.
func (m *OutboundMessage) CreateResponse() *InboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flags.Type() != Request || m.flags.NoReply() {
		return nil
	}
	return newPlaceholderInbound(m.number, m.onProgress, uint64(m.payload.Len()))
}

// fail delivers a terminal error progress notification, used when the
// connection closes with this message still in flight.
func (m *OutboundMessage) fail(err error) {
	m.mu.Lock()
	cb := m.onProgress
	sent := m.bytesSent
	m.mu.Unlock()
	if cb != nil {
		cb(Progress{State: ProgressError, BytesSent: sent, Err: err})
	}
}
