package wsframe

import (
	"encoding/binary"
	"sync"
	"unicode/utf8"
)

// dispatchKind tags the deferred work an Engine produces while holding its
// mutex, to be carried out once the mutex is released (no delegate callback
// and no transport I/O happens while the engine mutex is held).
type dispatchKind int

const (
	dispatchMessage dispatchKind = iota
	dispatchWriteable
	dispatchClose
	dispatchSendFrame // echo a PONG or a CLOSE frame
	dispatchCloseTransport
)

type dispatchEvent struct {
	kind   dispatchKind
	data   []byte
	binary bool
	status CloseStatus
	frame  []byte
}

// Engine is a client-side RFC 6455 WebSocket frame engine.
type Engine struct {
	transport Transport
	delegate  Delegate

	maxMessageLength uint64
	sendBufferSize   int

	mu            sync.Mutex
	bufferedBytes int

	closeSent     bool
	closeReceived bool
	weInitiated   bool
	closeMessage  []byte
	closeDelivered bool

	recvBuf []byte

	curStarted  bool
	curOpcode   Opcode
	curData     []byte
	curCapacity int
}

// EngineOption configures an Engine constructed by NewEngine.
type EngineOption func(*Engine)

// WithMaxMessageLength overrides the default MaxMessageLength for one
// Engine. A zero n leaves the default in place.
func WithMaxMessageLength(n uint64) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxMessageLength = n
		}
	}
}

// WithEngineSendBufferSize overrides the default SendBufferSize
// back-pressure threshold for one Engine. A zero or negative n leaves the
// default in place.
func WithEngineSendBufferSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.sendBufferSize = n
		}
	}
}

// NewEngine constructs an Engine over the given transport and delegate.
func NewEngine(transport Transport, delegate Delegate, opts ...EngineOption) *Engine {
	e := &Engine{
		transport:        transport,
		delegate:         delegate,
		maxMessageLength: MaxMessageLength,
		sendBufferSize:   SendBufferSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Send frames data as a single TEXT or BINARY WebSocket message and writes
// it to the transport. Returns false iff the buffered-bytes counter already
// exceeded SendBufferSize before this call — the caller may keep sending
// but loses back-pressure guarantees until OnWebSocketWriteable fires.
func (e *Engine) Send(data []byte, binary bool) bool {
	opcode := OpText
	if binary {
		opcode = OpBinary
	}
	frame := e.buildFrame(opcode, data)

	e.mu.Lock()
	overflowed := e.bufferedBytes > e.sendBufferSize
	e.bufferedBytes += len(frame)
	e.mu.Unlock()

	e.transport.SendBytes(frame)
	return !overflowed
}

func (e *Engine) buildFrame(opcode Opcode, data []byte) []byte {
	hdr, maskKey := encodeHeader(opcode, len(data), true)
	payload := make([]byte, len(data))
	copy(payload, data)
	maskPayload(payload, maskKey, 0)
	return append(hdr, payload...)
}

// Close frames and sends a CLOSE control frame with the given status code
// and UTF-8 message. It is idempotent: a second call once closeSent or
// closeReceived is already true is a no-op.
func (e *Engine) Close(code int, message string) {
	e.mu.Lock()
	if e.closeSent || e.closeReceived {
		e.mu.Unlock()
		return
	}
	e.closeSent = true
	e.weInitiated = true
	e.mu.Unlock()

	payload := make([]byte, 2+len(message))
	binary.BigEndian.PutUint16(payload, uint16(code))
	copy(payload[2:], message)
	frame := e.buildFrame(OpClose, payload)

	e.mu.Lock()
	e.bufferedBytes += len(frame)
	e.mu.Unlock()

	e.transport.SendBytes(frame)
}

// Ping sends a WebSocket PING control frame carrying payload, for an
// idle-connection keepalive timer driven by the owner.
func (e *Engine) Ping(payload []byte) {
	frame := e.buildFrame(OpPing, payload)
	e.mu.Lock()
	e.bufferedBytes += len(frame)
	e.mu.Unlock()
	e.transport.SendBytes(frame)
}

// OnReceive feeds newly-arrived bytes into the engine's parser. Complete
// frames are consumed and, for complete messages, dispatched to the
// delegate after the engine mutex has been released.
func (e *Engine) OnReceive(data []byte) {
	e.mu.Lock()
	e.recvBuf = append(e.recvBuf, data...)
	buf := e.recvBuf

	var events []dispatchEvent
	consumed := 0

	for {
		h, n, ok := decodeHeader(buf)
		if !ok {
			break
		}
		if h.length > e.maxMessageLength {
			e.mu.Unlock()
			e.deliverClose(CloseStatus{Reason: ReasonWebSocket, Code: CodeProtocolError, Message: "payload too large"})
			return
		}
		if uint64(len(buf)) < uint64(n)+h.length {
			break // incomplete frame, wait for more bytes
		}

		payload := append([]byte(nil), buf[n:n+int(h.length)]...)
		if h.masked {
			maskPayload(payload, h.maskKey, 0)
		}

		frameConsumed := n + int(h.length)
		buf = buf[frameConsumed:]
		consumed += frameConsumed

		ev, protoErr := e.handleFrameLocked(h, payload)
		if protoErr != nil {
			e.mu.Unlock()
			e.deliverClose(CloseStatus{Reason: ReasonWebSocket, Code: CodeProtocolError, Message: protoErr.Error()})
			return
		}
		if ev != nil {
			events = append(events, *ev)
		}
	}

	e.recvBuf = append([]byte(nil), buf...)
	e.mu.Unlock()

	e.transport.ReceiveComplete(consumed)
	for _, ev := range events {
		e.dispatch(ev)
	}
}

// handleFrameLocked applies one decoded frame to the reassembly state.
// Called with the engine mutex held; performs no I/O and no delegate calls.
func (e *Engine) handleFrameLocked(h header, payload []byte) (*dispatchEvent, error) {
	if h.opcode.isControl() {
		switch h.opcode {
		case OpPing:
			return &dispatchEvent{kind: dispatchSendFrame, frame: e.buildFrame(OpPong, payload)}, nil
		case OpPong:
			return nil, nil
		case OpClose:
			return e.handleCloseFrameLocked(payload)
		}
		return nil, protoErrf("unknown control opcode 0x%x", h.opcode)
	}

	// Data frame (text/binary/continuation).
	if !e.curStarted {
		if h.opcode == OpContinuation {
			return nil, protoErrf("continuation frame with no message in progress")
		}
		e.curStarted = true
		e.curOpcode = h.opcode
		e.curCapacity = len(payload)
		e.curData = make([]byte, 0, e.curCapacity)
	} else if h.opcode != OpContinuation {
		return nil, protoErrf("expected continuation frame, got opcode 0x%x", h.opcode)
	}

	if uint64(len(e.curData)+len(payload)) > e.maxMessageLength {
		return nil, protoErrf("reassembled message exceeds max message length")
	}
	e.curData = append(e.curData, payload...)

	if !h.fin {
		return nil, nil
	}

	opcode := e.curOpcode
	data := e.curData
	e.curStarted = false
	e.curOpcode = 0
	e.curData = nil
	e.curCapacity = 0

	switch opcode {
	case OpText:
		if !utf8.Valid(data) {
			return nil, protoErrf("invalid UTF-8 in TEXT message")
		}
		return &dispatchEvent{kind: dispatchMessage, data: data, binary: false}, nil
	case OpBinary:
		return &dispatchEvent{kind: dispatchMessage, data: data, binary: true}, nil
	default:
		return nil, protoErrf("unsupported data opcode 0x%x", opcode)
	}
}

func (e *Engine) handleCloseFrameLocked(payload []byte) (*dispatchEvent, error) {
	alreadyReceived := e.closeReceived
	e.closeReceived = true
	e.closeMessage = payload

	if alreadyReceived {
		return nil, nil
	}

	if e.weInitiated {
		// We sent the first CLOSE; the peer's echo completes the handshake,
		// so ask the transport to close now.
		return &dispatchEvent{kind: dispatchCloseTransport}, nil
	}

	// Peer initiated; echo their close frame verbatim and let OnClose(0)
	// compute the final status once the transport reports EOF/closed. The
	// echo counts as our own CLOSE for cleanly-closed purposes.
	e.closeSent = true
	return &dispatchEvent{kind: dispatchSendFrame, frame: e.buildFrame(OpClose, payload)}, nil
}

func (e *Engine) dispatch(ev dispatchEvent) {
	switch ev.kind {
	case dispatchMessage:
		e.delegate.OnWebSocketMessage(ev.data, ev.binary)
	case dispatchSendFrame:
		e.mu.Lock()
		e.bufferedBytes += len(ev.frame)
		e.mu.Unlock()
		e.transport.SendBytes(ev.frame)
	case dispatchCloseTransport:
		e.transport.Close()
	}
}

// OnWriteComplete subtracts n from the buffered-bytes counter. If it
// crosses back below SendBufferSize, the delegate is notified via
// OnWebSocketWriteable. If both closes have been exchanged and nothing
// remains buffered, the transport is asked to close.
func (e *Engine) OnWriteComplete(n int) {
	e.mu.Lock()
	was := e.bufferedBytes > e.sendBufferSize
	e.bufferedBytes -= n
	if e.bufferedBytes < 0 {
		e.bufferedBytes = 0
	}
	becameWriteable := was && e.bufferedBytes <= e.sendBufferSize
	shouldCloseTransport := e.closeSent && e.closeReceived && e.bufferedBytes == 0
	e.mu.Unlock()

	if becameWriteable {
		e.delegate.OnWebSocketWriteable()
	}
	if shouldCloseTransport {
		e.transport.Close()
	}
}

// OnClose is invoked by the owner once the underlying transport has
// actually closed, with errno == 0 for a clean shutdown or a POSIX errno
// for a transport-level failure. It computes the final CloseStatus and
// delivers it to the delegate exactly once.
func (e *Engine) OnClose(errno int) {
	e.mu.Lock()
	cleanly := e.closeSent && e.closeReceived
	msg := e.closeMessage
	e.mu.Unlock()

	var status CloseStatus
	switch {
	case errno == 0 && cleanly && len(msg) > 0:
		code := CodeNoStatusReceived
		text := ""
		if len(msg) >= 2 {
			code = int(binary.BigEndian.Uint16(msg))
			text = string(msg[2:])
		}
		status = CloseStatus{Reason: ReasonWebSocket, Code: code, Message: text}
	case errno == 0 && cleanly:
		status = CloseStatus{Reason: ReasonWebSocket, Code: CodeNormal}
	case errno == 0:
		status = CloseStatus{Reason: ReasonWebSocket, Code: CodeAbnormal}
	default:
		status = CloseStatus{Reason: ReasonPOSIX, Code: errno, Errno: errno}
	}
	e.deliverClose(status)
}

func (e *Engine) deliverClose(status CloseStatus) {
	e.mu.Lock()
	if e.closeDelivered {
		e.mu.Unlock()
		return
	}
	e.closeDelivered = true
	e.mu.Unlock()
	e.delegate.OnWebSocketClose(status)
}

// BufferedBytes returns the current count of unflushed bytes, for tests and
// diagnostics.
func (e *Engine) BufferedBytes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bufferedBytes
}
