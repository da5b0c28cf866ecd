package blip

import (
	"github.com/blipkit/blip/pkg/varint"
	"github.com/blipkit/blip/pkg/wsframe"
)

// OnWebSocketWriteable implements wsframe.Delegate. Called by the engine
// once bufferedBytes drops back below its threshold; resumes scheduling.
func (c *Connection) OnWebSocketWriteable() {
	c.post(func() {
		c.writeable = true
	})
}

// OnWebSocketMessage implements wsframe.Delegate: data is one complete WS
// BINARY message, i.e. one BLIP frame.
func (c *Connection) OnWebSocketMessage(data []byte, binary bool) {
	c.post(func() {
		if c.state == stateClosed {
			return
		}
		if !binary {
			c.logger.Warn("blip: ignoring non-binary WS message")
			return
		}
		if err := c.routeFrame(data); err != nil {
			c.logger.Error("blip: protocol error", "error", err)
			c.failProtocol(err)
		}
	})
}

// OnWebSocketClose implements wsframe.Delegate: called exactly once, with
// the final CloseStatus, once the transport has actually gone away.
func (c *Connection) OnWebSocketClose(status wsframe.CloseStatus) {
	c.post(func() {
		c.cleanupOnClose(status, nil)
	})
}

func (c *Connection) failProtocol(err error) {
	code := 1002
	if pe, ok := err.(*ProtocolError); ok {
		code = pe.Code
	}
	if c.cfg.MetricsHook != nil {
		c.cfg.MetricsHook(Event{Kind: "protocol_error"})
	}
	c.engine.Close(code, err.Error())
}

// routeFrame parses the BLIP header and dispatches the remaining payload to
// the right message.
func (c *Connection) routeFrame(data []byte) error {
	number, flags, payload, err := decodeFrameHeader(data)
	if err != nil {
		return err
	}

	if flags.IsAck() {
		return c.handleAck(number, payload)
	}

	switch flags.Type() {
	case Request:
		return c.handleInboundRequest(number, flags, payload)
	case Response, ErrorType:
		return c.handleInboundResponse(number, flags, payload)
	default:
		return newProtocolError("unknown message type in flags 0x%02x", flags)
	}
}

func (c *Connection) handleAck(number MessageNo, payload []byte) error {
	byteCount, err := varint.ReadUVarInt64(&payload)
	if err != nil {
		return newProtocolError("malformed ACK payload: %v", err)
	}
	out, ok := c.outboundByNumber[number]
	if !ok {
		return newProtocolError("orphan ACK for unknown message %d", uint64(number))
	}
	out.ReceivedAck(byteCount)
	c.reviveBlocked()
	return nil
}

func (c *Connection) handleInboundRequest(number MessageNo, flags Flags, payload []byte) error {
	msg, ok := c.inboundRequests[number]
	if !ok {
		msg = newInboundRequest(number, c.replyFunc(), c.ackSenderFunc())
		msg.compressor = c.cfg.Compressor
		msg.ackThreshold = c.cfg.AckThreshold
		msg.ackWindow = c.cfg.AckWindow
		c.inboundRequests[number] = msg
	}
	state, err := msg.ReceivedFrame(payload, flags)
	if err != nil {
		delete(c.inboundRequests, number)
		return err
	}
	if state == StateEnd {
		delete(c.inboundRequests, number)
		c.dispatchRequest(msg)
	}
	return nil
}

func (c *Connection) handleInboundResponse(number MessageNo, flags Flags, payload []byte) error {
	msg, ok := c.pendingResponses[number]
	if !ok {
		c.logger.Warn("blip: response for unknown request", "msg_no", uint64(number))
		return nil
	}
	state, err := msg.ReceivedFrame(payload, flags)
	if err != nil {
		delete(c.pendingResponses, number)
		return err
	}
	if state == StateEnd {
		delete(c.pendingResponses, number)
	}
	return nil
}

func (c *Connection) dispatchRequest(msg *InboundMessage) {
	profile := msg.Profile()
	handler, ok := c.handlers[profile]
	if !ok {
		c.cfg.Scheduler.EnqueueNow(msg.NotHandled)
		return
	}
	var endSpan func()
	if c.cfg.Tracer != nil {
		endSpan = c.cfg.Tracer.StartMessageSpan(msg.Number(), "receive")
	}
	c.cfg.Scheduler.EnqueueNow(func() {
		defer func() {
			if endSpan != nil {
				endSpan()
			}
		}()
		handler(msg)
	})
}

// cleanupOnClose runs the terminal close actions: every pending
// outbound message's progress callback fires a terminal error, in-progress
// inbound messages are abandoned, and OnClose fires exactly once.
func (c *Connection) cleanupOnClose(status wsframe.CloseStatus, err error) {
	if c.closeDelivered {
		return
	}
	c.closeDelivered = true
	c.state = stateClosed

	failure := err
	if failure == nil {
		failure = &ProtocolError{Code: status.Code, Message: status.Message}
	}

	for _, msg := range c.outboundByNumber {
		msg.fail(failure)
	}
	for _, msg := range c.pendingResponses {
		msg.fail(failure)
	}
	c.outboundByNumber = nil
	c.pendingResponses = nil
	c.inboundRequests = nil
	c.outboundNormal = nil
	c.outboundUrgent = nil
	c.blocked = nil

	c.writeQueue.Close()

	c.closeInfo = CloseInfo{Code: status.Code, Message: status.Message, Err: err}
	if c.cfg.OnClose != nil {
		c.cfg.OnClose(c.closeInfo)
	}

	close(c.done)
}
