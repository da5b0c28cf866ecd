package blip

import (
	"errors"

	"github.com/blipkit/blip/pkg/varint"
)

// ErrConnectionClosed is returned by Send once the connection has started
// closing or has closed — surfaced to the caller via the future rather
// than a panic.
var ErrConnectionClosed = errors.New("blip: connection closed")

func (c *Connection) allocateOutboundNo() MessageNo {
	n := c.nextOutboundNo
	c.nextOutboundNo++
	if n == 0 {
		panic("blip: message number counter wrapped")
	}
	return n
}

// enqueueOutbound places msg in the queue matching its urgency.
func (c *Connection) enqueueOutbound(msg *OutboundMessage) {
	if msg.flags.Urgent() {
		c.outboundUrgent = append(c.outboundUrgent, msg)
	} else {
		c.outboundNormal = append(c.outboundNormal, msg)
	}
}

// replyFunc returns a short-lived handle an InboundMessage uses to hand a
// reply back to this connection, instead of storing a
// long-lived back pointer.
func (c *Connection) replyFunc() replyFunc {
	return func(out *OutboundMessage) {
		c.post(func() {
			if c.state != stateOpen {
				return
			}
			c.outboundByNumber[out.Number()] = out
			c.enqueueOutbound(out)
		})
	}
}

// ackSenderFunc returns the handle an InboundMessage uses to ask this
// connection to schedule a dedicated ACK message. The handle runs inline, so
// it is only called on the actor goroutine, where ReceivedFrame runs.
func (c *Connection) ackSenderFunc() ackSenderFunc {
	return func(number MessageNo, isResponse bool, bytesReceived uint64) {
		if c.state != stateOpen {
			return
		}
		ackType := AckRequest
		if isResponse {
			ackType = AckResponse
		}
		flags := Flags(ackType) | FlagUrgent | FlagNoReply
		payload := ackPayload(bytesReceived)
		ack := NewOutboundMessage(number, flags, payload, nil, c.cfg.AckWindow)
		c.outboundByNumber[number] = ack
		c.enqueueOutbound(ack)
		if c.cfg.MetricsHook != nil {
			c.cfg.MetricsHook(Event{Kind: "ack_sent", MessageNumber: number, MessageType: ackType, Bytes: len(payload)})
		}
	}
}

// pump drains as many eligible outbound frames as possible right now:
// prefer the urgent queue, round-robin within a queue by popping from the
// front and, if the message still has bytes left and remains eligible,
// pushing it back to the rear.
func (c *Connection) pump() {
	for c.writeable && c.state == stateOpen {
		msg, urgent := c.nextEligibleMessage()
		if msg == nil {
			return
		}
		frame, flags := msg.NextFrameToSend(c.cfg.FrameSize)
		wire := encodeFrameHeader(msg.Number(), flags)
		wire = append(wire, frame...)
		c.writeQueue.Push(frameJob{payload: wire})

		if c.cfg.MetricsHook != nil {
			c.cfg.MetricsHook(Event{Kind: "frame_sent", MessageNumber: msg.Number(), MessageType: msg.Type(), Bytes: len(wire)})
		}

		if flags.MoreComing() {
			if msg.Eligible() {
				c.requeue(msg, urgent)
			} else {
				c.blocked = append(c.blocked, msg)
			}
		} else {
			// Fully sent. Its awaiter, if any, was already registered in
			// pendingResponses before the first frame went out; nothing else
			// to do here but let it drop out of the active queues.
			if c.cfg.MetricsHook != nil {
				c.cfg.MetricsHook(Event{Kind: "message_complete", MessageNumber: msg.Number(), MessageType: msg.Type()})
			}
		}
	}
}

func (c *Connection) requeue(msg *OutboundMessage, urgent bool) {
	if urgent {
		c.outboundUrgent = append(c.outboundUrgent, msg)
	} else {
		c.outboundNormal = append(c.outboundNormal, msg)
	}
}

// nextEligibleMessage pops the next message to schedule, preferring the
// urgent queue, skipping (and requeuing) messages whose ack window is full.
func (c *Connection) nextEligibleMessage() (*OutboundMessage, bool) {
	if msg := c.popEligible(&c.outboundUrgent); msg != nil {
		return msg, true
	}
	if msg := c.popEligible(&c.outboundNormal); msg != nil {
		return msg, false
	}
	return nil, false
}

func (c *Connection) popEligible(queue *[]*OutboundMessage) *OutboundMessage {
	q := *queue
	for i, msg := range q {
		if msg.Eligible() {
			*queue = append(q[:i:i], q[i+1:]...)
			return msg
		}
	}
	return nil
}

// reviveBlocked moves messages whose ack window has opened back up from the
// blocked set into their scheduling queue.
func (c *Connection) reviveBlocked() {
	if len(c.blocked) == 0 {
		return
	}
	still := c.blocked[:0:0]
	for _, msg := range c.blocked {
		if msg.Eligible() {
			c.enqueueOutbound(msg)
		} else {
			still = append(still, msg)
		}
	}
	c.blocked = still
}

func ackPayload(bytesReceived uint64) []byte {
	return varint.AppendUvarint(nil, bytesReceived)
}
