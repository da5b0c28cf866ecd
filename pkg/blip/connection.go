// Package blip implements the BLIP multiplexed messaging protocol: outbound
// and inbound message state machines, the property/message-builder
// codec, and the connection multiplexer that schedules frames fairly
// and routes inbound ones.
package blip

import (
	"log/slog"

	"github.com/blipkit/blip/pkg/boundedchan"
	"github.com/blipkit/blip/pkg/wsframe"
)

// HandlerFunc handles a complete inbound request, keyed by its Profile
// property.
type HandlerFunc func(*InboundMessage)

type connState int

const (
	stateOpening connState = iota
	stateOpen
	stateClosing
	stateClosed
)

// starter is satisfied by transports (pkg/transport.Conn) that need to be
// bound to the engine and have their read loop launched; it is not part of
// wsframe.Transport itself since that interface is deliberately just the
// four data-moving operations.
type starter interface {
	Bind(*wsframe.Engine)
	Start()
}

type frameJob struct {
	payload []byte
}

// Connection owns the transport, routes inbound frames to the right
// message, and schedules outbound frames fairly across in-flight messages.
// Its queues, maps, and counters are only ever touched from its own
// run loop goroutine — the "actor" boundary — reached either directly
// (from run) or by posting a closure via cmds, the same pattern the
// teacher's Session uses for its EventLoop.
type Connection struct {
	cfg    Config
	logger *slog.Logger
	engine *wsframe.Engine

	cmds chan func()
	done chan struct{}

	writeQueue *boundedchan.Channel[frameJob]

	// actor-owned state: read and written only inside run().
	state            connState
	nextOutboundNo   MessageNo
	outboundNormal   []*OutboundMessage
	outboundUrgent   []*OutboundMessage
	blocked          []*OutboundMessage // eligible-gated, revisited on ack
	outboundByNumber map[MessageNo]*OutboundMessage
	pendingResponses map[MessageNo]*InboundMessage
	inboundRequests  map[MessageNo]*InboundMessage
	handlers         map[string]HandlerFunc
	writeable        bool

	cancelIdlePing func()
	closeInfo      CloseInfo
	closeDelivered bool
}

// CloseInfo returns the terminal close status recorded when the connection
// shut down. Only meaningful after a receive from Done() has returned: the
// close of that channel happens-after closeInfo is populated, so no
// additional synchronization is needed to read it at that point.
func (c *Connection) CloseInfo() CloseInfo {
	return c.closeInfo
}

func newConnection(cfg Config) *Connection {
	return &Connection{
		cfg:              cfg,
		logger:           cfg.Logger,
		cmds:             make(chan func(), 256),
		done:             make(chan struct{}),
		writeQueue:       boundedchan.New[frameJob](),
		state:            stateOpening,
		nextOutboundNo:   1,
		outboundByNumber: make(map[MessageNo]*OutboundMessage),
		pendingResponses: make(map[MessageNo]*InboundMessage),
		inboundRequests:  make(map[MessageNo]*InboundMessage),
		handlers:         make(map[string]HandlerFunc),
		writeable:        true,
	}
}

// NewConnection wraps tr in a wsframe.Engine and starts the connection's
// actor loop and write-pump goroutine. If tr additionally satisfies the
// Bind/Start pattern pkg/transport.Conn provides, it is bound and started
// automatically.
func NewConnection(tr wsframe.Transport, opts ...Option) *Connection {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	c := newConnection(cfg)
	c.engine = wsframe.NewEngine(tr, c,
		wsframe.WithMaxMessageLength(uint64(cfg.MaxMessageSize)),
		wsframe.WithEngineSendBufferSize(cfg.SendBufferSize),
	)
	if s, ok := tr.(starter); ok {
		s.Bind(c.engine)
		s.Start()
	}
	c.state = stateOpen
	go c.run()
	go c.writeLoop()
	if cfg.IdlePingInterval > 0 {
		c.startIdlePing()
	}
	return c
}

// post enqueues fn to run on the actor goroutine. Safe to call from any
// goroutine other than the actor itself, including wsframe.Engine's
// delegate callbacks; it blocks while cmds is full, so code already running
// on the actor must not call it.
func (c *Connection) post(fn func()) {
	select {
	case c.cmds <- fn:
	case <-c.done:
	}
}

func (c *Connection) run() {
	for {
		select {
		case fn := <-c.cmds:
			fn()
			c.pump()
		case <-c.done:
			return
		}
	}
}

func (c *Connection) writeLoop() {
	for {
		job := c.writeQueue.Pop()
		if job.payload == nil {
			return
		}
		c.engine.Send(job.payload, true)
	}
}

func (c *Connection) startIdlePing() {
	var schedule func()
	schedule = func() {
		c.cancelIdlePing = c.cfg.Scheduler.EnqueueAfter(c.cfg.IdlePingInterval, func() {
			c.post(func() {
				if c.state != stateOpen {
					return
				}
				c.engine.Ping(nil)
				schedule()
			})
		})
	}
	schedule()
}

// ---- Public API ----

// Send builds the wire payload from mb, assigns it the next outbound
// message number, and schedules it for sending. Non-blocking; the returned
// future resolves once the message (and, for a reply-expecting request,
// its response) completes or the connection fails.
func (c *Connection) Send(mb *MessageBuilder) *ResponseFuture {
	future := newResponseFuture(nil)
	var endSpan func()
	onProgress := func(p Progress) {
		switch p.State {
		case Complete, ProgressError:
			if endSpan != nil {
				endSpan()
			}
			future.deliver(p.Reply, p.Err)
		}
	}

	select {
	case <-c.done:
		future.deliver(nil, ErrConnectionClosed)
		return future
	default:
	}

	c.post(func() {
		if c.state != stateOpen {
			future.deliver(nil, ErrConnectionClosed)
			return
		}
		number := c.allocateOutboundNo()
		if c.cfg.Tracer != nil {
			endSpan = c.cfg.Tracer.StartMessageSpan(number, "send")
		}
		payload, flags := mb.buildPayload()
		out := NewOutboundMessage(number, flags, payload, onProgress, c.cfg.AckWindow)

		if placeholder := out.CreateResponse(); placeholder != nil {
			placeholder.reply = c.replyFunc()
			placeholder.sendAck = c.ackSenderFunc()
			placeholder.compressor = c.cfg.Compressor
			placeholder.ackThreshold = c.cfg.AckThreshold
			placeholder.ackWindow = c.cfg.AckWindow
			c.pendingResponses[number] = placeholder
		}
		c.outboundByNumber[number] = out
		c.enqueueOutbound(out)
	})
	return future
}

// Close initiates a graceful shutdown: a CLOSE frame is sent and, once the
// peer echoes it, the transport closes. Subsequent Send calls fail.
func (c *Connection) Close(code int, reason string) {
	c.post(func() {
		if c.state == stateClosing || c.state == stateClosed {
			return
		}
		c.state = stateClosing
		if c.cancelIdlePing != nil {
			c.cancelIdlePing()
		}
		c.engine.Close(code, reason)
	})
}

// OnMessage registers handler for inbound requests whose Profile property
// equals profile, replacing any previous handler for that profile.
func (c *Connection) OnMessage(profile string, handler HandlerFunc) {
	c.post(func() {
		c.handlers[profile] = handler
	})
}

// Done returns a channel closed once the connection's actor loop has
// exited (after OnWebSocketClose has run).
func (c *Connection) Done() <-chan struct{} { return c.done }
