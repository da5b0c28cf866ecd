// Package transport provides a net.Conn-backed implementation of
// wsframe.Transport, plus the client-side HTTP upgrade dial that produces
// the raw socket it wraps. Framing itself stays entirely inside pkg/wsframe;
// this package only moves bytes.
package transport

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/blipkit/blip/pkg/wsframe"
)

const readBufferSize = 32 * 1024

var readBufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, readBufferSize)
		return &buf
	},
}

// Conn adapts a raw, already-upgraded net.Conn to wsframe.Transport. It owns
// a background read loop that feeds bytes to the bound Engine and reports
// the final CloseStatus once the socket goes away.
type Conn struct {
	raw          net.Conn
	engine       *wsframe.Engine
	logger       *slog.Logger
	writeTimeout time.Duration

	mu         sync.Mutex
	closedLocal bool
	started    atomic.Bool
}

// New wraps raw in a Conn. Bind must be called with the Engine that will
// drive it before Start is called.
func New(raw net.Conn, logger *slog.Logger, writeTimeout time.Duration) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{raw: raw, logger: logger, writeTimeout: writeTimeout}
}

// Bind associates the Conn with the Engine it feeds. Must be called exactly
// once, before Start.
func (c *Conn) Bind(engine *wsframe.Engine) {
	c.engine = engine
}

// Start launches the background read loop. It returns immediately; the
// loop runs until the socket errors or is closed.
func (c *Conn) Start() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	go c.readLoop()
}

func (c *Conn) readLoop() {
	bufp := readBufPool.Get().(*[]byte)
	defer readBufPool.Put(bufp)
	buf := *bufp

	for {
		n, err := c.raw.Read(buf)
		if n > 0 {
			c.engine.OnReceive(buf[:n])
		}
		if err != nil {
			c.engine.OnClose(errnoOf(err, c.wasClosedLocally()))
			return
		}
	}
}

func (c *Conn) wasClosedLocally() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closedLocal
}

// Open is a no-op: the connection is already established by the time a
// Conn exists.
func (c *Conn) Open() error { return nil }

// Close tears down the underlying socket.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closedLocal = true
	c.mu.Unlock()
	return c.raw.Close()
}

// SendBytes writes one already-framed WebSocket frame and reports the
// write back to the Engine as completed, since net.Conn.Write blocks until
// every byte is written or an error occurs.
func (c *Conn) SendBytes(data []byte) error {
	if c.writeTimeout > 0 {
		c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	n, err := c.raw.Write(data)
	if n > 0 {
		c.engine.OnWriteComplete(n)
	}
	if err != nil {
		c.logger.Error("blip transport write failed", "error", err)
	}
	return err
}

// ReceiveComplete is a no-op: OnReceive already copies reassembled message
// bytes out of the pooled read buffer before returning, so there is nothing
// left pinned once OnReceive returns.
func (c *Conn) ReceiveComplete(n int) {}

// errnoOf classifies a net.Conn read error into the errno convention
// wsframe.Engine.OnClose expects: 0 for a clean EOF or a close we asked
// for ourselves, the underlying syscall errno for a transport failure, or
// -1 when the error carries no syscall detail.
func errnoOf(err error, closedLocally bool) int {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || closedLocally {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	return -1
}
