package transport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Subprotocol is the Sec-WebSocket-Protocol value BLIP connections
// negotiate during the upgrade handshake.
const Subprotocol = "BLIP_3"

// DialOptions configures Dial.
type DialOptions struct {
	Header           http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Logger           *slog.Logger
}

// Dial performs the HTTP upgrade handshake against a BLIP-capable server
// and returns a Conn ready to be Bind-ed to a wsframe.Engine and Start-ed.
// gorilla/websocket is used strictly to perform the upgrade and hand back
// the raw socket; no further framing is done through it — all BLIP/WS wire
// framing happens in pkg/wsframe.
func Dial(ctx context.Context, rawURL string, opts DialOptions) (*Conn, *http.Response, error) {
	timeout := opts.HandshakeTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	dialer := websocket.Dialer{
		Subprotocols:     []string{Subprotocol},
		HandshakeTimeout: timeout,
	}

	wsConn, resp, err := dialer.DialContext(ctx, rawURL, opts.Header)
	if err != nil {
		return nil, resp, errors.Wrap(err, "blip: websocket handshake failed")
	}
	if wsConn.Subprotocol() != Subprotocol {
		wsConn.Close()
		return nil, resp, errors.Errorf("blip: server did not negotiate %s (got %q)", Subprotocol, wsConn.Subprotocol())
	}

	raw := wsConn.UnderlyingConn()
	return New(raw, opts.Logger, opts.WriteTimeout), resp, nil
}
