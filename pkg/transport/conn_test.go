package transport

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/blipkit/blip/pkg/wsframe"
)

type recordingDelegate struct {
	mu       sync.Mutex
	messages [][]byte
	closed   []wsframe.CloseStatus
	received chan struct{}
}

func newRecordingDelegate() *recordingDelegate {
	return &recordingDelegate{received: make(chan struct{}, 16)}
}

func (d *recordingDelegate) OnWebSocketWriteable() {}

func (d *recordingDelegate) OnWebSocketMessage(data []byte, binary bool) {
	d.mu.Lock()
	d.messages = append(d.messages, append([]byte(nil), data...))
	d.mu.Unlock()
	d.received <- struct{}{}
}

func (d *recordingDelegate) OnWebSocketClose(status wsframe.CloseStatus) {
	d.mu.Lock()
	d.closed = append(d.closed, status)
	d.mu.Unlock()
}

func serverFrame(opcode byte, payload []byte) []byte {
	hdr := []byte{0x80 | opcode, byte(len(payload))}
	return append(hdr, payload...)
}

func TestConnFeedsEngineFromSocket(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()

	delegate := newRecordingDelegate()
	conn := New(clientSide, nil, time.Second)
	engine := wsframe.NewEngine(conn, delegate)
	conn.Bind(engine)
	conn.Start()

	frame := serverFrame(0x2, []byte("hello-from-server"))
	go func() {
		serverSide.Write(frame)
	}()

	select {
	case <-delegate.received:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	delegate.mu.Lock()
	defer delegate.mu.Unlock()
	if len(delegate.messages) != 1 || string(delegate.messages[0]) != "hello-from-server" {
		t.Fatalf("unexpected messages: %v", delegate.messages)
	}
}

func TestConnReportsCleanCloseOnEOF(t *testing.T) {
	serverSide, clientSide := net.Pipe()

	delegate := newRecordingDelegate()
	conn := New(clientSide, nil, time.Second)
	engine := wsframe.NewEngine(conn, delegate)
	conn.Bind(engine)
	conn.Start()

	serverSide.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		delegate.mu.Lock()
		n := len(delegate.closed)
		delegate.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	delegate.mu.Lock()
	defer delegate.mu.Unlock()
	if len(delegate.closed) != 1 {
		t.Fatalf("expected one close notification, got %d", len(delegate.closed))
	}
}
