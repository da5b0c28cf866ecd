package blip

import (
	"bytes"
	"testing"
	"time"
)

// loopbackTransport connects two Connections entirely in-process: SendBytes
// hands the frame straight to the peer's engine on the sender's goroutine,
// so frames arrive in the order they were sent, as over a real socket, and
// immediately reports the write as complete, since there is no real kernel
// buffer to drain. Close reports a clean transport close to its own engine,
// as a socket's read loop would on EOF.
type loopbackTransport struct {
	engine interface {
		OnReceive([]byte)
		OnWriteComplete(int)
		OnClose(int)
	}
	peer *loopbackTransport
}

func (t *loopbackTransport) Open() error { return nil }
func (t *loopbackTransport) Close() error {
	go t.engine.OnClose(0)
	return nil
}
func (t *loopbackTransport) SendBytes(data []byte) error {
	frame := append([]byte(nil), data...)
	t.peer.engine.OnReceive(frame)
	t.engine.OnWriteComplete(len(data))
	return nil
}
func (t *loopbackTransport) ReceiveComplete(n int) {}

func newLoopbackPair(t *testing.T, opts ...Option) (*Connection, *Connection) {
	t.Helper()
	trA := &loopbackTransport{}
	trB := &loopbackTransport{}
	trA.peer, trB.peer = trB, trA

	connA := NewConnection(trA, opts...)
	trA.engine = connA.engine
	connB := NewConnection(trB, opts...)
	trB.engine = connB.engine
	return connA, connB
}

func TestSendReceivesHandlerResponse(t *testing.T) {
	connA, connB := newLoopbackPair(t)
	defer connA.Close(1000, "")
	defer connB.Close(1000, "")

	connB.OnMessage("echo", func(msg *InboundMessage) {
		reply := NewResponse().SetBody(msg.Body())
		msg.Respond(reply)
	})
	time.Sleep(20 * time.Millisecond) // let registration land before the request arrives

	future := connA.Send(NewRequest("echo").SetBody([]byte("hello")))
	reply, err := future.Await()
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if got := string(reply.Body()); got != "hello" {
		t.Fatalf("reply body = %q, want hello", got)
	}
}

func TestSendToUnhandledProfileGetsNotHandledError(t *testing.T) {
	connA, connB := newLoopbackPair(t)
	defer connA.Close(1000, "")
	defer connB.Close(1000, "")

	future := connA.Send(NewRequest("nobodyHome"))
	reply, err := future.Await()
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if !reply.IsError() {
		t.Fatal("expected an ERROR-type response for an unhandled profile")
	}
	if reply.ErrorCode() != 404 {
		t.Fatalf("ErrorCode = %d, want 404", reply.ErrorCode())
	}
}

func TestSendFragmentsLargeBodyAndDeliversIntact(t *testing.T) {
	connA, connB := newLoopbackPair(t, WithFrameSize(64))
	defer connA.Close(1000, "")
	defer connB.Close(1000, "")

	body := bytes.Repeat([]byte("0123456789"), 20000) // forces many frames and several acks

	connB.OnMessage("bulk", func(msg *InboundMessage) {
		msg.Respond(NewResponse().SetBody(msg.Body()))
	})
	time.Sleep(20 * time.Millisecond)

	future := connA.Send(NewRequest("bulk").SetBody(body))
	reply, err := future.Await()
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if !bytes.Equal(reply.Body(), body) {
		t.Fatal("reassembled body does not match the original")
	}
}

func TestCloseIsGracefulAndIdempotent(t *testing.T) {
	connA, connB := newLoopbackPair(t)
	defer connB.Close(1000, "")

	connA.Close(1000, "done")
	connA.Close(1000, "done again") // must not panic or double-deliver

	select {
	case <-connA.Done():
	case <-time.After(time.Second):
		t.Fatal("expected connA's actor loop to exit after a graceful close")
	}
}

func TestSendAfterCloseFailsFast(t *testing.T) {
	connA, connB := newLoopbackPair(t)
	defer connB.Close(1000, "")

	connA.Close(1000, "bye")
	select {
	case <-connA.Done():
	case <-time.After(time.Second):
		t.Fatal("connA did not finish closing")
	}

	future := connA.Send(NewRequest("whatever"))
	_, err := future.Await()
	if err != ErrConnectionClosed {
		t.Fatalf("err = %v, want ErrConnectionClosed", err)
	}
}

func TestCloseInfoReflectsTerminalStatus(t *testing.T) {
	connA, connB := newLoopbackPair(t)
	defer connB.Close(1000, "")

	connA.Close(1000, "goodbye")
	select {
	case <-connA.Done():
	case <-time.After(time.Second):
		t.Fatal("connA did not finish closing")
	}

	info := connA.CloseInfo()
	if info.Code != 1000 || info.Message != "goodbye" {
		t.Fatalf("CloseInfo = %+v, want code 1000 and message %q", info, "goodbye")
	}
}

func TestUnexpectedDisconnectFailsPendingSend(t *testing.T) {
	connA, connB := newLoopbackPair(t)
	defer connB.Close(1000, "")

	// connB never responds; simulate the socket dying underneath connA.
	connB.OnMessage("neverAnswered", func(*InboundMessage) {})
	time.Sleep(20 * time.Millisecond)
	future := connA.Send(NewRequest("neverAnswered"))

	go connA.engine.OnClose(104) // ECONNRESET

	_, err := future.Await()
	if err == nil {
		t.Fatal("expected the pending send to fail once the transport drops")
	}

	select {
	case <-connA.Done():
	case <-time.After(time.Second):
		t.Fatal("expected connA's actor loop to exit after an abnormal close")
	}
}
