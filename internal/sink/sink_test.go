package sink

import (
	"errors"
	"net"
	"testing"

	"qtxng/internal/txqueue"
)

func TestCaptureSendRecordsDatagramsInOrder(t *testing.T) {
	c := NewCapture()
	d1 := txqueue.Datagram{Bytes: []byte("a")}
	d2 := txqueue.Datagram{Bytes: []byte("b")}

	n, err := c.Send([]txqueue.Datagram{d1, d2})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n != 2 {
		t.Fatalf("n = %d, want 2", n)
	}
	if len(c.Sent) != 2 || string(c.Sent[0].Bytes) != "a" || string(c.Sent[1].Bytes) != "b" {
		t.Errorf("Sent = %v, want [a b]", c.Sent)
	}
}

func TestCaptureArmFailure(t *testing.T) {
	c := NewCapture()
	failErr := errors.New("simulated failure")
	c.ArmFailure(1, failErr)

	d := []txqueue.Datagram{{Bytes: []byte("a")}, {Bytes: []byte("b")}, {Bytes: []byte("c")}}
	n, err := c.Send(d)
	if n != 1 {
		t.Fatalf("n = %d, want 1", n)
	}
	if !errors.Is(err, failErr) {
		t.Fatalf("err = %v, want %v", err, failErr)
	}

	// Failure should clear itself; the next Send succeeds fully.
	n, err = c.Send(d)
	if err != nil || n != 3 {
		t.Fatalf("second Send = %d,%v, want 3,nil", n, err)
	}
}

func TestCaptureSupportsLocalAddr(t *testing.T) {
	c := NewCapture()
	if !c.SupportsLocalAddr() {
		t.Error("Capture.SupportsLocalAddr() = false, want true")
	}
}

func TestUDPSinkRejectsMissingPeer(t *testing.T) {
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		t.Skipf("cannot open UDP socket in this environment: %v", err)
	}
	defer conn.Close()

	s := NewUDPSink(conn, true)
	_, err = s.Send([]txqueue.Datagram{{Bytes: []byte("x")}})
	if err == nil {
		t.Error("Send with nil Peer = nil error, want error")
	}
}

func TestUDPSinkSupportsLocalAddrReflectsConstruction(t *testing.T) {
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		t.Skipf("cannot open UDP socket in this environment: %v", err)
	}
	defer conn.Close()

	s := NewUDPSink(conn, false)
	if s.SupportsLocalAddr() {
		t.Error("SupportsLocalAddr() = true, want false")
	}
}
