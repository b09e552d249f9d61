// Package sink provides concrete txqueue.Sink implementations: a real
// UDP socket adapter for production use, and an in-memory capture
// sink for tests and the qtxcap devtool.
//
// Grounded on the teacher's internal/fileops package, which wraps a
// concrete *os.File behind a small interface (fileops.Writer) so the
// volume pipeline never imports os directly; UDPSink plays the same
// role for *net.UDPConn.
package sink

import (
	"fmt"
	"net"

	"qtxng/internal/txqueue"
)

// UDPSink sends datagrams over a live UDP socket.
type UDPSink struct {
	conn       *net.UDPConn
	localBound bool
}

// NewUDPSink wraps conn. localBound should be true when conn was
// created with net.ListenUDP (and thus every outbound write leaves
// from a fixed, known local address), which is what
// SupportsLocalAddr reports.
func NewUDPSink(conn *net.UDPConn, localBound bool) *UDPSink {
	return &UDPSink{conn: conn, localBound: localBound}
}

// Send writes each datagram in order via WriteTo, stopping at the
// first failure so the caller knows exactly how many were sent.
func (s *UDPSink) Send(datagrams []txqueue.Datagram) (int, error) {
	sent := 0
	for _, d := range datagrams {
		if d.Peer == nil {
			return sent, fmt.Errorf("sink: udp datagram missing peer address")
		}
		if _, err := s.conn.WriteTo(d.Bytes, d.Peer); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// SupportsLocalAddr reports whether this socket was bound to a fixed
// local address at construction.
func (s *UDPSink) SupportsLocalAddr() bool { return s.localBound }

// Capture is an in-memory sink: every Send call records the datagrams
// it accepts and succeeds, unless a failure was armed with ArmFailure.
// It is used by tests and by the qtxcap devtool's
// "cap" subcommand to inspect what QTX would have sent without a
// network.
type Capture struct {
	Sent []txqueue.Datagram

	// FailNext, when set, makes the next Send call fail after
	// accepting FailAfter datagrams, then clears itself. Tests use
	// this to exercise flush_net's halt-on-failure behavior.
	FailNext  bool
	FailAfter int
	failErr   error
}

// NewCapture creates an empty capture sink.
func NewCapture() *Capture {
	return &Capture{}
}

// ArmFailure configures the next Send to accept n datagrams and then
// report err, simulating a sink that fails partway through a batch.
func (c *Capture) ArmFailure(n int, err error) {
	c.FailNext = true
	c.FailAfter = n
	c.failErr = err
}

func (c *Capture) Send(datagrams []txqueue.Datagram) (int, error) {
	if c.FailNext {
		c.FailNext = false
		n := c.FailAfter
		if n > len(datagrams) {
			n = len(datagrams)
		}
		c.retain(datagrams[:n])
		return n, c.failErr
	}
	c.retain(datagrams)
	return len(datagrams), nil
}

// retain copies each datagram's bytes before storing it. The caller
// (txqueue.Queue.Flush) releases every datagram's backing buffer back
// to its pool immediately after Send returns, which zeroes it; a sink
// that keeps datagrams around past the call, as Capture does, must
// hold its own copy rather than the borrowed slice.
func (c *Capture) retain(datagrams []txqueue.Datagram) {
	for _, d := range datagrams {
		cp := d
		cp.Bytes = append([]byte(nil), d.Bytes...)
		cp.Release = nil
		c.Sent = append(c.Sent, cp)
	}
}

// SupportsLocalAddr always reports true: a capture sink has no real
// socket constraints.
func (c *Capture) SupportsLocalAddr() bool { return true }
