// Package txqueue implements the QTX TX queue / sink adapter (spec.md
// §2 component F): a FIFO of complete datagrams awaiting the sink,
// with byte/datagram counters and a best-effort, non-blocking drain.
//
// Grounded on the teacher's internal/volume/context.go, whose
// OperationContext tracks Total/Done byte counters threaded through a
// pipeline, and on the small-capability-interface style of
// volume.ProgressReporter (a minimal interface the orchestrator calls
// without caring what's behind it) — here, Sink plays that role.
package txqueue

import "net"

// Datagram is a complete, ready-to-send unit: bytes.len() <= MDPL,
// and every packet coalesced into it shares Peer and Local.
type Datagram struct {
	Bytes []byte
	Peer  net.Addr
	Local net.Addr

	// Release, if set, returns Bytes' backing buffer to whatever pool
	// it was allocated from. It is called once, after Bytes has been
	// successfully handed to the sink, and never on a datagram that is
	// only Popped for diagnostic inspection.
	Release func()
}

// Sink is the lower-layer datagram transmitter QTX writes through. It
// is a small capability interface, not a pointer to a concrete I/O
// type: the QTX does not care whether the implementation is a real
// socket, a sendmmsg batcher, or an in-memory test capture.
type Sink interface {
	// Send attempts to send as many of datagrams as possible, in
	// order, returning how many were fully sent. Partial success is
	// allowed: a non-nil error may be returned alongside sent > 0.
	Send(datagrams []Datagram) (sent int, err error)

	// SupportsLocalAddr reports whether this sink can honor a
	// non-nil Datagram.Local. If false, callers must not submit
	// packets whose LogicalPacket.local is set.
	SupportsLocalAddr() bool
}

// Queue is a FIFO of complete datagrams. At most one CoalescingDatagram
// exists outside the queue at any time (owned by the coalescer); Queue
// itself holds only finalized datagrams.
type Queue struct {
	items     []Datagram
	byteTotal int
	sink      Sink
}

// New creates an empty queue with no sink installed.
func New() *Queue {
	return &Queue{}
}

// SetSink installs (or, with nil, removes) the sink datagrams drain to.
func (q *Queue) SetSink(s Sink) {
	q.sink = s
}

// Sink returns the currently installed sink, or nil.
func (q *Queue) Sink() Sink {
	return q.sink
}

// Push enqueues a finalized datagram.
func (q *Queue) Push(d Datagram) {
	q.items = append(q.items, d)
	q.byteTotal += len(d.Bytes)
}

// Pop removes and returns the head datagram, if any. Per spec.md §9's
// resolution of the pop_net ambiguity, this drains queued datagrams
// only — never the in-progress coalescing datagram, which the
// coalescer owns separately.
func (q *Queue) Pop() (Datagram, bool) {
	if len(q.items) == 0 {
		return Datagram{}, false
	}
	d := q.items[0]
	q.items = q.items[1:]
	q.byteTotal -= len(d.Bytes)
	return d, true
}

// Len returns the number of queued datagrams, excluding the coalescing
// datagram.
func (q *Queue) Len() int {
	return len(q.items)
}

// Bytes returns the total payload bytes queued, excluding the
// coalescing datagram.
func (q *Queue) Bytes() int {
	return q.byteTotal
}

// Flush drains queued datagrams to the sink, best-effort and
// non-blocking: if no sink is installed, the flush is silently
// dropped (spec.md §7's SinkMissing condition is not surfaced as an
// error here, matching "flush_net with no sink — silently drops").
// A sink write failure halts the drain and leaves the remaining
// datagrams queued; the sink is never retried implicitly.
func (q *Queue) Flush() error {
	if q.sink == nil {
		return nil
	}
	if len(q.items) == 0 {
		return nil
	}

	sent, err := q.sink.Send(q.items)
	if sent > 0 {
		for i := 0; i < sent; i++ {
			q.byteTotal -= len(q.items[i].Bytes)
			if q.items[i].Release != nil {
				q.items[i].Release()
			}
		}
		q.items = q.items[sent:]
	}
	return err
}
