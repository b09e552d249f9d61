// Package qtx is the facade described in spec.md §4.5: a single-owner
// QUIC transmit-side record layer that ties the per-level key state
// (internal/elstate), the packet sealer (internal/seal), the
// datagram coalescer (internal/coalesce), and the TX queue
// (internal/txqueue) together behind the public entry points a
// connection's transmit path calls.
//
// Grounded on the teacher's volume.EncryptRequest/DecryptRequest
// (internal/volume/{encrypt,decrypt}.go): a single struct gathering
// validated configuration plus mutable pipeline state, driven by one
// caller, with Validate() run once up front (here, in New).
package qtx

import (
	"errors"
	"net"

	"qtxng/internal/coalesce"
	"qtxng/internal/elstate"
	"qtxng/internal/errs"
	"qtxng/internal/log"
	"qtxng/internal/seal"
	"qtxng/internal/suite"
	"qtxng/internal/txqueue"
	"qtxng/internal/wire"
)

// Level re-exports elstate.Level so callers need only import qtx.
type Level = elstate.Level

const (
	Initial   = elstate.Initial
	Handshake = elstate.Handshake
	ZeroRTT   = elstate.ZeroRTT
	OneRTT    = elstate.OneRTT
)

// Config holds the construction-time parameters for a Conn.
type Config struct {
	// MDPL is the initial maximum datagram payload length the
	// coalescer packs datagrams up to. Zero selects the package
	// default (1200 bytes).
	MDPL int
}

// Validate checks Config for internal consistency, following the
// teacher's pattern of a single up-front Validate call rather than
// scattering checks through construction.
func (c Config) Validate() error {
	if c.MDPL != 0 && c.MDPL < 24 {
		return errs.ErrMDPLTooSmall
	}
	return nil
}

// Conn is the transmit-side record layer for one QUIC connection. It
// is not safe for concurrent use: spec.md §5 assigns it a single
// owning task, matching the non-mutex'd, caller-serialized shape of
// elstate.State and coalesce.Coalescer underneath it.
type Conn struct {
	levels [4]*elstate.State
	co     *coalesce.Coalescer
	queue  *txqueue.Queue
}

// New constructs a Conn with all four encryption levels unprovisioned
// and no sink installed.
func New(cfg Config) (*Conn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Conn{
		levels: [4]*elstate.State{
			elstate.New(elstate.Initial),
			elstate.New(elstate.Handshake),
			elstate.New(elstate.ZeroRTT),
			elstate.New(elstate.OneRTT),
		},
		co:    coalesce.New(),
		queue: txqueue.New(),
	}
	if cfg.MDPL != 0 {
		if err := c.co.SetMDPL(cfg.MDPL); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Conn) levelState(l Level) (*elstate.State, error) {
	if l < Initial || l > OneRTT {
		return nil, errs.ErrWrongLevel
	}
	return c.levels[l], nil
}

// ProvideSecret installs keys for level, derived from secret under the
// named cipher suite. Each level may be provisioned at most once.
func (c *Conn) ProvideSecret(level Level, id suite.ID, secret []byte) error {
	st, err := c.levelState(level)
	if err != nil {
		return err
	}
	params, err := suite.Lookup(id)
	if err != nil {
		return err
	}
	return st.Provision(params, secret)
}

// DiscardEncLevel zeroizes and permanently retires level's key
// material. Idempotent.
func (c *Conn) DiscardEncLevel(level Level) error {
	st, err := c.levelState(level)
	if err != nil {
		return err
	}
	st.Discard()
	return nil
}

// TriggerKeyUpdate requests a 1-RTT key update, per spec.md §4.3. It
// fails with ErrPrereqNotMet unless both Initial and Handshake have
// already been discarded.
func (c *Conn) TriggerKeyUpdate() error {
	prereqMet := c.levels[Initial].Discarded() && c.levels[Handshake].Discarded()
	err := c.levels[OneRTT].TriggerKeyUpdate(prereqMet)
	if err != nil {
		log.Warn("key update rejected", log.Err(err))
		return err
	}
	log.Info("key update triggered")
	return nil
}

// CurrentEpochPacketCount reports how many packets have been sealed
// under level's current epoch.
func (c *Conn) CurrentEpochPacketCount(level Level) uint64 {
	st, err := c.levelState(level)
	if err != nil {
		return 0
	}
	return st.EpochPktCount()
}

// MaxEpochPacketCount reports level's suite-defined per-epoch packet
// limit.
func (c *Conn) MaxEpochPacketCount(level Level) uint64 {
	st, err := c.levelState(level)
	if err != nil {
		return 0
	}
	return st.MaxEpochPktCount()
}

// LogicalPacket is the caller-facing packet description: everything
// needed to seal and coalesce one packet, per spec.md §3's
// LogicalPacket. Level and Header.Type must name the same encryption
// level.
type LogicalPacket struct {
	Level   Level
	Header  wire.Header
	Payload [][]byte
	PN      uint64

	// DCIDLenHint is the caller's best estimate of the DCID length
	// future packets on this connection will use; it only affects
	// when the coalescer decides a datagram is provably full.
	DCIDLenHint int

	Peer  net.Addr
	Local net.Addr

	// Coalesce requests that this packet may share a datagram with
	// packets written after it, budget permitting. When false, the
	// datagram is finalized immediately after this packet.
	Coalesce bool
}

func levelMatchesHeader(level Level, t wire.PacketType) bool {
	switch level {
	case Initial:
		return t == wire.Initial
	case Handshake:
		return t == wire.Handshake
	case ZeroRTT:
		return t == wire.ZeroRTT
	case OneRTT:
		return t == wire.OneRTT
	default:
		return false
	}
}

// WritePacket seals pkt and attempts to pack it into the in-progress
// coalescing datagram (opening a fresh one if needed), per spec.md
// §4.4's write_pkt. It returns the sealed length of pkt in bytes
// (header plus ciphertext and tag). Any datagrams that became ready to
// send as a side effect (a prior datagram finalized to make room,
// and/or pkt's own datagram if it was finalized right after pkt) are
// pushed onto the TX queue.
func (c *Conn) WritePacket(pkt LogicalPacket) (int, error) {
	if !levelMatchesHeader(pkt.Level, pkt.Header.Type) {
		return 0, errs.ErrWrongLevel
	}
	st, err := c.levelState(pkt.Level)
	if err != nil {
		return 0, err
	}
	if pkt.Local != nil {
		if s := c.queue.Sink(); s != nil && !s.SupportsLocalAddr() {
			return 0, errs.ErrSinkMissing
		}
	}

	sp := seal.Packet{Header: pkt.Header, Payload: pkt.Payload, PN: pkt.PN}
	finalized, n, err := c.co.WritePacket(st, sp, pkt.Peer, pkt.Local, pkt.Coalesce, pkt.DCIDLenHint)
	if err != nil {
		if errors.Is(err, errs.ErrEpochExhausted) {
			log.Warn("encryption level exhausted", log.String("level", pkt.Level.String()))
		}
		return 0, err
	}
	for _, d := range finalized {
		c.queue.Push(d)
	}
	return n, nil
}

// FinishDatagram implements finish_dgram: it forces the in-progress
// coalescing datagram, if any, onto the TX queue regardless of
// remaining budget.
func (c *Conn) FinishDatagram() {
	if d, ok := c.co.Finish(); ok {
		c.queue.Push(d)
	}
}

// FlushNet drains the TX queue to the installed sink. See
// txqueue.Queue.Flush for its halt-on-failure semantics.
func (c *Conn) FlushNet() error {
	err := c.queue.Flush()
	if err != nil {
		log.Warn("flush_net halted", log.Err(err), log.Int("datagrams_remaining", c.queue.Len()))
	}
	return err
}

// PopNet removes and returns the head queued datagram, for diagnostic
// or manual-drain use. It never touches the in-progress coalescing
// datagram.
func (c *Conn) PopNet() (txqueue.Datagram, bool) {
	return c.queue.Pop()
}

// QueueLenDatagrams returns how many datagrams are queued, excluding
// the in-progress coalescing datagram.
func (c *Conn) QueueLenDatagrams() int { return c.queue.Len() }

// QueueLenBytes returns the total bytes queued, excluding the
// in-progress coalescing datagram.
func (c *Conn) QueueLenBytes() int { return c.queue.Bytes() }

// CurrentDatagramLenBytes returns the byte length of the in-progress
// coalescing datagram, or 0 if none is open.
func (c *Conn) CurrentDatagramLenBytes() int { return c.co.CurDgramLenBytes() }

// UnflushedPacketCount returns how many packets have been sealed into
// the in-progress coalescing datagram.
func (c *Conn) UnflushedPacketCount() int { return c.co.UnflushedPacketCount() }

// SetSink installs the sink FlushNet drains to.
func (c *Conn) SetSink(s txqueue.Sink) { c.queue.SetSink(s) }

// SetMDPL changes the budget used for datagrams opened from now on;
// an already in-progress datagram keeps its original budget.
func (c *Conn) SetMDPL(n int) error { return c.co.SetMDPL(n) }
