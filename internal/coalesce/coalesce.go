// Package coalesce implements the QTX datagram coalescer (spec.md §2
// component E, §4.4): the explicit two-state machine that packs
// sealed packets into a shared coalescing datagram up to the MDPL
// budget, finalizing it into the TX queue when it can no longer
// usefully hold another packet.
//
// Grounded on the teacher's internal/volume/writer.go, which threads a
// bounded staging buffer through a loop and flushes it once full
// rather than writing every chunk straight to disk; the coalescer
// applies the same bounded-buffer-then-flush shape to outbound
// datagrams instead of output chunks. The coalescing datagram's
// backing buffer is drawn from internal/bufpool, itself adapted from
// the teacher's internal/util.BufferPool.
package coalesce

import (
	"net"

	"qtxng/internal/bufpool"
	"qtxng/internal/elstate"
	"qtxng/internal/errs"
	"qtxng/internal/log"
	"qtxng/internal/seal"
	"qtxng/internal/txqueue"
	"qtxng/internal/wire"
)

// defaultMDPL is used until SetMDPL is called; 1200 is the
// conservative minimum initial datagram size QUIC implementations
// commonly assume before path MTU discovery completes.
const defaultMDPL = 1200

// minMDPL is the smallest MDPL SetMDPL will accept. It is above the 22
// bytes of the smallest short-header 1-RTT packet with a 1-byte
// connection ID and 1-byte PN: 3 header bytes plus the 19 ciphertext
// bytes (payload and AEAD tag) its header-protection sample needs.
const minMDPL = 24

// Coalescer is the "NoCD" / "OpenCD" state machine of spec.md §4.4.
// It is single-owner and holds no synchronization of its own, per
// spec.md §5.
type Coalescer struct {
	mdpl int
	pool *bufpool.Pool

	open         bool
	buf          []byte
	bufPool      *bufpool.Pool // the pool buf was allocated from
	peer         net.Addr
	local        net.Addr
	pktCount     int
	lastWasShort bool
}

// New creates a coalescer with the default MDPL.
func New() *Coalescer {
	return &Coalescer{mdpl: defaultMDPL, pool: bufpool.New(defaultMDPL)}
}

// SetMDPL changes the budget used for datagrams opened from now on.
// An already-open coalescing datagram is left exactly as it is: it
// will be finalized under the budget (and pool) it was opened with.
func (c *Coalescer) SetMDPL(n int) error {
	if n < minMDPL {
		return errs.ErrMDPLTooSmall
	}
	c.mdpl = n
	c.pool = bufpool.New(n)
	return nil
}

// MDPL returns the budget new coalescing datagrams are opened with.
func (c *Coalescer) MDPL() int { return c.mdpl }

// IsOpen reports whether a coalescing datagram is currently in
// progress (the OpenCD state).
func (c *Coalescer) IsOpen() bool { return c.open }

// CurDgramLenBytes returns the byte length of the in-progress
// coalescing datagram, or 0 in the NoCD state.
func (c *Coalescer) CurDgramLenBytes() int {
	if !c.open {
		return 0
	}
	return len(c.buf)
}

// UnflushedPacketCount returns how many packets have been sealed into
// the in-progress coalescing datagram.
func (c *Coalescer) UnflushedPacketCount() int {
	if !c.open {
		return 0
	}
	return c.pktCount
}

// minUsefulPacketLen is the smallest encoded size any future packet at
// this connection could have: 1 (flags) + dcidLenHint + 1 (shortest
// pn_len) + tagLen. If fewer bytes than this remain in the coalescing
// datagram after adding a packet, no further packet could ever be
// coalesced into it, so it is finalized immediately (spec.md §4.4
// step 5, "remaining space is provably useless").
func minUsefulPacketLen(dcidLenHint, tagLen int) int {
	return 1 + dcidLenHint + 1 + tagLen
}

func addrEqual(a, b net.Addr) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.String() == b.String()
}

// WritePacket implements write_pkt. It seals pkt and packs it into the
// coalescer's in-progress datagram, opening a fresh one first if
// there is none, the peer/local pair differs, or pkt would not fit in
// the remaining budget. dcidLenHint is the caller's best estimate of
// future packets' DCID length at this connection, used only to decide
// whether the datagram is "provably full" (step 5).
//
// On success it returns, in send order, zero, one, or two datagrams
// that became ready to enqueue: a prior in-progress datagram finalized
// to make room for pkt, and/or the datagram holding pkt when it is
// finalized right after pkt (coalesceFlag false, pkt is a short-header
// packet, or the remaining budget is provably useless). On any error, the
// coalescer's state (including any previously open datagram) is
// entirely unchanged.
func (c *Coalescer) WritePacket(st *elstate.State, pkt seal.Packet, peer, local net.Addr, coalesceFlag bool, dcidLenHint int) ([]txqueue.Datagram, int, error) {
	bound, err := seal.SealedLen(st, pkt)
	if err != nil {
		return nil, 0, err
	}
	if bound > c.mdpl {
		return nil, 0, errs.ErrPacketTooLarge
	}

	// cap(c.buf) is the budget the open datagram was opened with, which
	// a later SetMDPL does not change.
	needNew := !c.open || !addrEqual(c.peer, peer) || !addrEqual(c.local, local) || cap(c.buf)-len(c.buf) < bound

	candidate := c.buf
	candidatePool := c.bufPool
	if needNew {
		candidate = c.pool.Get()
		candidatePool = c.pool
	}

	sealedBuf, sealedN, err := seal.Seal(candidate, st, pkt)
	if err != nil {
		// seal.Seal leaves its dst argument untouched on error, and we
		// have not yet written any field on c: nothing to roll back.
		return nil, 0, err
	}

	var finalized []txqueue.Datagram
	if needNew && c.open {
		finalized = append(finalized, c.finalizeLocked())
	}

	c.buf = sealedBuf
	c.bufPool = candidatePool
	c.peer = peer
	c.local = local
	c.open = true
	c.pktCount++
	c.lastWasShort = pkt.Header.Type == wire.OneRTT

	tagLen := st.Params().TagLen
	remaining := cap(c.buf) - len(c.buf)
	if !coalesceFlag || c.lastWasShort || remaining < minUsefulPacketLen(dcidLenHint, tagLen) {
		finalized = append(finalized, c.finalizeLocked())
	}

	return finalized, sealedN, nil
}

// Finish implements finish_dgram: it forcibly finalizes the
// in-progress coalescing datagram, if any, regardless of how much
// budget remains. It is a no-op returning (Datagram{}, false) in the
// NoCD state.
func (c *Coalescer) Finish() (txqueue.Datagram, bool) {
	if !c.open {
		return txqueue.Datagram{}, false
	}
	return c.finalizeLocked(), true
}

// finalizeLocked moves the in-progress datagram out and resets the
// coalescer to NoCD. The caller is responsible for enqueuing the
// result.
func (c *Coalescer) finalizeLocked() txqueue.Datagram {
	buf, pool := c.buf, c.bufPool
	d := txqueue.Datagram{
		Bytes: buf,
		Peer:  c.peer,
		Local: c.local,
		Release: func() {
			if pool != nil {
				pool.Put(buf)
			}
		},
	}
	log.Debug("datagram finalized",
		log.Int("bytes", len(buf)),
		log.Int("packets", c.pktCount),
		log.Bool("short_header_tail", c.lastWasShort),
	)
	c.open = false
	c.buf = nil
	c.bufPool = nil
	c.peer = nil
	c.local = nil
	c.pktCount = 0
	c.lastWasShort = false
	return d
}
