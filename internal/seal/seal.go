// Package seal implements the QTX packet sealer (spec.md §4.2): given
// an ELState, a logical packet, and an output buffer, it appends a
// fully encrypted-and-protected packet in the exact seven-step order
// the spec requires.
//
// Grounded on the teacher's internal/crypto/cipher.go, which enforces
// its own "CRITICAL: this exact order MUST be preserved" comment for
// Serpent-CTR -> XChaCha20 -> MAC; QTX's sealer carries the same
// discipline for AEAD-seal -> HP-sample -> HP-mask -> HP-apply.
package seal

import (
	"fmt"

	"qtxng/internal/elstate"
	"qtxng/internal/errs"
	"qtxng/internal/log"
	"qtxng/internal/wire"
)

// Packet is the subset of spec.md's LogicalPacket the sealer consumes.
// Payload is a list of iovecs (as in spec.md §3); pn_len lives on
// Header and is caller-owned, never altered by the sealer.
type Packet struct {
	Header  wire.Header
	Payload [][]byte
	PN      uint64
}

// payloadLen returns the total plaintext length across all iovecs.
func (p Packet) payloadLen() int {
	n := 0
	for _, v := range p.Payload {
		n += len(v)
	}
	return n
}

// hpSampleMinLen is the number of ciphertext bytes consumed by the
// widest possible HP sample window: offset (4 - pn_len) plus the
// 16-byte sample, maximized when pn_len is smallest (1).
const hpSampleMinLen = 3 + 16

// SealedLen computes an upper bound on the encoded length of pkt if
// sealed now, without performing any cryptographic work. The bound is
// exact for short-header packets; for long-header packets it reserves
// 4 bytes for the Length varint, which may encode in fewer. The
// coalescer uses this to decide whether a packet fits before calling
// Seal, per spec.md §4.4 step 2 ("compute an upper bound on sealed size").
func SealedLen(st *elstate.State, pkt Packet) (int, error) {
	if !st.Ready() {
		return 0, errs.ErrNoKeys
	}
	tagLen := st.Params().TagLen
	hdrLen := estimateHeaderLen(pkt.Header)
	return hdrLen + pkt.payloadLen() + tagLen, nil
}

// estimateHeaderLen bounds the serialized header length without
// encoding it: 1 (flags) + [4 (version) + 1+len(DCID) + 1+len(SCID) +
// varint(token) + token + varint(length)] for long headers, or
// 1 + len(DCID) for short headers, plus pn_len in both cases.
func estimateHeaderLen(h wire.Header) int {
	if h.Type == wire.OneRTT {
		return 1 + len(h.DCID) + h.PNLen
	}
	n := 1 + 4 + 1 + len(h.DCID) + 1 + len(h.SCID) + h.PNLen
	if h.Type == wire.Initial {
		n += varintLen(uint64(len(h.Token))) + len(h.Token)
	}
	// length field varint: sized generously at encode time since the
	// caller only needs an upper bound here, not the exact value.
	n += 4
	return n
}

func varintLen(v uint64) int {
	switch {
	case v <= 63:
		return 1
	case v <= 16383:
		return 2
	case v <= 1073741823:
		return 4
	default:
		return 8
	}
}

// Seal appends one fully sealed packet to dst and returns the extended
// slice together with the number of bytes appended. The spare capacity
// of dst (cap(dst)-len(dst)) must already hold the whole sealed packet:
// Seal never grows dst and fails with ErrBufferTooSmall otherwise. The
// caller, i.e. the coalescer, is responsible for having already
// verified the budget.
//
// On any error, dst is left exactly as it was passed in: every
// validation that can fail happens before the first byte is written.
func Seal(dst []byte, st *elstate.State, pkt Packet) ([]byte, int, error) {
	if pkt.Header.PNLen < 1 || pkt.Header.PNLen > 4 {
		return dst, 0, errs.ErrBadPacketShape
	}

	// PeekSeal performs the readiness/exhaustion checks but does not
	// mutate any state: a key update's promotion from next -> current
	// only happens via CommitSeal, once every validation below has
	// passed and the packet is guaranteed to be sealed.
	material, err := st.PeekSeal()
	if err != nil {
		return dst, 0, err
	}

	payloadLen := pkt.payloadLen()
	tagLen := material.AEAD.Overhead()
	if payloadLen+tagLen < hpSampleMinLen {
		return dst, 0, errs.ErrBadPacketShape
	}

	base := len(dst)

	hdr, pnOffset, err := wire.Finalize(pkt.Header, pkt.PN, material.KeyPhase, payloadLen+tagLen)
	if err != nil {
		return dst, 0, fmt.Errorf("seal: finalize header: %w", err)
	}

	if cap(dst)-base < len(hdr)+payloadLen+tagLen {
		return dst, 0, errs.ErrBufferTooSmall
	}

	nonce := nonceFor(material.Keys.IV, pkt.PN)

	plaintext := joinIovecs(pkt.Payload, payloadLen)

	out := append(dst, hdr...)
	out = material.AEAD.Seal(out, nonce, plaintext, hdr)

	sampleStart := base + pnOffset + 4
	sample := out[sampleStart : sampleStart+16]
	mask, err := st.Params().HPMask(material.Keys.HP, sample)
	if err != nil {
		return dst, 0, fmt.Errorf("seal: hp mask: %w", err)
	}

	firstByteIdx := base
	if pkt.Header.Type == wire.OneRTT {
		out[firstByteIdx] ^= mask[0] & 0x1f
	} else {
		out[firstByteIdx] ^= mask[0] & 0x0f
	}
	pnAbs := base + pnOffset
	for i := 0; i < pkt.Header.PNLen; i++ {
		out[pnAbs+i] ^= mask[1+i]
	}

	// Everything that could fail has happened; commit the key update
	// (if any was pending) and the epoch accounting together.
	st.CommitSeal()
	st.AccountSealed()

	log.Debug("packet sealed",
		log.String("level", st.Level().String()),
		log.Uint64("pn", pkt.PN),
		log.Int("len", len(out)-base),
		log.Uint64("epoch_pkt_count", st.EpochPktCount()),
	)

	return out, len(out) - base, nil
}

// nonceFor derives nonce = iv XOR (0^(ivlen-8) || BE64(pn)), per
// spec.md §4.2 step 2.
func nonceFor(iv []byte, pn uint64) []byte {
	nonce := make([]byte, len(iv))
	copy(nonce, iv)
	for i := 0; i < 8 && i < len(nonce); i++ {
		shift := uint(8 * i)
		nonce[len(nonce)-1-i] ^= byte(pn >> shift)
	}
	return nonce
}

// joinIovecs copies every iovec into one contiguous plaintext buffer.
// This is the single copy spec.md §4.2 step 3 calls for: payload bytes
// move directly from the caller's iovecs into the buffer that becomes
// the AEAD's plaintext input, with no further intermediate buffer
// before the ciphertext is written into the output datagram.
func joinIovecs(iovecs [][]byte, total int) []byte {
	if len(iovecs) == 1 {
		return iovecs[0]
	}
	buf := make([]byte, 0, total)
	for _, v := range iovecs {
		buf = append(buf, v...)
	}
	return buf
}
