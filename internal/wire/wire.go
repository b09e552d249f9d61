// Package wire supplies the header and packet-number encoding that
// spec.md treats as an external pure function ("hdr_encode"/"pn_encode"
// ... assumed to be a pure function implemented elsewhere"). Nothing
// else in this module provides it, so this package implements it
// from scratch against RFC 9000 §16 (variable-length integers) and
// §17 (packet header formats), cross-checked against the long/short
// header framing idiom in the Go standard library's experimental
// net/quic implementation (read, not copied, from
// other_examples/49e73f53_AlexanderYastrebov-net__internal-quic-conn_send.go.go).
//
// Per the redesign note in spec.md §9, Finalize takes the header by
// value and returns the bytes to serialize; it never mutates its
// input, unlike the historical in-place scratch-field mutation the
// note calls out.
package wire

import "fmt"

// PacketType identifies which of the four packet header shapes to
// encode.
type PacketType int

const (
	Initial PacketType = iota
	ZeroRTT
	Handshake
	OneRTT
)

// Header carries everything needed to serialize a packet header, other
// than the packet number and key phase (passed separately to Finalize
// since both may be adjusted by the sealer at the moment of sealing).
type Header struct {
	Type    PacketType
	DCID    []byte
	SCID    []byte // long-header only
	Version uint32 // long-header only
	Token   []byte // Initial only
	PNLen   int    // 1..4, caller-owned: the sealer never changes this
	SpinBit bool   // 1-RTT only, caller input
}

// EncodeVarint encodes v as a QUIC variable-length integer (RFC 9000
// §16): the two most-significant bits of the first byte select a
// 1/2/4/8-byte encoding.
func EncodeVarint(v uint64) ([]byte, error) {
	switch {
	case v <= 63:
		return []byte{byte(v)}, nil
	case v <= 16383:
		return []byte{0x40 | byte(v>>8), byte(v)}, nil
	case v <= 1073741823:
		return []byte{
			0x80 | byte(v>>24), byte(v >> 16), byte(v >> 8), byte(v),
		}, nil
	case v <= 4611686018427387903:
		return []byte{
			0xC0 | byte(v>>56), byte(v >> 48), byte(v >> 40), byte(v >> 32),
			byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v),
		}, nil
	default:
		return nil, fmt.Errorf("wire: %d exceeds varint range", v)
	}
}

// encodePN truncates pn to the caller-owned pnLen, big-endian, per
// RFC 9000 §17.1.
func encodePN(pn uint64, pnLen int) ([]byte, error) {
	if pnLen < 1 || pnLen > 4 {
		return nil, fmt.Errorf("wire: pn_len %d out of range", pnLen)
	}
	out := make([]byte, pnLen)
	for i := 0; i < pnLen; i++ {
		out[pnLen-1-i] = byte(pn >> (8 * i))
	}
	return out, nil
}

// Finalize encodes the header bytes that precede the ciphertext,
// per spec.md §6's wire format and §4.2 step 1. It returns the encoded
// bytes H and the byte offset within H at which the truncated packet
// number field begins (pnOffset), which the sealer needs to locate the
// header-protection sample and apply the HP mask.
//
// payloadAndTagLen is the plaintext payload length plus the suite's tag
// length; it is only consulted for long-header packets, whose explicit
// Length field is written as pn_len + payloadAndTagLen (pn_len + payload
// + tag, per spec.md §4.2 step 1).
func Finalize(h Header, pn uint64, keyPhase byte, payloadAndTagLen int) (hdr []byte, pnOffset int, err error) {
	if h.PNLen < 1 || h.PNLen > 4 {
		return nil, 0, fmt.Errorf("wire: pn_len %d out of range", h.PNLen)
	}

	pnBytes, err := encodePN(pn, h.PNLen)
	if err != nil {
		return nil, 0, err
	}

	if h.Type == OneRTT {
		return finalizeShort(h, keyPhase, pnBytes)
	}
	return finalizeLong(h, pnBytes, payloadAndTagLen)
}

func finalizeLong(h Header, pnBytes []byte, payloadAndTagLen int) ([]byte, int, error) {
	if len(h.DCID) > 255 || len(h.SCID) > 255 {
		return nil, 0, fmt.Errorf("wire: connection id too long")
	}

	var firstByte byte
	switch h.Type {
	case Initial:
		firstByte = 0xC0
	case Handshake:
		firstByte = 0xD0
	case ZeroRTT:
		firstByte = 0xE0
	default:
		return nil, 0, fmt.Errorf("wire: unknown long-header packet type %d", h.Type)
	}
	firstByte |= byte(h.PNLen - 1)

	buf := make([]byte, 0, 7+len(h.DCID)+len(h.SCID)+len(h.Token)+len(pnBytes))
	buf = append(buf, firstByte)
	buf = append(buf, byte(h.Version>>24), byte(h.Version>>16), byte(h.Version>>8), byte(h.Version))
	buf = append(buf, byte(len(h.DCID)))
	buf = append(buf, h.DCID...)
	buf = append(buf, byte(len(h.SCID)))
	buf = append(buf, h.SCID...)

	if h.Type == Initial {
		tokenLen, err := EncodeVarint(uint64(len(h.Token)))
		if err != nil {
			return nil, 0, err
		}
		buf = append(buf, tokenLen...)
		buf = append(buf, h.Token...)
	}

	length := len(pnBytes) + payloadAndTagLen
	lengthBytes, err := EncodeVarint(uint64(length))
	if err != nil {
		return nil, 0, err
	}
	buf = append(buf, lengthBytes...)

	pnOffset := len(buf)
	buf = append(buf, pnBytes...)

	return buf, pnOffset, nil
}

func finalizeShort(h Header, keyPhase byte, pnBytes []byte) ([]byte, int, error) {
	// 0 1 S R R K pp, per RFC 9000 §17.3.1: fixed bit, spin bit, two
	// reserved bits (protected, always encoded zero), key phase, pn len.
	firstByte := byte(0x40)
	if h.SpinBit {
		firstByte |= 0x20
	}
	if keyPhase&1 == 1 {
		firstByte |= 0x04
	}
	firstByte |= byte(h.PNLen - 1)

	buf := make([]byte, 0, 1+len(h.DCID)+len(pnBytes))
	buf = append(buf, firstByte)
	buf = append(buf, h.DCID...)
	pnOffset := len(buf)
	buf = append(buf, pnBytes...)

	return buf, pnOffset, nil
}
