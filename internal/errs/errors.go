// Package errs provides typed errors for the QTX record layer.
// This enables callers to use errors.Is()/errors.As() for specific error handling.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors for the conditions named by the QTX contract.
// Use errors.Is(err, errs.ErrNoKeys) to check for a specific condition.
var (
	// Configuration errors.
	ErrAlreadyProvisioned = errors.New("encryption level already provisioned")
	ErrAlreadyDiscarded   = errors.New("encryption level already discarded")
	ErrBadSecretLen       = errors.New("secret length does not match hash output size")
	ErrMDPLTooSmall       = errors.New("mdpl below suite minimum")

	// Precondition errors.
	ErrNoKeys        = errors.New("encryption level has no provisioned keys")
	ErrWrongLevel    = errors.New("key update attempted on a level other than 1-RTT")
	ErrUpdateInFlight = errors.New("key update already pending")
	ErrPrereqNotMet  = errors.New("initial and handshake levels must be discarded first")
	ErrSinkMissing   = errors.New("no sink installed")

	// Packet-shape errors.
	ErrBadPacketShape = errors.New("packet number length or sample room invalid")
	ErrPacketTooLarge = errors.New("sealed packet exceeds mdpl even in an empty datagram")

	// Exhaustion errors.
	ErrEpochExhausted = errors.New("epoch packet limit reached; level is permanently unusable")

	// Buffering errors.
	ErrBufferTooSmall = errors.New("insufficient coalescing space before sealing")
)

// PacketError wraps a failure from write_pkt with the operation and
// encryption level that produced it, so callers can log structured
// context without parsing error strings.
type PacketError struct {
	Op string // "seal", "coalesce", "finalize_header"
	EL string // the EncLevel name the failure occurred at
	Err error
}

func (e *PacketError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("qtx %s at %s: %v", e.Op, e.EL, e.Err)
	}
	return fmt.Sprintf("qtx %s at %s failed", e.Op, e.EL)
}

func (e *PacketError) Unwrap() error {
	return e.Err
}

// NewPacketError creates a new PacketError.
func NewPacketError(op, el string, err error) *PacketError {
	return &PacketError{Op: op, EL: el, Err: err}
}
