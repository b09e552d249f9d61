// Package elstate holds the per-encryption-level record of keys, key
// phase, and epoch packet counter that the QTX facade looks up before
// sealing every packet.
//
// This is grounded on the teacher's internal/volume/context.go
// (OperationContext as a single-owner mutable struct carrying
// cryptographic state through a pipeline) and internal/crypto/cipher.go
// (CipherSuite owning the live AEAD and being the sole authority that
// zeroizes its key on Close).
package elstate

import (
	"crypto/cipher"
	"fmt"

	"qtxng/internal/errs"
	"qtxng/internal/keys"
	"qtxng/internal/suite"
	"qtxng/internal/zero"
)

// Level is one of the four QUIC encryption levels.
type Level int

const (
	Initial Level = iota
	Handshake
	ZeroRTT
	OneRTT
)

func (l Level) String() string {
	switch l {
	case Initial:
		return "Initial"
	case Handshake:
		return "Handshake"
	case ZeroRTT:
		return "0-RTT"
	case OneRTT:
		return "1-RTT"
	default:
		return "unknown"
	}
}

// State is the per-EL record described by spec.md §3's ELState. Only
// OneRTT ever populates next (after a key update is triggered and
// before the first packet using the new phase is sealed).
type State struct {
	level  Level
	params suite.Params

	provisioned bool
	discarded   bool
	exhausted   bool

	current       *suite.Keys
	currentAEAD   cipher.AEAD
	currentSecret []byte // traffic secret current was derived from; OneRTT only

	next       *suite.Keys
	nextAEAD   cipher.AEAD
	nextSecret []byte

	keyPhase      byte
	epochPktCount uint64
}

// New creates an unprovisioned ELState for the given level.
func New(level Level) *State {
	return &State{level: level}
}

// Level returns the encryption level this state belongs to.
func (s *State) Level() Level { return s.level }

// Discarded reports whether DiscardEncLevel has been called.
func (s *State) Discarded() bool { return s.discarded }

// Ready reports whether the level currently holds usable keys.
func (s *State) Ready() bool { return s.provisioned && !s.discarded }

// Provision derives and installs keys for this level from a traffic
// secret (the provide_secret entry point). It may be called at most
// once per EL's lifetime.
func (s *State) Provision(p suite.Params, secret []byte) error {
	if s.discarded {
		return errs.ErrAlreadyDiscarded
	}
	if s.provisioned {
		return errs.ErrAlreadyProvisioned
	}
	if len(secret) != p.Hash().Size() {
		return errs.ErrBadSecretLen
	}

	k, err := keys.DeriveELKeys(p, secret)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrBadSecretLen, err)
	}
	aead, err := p.AEAD(k)
	if err != nil {
		return fmt.Errorf("elstate: building aead: %w", err)
	}

	s.params = p
	s.current = k
	s.currentAEAD = aead
	s.currentSecret = append([]byte(nil), secret...)
	s.provisioned = true
	return nil
}

// Discard zeroizes all key material for this level and marks it
// permanently unusable. It is idempotent.
func (s *State) Discard() {
	if s.discarded {
		return
	}
	s.zeroizeCurrent()
	s.zeroizeNext()
	s.discarded = true
}

func (s *State) zeroizeCurrent() {
	if s.current != nil {
		zero.Multiple(s.current.Key, s.current.IV, s.current.HP)
		s.current = nil
	}
	zero.Bytes(s.currentSecret)
	s.currentSecret = nil
	s.currentAEAD = nil
}

func (s *State) zeroizeNext() {
	if s.next != nil {
		zero.Multiple(s.next.Key, s.next.IV, s.next.HP)
		s.next = nil
	}
	zero.Bytes(s.nextSecret)
	s.nextSecret = nil
	s.nextAEAD = nil
}

// Params returns the suite parameters this level was provisioned with.
// Only valid after a successful Provision.
func (s *State) Params() suite.Params { return s.params }

// TriggerKeyUpdate implements spec.md §4.3. prereqMet must be supplied
// by the caller (the qtx facade), since only it knows whether the
// Initial and Handshake levels have both been discarded — a single
// ELState has no visibility into its siblings.
func (s *State) TriggerKeyUpdate(prereqMet bool) error {
	if s.level != OneRTT {
		return errs.ErrWrongLevel
	}
	if !s.provisioned || s.discarded {
		return errs.ErrNoKeys
	}
	if s.next != nil {
		return errs.ErrUpdateInFlight
	}
	if !prereqMet {
		return errs.ErrPrereqNotMet
	}

	nextSecret, err := keys.DeriveNextSecret(s.params, s.currentSecret)
	if err != nil {
		return fmt.Errorf("elstate: deriving next secret: %w", err)
	}
	nextKeys, err := keys.DeriveELKeys(s.params, nextSecret)
	if err != nil {
		return fmt.Errorf("elstate: deriving next keys: %w", err)
	}
	nextAEAD, err := s.params.AEAD(nextKeys)
	if err != nil {
		return fmt.Errorf("elstate: building next aead: %w", err)
	}

	s.next = nextKeys
	s.nextAEAD = nextAEAD
	s.nextSecret = nextSecret
	s.keyPhase ^= 1
	return nil
}

// SealMaterial is the keying material and bookkeeping the sealer needs
// for exactly one packet.
type SealMaterial struct {
	Keys     *suite.Keys
	AEAD     cipher.AEAD
	KeyPhase byte
}

// PeekSeal returns the keying material that would be used to seal the
// next packet at this level, without mutating any state. If a key
// update is pending, it reports the pending (next) keys together with
// the already-flipped key phase, since spec.md §4.3 flips key_phase at
// trigger time and only promotes next -> current once a packet
// actually using it is sealed. Callers must call CommitSeal after
// successfully sealing with this material.
func (s *State) PeekSeal() (SealMaterial, error) {
	if !s.provisioned || s.discarded {
		return SealMaterial{}, errs.ErrNoKeys
	}
	if s.exhausted {
		return SealMaterial{}, errs.ErrEpochExhausted
	}

	if s.next != nil {
		return SealMaterial{Keys: s.next, AEAD: s.nextAEAD, KeyPhase: s.keyPhase}, nil
	}
	return SealMaterial{Keys: s.current, AEAD: s.currentAEAD, KeyPhase: s.keyPhase}, nil
}

// CommitSeal promotes a pending key update (next -> current) if one was
// used by the packet that just finished sealing successfully. It is a
// no-op when no key update is pending. This is the "moment" spec.md
// §4.3 describes: "current <- next, next <- None, epoch_pkt_count <- 0".
func (s *State) CommitSeal() {
	if s.next == nil {
		return
	}
	s.zeroizeCurrent()
	s.current = s.next
	s.currentAEAD = s.nextAEAD
	s.currentSecret = s.nextSecret
	s.next = nil
	s.nextAEAD = nil
	s.nextSecret = nil
	s.epochPktCount = 0
}

// AccountSealed records that one packet was successfully sealed at this
// level. Once the post-increment count reaches the suite's limit, the
// level is marked exhausted: the packet that reached the limit is still
// emitted (it is the last legal one), but every subsequent PeekSeal call
// fails with ErrEpochExhausted.
func (s *State) AccountSealed() {
	s.epochPktCount++
	if s.epochPktCount >= s.params.MaxPktsPerEpoch {
		s.exhausted = true
	}
}

// EpochPktCount returns the current epoch packet count, or the
// sentinel math.MaxUint64 if the level was never provisioned.
func (s *State) EpochPktCount() uint64 {
	if !s.provisioned {
		return sentinelU64
	}
	return s.epochPktCount
}

// MaxEpochPktCount returns the suite's per-epoch packet limit, or the
// sentinel math.MaxUint64 if the level was never provisioned.
func (s *State) MaxEpochPktCount() uint64 {
	if !s.provisioned {
		return sentinelU64
	}
	return s.params.MaxPktsPerEpoch
}

const sentinelU64 = ^uint64(0)
