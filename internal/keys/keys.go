// Package keys implements the QUIC key schedule (RFC 9001 §5.1): given a
// traffic secret, it derives the packet-protection key, IV, and header
// protection key via HKDF-Expand-Label (RFC 8446 §7.1), and it derives
// the next traffic secret for a key update (RFC 9001 §6).
//
// This mirrors the teacher's own wrapping of golang.org/x/crypto/hkdf
// (internal/crypto/kdf.go's NewHKDFStream) but expands with explicit
// TLS 1.3 labels instead of a sequential subkey stream, since QUIC's
// key schedule is HKDF-Expand-Label, not a raw HKDF-Expand reader.
package keys

import (
	"encoding/binary"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/hkdf"

	"qtxng/internal/suite"
)

// hkdfExpandLabel implements RFC 8446 §7.1's HkdfExpandLabel construction:
// it builds the "tls13 "-prefixed HkdfLabel structure and calls
// HKDF-Expand with it as the `info` parameter.
func hkdfExpandLabel(hashFn func() hash.Hash, secret []byte, label string, length int) ([]byte, error) {
	fullLabel := "tls13 " + label

	info := make([]byte, 0, 2+1+len(fullLabel)+1)
	info = binary.BigEndian.AppendUint16(info, uint16(length))
	info = append(info, byte(len(fullLabel)))
	info = append(info, fullLabel...)
	info = append(info, 0) // empty Context

	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.Expand(hashFn, secret, info), out); err != nil {
		return nil, fmt.Errorf("keys: hkdf expand label %q: %w", label, err)
	}
	return out, nil
}

// DeriveELKeys derives quic_key, quic_iv, and quic_hp from a traffic
// secret per RFC 9001 §5.1. It fails if secret's length does not equal
// the hash output length for the suite's HKDF hash, since an
// HKDF-Expand-Label call against a secret of the wrong size silently
// produces keys that will not interoperate with a peer using the
// correctly-sized secret.
func DeriveELKeys(p suite.Params, secret []byte) (*suite.Keys, error) {
	if len(secret) != p.Hash().Size() {
		return nil, fmt.Errorf("keys: secret is %d bytes, want %d for %s", len(secret), p.Hash().Size(), p.ID)
	}

	key, err := hkdfExpandLabel(p.Hash, secret, "quic key", p.KeyLen)
	if err != nil {
		return nil, err
	}
	iv, err := hkdfExpandLabel(p.Hash, secret, "quic iv", p.IVLen)
	if err != nil {
		return nil, err
	}
	hp, err := hkdfExpandLabel(p.Hash, secret, "quic hp", p.HPKeyLen)
	if err != nil {
		return nil, err
	}

	return &suite.Keys{Key: key, IV: iv, HP: hp}, nil
}

// DeriveNextSecret derives the next generation's traffic secret from
// the current one, per RFC 9001 §6's "quic ku" label. The output is the
// same length as the input secret (both are hash-output-sized).
func DeriveNextSecret(p suite.Params, secret []byte) ([]byte, error) {
	if len(secret) != p.Hash().Size() {
		return nil, fmt.Errorf("keys: secret is %d bytes, want %d for %s", len(secret), p.Hash().Size(), p.ID)
	}
	return hkdfExpandLabel(p.Hash, secret, "quic ku", p.Hash().Size())
}
