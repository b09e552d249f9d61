// Package suite provides the QTX cipher suite registry: for each
// registered AEAD it holds the key/IV/HP key sizes, the tag size, and
// the per-epoch packet limit, and it constructs the crypto.AEAD and
// header-protection primitives for a given suite.
//
// This is audit-critical code: the constants here directly determine
// interoperability with peers and the security margin of each suite.
package suite

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"
)

// ID identifies a registered AEAD ciphersuite.
type ID int

const (
	AES128GCM ID = iota
	AES256GCM
	ChaCha20Poly1305
)

func (id ID) String() string {
	switch id {
	case AES128GCM:
		return "AES-128-GCM"
	case AES256GCM:
		return "AES-256-GCM"
	case ChaCha20Poly1305:
		return "ChaCha20-Poly1305"
	default:
		return "unknown"
	}
}

// Params describes the fixed, suite-determined sizes and limits that
// govern key derivation, sealing, and epoch accounting for one AEAD.
type Params struct {
	ID              ID
	KeyLen          int
	IVLen           int // always 12 for the registered suites
	HPKeyLen        int
	TagLen          int // always 16 for the registered suites
	MaxPktsPerEpoch uint64
	Hash            func() hash.Hash // HKDF hash for this suite, per RFC 9001 Table 1
}

// registry maps each supported suite to its parameters. AES-128-GCM and
// ChaCha20-Poly1305 use SHA-256 for key schedule; AES-256-GCM uses
// SHA-384, per RFC 9001 Table 1 / RFC 8446 Appendix B.4.
var registry = map[ID]Params{
	AES128GCM: {
		ID: AES128GCM, KeyLen: 16, IVLen: 12, HPKeyLen: 16, TagLen: 16,
		MaxPktsPerEpoch: 1 << 23, // RFC 9001 §6.6, AEAD_AES_128_GCM confidentiality limit
		Hash:            sha256.New,
	},
	AES256GCM: {
		ID: AES256GCM, KeyLen: 32, IVLen: 12, HPKeyLen: 32, TagLen: 16,
		MaxPktsPerEpoch: 1 << 23,
		Hash:            sha512.New384,
	},
	ChaCha20Poly1305: {
		ID: ChaCha20Poly1305, KeyLen: 32, IVLen: 12, HPKeyLen: 32, TagLen: 16,
		MaxPktsPerEpoch: (1 << 62) - 1, // RFC 9001 §6.6, ChaCha20-Poly1305 has no meaningful confidentiality limit
		Hash:            sha256.New,
	},
}

// Lookup returns the Params for a registered suite ID.
func Lookup(id ID) (Params, error) {
	p, ok := registry[id]
	if !ok {
		return Params{}, fmt.Errorf("suite: unregistered suite id %d", id)
	}
	return p, nil
}

// Keys holds the three secrets derived for one encryption level: the
// AEAD key and IV, and the header-protection key. All three are
// suite-length byte vectors, owned exclusively by the EL that derived
// them and zeroized on discard or replacement.
type Keys struct {
	Key []byte
	IV  []byte
	HP  []byte
}

// AEAD constructs the cipher.AEAD for this suite from a Keys value.
func (p Params) AEAD(k *Keys) (cipher.AEAD, error) {
	switch p.ID {
	case AES128GCM, AES256GCM:
		block, err := aes.NewCipher(k.Key)
		if err != nil {
			return nil, fmt.Errorf("suite: aes.NewCipher: %w", err)
		}
		return cipher.NewGCM(block)
	case ChaCha20Poly1305:
		return chacha20poly1305.New(k.Key)
	default:
		return nil, fmt.Errorf("suite: unregistered suite id %d", p.ID)
	}
}

// HPMask computes the 5-byte header-protection mask from a 16-byte
// ciphertext sample, per RFC 9001 §5.4.3/§5.4.4.
//
//   - AES suites: mask = AES-ECB(hp_key, sample) — a single raw block
//     encryption, not a streaming mode, matching RFC 9001's "ecb_encrypt"
//     framing exactly.
//   - ChaCha20Poly1305: mask = first 5 bytes of the ChaCha20 keystream
//     with counter = sample[0:4] (LE) and nonce = sample[4:16].
func (p Params) HPMask(hpKey, sample []byte) ([]byte, error) {
	if len(sample) != 16 {
		return nil, fmt.Errorf("suite: hp sample must be 16 bytes, got %d", len(sample))
	}
	switch p.ID {
	case AES128GCM, AES256GCM:
		block, err := aes.NewCipher(hpKey)
		if err != nil {
			return nil, fmt.Errorf("suite: aes.NewCipher: %w", err)
		}
		mask := make([]byte, aes.BlockSize)
		block.Encrypt(mask, sample)
		return mask[:5], nil
	case ChaCha20Poly1305:
		counter := uint32(sample[0]) | uint32(sample[1])<<8 | uint32(sample[2])<<16 | uint32(sample[3])<<24
		nonce := sample[4:16]
		c, err := chacha20.NewUnauthenticatedCipher(hpKey, nonce)
		if err != nil {
			return nil, fmt.Errorf("suite: chacha20.NewUnauthenticatedCipher: %w", err)
		}
		c.SetCounter(counter)
		mask := make([]byte, 5)
		c.XORKeyStream(mask, mask)
		return mask, nil
	default:
		return nil, fmt.Errorf("suite: unregistered suite id %d", p.ID)
	}
}
