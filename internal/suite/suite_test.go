package suite

import (
	"bytes"
	"testing"
)

func TestLookupKnownSuites(t *testing.T) {
	tests := []struct {
		id          ID
		keyLen      int
		hpKeyLen    int
		tagLen      int
		hashDigest  int
	}{
		{AES128GCM, 16, 16, 16, 32},
		{AES256GCM, 32, 32, 16, 48},
		{ChaCha20Poly1305, 32, 32, 16, 32},
	}

	for _, tt := range tests {
		p, err := Lookup(tt.id)
		if err != nil {
			t.Fatalf("Lookup(%v) failed: %v", tt.id, err)
		}
		if p.KeyLen != tt.keyLen {
			t.Errorf("%v: KeyLen = %d, want %d", tt.id, p.KeyLen, tt.keyLen)
		}
		if p.HPKeyLen != tt.hpKeyLen {
			t.Errorf("%v: HPKeyLen = %d, want %d", tt.id, p.HPKeyLen, tt.hpKeyLen)
		}
		if p.TagLen != tt.tagLen {
			t.Errorf("%v: TagLen = %d, want %d", tt.id, p.TagLen, tt.tagLen)
		}
		if p.IVLen != 12 {
			t.Errorf("%v: IVLen = %d, want 12", tt.id, p.IVLen)
		}
		if got := p.Hash().Size(); got != tt.hashDigest {
			t.Errorf("%v: hash size = %d, want %d", tt.id, got, tt.hashDigest)
		}
	}
}

func TestLookupUnknownSuite(t *testing.T) {
	if _, err := Lookup(ID(99)); err == nil {
		t.Error("Lookup(99) = nil error, want error")
	}
}

func TestAEADRoundTrip(t *testing.T) {
	for _, id := range []ID{AES128GCM, AES256GCM, ChaCha20Poly1305} {
		p, err := Lookup(id)
		if err != nil {
			t.Fatalf("%v: Lookup: %v", id, err)
		}
		key := make([]byte, p.KeyLen)
		for i := range key {
			key[i] = byte(i)
		}
		aead, err := p.AEAD(&Keys{Key: key})
		if err != nil {
			t.Fatalf("%v: AEAD: %v", id, err)
		}
		if aead.Overhead() != p.TagLen {
			t.Errorf("%v: Overhead() = %d, want %d", id, aead.Overhead(), p.TagLen)
		}

		nonce := make([]byte, p.IVLen)
		plaintext := []byte("packet protection payload")
		aad := []byte("header bytes")
		ct := aead.Seal(nil, nonce, plaintext, aad)
		pt, err := aead.Open(nil, nonce, ct, aad)
		if err != nil {
			t.Fatalf("%v: Open: %v", id, err)
		}
		if !bytes.Equal(pt, plaintext) {
			t.Errorf("%v: round trip mismatch", id)
		}
	}
}

func TestHPMaskLengthAndDeterminism(t *testing.T) {
	for _, id := range []ID{AES128GCM, AES256GCM, ChaCha20Poly1305} {
		p, _ := Lookup(id)
		hpKey := make([]byte, p.HPKeyLen)
		for i := range hpKey {
			hpKey[i] = byte(i * 3)
		}
		sample := make([]byte, 16)
		for i := range sample {
			sample[i] = byte(i + 1)
		}

		mask1, err := p.HPMask(hpKey, sample)
		if err != nil {
			t.Fatalf("%v: HPMask: %v", id, err)
		}
		if len(mask1) != 5 {
			t.Fatalf("%v: mask length = %d, want 5", id, len(mask1))
		}
		mask2, err := p.HPMask(hpKey, sample)
		if err != nil {
			t.Fatalf("%v: HPMask (2nd call): %v", id, err)
		}
		if !bytes.Equal(mask1, mask2) {
			t.Errorf("%v: HPMask is not deterministic", id)
		}
	}
}

func TestHPMaskRejectsBadSampleLength(t *testing.T) {
	p, _ := Lookup(AES128GCM)
	hpKey := make([]byte, p.HPKeyLen)
	if _, err := p.HPMask(hpKey, make([]byte, 15)); err == nil {
		t.Error("HPMask with 15-byte sample = nil error, want error")
	}
	if _, err := p.HPMask(hpKey, make([]byte, 17)); err == nil {
		t.Error("HPMask with 17-byte sample = nil error, want error")
	}
}
