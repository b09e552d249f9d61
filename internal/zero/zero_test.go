package zero

import (
	"bytes"
	"testing"
)

func TestBytesZeroesInPlace(t *testing.T) {
	b := []byte{1, 2, 3, 4, 5}
	Bytes(b)
	if !bytes.Equal(b, make([]byte, 5)) {
		t.Errorf("Bytes left non-zero content: %v", b)
	}
}

func TestBytesHandlesEmptySlice(t *testing.T) {
	Bytes(nil)
	Bytes([]byte{})
}

func TestMultipleZeroesAll(t *testing.T) {
	a := []byte{9, 9}
	b := []byte{8, 8, 8}
	Multiple(a, b)
	if !bytes.Equal(a, make([]byte, 2)) || !bytes.Equal(b, make([]byte, 3)) {
		t.Errorf("Multiple did not zero all slices: a=%v b=%v", a, b)
	}
}
