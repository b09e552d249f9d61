// Package zero provides secure memory zeroing for sensitive key
// material, adapted from the teacher's internal/crypto/zeroing.go.
package zero

import "crypto/subtle"

// Bytes overwrites a byte slice with zeros to prevent sensitive data
// from persisting in memory. Go's garbage collector and the compiler
// can in principle still retain copies, but this reduces the window
// during which key material is recoverable from a process's memory.
//
// subtle.ConstantTimeCopy is used instead of a plain loop so the
// compiler cannot prove the write is dead and elide it.
func Bytes(b []byte) {
	if len(b) == 0 {
		return
	}
	zeros := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zeros)
}

// Multiple zeros each of the given byte slices.
func Multiple(slices ...[]byte) {
	for _, s := range slices {
		Bytes(s)
	}
}
