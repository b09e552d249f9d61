package main

import (
	"encoding/hex"
	"fmt"

	"qtxng/internal/suite"
)

func parseSuite(name string) (suite.ID, error) {
	switch name {
	case "aes128gcm":
		return suite.AES128GCM, nil
	case "aes256gcm":
		return suite.AES256GCM, nil
	case "chacha20poly1305":
		return suite.ChaCha20Poly1305, nil
	default:
		return 0, fmt.Errorf("unknown suite %q (want aes128gcm, aes256gcm, or chacha20poly1305)", name)
	}
}

func parseHex(name, s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return b, nil
}
