package solana

import (
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// PublicKeyLength is the size of a decoded Solana public key.
const PublicKeyLength = 32

// DecodePublicKey decodes a base58 address and checks its length.
func DecodePublicKey(address string) ([]byte, error) {
	if address == "" {
		return nil, fmt.Errorf("empty public key")
	}
	raw, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("decode base58 %q: %w", address, err)
	}
	if len(raw) != PublicKeyLength {
		return nil, fmt.Errorf("public key %q has %d bytes, want %d", address, len(raw), PublicKeyLength)
	}
	return raw, nil
}

// IsOnCurve reports whether address is a valid ed25519 point, i.e. a key
// that can sign. Program derived addresses are off-curve by construction.
func IsOnCurve(address string) bool {
	raw, err := DecodePublicKey(address)
	if err != nil {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(raw)
	return err == nil
}
