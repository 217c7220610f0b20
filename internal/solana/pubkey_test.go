package solana

import (
	"crypto/ed25519"
	"crypto/sha256"
	"testing"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

func TestDecodePublicKey(t *testing.T) {
	if _, err := DecodePublicKey("So11111111111111111111111111111111111111112"); err != nil {
		t.Errorf("wrapped SOL mint should decode: %v", err)
	}
	if _, err := DecodePublicKey(""); err == nil {
		t.Error("expected error for empty key")
	}
	if _, err := DecodePublicKey("0OIl"); err == nil {
		t.Error("expected error for non-base58 input")
	}
	if _, err := DecodePublicKey("abc"); err == nil {
		t.Error("expected error for short key")
	}
}

func TestIsOnCurve(t *testing.T) {
	pub := ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize)).Public().(ed25519.PublicKey)
	if !IsOnCurve(base58.Encode(pub)) {
		t.Error("ed25519 public key should be on curve")
	}

	// Find a 32-byte string that is not a valid point.
	var off []byte
	for i := 0; i < 256; i++ {
		h := sha256.Sum256([]byte{byte(i)})
		if _, err := new(edwards25519.Point).SetBytes(h[:]); err != nil {
			off = h[:]
			break
		}
	}
	if off == nil {
		t.Fatal("no off-curve candidate found")
	}
	if IsOnCurve(base58.Encode(off)) {
		t.Error("off-curve bytes reported as on curve")
	}

	if IsOnCurve("not-a-key") {
		t.Error("invalid key reported as on curve")
	}
}
