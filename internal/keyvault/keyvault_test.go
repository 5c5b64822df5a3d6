package keyvault

import (
	"strings"
	"testing"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestSealAndOpen(t *testing.T) {
	v, err := New(testKey)
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}

	secret := "0xdeadbeefcafe0123456789"
	sealed, err := v.Encrypt(secret)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if strings.Contains(sealed, secret) {
		t.Fatalf("ciphertext contains plaintext")
	}

	opened, err := v.Decrypt(sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if opened != secret {
		t.Fatalf("roundtrip mismatch: %q", opened)
	}
}

func TestFreshNoncePerSeal(t *testing.T) {
	v, _ := New(testKey)
	a, _ := v.Encrypt("same plaintext")
	b, _ := v.Encrypt("same plaintext")
	if a == b {
		t.Fatalf("two seals of the same plaintext produced identical blobs")
	}
}

func TestTamperDetected(t *testing.T) {
	v, _ := New(testKey)
	sealed, _ := v.Encrypt("secret")
	// Flip a character in the body.
	tampered := sealed[:len(sealed)-4] + "AAA="
	if _, err := v.Decrypt(tampered); err == nil {
		t.Fatalf("tampered blob decrypted without error")
	}
}

func TestRejectsBadKeys(t *testing.T) {
	if _, err := New("zznothex"); err == nil {
		t.Fatalf("accepted non-hex key")
	}
	if _, err := New("aabb"); err == nil {
		t.Fatalf("accepted short key")
	}
}
