package keyvault

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Vault seals agent signer keys at rest with XChaCha20-Poly1305. Each seal
// draws a fresh random nonce, prepended to the ciphertext; the whole blob
// is base64 for column storage.
type Vault struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

// New builds a vault from the hex-encoded 32-byte HOSTED_ENCRYPTION_KEY.
func New(hexKey string) (*Vault, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext and returns an opaque storable string.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt.
func (v *Vault) Decrypt(opaque string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(opaque)
	if err != nil {
		return "", fmt.Errorf("decode sealed key: %w", err)
	}
	if len(blob) < chacha20poly1305.NonceSizeX {
		return "", fmt.Errorf("sealed key too short")
	}
	nonce, ciphertext := blob[:chacha20poly1305.NonceSizeX], blob[chacha20poly1305.NonceSizeX:]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("open sealed key: %w", err)
	}
	return string(plaintext), nil
}
