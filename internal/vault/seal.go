package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// sealingKeySize is the AES-256 key length sealed credentials are
// encrypted under.
const sealingKeySize = 32

// Seal encrypts plaintext credentials (e.g. "user:password") under key
// using AES-GCM, returning the nonce-prefixed ciphertext stored at rest.
func Seal(key []byte, plaintext []byte) ([]byte, error) {
	if len(key) != sealingKeySize {
		return nil, fmt.Errorf("sealing key must be %d bytes, got %d", sealingKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("build gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Unseal decrypts a blob produced by Seal. Callers decrypt in memory only
// for the lifetime of the authentication call.
func Unseal(key []byte, blob []byte) ([]byte, error) {
	if len(key) != sealingKeySize {
		return nil, fmt.Errorf("sealing key must be %d bytes, got %d", sealingKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("build gcm: %w", err)
	}
	if len(blob) < gcm.NonceSize() {
		return nil, fmt.Errorf("sealed blob too short")
	}
	nonce, ciphertext := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("unseal: %w", err)
	}
	return plaintext, nil
}

// GenerateKey produces a fresh random AES-256 sealing key, for local
// development only: credentials sealed under a key that is never persisted
// do not survive a process restart.
func GenerateKey() ([]byte, error) {
	key := make([]byte, sealingKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate sealing key: %w", err)
	}
	return key, nil
}

// DecodeKey parses a base64-encoded sealing key from configuration.
func DecodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode sealing key: %w", err)
	}
	if len(key) != sealingKeySize {
		return nil, fmt.Errorf("sealing key must decode to %d bytes, got %d", sealingKeySize, len(key))
	}
	return key, nil
}
