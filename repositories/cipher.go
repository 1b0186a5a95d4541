package repositories

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	"hire-chat/errors"
)

const sealedPrefix = "ENC:"

// BodyCipher seals message bodies at rest with XChaCha20-Poly1305.
// The zero value stores bodies as they are.
type BodyCipher struct {
	aead cipher.AEAD
}

// NewBodyCipher takes a base64 encoded 32 byte key. An empty key disables encryption.
func NewBodyCipher(key string) (BodyCipher, error) {
	if key == "" {
		return BodyCipher{}, nil
	}
	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil || len(raw) != chacha20poly1305.KeySize {
		return BodyCipher{}, fmt.Errorf("%w: encryption key must be %d base64 encoded bytes", errors.ErrValidation, chacha20poly1305.KeySize)
	}
	aead, err := chacha20poly1305.NewX(raw)
	if err != nil {
		return BodyCipher{}, err
	}
	return BodyCipher{aead: aead}, nil
}

func (c BodyCipher) Enabled() bool {
	return c.aead != nil
}

// Seal returns "ENC:" followed by base64(nonce|ciphertext).
func (c BodyCipher) Seal(body string) (string, error) {
	if c.aead == nil || body == "" {
		return body, nil
	}
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(body)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(body), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Plain bodies, and bodies this key cannot open, are returned unchanged.
func (c BodyCipher) Open(stored string) string {
	if c.aead == nil || !strings.HasPrefix(stored, sealedPrefix) {
		return stored
	}
	raw, err := base64.StdEncoding.DecodeString(stored[len(sealedPrefix):])
	if err != nil || len(raw) < c.aead.NonceSize() {
		return stored
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return stored
	}
	return string(plain)
}
