package crypto

import (
	"crypto/cipher"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/allisson/fieldcrypt/internal/errors"
)

// ChaCha20Poly1305Cipher implements the AEAD interface using ChaCha20-Poly1305.
//
// ChaCha20-Poly1305 combines the ChaCha20 stream cipher with the Poly1305 MAC
// and is particularly efficient on platforms without hardware AES acceleration.
type ChaCha20Poly1305Cipher struct {
	aead cipher.AEAD
}

// NewChaCha20Poly1305 creates a new ChaCha20-Poly1305 cipher instance. The key
// must be exactly KeyLen (32) bytes.
func NewChaCha20Poly1305(key []byte) (*ChaCha20Poly1305Cipher, error) {
	if len(key) != KeyLen {
		return nil, errInvalidKeySize
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCrypto, "failed to create ChaCha20-Poly1305 cipher")
	}

	return &ChaCha20Poly1305Cipher{aead: aead}, nil
}

// Seal encrypts plaintext under nonce with the Poly1305 tag appended.
func (c *ChaCha20Poly1305Cipher) Seal(nonce, plaintext []byte) ([]byte, error) {
	if len(nonce) != c.aead.NonceSize() {
		return nil, errInvalidNonceSize
	}
	return c.aead.Seal(nil, nonce, plaintext, nil), nil
}

// Open authenticates and decrypts ciphertext produced by Seal.
func (c *ChaCha20Poly1305Cipher) Open(nonce, ciphertext []byte) ([]byte, error) {
	if len(nonce) != c.aead.NonceSize() {
		return nil, errInvalidNonceSize
	}
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCrypto, "failed to decrypt")
	}
	return plaintext, nil
}

// NonceSize returns the ChaCha20-Poly1305 nonce length (12 bytes).
func (c *ChaCha20Poly1305Cipher) NonceSize() int {
	return c.aead.NonceSize()
}
