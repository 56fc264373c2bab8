package crypto

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/allisson/fieldcrypt/internal/errors"
)

// AESGCMCipher implements the AEAD interface using AES-256-GCM
// (Advanced Encryption Standard with Galois/Counter Mode).
//
// The cipher instance is stateless and safe for concurrent use from multiple
// goroutines. The nonce is supplied by the caller: random encryption draws it
// from crypto/rand, deterministic encryption derives it from the key and
// plaintext.
type AESGCMCipher struct {
	aead cipher.AEAD
}

// NewAESGCM creates a new AES-256-GCM cipher instance. The key must be exactly
// KeyLen (32) bytes.
func NewAESGCM(key []byte) (*AESGCMCipher, error) {
	if len(key) != KeyLen {
		return nil, errInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCrypto, "failed to create AES cipher")
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCrypto, "failed to create GCM")
	}

	return &AESGCMCipher{aead: aead}, nil
}

// Seal encrypts plaintext under nonce with the authentication tag appended.
func (a *AESGCMCipher) Seal(nonce, plaintext []byte) ([]byte, error) {
	if len(nonce) != a.aead.NonceSize() {
		return nil, errInvalidNonceSize
	}
	return a.aead.Seal(nil, nonce, plaintext, nil), nil
}

// Open authenticates and decrypts ciphertext produced by Seal.
func (a *AESGCMCipher) Open(nonce, ciphertext []byte) ([]byte, error) {
	if len(nonce) != a.aead.NonceSize() {
		return nil, errInvalidNonceSize
	}
	plaintext, err := a.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCrypto, "failed to decrypt")
	}
	return plaintext, nil
}

// NonceSize returns the GCM nonce length (12 bytes).
func (a *AESGCMCipher) NonceSize() int {
	return a.aead.NonceSize()
}
