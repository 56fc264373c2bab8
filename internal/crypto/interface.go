// Package crypto is the thin façade over the symmetric crypto primitive. It
// turns raw BSON values into ciphertext payloads and back; the blob framing
// around those payloads lives in the ciphertext package.
package crypto

// AEAD is the authenticated-encryption primitive underneath the façade. Unlike
// a stdlib cipher.AEAD it takes the nonce explicitly so that deterministic
// encryption can control it.
type AEAD interface {
	// Seal encrypts plaintext under nonce and returns ciphertext with the
	// authentication tag appended.
	Seal(nonce, plaintext []byte) ([]byte, error)

	// Open authenticates and decrypts ciphertext produced by Seal.
	Open(nonce, ciphertext []byte) ([]byte, error)

	// NonceSize returns the required nonce length in bytes.
	NonceSize() int
}

// NewAEAD creates an AEAD instance for the given suite. The key must be
// KeyLen bytes.
func NewAEAD(suite Suite, key []byte) (AEAD, error) {
	switch suite {
	case SuiteAESGCM:
		return NewAESGCM(key)
	case SuiteChaCha20:
		return NewChaCha20Poly1305(key)
	default:
		return nil, errUnsupportedSuite
	}
}
