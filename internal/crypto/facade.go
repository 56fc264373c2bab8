package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"

	"github.com/allisson/fieldcrypt/internal/errors"
)

var (
	errUnsupportedSuite = errors.Wrap(errors.ErrCrypto, "unsupported cipher suite")
	errInvalidKeySize   = errors.Wrap(errors.ErrCrypto, "key must be exactly 32 bytes")
	errInvalidNonceSize = errors.Wrap(errors.ErrCrypto, "invalid nonce size")
)

// Encrypt encrypts plaintext into a self-contained payload of the form
// nonce || sealed. The nonce policy follows the algorithm:
//
//   - AlgorithmRandom draws the nonce from crypto/rand.
//   - AlgorithmDeterministic uses the leading bytes of the caller-supplied iv,
//     or, when no iv was given, derives the nonce as HMAC-SHA256(key,
//     plaintext) so that equal plaintexts under the same key produce equal
//     payloads.
func Encrypt(suite Suite, alg Algorithm, key, iv, plaintext []byte) ([]byte, error) {
	aead, err := NewAEAD(suite, key)
	if err != nil {
		return nil, err
	}

	var nonce []byte
	switch alg {
	case AlgorithmRandom:
		nonce = make([]byte, aead.NonceSize())
		if _, err := rand.Read(nonce); err != nil {
			return nil, errors.Wrap(errors.ErrCrypto, "failed to generate nonce")
		}
	case AlgorithmDeterministic:
		nonce = deterministicNonce(key, iv, plaintext, aead.NonceSize())
	default:
		return nil, errors.Wrap(errors.ErrCrypto, "unknown algorithm")
	}

	sealed, err := aead.Seal(nonce, plaintext)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// Decrypt reverses Encrypt. The payload carries its own nonce, so no algorithm
// needs to be known at decrypt time.
func Decrypt(suite Suite, key, payload []byte) ([]byte, error) {
	aead, err := NewAEAD(suite, key)
	if err != nil {
		return nil, err
	}
	if len(payload) <= aead.NonceSize() {
		return nil, errors.Wrap(errors.ErrCrypto, "payload too small")
	}
	return aead.Open(payload[:aead.NonceSize()], payload[aead.NonceSize():])
}

// deterministicNonce prefers the caller's iv and falls back to an HMAC of the
// plaintext under the key.
func deterministicNonce(key, iv, plaintext []byte, size int) []byte {
	if len(iv) >= size {
		return iv[:size]
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(plaintext)
	return mac.Sum(nil)[:size]
}

// Zero securely overwrites a byte slice with zeros to clear sensitive key
// material from memory.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
