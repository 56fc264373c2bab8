package crypto

// Algorithm is the encryption algorithm requested by a marking or by explicit
// encryption options. The value doubles as the ciphertext blob subtype.
type Algorithm int32

const (
	// AlgorithmNone means no algorithm was set.
	AlgorithmNone Algorithm = 0

	// AlgorithmDeterministic produces the same ciphertext for the same
	// plaintext and key, so encrypted fields stay queryable by equality.
	AlgorithmDeterministic Algorithm = 1

	// AlgorithmRandom draws a fresh nonce for every encryption.
	AlgorithmRandom Algorithm = 2
)

// Valid reports whether a is a known algorithm.
func (a Algorithm) Valid() bool {
	return a == AlgorithmDeterministic || a == AlgorithmRandom
}

// BlobSubtype returns the ciphertext blob subtype byte for the algorithm.
func (a Algorithm) BlobSubtype() byte {
	return byte(a)
}

// String returns the canonical name of the algorithm.
func (a Algorithm) String() string {
	switch a {
	case AlgorithmDeterministic:
		return "deterministic"
	case AlgorithmRandom:
		return "random"
	default:
		return "none"
	}
}

// Suite selects the AEAD cipher used underneath either algorithm.
//
// Suite selection guidelines:
//   - Use SuiteAESGCM on modern CPUs with AES-NI hardware acceleration
//   - Use SuiteChaCha20 on systems without AES-NI
type Suite string

const (
	// SuiteAESGCM is AES-256-GCM: 256-bit key, 12-byte nonce, 16-byte tag.
	SuiteAESGCM Suite = "aes-gcm"

	// SuiteChaCha20 is ChaCha20-Poly1305: 256-bit key, 12-byte nonce,
	// 16-byte tag, constant-time in software.
	SuiteChaCha20 Suite = "chacha20-poly1305"
)

// KeyLen is the key material length required by both suites.
const KeyLen = 32

// IVLen is the length of a caller-supplied initialization vector.
const IVLen = 16
