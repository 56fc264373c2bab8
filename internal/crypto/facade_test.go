package crypto

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/allisson/fieldcrypt/internal/errors"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeyLen)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestEncryptDecrypt(t *testing.T) {
	plaintext := []byte("the quick brown fox")

	for _, suite := range []Suite{SuiteAESGCM, SuiteChaCha20} {
		t.Run(string(suite), func(t *testing.T) {
			key := testKey(t)

			t.Run("random round trip", func(t *testing.T) {
				payload, err := Encrypt(suite, AlgorithmRandom, key, nil, plaintext)
				require.NoError(t, err)

				got, err := Decrypt(suite, key, payload)
				require.NoError(t, err)
				assert.Equal(t, plaintext, got)
			})

			t.Run("random payloads differ between calls", func(t *testing.T) {
				a, err := Encrypt(suite, AlgorithmRandom, key, nil, plaintext)
				require.NoError(t, err)
				b, err := Encrypt(suite, AlgorithmRandom, key, nil, plaintext)
				require.NoError(t, err)
				assert.NotEqual(t, a, b)
			})

			t.Run("deterministic payloads are stable", func(t *testing.T) {
				a, err := Encrypt(suite, AlgorithmDeterministic, key, nil, plaintext)
				require.NoError(t, err)
				b, err := Encrypt(suite, AlgorithmDeterministic, key, nil, plaintext)
				require.NoError(t, err)
				assert.Equal(t, a, b)

				got, err := Decrypt(suite, key, a)
				require.NoError(t, err)
				assert.Equal(t, plaintext, got)
			})

			t.Run("deterministic with explicit iv", func(t *testing.T) {
				iv := make([]byte, IVLen)
				copy(iv, []byte("0123456789abcdef"))

				a, err := Encrypt(suite, AlgorithmDeterministic, key, iv, plaintext)
				require.NoError(t, err)
				b, err := Encrypt(suite, AlgorithmDeterministic, key, iv, plaintext)
				require.NoError(t, err)
				assert.Equal(t, a, b)
			})

			t.Run("wrong key fails authentication", func(t *testing.T) {
				payload, err := Encrypt(suite, AlgorithmRandom, key, nil, plaintext)
				require.NoError(t, err)

				_, err = Decrypt(suite, testKey(t), payload)
				assert.ErrorIs(t, err, apperrors.ErrCrypto)
			})

			t.Run("tampered payload fails authentication", func(t *testing.T) {
				payload, err := Encrypt(suite, AlgorithmRandom, key, nil, plaintext)
				require.NoError(t, err)
				payload[len(payload)-1] ^= 0xff

				_, err = Decrypt(suite, key, payload)
				assert.ErrorIs(t, err, apperrors.ErrCrypto)
			})
		})
	}
}

func TestEncryptErrors(t *testing.T) {
	t.Run("bad key size", func(t *testing.T) {
		_, err := Encrypt(SuiteAESGCM, AlgorithmRandom, make([]byte, 16), nil, []byte("x"))
		assert.ErrorIs(t, err, apperrors.ErrCrypto)
	})

	t.Run("unknown suite", func(t *testing.T) {
		_, err := Encrypt(Suite("des"), AlgorithmRandom, make([]byte, KeyLen), nil, []byte("x"))
		assert.ErrorIs(t, err, apperrors.ErrCrypto)
	})

	t.Run("no algorithm", func(t *testing.T) {
		_, err := Encrypt(SuiteAESGCM, AlgorithmNone, make([]byte, KeyLen), nil, []byte("x"))
		assert.ErrorIs(t, err, apperrors.ErrCrypto)
	})
}

func TestDecryptErrors(t *testing.T) {
	t.Run("payload too small", func(t *testing.T) {
		_, err := Decrypt(SuiteAESGCM, make([]byte, KeyLen), make([]byte, 12))
		assert.ErrorIs(t, err, apperrors.ErrCrypto)
	})
}

func TestZero(t *testing.T) {
	b := []byte{1, 2, 3}
	Zero(b)
	assert.Equal(t, []byte{0, 0, 0}, b)

	// nil-safe
	Zero(nil)
}

func TestAlgorithm(t *testing.T) {
	assert.True(t, AlgorithmDeterministic.Valid())
	assert.True(t, AlgorithmRandom.Valid())
	assert.False(t, AlgorithmNone.Valid())
	assert.False(t, Algorithm(3).Valid())

	assert.Equal(t, byte(1), AlgorithmDeterministic.BlobSubtype())
	assert.Equal(t, byte(2), AlgorithmRandom.BlobSubtype())

	assert.Equal(t, "deterministic", AlgorithmDeterministic.String())
	assert.Equal(t, "random", AlgorithmRandom.String())
	assert.Equal(t, "none", AlgorithmNone.String())
}
