package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	t.Run("wraps error with message", func(t *testing.T) {
		err := Wrap(ErrClientInput, "invalid ns")
		require.Error(t, err)
		assert.Equal(t, "invalid ns: client input error", err.Error())
		assert.True(t, Is(err, ErrClientInput))
	})

	t.Run("returns nil for nil error", func(t *testing.T) {
		assert.NoError(t, Wrap(nil, "whatever"))
	})

	t.Run("preserves chain through multiple wraps", func(t *testing.T) {
		err := Wrap(Wrap(ErrMalformedCiphertext, "too small"), "parsing blob")
		assert.True(t, Is(err, ErrMalformedCiphertext))
	})
}

func TestWrapf(t *testing.T) {
	t.Run("formats message", func(t *testing.T) {
		err := Wrapf(ErrKeyBroker, "key %q not found", "abc")
		require.Error(t, err)
		assert.Equal(t, `key "abc" not found: key broker failure`, err.Error())
		assert.True(t, Is(err, ErrKeyBroker))
	})

	t.Run("returns nil for nil error", func(t *testing.T) {
		assert.NoError(t, Wrapf(nil, "whatever %d", 1))
	})
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("outer: %w", ErrCache)
	assert.True(t, Is(err, ErrCache))
	assert.False(t, Is(err, ErrCrypto))
}

func TestSentinelMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrClientInput, "client input error"},
		{ErrMalformedBSON, "malformed BSON"},
		{ErrMalformedCiphertext, "malformed ciphertext"},
		{ErrMalformedMarking, "malformed marking"},
		{ErrCrypto, "crypto failure"},
		{ErrKeyBroker, "key broker failure"},
		{ErrCache, "cache failure"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}
