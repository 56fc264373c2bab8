package ciphertext

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	apperrors "github.com/allisson/fieldcrypt/internal/errors"
)

func TestParse(t *testing.T) {
	t.Run("minimum blob", func(t *testing.T) {
		in := make([]byte, 0, 19)
		in = append(in, 0x01)
		in = append(in, make([]byte, 16)...)
		in = append(in, 0x02, 0x41)

		c, err := Parse(in)
		require.NoError(t, err)
		assert.Equal(t, byte(1), c.BlobSubtype)
		assert.Equal(t, "00000000-0000-0000-0000-000000000000", c.KeyID.String())
		assert.Equal(t, bsoncore.TypeString, c.OriginalType)
		assert.Equal(t, []byte{0x41}, c.Data)
	})

	t.Run("rejects short blob", func(t *testing.T) {
		in := make([]byte, 18)
		in[0] = 0x01

		_, err := Parse(in)
		require.ErrorIs(t, err, apperrors.ErrMalformedCiphertext)
		assert.Contains(t, err.Error(), "too small")
	})

	t.Run("rejects bad subtype", func(t *testing.T) {
		in := make([]byte, 20)
		in[0] = 0x03

		_, err := Parse(in)
		require.ErrorIs(t, err, apperrors.ErrMalformedCiphertext)
		assert.Contains(t, err.Error(), "expected blob subtype of 1 or 2")
	})

	t.Run("data borrows from input", func(t *testing.T) {
		in := make([]byte, 20)
		in[0] = 0x02
		in[18] = 0xaa
		in[19] = 0xbb

		c, err := Parse(in)
		require.NoError(t, err)
		in[18] = 0xcc
		assert.Equal(t, []byte{0xcc, 0xbb}, c.Data)
	})
}

func TestSerialize(t *testing.T) {
	t.Run("wire order", func(t *testing.T) {
		c := Ciphertext{
			BlobSubtype:  SubtypeRandom,
			OriginalType: bsoncore.TypeInt32,
			Data:         []byte{0xde, 0xad},
		}
		c.KeyID[0] = 0x11
		c.KeyID[15] = 0xff

		out := c.Serialize()
		require.Len(t, out, 20)
		assert.Equal(t, byte(2), out[0])
		assert.Equal(t, byte(0x11), out[1])
		assert.Equal(t, byte(0xff), out[16])
		assert.Equal(t, byte(bsoncore.TypeInt32), out[17])
		assert.Equal(t, []byte{0xde, 0xad}, out[18:])
	})
}

func TestRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	genBlob := gopter.CombineGens(
		gen.UInt8Range(1, 2),
		gen.SliceOfN(16, gen.UInt8()),
		gen.UInt8(),
		gen.SliceOfN(24, gen.UInt8()),
	).Map(func(vals []interface{}) []byte {
		out := []byte{vals[0].(byte)}
		out = append(out, vals[1].([]byte)...)
		out = append(out, vals[2].(byte))
		out = append(out, vals[3].([]byte)...)
		return out
	})

	properties.Property("parse then serialize is byte-identical", prop.ForAll(
		func(in []byte) bool {
			c, err := Parse(in)
			if err != nil {
				return false
			}
			out := c.Serialize()
			if len(out) != len(in) {
				return false
			}
			for i := range in {
				if in[i] != out[i] {
					return false
				}
			}
			return true
		},
		genBlob,
	))

	properties.TestingRun(t)
}
