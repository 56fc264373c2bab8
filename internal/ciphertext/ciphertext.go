// Package ciphertext implements the binary blob format stored in BSON binary
// subtype 6 elements.
//
// Wire format:
//
//	offset 0  : u8     blob subtype (1=deterministic, 2=random)
//	offset 1  : u8[16] key uuid
//	offset 17 : u8     original bson type
//	offset 18 : u8[]   ciphertext (at least one byte)
package ciphertext

import (
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/allisson/fieldcrypt/internal/errors"
)

// Blob subtype values. They mirror the encryption algorithm used to produce
// the payload.
const (
	SubtypeDeterministic byte = 1
	SubtypeRandom        byte = 2
)

// minLen is the smallest valid blob: subtype + uuid + original type + 1 payload byte.
const minLen = 19

// Ciphertext is one parsed encrypted field value.
type Ciphertext struct {
	// BlobSubtype is 1 for deterministic and 2 for random encryption.
	BlobSubtype byte
	// KeyID identifies the data key that encrypted the payload.
	KeyID uuid.UUID
	// OriginalType is the BSON type the decrypted payload deserializes to.
	OriginalType bsoncore.Type
	// Data is the raw ciphertext payload. When produced by Parse it borrows
	// from the input slice.
	Data []byte
}

// Parse reads a ciphertext blob. The returned Data slice aliases in; callers
// that outlive in must copy it.
func Parse(in []byte) (Ciphertext, error) {
	if len(in) < minLen {
		return Ciphertext{}, errors.Wrap(errors.ErrMalformedCiphertext, "too small")
	}
	subtype := in[0]
	if subtype != SubtypeDeterministic && subtype != SubtypeRandom {
		return Ciphertext{}, errors.Wrap(errors.ErrMalformedCiphertext, "expected blob subtype of 1 or 2")
	}

	var keyID uuid.UUID
	copy(keyID[:], in[1:17])

	return Ciphertext{
		BlobSubtype:  subtype,
		KeyID:        keyID,
		OriginalType: bsoncore.Type(in[17]),
		Data:         in[18:],
	}, nil
}

// Serialize writes the blob in wire order. The result of serializing a parsed
// blob is byte-identical to the original input.
func (c Ciphertext) Serialize() []byte {
	out := make([]byte, 0, 18+len(c.Data))
	out = append(out, c.BlobSubtype)
	out = append(out, c.KeyID[:]...)
	out = append(out, byte(c.OriginalType))
	out = append(out, c.Data...)
	return out
}
