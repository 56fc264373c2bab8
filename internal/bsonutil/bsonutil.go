// Package bsonutil provides small helpers over bsoncore raw documents used by
// the codec, walker and broker packages.
package bsonutil

import (
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/allisson/fieldcrypt/internal/errors"
)

// BSON binary subtypes used by the module.
const (
	// SubtypeGeneric is the generic BSON binary subtype.
	SubtypeGeneric byte = 0x00
	// SubtypeUUID is the RFC 4122 UUID binary subtype.
	SubtypeUUID byte = 0x04
	// SubtypeEncrypted is the binary subtype carrying ciphertext blobs and
	// encryption markings.
	SubtypeEncrypted byte = 0x06
)

// ValidateDocument checks that b is a structurally valid BSON document and
// returns it typed as a bsoncore.Document.
func ValidateDocument(b []byte) (bsoncore.Document, error) {
	doc := bsoncore.Document(b)
	if err := doc.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrMalformedBSON, err.Error())
	}
	return doc, nil
}

// UUIDFromValue extracts a 16-byte UUID from a BSON binary value. Subtype 4
// (UUID) and subtype 0 (legacy generic) are accepted.
func UUIDFromValue(v bsoncore.Value) (uuid.UUID, error) {
	sub, data, ok := v.BinaryOK()
	if !ok {
		return uuid.Nil, errors.Wrap(errors.ErrMalformedBSON, "expected a binary value")
	}
	if sub != SubtypeUUID && sub != SubtypeGeneric {
		return uuid.Nil, errors.Wrapf(errors.ErrMalformedBSON, "expected binary subtype 4, got %d", sub)
	}
	if len(data) != 16 {
		return uuid.Nil, errors.Wrapf(errors.ErrMalformedBSON, "expected a 16 byte UUID, got %d bytes", len(data))
	}
	var id uuid.UUID
	copy(id[:], data)
	return id, nil
}

// AppendUUIDElement appends key as a binary subtype 4 element to dst.
func AppendUUIDElement(dst []byte, key string, id uuid.UUID) []byte {
	return bsoncore.AppendBinaryElement(dst, key, SubtypeUUID, id[:])
}

// LookupBool reads a boolean-valued top-level field. Missing fields report
// found=false; a numeric field is coerced the way the wire protocol does
// (non-zero is true), and a field of any other type also reports found=false.
func LookupBool(doc bsoncore.Document, key string) (value, found bool) {
	v, err := doc.LookupErr(key)
	if err != nil {
		return false, false
	}
	if b, ok := v.BooleanOK(); ok {
		return b, true
	}
	if i, ok := v.AsInt64OK(); ok {
		return i != 0, true
	}
	return false, false
}
