// Package marking implements the encryption marking codec. A marking is the
// placeholder a query-analysis step leaves in a command: a BSON document
// carried in a binary subtype 6 element, naming the key, the algorithm and the
// value to encrypt.
package marking

import (
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/allisson/fieldcrypt/internal/bsonutil"
	"github.com/allisson/fieldcrypt/internal/crypto"
	"github.com/allisson/fieldcrypt/internal/errors"
)

// Marking is one parsed encryption marking.
//
// Exactly one of KeyID or KeyAltName identifies the data key: HasAltName
// selects which. V references the plaintext value inside the marking document;
// its Data aliases the parsed payload.
type Marking struct {
	HasAltName bool
	KeyID      uuid.UUID
	KeyAltName bsoncore.Value
	Algorithm  crypto.Algorithm
	IV         []byte
	V          bsoncore.Value
}

func fail(detail string) (Marking, error) {
	return Marking{}, errors.Wrap(errors.ErrMalformedMarking, detail)
}

// Parse reads a marking payload, the BSON document following the discriminator
// byte of the binary element. Field shapes:
//
//	{ki: bin(4, 16 bytes), a: int32, iv?: bin(16 bytes), v: any}
//	{ka: <value>,          a: int32, iv?: bin(16 bytes), v: any}
func Parse(payload []byte) (Marking, error) {
	doc, err := bsonutil.ValidateDocument(payload)
	if err != nil {
		return fail("payload is not a document")
	}

	elems, err := doc.Elements()
	if err != nil {
		return fail("payload is not a document")
	}

	var (
		m                Marking
		hasKeyID, hasAlg bool
		hasAltName, hasV bool
	)

	for _, elem := range elems {
		key, err := elem.KeyErr()
		if err != nil {
			return fail("payload is not a document")
		}
		v := elem.Value()

		switch key {
		case "ki":
			id, err := bsonutil.UUIDFromValue(v)
			if err != nil {
				return fail("key id must be a 16 byte binary")
			}
			m.KeyID = id
			hasKeyID = true
		case "ka":
			m.KeyAltName = v
			hasAltName = true
		case "a":
			a, ok := v.AsInt64OK()
			if !ok {
				return fail("algorithm must be an integer")
			}
			m.Algorithm = crypto.Algorithm(a)
			hasAlg = true
		case "iv":
			sub, data, ok := v.BinaryOK()
			if !ok || sub != bsonutil.SubtypeGeneric {
				return fail("iv must be a binary")
			}
			if len(data) != crypto.IVLen {
				return fail("iv must be 16 bytes")
			}
			m.IV = data
		case "v":
			m.V = v
			hasV = true
		default:
			return fail("unrecognized field '" + key + "'")
		}
	}

	if hasKeyID && hasAltName {
		return fail("cannot set both key id and key alt name")
	}
	if !hasKeyID && !hasAltName {
		return fail("no key id or key alt name")
	}
	m.HasAltName = hasAltName

	if !hasAlg {
		return fail("no algorithm")
	}
	if !m.Algorithm.Valid() {
		return fail("unknown algorithm")
	}
	if !hasV {
		return fail("no 'v' value")
	}

	return m, nil
}
