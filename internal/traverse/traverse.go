// Package traverse walks raw BSON documents looking for binary subtype 6
// elements, either collecting their payloads or rewriting them in place.
//
// Traversal is depth-first in document order and descends into embedded
// documents and arrays. The order is observable: it determines the order key
// ids are registered with the key broker.
package traverse

import (
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/allisson/fieldcrypt/internal/bsonutil"
	"github.com/allisson/fieldcrypt/internal/errors"
)

// Match selects which binary subtype 6 payloads a walk visits, keyed on the
// leading discriminator byte.
type Match int

const (
	// MatchCiphertext visits ciphertext blobs (discriminator 1 or 2). The
	// visitor receives the full payload: the discriminator doubles as the
	// blob subtype of the ciphertext wire format.
	MatchCiphertext Match = iota

	// MatchMarking visits encryption markings (discriminator 0). The visitor
	// receives the payload after the discriminator byte, the marking document.
	MatchMarking
)

// Visitor receives one matching payload during Collect.
type Visitor func(payload []byte) error

// Mapper converts one matching payload into the replacement value during
// Transform.
type Mapper func(payload []byte) (bsoncore.Value, error)

// matchPayload reports whether v matches m and returns the slice handed to
// visitors.
func matchPayload(v bsoncore.Value, m Match) ([]byte, bool) {
	sub, data, ok := v.BinaryOK()
	if !ok || sub != bsonutil.SubtypeEncrypted || len(data) == 0 {
		return nil, false
	}
	switch m {
	case MatchCiphertext:
		if data[0] == 1 || data[0] == 2 {
			return data, true
		}
	case MatchMarking:
		if data[0] == 0 {
			return data[1:], true
		}
	}
	return nil, false
}

// Collect walks doc depth-first and hands every matching payload to visit.
// Non-matching elements are skipped.
func Collect(doc bsoncore.Document, m Match, visit Visitor) error {
	elems, err := doc.Elements()
	if err != nil {
		return errors.Wrap(errors.ErrMalformedBSON, err.Error())
	}

	for _, elem := range elems {
		v := elem.Value()
		switch v.Type {
		case bsoncore.TypeEmbeddedDocument, bsoncore.TypeArray:
			if err := Collect(v.Data, m, visit); err != nil {
				return err
			}
		case bsoncore.TypeBinary:
			if payload, ok := matchPayload(v, m); ok {
				if err := visit(payload); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Transform walks doc the same way Collect does, copying every element to the
// output. Matching elements are replaced with the mapper's value under the
// same field name.
func Transform(doc bsoncore.Document, m Match, mapper Mapper) (bsoncore.Document, error) {
	idx, dst := bsoncore.AppendDocumentStart(nil)

	elems, err := doc.Elements()
	if err != nil {
		return nil, errors.Wrap(errors.ErrMalformedBSON, err.Error())
	}

	for _, elem := range elems {
		key, err := elem.KeyErr()
		if err != nil {
			return nil, errors.Wrap(errors.ErrMalformedBSON, err.Error())
		}
		v := elem.Value()

		switch v.Type {
		case bsoncore.TypeEmbeddedDocument:
			sub, err := Transform(v.Data, m, mapper)
			if err != nil {
				return nil, err
			}
			dst = bsoncore.AppendDocumentElement(dst, key, sub)
		case bsoncore.TypeArray:
			// Arrays share the document layout; transforming them as a
			// document preserves the index keys.
			sub, err := Transform(v.Data, m, mapper)
			if err != nil {
				return nil, err
			}
			dst = bsoncore.AppendArrayElement(dst, key, bsoncore.Array(sub))
		case bsoncore.TypeBinary:
			payload, ok := matchPayload(v, m)
			if !ok {
				dst = bsoncore.AppendValueElement(dst, key, v)
				break
			}
			nv, err := mapper(payload)
			if err != nil {
				return nil, err
			}
			dst = bsoncore.AppendValueElement(dst, key, nv)
		default:
			dst = bsoncore.AppendValueElement(dst, key, v)
		}
	}

	out, err := bsoncore.AppendDocumentEnd(dst, idx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrMalformedBSON, err.Error())
	}
	return out, nil
}
