package keybroker

import (
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/allisson/fieldcrypt/internal/bsonutil"
	"github.com/allisson/fieldcrypt/internal/errors"
)

// MasterKey identifies the KMS master key that wraps a data key's material.
type MasterKey struct {
	// Provider is the KMS provider name (e.g. "aws", "local").
	Provider string
	// Key is the provider-specific master key identifier (e.g. an ARN).
	Key string
	// Region is the provider region, when applicable.
	Region string
	// Endpoint overrides the provider's default endpoint, when set.
	Endpoint string
}

// KeyDoc is one parsed key-vault document.
type KeyDoc struct {
	ID                uuid.UUID
	AltNames          []bsoncore.Value
	EncryptedMaterial []byte
	MasterKey         MasterKey
}

func keyDocFail(detail string) (KeyDoc, error) {
	return KeyDoc{}, errors.Wrap(errors.ErrKeyBroker, "malformed key document: "+detail)
}

// ParseKeyDoc reads a key-vault document of the shape
//
//	{_id: bin(4), keyAltNames?: [...], keyMaterial: bin(0), masterKey: {provider, key?, region?, endpoint?}}
//
// Unrecognized fields (creationDate, status, ...) are ignored.
func ParseKeyDoc(doc bsoncore.Document) (KeyDoc, error) {
	if err := doc.Validate(); err != nil {
		return keyDocFail("not a document")
	}

	var (
		kd          KeyDoc
		hasID       bool
		hasMaterial bool
	)

	elems, err := doc.Elements()
	if err != nil {
		return keyDocFail("not a document")
	}

	for _, elem := range elems {
		key, err := elem.KeyErr()
		if err != nil {
			return keyDocFail("not a document")
		}
		v := elem.Value()

		switch key {
		case "_id":
			id, err := bsonutil.UUIDFromValue(v)
			if err != nil {
				return keyDocFail("'_id' must be a 16 byte binary")
			}
			kd.ID = id
			hasID = true
		case "keyAltNames":
			arr, ok := v.ArrayOK()
			if !ok {
				return keyDocFail("'keyAltNames' must be an array")
			}
			values, err := arr.Values()
			if err != nil {
				return keyDocFail("'keyAltNames' must be an array")
			}
			kd.AltNames = values
		case "keyMaterial":
			_, data, ok := v.BinaryOK()
			if !ok {
				return keyDocFail("'keyMaterial' must be a binary")
			}
			kd.EncryptedMaterial = make([]byte, len(data))
			copy(kd.EncryptedMaterial, data)
			hasMaterial = true
		case "masterKey":
			mk, ok := v.DocumentOK()
			if !ok {
				return keyDocFail("'masterKey' must be a document")
			}
			kd.MasterKey, err = parseMasterKey(mk)
			if err != nil {
				return KeyDoc{}, err
			}
		}
	}

	if !hasID {
		return keyDocFail("no '_id'")
	}
	if !hasMaterial {
		return keyDocFail("no 'keyMaterial'")
	}

	return kd, nil
}

func parseMasterKey(doc bsoncore.Document) (MasterKey, error) {
	var mk MasterKey

	if v, err := doc.LookupErr("provider"); err == nil {
		s, ok := v.StringValueOK()
		if !ok {
			return mk, errors.Wrap(errors.ErrKeyBroker, "malformed key document: 'masterKey.provider' must be a string")
		}
		mk.Provider = s
	}
	if v, err := doc.LookupErr("key"); err == nil {
		mk.Key, _ = v.StringValueOK()
	}
	if v, err := doc.LookupErr("region"); err == nil {
		mk.Region, _ = v.StringValueOK()
	}
	if v, err := doc.LookupErr("endpoint"); err == nil {
		mk.Endpoint, _ = v.StringValueOK()
	}

	return mk, nil
}
