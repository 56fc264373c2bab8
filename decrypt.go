package fieldcrypt

import (
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/allisson/fieldcrypt/internal/bsonutil"
	"github.com/allisson/fieldcrypt/internal/ciphertext"
	"github.com/allisson/fieldcrypt/internal/crypto"
	"github.com/allisson/fieldcrypt/internal/errors"
	"github.com/allisson/fieldcrypt/internal/traverse"
)

// decryptMachine implements auto and explicit decryption.
type decryptMachine struct {
	baseMachine

	originalDoc  bsoncore.Document
	unwrapped    []byte // explicit only: the ciphertext blob from 'v'
	decryptedDoc bsoncore.Document
}

// DecryptInit starts auto decryption of a reply document: every ciphertext
// blob found at any depth is registered with the key broker.
func (c *Context) DecryptInit(doc []byte) error {
	if err := c.initCommon(KindDecrypt, decryptSpec, "decryption"); err != nil {
		return err
	}

	m := &decryptMachine{baseMachine: baseMachine{c: c}}
	c.machine = m

	if len(doc) == 0 {
		return c.failMsg(errors.ErrClientInput, "invalid doc")
	}
	parsed, err := bsonutil.ValidateDocument(doc)
	if err != nil {
		return c.fail(err)
	}
	m.originalDoc = append(bsoncore.Document(nil), parsed...)

	err = traverse.Collect(m.originalDoc, traverse.MatchCiphertext, func(payload []byte) error {
		ct, err := ciphertext.Parse(payload)
		if err != nil {
			return err
		}
		return c.kb.AddID(ct.KeyID)
	})
	if err != nil {
		return c.fail(err)
	}

	return c.stateFromKeyBroker()
}

// ExplicitDecryptInit starts decryption of a single wrapped value. msg must be
// a BSON document {v: <binary subtype 6 blob>}, the shape explicit encryption
// produces.
func (c *Context) ExplicitDecryptInit(msg []byte) error {
	if err := c.initCommon(KindDecrypt, decryptSpec, "decryption"); err != nil {
		return err
	}

	m := &decryptMachine{baseMachine: baseMachine{c: c}}
	c.machine = m
	c.explicit = true

	if len(msg) == 0 {
		return c.failMsg(errors.ErrClientInput, "invalid msg")
	}
	parsed, err := bsonutil.ValidateDocument(msg)
	if err != nil {
		return c.fail(err)
	}
	m.originalDoc = append(bsoncore.Document(nil), parsed...)

	v, err := m.originalDoc.LookupErr("v")
	if err != nil {
		return c.failMsg(errors.ErrClientInput, "invalid msg, must contain 'v'")
	}
	sub, data, ok := v.BinaryOK()
	if !ok {
		return c.failMsg(errors.ErrClientInput, "invalid msg, 'v' must contain a binary")
	}
	if sub != bsonutil.SubtypeEncrypted {
		return c.failMsg(errors.ErrClientInput, "invalid msg, 'v' must contain a binary of subtype 6")
	}
	m.unwrapped = data

	ct, err := ciphertext.Parse(m.unwrapped)
	if err != nil {
		return c.fail(err)
	}
	if err := c.kb.AddID(ct.KeyID); err != nil {
		return c.fail(err)
	}

	return c.stateFromKeyBroker()
}

// finalize rewrites ciphertext blobs to plaintext values. Blobs whose key is
// not in the broker pass through unchanged: partial decryption is the sole
// non-error path for a missing key.
func (m *decryptMachine) finalize() (bsoncore.Document, error) {
	c := m.c

	if c.explicit {
		value, err := m.replaceCiphertext(m.unwrapped)
		if err != nil {
			return nil, c.fail(err)
		}

		idx, out := bsoncore.AppendDocumentStart(nil)
		out = bsoncore.AppendValueElement(out, "v", value)
		out, err = bsoncore.AppendDocumentEnd(out, idx)
		if err != nil {
			return nil, c.fail(errors.Wrap(errors.ErrMalformedBSON, err.Error()))
		}
		m.decryptedDoc = out
		c.state = StateDone
		return out, nil
	}

	out, err := traverse.Transform(m.originalDoc, traverse.MatchCiphertext, m.replaceCiphertext)
	if err != nil {
		return nil, c.fail(err)
	}
	m.decryptedDoc = out
	c.state = StateDone
	return out, nil
}

// replaceCiphertext turns one blob into its plaintext value, or back into the
// original binary element when the key is unavailable.
func (m *decryptMachine) replaceCiphertext(payload []byte) (bsoncore.Value, error) {
	c := m.c

	ct, err := ciphertext.Parse(payload)
	if err != nil {
		return bsoncore.Value{}, err
	}

	material, found := c.kb.DecryptedKeyByID(ct.KeyID)
	if !found {
		// Partial decryption: leave the element untouched.
		return bsoncore.Value{
			Type: bsoncore.TypeBinary,
			Data: bsoncore.AppendBinary(nil, bsonutil.SubtypeEncrypted, payload),
		}, nil
	}

	plaintext, err := crypto.Decrypt(c.crypt.suite, material, ct.Data)
	if err != nil {
		return bsoncore.Value{}, err
	}

	return bsoncore.Value{Type: ct.OriginalType, Data: plaintext}, nil
}
