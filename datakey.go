package fieldcrypt

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/allisson/fieldcrypt/internal/bsonutil"
	"github.com/allisson/fieldcrypt/internal/crypto"
	"github.com/allisson/fieldcrypt/internal/errors"
	"github.com/allisson/fieldcrypt/internal/keybroker"
)

// datakeyMachine creates one data key document: fresh random key material,
// wrapped by the KMS master key from the options.
type datakeyMachine struct {
	baseMachine

	kms               *KMSCtx
	kmsReturned       bool
	encryptedMaterial []byte
	keyDoc            bsoncore.Document
}

// DataKeyInit starts creation of a data key. SetMasterKey is required; the
// context moves straight to StateNeedKMS for the wrap round trip.
func (c *Context) DataKeyInit() error {
	if err := c.initCommon(KindDataKey, datakeySpec, "creating a data key"); err != nil {
		return err
	}

	m := &datakeyMachine{baseMachine: baseMachine{c: c}}
	c.machine = m

	material := make([]byte, crypto.KeyLen)
	if _, err := rand.Read(material); err != nil {
		return c.failMsg(errors.ErrCrypto, "failed to generate key material")
	}

	m.kms = keybroker.NewEncryptCtx(MasterKey{
		Provider: c.opts.masterKeyProvider,
		Key:      c.opts.masterKeyCMK,
		Region:   c.opts.masterKeyRegion,
	}, material)
	crypto.Zero(material)

	c.state = StateNeedKMS
	return nil
}

// nextKMSCtx yields the single wrap round trip once.
func (m *datakeyMachine) nextKMSCtx() *KMSCtx {
	if m.kmsReturned {
		return nil
	}
	m.kmsReturned = true
	return m.kms
}

// kmsDone records the wrapped material and readies finalize.
func (m *datakeyMachine) kmsDone() error {
	result, ok := m.kms.Result()
	if !ok {
		return m.c.failMsg(errors.ErrKeyBroker, "KMS response not fed for new data key")
	}
	m.encryptedMaterial = result
	m.c.state = StateReady
	return nil
}

// finalize emits the key vault document for the new data key.
func (m *datakeyMachine) finalize() (bsoncore.Document, error) {
	c := m.c
	now := time.Now().UnixMilli()

	mkIdx, mk := bsoncore.AppendDocumentStart(nil)
	mk = bsoncore.AppendStringElement(mk, "provider", c.opts.masterKeyProvider)
	if c.opts.masterKeyCMK != "" {
		mk = bsoncore.AppendStringElement(mk, "key", c.opts.masterKeyCMK)
	}
	if c.opts.masterKeyRegion != "" {
		mk = bsoncore.AppendStringElement(mk, "region", c.opts.masterKeyRegion)
	}
	mk, err := bsoncore.AppendDocumentEnd(mk, mkIdx)
	if err != nil {
		return nil, c.fail(errors.Wrap(errors.ErrMalformedBSON, err.Error()))
	}

	idx, doc := bsoncore.AppendDocumentStart(nil)
	doc = bsonutil.AppendUUIDElement(doc, "_id", uuid.New())
	doc = bsoncore.AppendBinaryElement(doc, "keyMaterial", bsonutil.SubtypeGeneric, m.encryptedMaterial)
	doc = bsoncore.AppendDateTimeElement(doc, "creationDate", now)
	doc = bsoncore.AppendDateTimeElement(doc, "updateDate", now)
	doc = bsoncore.AppendInt32Element(doc, "status", 0)
	doc = bsoncore.AppendDocumentElement(doc, "masterKey", mk)
	doc, err = bsoncore.AppendDocumentEnd(doc, idx)
	if err != nil {
		return nil, c.fail(errors.Wrap(errors.ErrMalformedBSON, err.Error()))
	}

	m.keyDoc = doc
	c.state = StateDone
	return doc, nil
}
