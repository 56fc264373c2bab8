package fieldcrypt

import (
	gocontext "context"
	"strings"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/allisson/fieldcrypt/internal/bsonutil"
	"github.com/allisson/fieldcrypt/internal/cache"
	"github.com/allisson/fieldcrypt/internal/ciphertext"
	"github.com/allisson/fieldcrypt/internal/crypto"
	"github.com/allisson/fieldcrypt/internal/errors"
	"github.com/allisson/fieldcrypt/internal/marking"
	"github.com/allisson/fieldcrypt/internal/traverse"
	"github.com/allisson/fieldcrypt/internal/validation"
)

// encryptMachine implements both auto and explicit encryption.
type encryptMachine struct {
	baseMachine

	ns                    string
	listCollectionsFilter bsoncore.Document
	schema                bsoncore.Document
	originalCmd           bsoncore.Document // explicit only: the {v: ...} message
	markedCmd             bsoncore.Document
	encryptedCmd          bsoncore.Document

	collInfoState      cache.EntryState
	collInfoOwner      uint32
	waitingForCollInfo bool
}

// collName is the namespace suffix past the first '.'. Kept as a computed
// accessor instead of a stored substring so it can never dangle.
func (m *encryptMachine) collName() string {
	return m.ns[strings.Index(m.ns, ".")+1:]
}

// EncryptInit starts auto encryption of a command against the collection ns
// ("<db>.<coll>"). The schema comes from SetLocalSchema or, failing that, from
// a cached or freshly fetched listCollections reply.
func (c *Context) EncryptInit(ns string) error {
	if err := c.initCommon(KindEncrypt, autoEncryptSpec, "auto encryption"); err != nil {
		return err
	}

	m := &encryptMachine{baseMachine: baseMachine{c: c}}
	c.machine = m

	if err := validation.Namespace.Validate(ns); err != nil {
		return c.failMsg(errors.ErrClientInput, "invalid ns. Must be <db>.<coll>")
	}
	m.ns = ns

	if len(c.opts.localSchema) > 0 {
		m.schema = c.opts.localSchema
		c.state = StateNeedMongoMarkings
		return nil
	}
	return m.tryCollInfoFromCache()
}

// ExplicitEncryptInit starts explicit encryption of one value. msg must be a
// BSON document of the form {v: <value>}; the key descriptor and algorithm
// come from the context options.
func (c *Context) ExplicitEncryptInit(msg []byte) error {
	if err := c.initCommon(KindEncrypt, explicitEncryptSpec, "explicit encryption"); err != nil {
		return err
	}

	m := &encryptMachine{baseMachine: baseMachine{c: c}}
	c.machine = m
	c.explicit = true

	if len(msg) == 0 {
		return c.failMsg(errors.ErrClientInput, "msg required for explicit encryption")
	}
	doc, err := bsonutil.ValidateDocument(msg)
	if err != nil {
		return c.failMsg(errors.ErrClientInput, "msg must be bson")
	}
	if _, err := doc.LookupErr("v"); err != nil {
		return c.failMsg(errors.ErrClientInput, "invalid msg, must contain 'v'")
	}
	m.originalCmd = append(bsoncore.Document(nil), doc...)

	if c.opts.hasKeyAltName {
		err = c.kb.AddName(c.opts.keyAltName)
	} else {
		err = c.kb.AddID(c.opts.keyID)
	}
	if err != nil {
		return c.fail(err)
	}

	return c.stateFromKeyBroker()
}

// tryCollInfoFromCache consults the shared collinfo cache and sets the next
// state: proceed with a cached schema, own the fetch, or wait on the owner.
// It is fully idempotent; every entry resets the context-local collinfo
// fields before re-polling.
func (m *encryptMachine) tryCollInfoFromCache() error {
	c := m.c

	m.collInfoOwner = 0
	m.collInfoState = cache.StatePending
	m.waitingForCollInfo = false

	doc, state, owner := c.crypt.collInfo.GetOrCreate(m.ns, c.id)
	m.collInfoState = state
	m.collInfoOwner = owner
	c.crypt.metrics.RecordCollInfoLookup(gocontext.Background(), state == cache.StateDone)

	switch {
	case state == cache.StateDone:
		if err := m.setSchemaFromCollInfo(doc); err != nil {
			return err
		}
		c.state = StateNeedMongoMarkings
	case owner == c.id:
		// We own the fetch.
		c.state = StateNeedMongoCollInfo
	default:
		// Waiting on another context.
		m.waitingForCollInfo = true
		c.state = StateWaiting
	}
	return nil
}

// setSchemaFromCollInfo extracts options.validator.$jsonSchema from a
// listCollections reply. Views cannot be auto encrypted, and a validator with
// siblings of $jsonSchema is rejected rather than silently mishandled.
func (m *encryptMachine) setSchemaFromCollInfo(collinfo bsoncore.Document) error {
	c := m.c

	if v, err := collinfo.LookupErr("type"); err == nil {
		if s, ok := v.StringValueOK(); ok && s == "view" {
			return c.failMsg(errors.ErrClientInput, "cannot auto encrypt a view")
		}
	}

	v, err := collinfo.LookupErr("options", "validator")
	if err != nil {
		return nil
	}
	validator, ok := v.DocumentOK()
	if !ok {
		return c.failMsg(errors.ErrMalformedBSON, "malformed validator")
	}

	elems, err := validator.Elements()
	if err != nil {
		return c.failMsg(errors.ErrMalformedBSON, "malformed validator")
	}
	for _, elem := range elems {
		key, err := elem.KeyErr()
		if err != nil {
			return c.failMsg(errors.ErrMalformedBSON, "malformed validator")
		}
		if key != "$jsonSchema" {
			return c.failMsg(errors.ErrClientInput, "sibling fields of $jsonSchema are not supported")
		}
		schema, ok := elem.Value().DocumentOK()
		if !ok {
			return c.failMsg(errors.ErrMalformedBSON, "malformed JSONSchema")
		}
		m.schema = append(bsoncore.Document(nil), schema...)
	}
	return nil
}

// opCollInfo constructs the listCollections filter {name: <coll>}.
func (m *encryptMachine) opCollInfo() (bsoncore.Document, error) {
	idx, filter := bsoncore.AppendDocumentStart(nil)
	filter = bsoncore.AppendStringElement(filter, "name", m.collName())
	filter, err := bsoncore.AppendDocumentEnd(filter, idx)
	if err != nil {
		return nil, m.c.fail(errors.Wrap(errors.ErrMalformedBSON, err.Error()))
	}
	m.listCollectionsFilter = filter
	return filter, nil
}

// feedCollInfo caches the listCollections reply for peers and extracts the
// schema.
func (m *encryptMachine) feedCollInfo(doc bsoncore.Document) error {
	c := m.c
	if err := c.crypt.collInfo.AddCopy(m.ns, doc, c.id); err != nil {
		return c.fail(err)
	}
	return m.setSchemaFromCollInfo(doc)
}

// doneCollInfo advances past the fetch. No schema means nothing to encrypt.
func (m *encryptMachine) doneCollInfo() error {
	if len(m.schema) == 0 {
		m.c.state = StateNothingToDo
	} else {
		m.c.state = StateNeedMongoMarkings
	}
	return nil
}

// opMarkings exposes the schema as the query-analysis request body.
func (m *encryptMachine) opMarkings() (bsoncore.Document, error) {
	return m.schema, nil
}

// feedMarkings consumes the marked reply, collecting referenced keys in
// traversal order. Replies declaring no encryption short-circuit: the broker
// stays empty and finalize leaves the command untouched.
func (m *encryptMachine) feedMarkings(reply bsoncore.Document) error {
	c := m.c

	if v, found := bsonutil.LookupBool(reply, "schemaRequiresEncryption"); found && !v {
		return nil
	}
	if v, found := bsonutil.LookupBool(reply, "hasEncryptedPlaceholders"); found && !v {
		return nil
	}

	v, err := reply.LookupErr("result")
	if err != nil {
		return c.failMsg(errors.ErrMalformedMarking, "no 'result' in markings reply")
	}
	result, ok := v.DocumentOK()
	if !ok {
		return c.failMsg(errors.ErrMalformedMarking, "'result' must be a document")
	}
	m.markedCmd = append(bsoncore.Document(nil), result...)

	err = traverse.Collect(m.markedCmd, traverse.MatchMarking, func(payload []byte) error {
		mk, err := marking.Parse(payload)
		if err != nil {
			return err
		}
		if mk.HasAltName {
			return c.kb.AddName(mk.KeyAltName)
		}
		return c.kb.AddID(mk.KeyID)
	})
	if err != nil {
		return c.fail(err)
	}
	return nil
}

// doneMarkings hands control to the key broker.
func (m *encryptMachine) doneMarkings() error {
	return m.c.stateFromKeyBroker()
}

// waitDone re-polls the collinfo cache when that is what the context waits
// on; otherwise the wait belongs to the key broker.
func (m *encryptMachine) waitDone() error {
	c := m.c
	if !m.waitingForCollInfo {
		return m.baseMachine.waitDone()
	}
	if !c.cacheNoblock {
		c.crypt.collInfo.WaitPending(m.ns)
	}
	return m.tryCollInfoFromCache()
}

// nextDependentCtxID reports the collinfo owner once per poll, then defers to
// the key broker.
func (m *encryptMachine) nextDependentCtxID() uint32 {
	if m.waitingForCollInfo {
		owner := m.collInfoOwner
		m.collInfoOwner = 0
		return owner
	}
	return m.baseMachine.nextDependentCtxID()
}

// finalize rewrites markings to ciphertext blobs. For explicit encryption a
// synthetic marking is built from the options and the 'v' value.
func (m *encryptMachine) finalize() (bsoncore.Document, error) {
	c := m.c

	if c.explicit {
		v, err := m.originalCmd.LookupErr("v")
		if err != nil {
			return nil, c.failMsg(errors.ErrClientInput, "invalid msg, must contain 'v'")
		}
		mk := marking.Marking{
			HasAltName: c.opts.hasKeyAltName,
			KeyID:      c.opts.keyID,
			KeyAltName: c.opts.keyAltName,
			Algorithm:  c.opts.algorithm,
			IV:         c.opts.iv,
			V:          v,
		}
		value, err := m.markingToValue(mk)
		if err != nil {
			return nil, c.fail(err)
		}

		idx, out := bsoncore.AppendDocumentStart(nil)
		out = bsoncore.AppendValueElement(out, "v", value)
		out, err = bsoncore.AppendDocumentEnd(out, idx)
		if err != nil {
			return nil, c.fail(errors.Wrap(errors.ErrMalformedBSON, err.Error()))
		}
		m.encryptedCmd = out
		c.state = StateDone
		return out, nil
	}

	if len(m.markedCmd) == 0 {
		// The markings reply declared nothing to encrypt.
		c.state = StateDone
		return nil, nil
	}

	out, err := traverse.Transform(m.markedCmd, traverse.MatchMarking, func(payload []byte) (bsoncore.Value, error) {
		mk, err := marking.Parse(payload)
		if err != nil {
			return bsoncore.Value{}, err
		}
		return m.markingToValue(mk)
	})
	if err != nil {
		return nil, c.fail(err)
	}
	m.encryptedCmd = out
	c.state = StateDone
	return out, nil
}

// markingToValue encrypts one marking's value into a serialized ciphertext
// blob. A missing key is an error here: encryption never ships a marking.
func (m *encryptMachine) markingToValue(mk marking.Marking) (bsoncore.Value, error) {
	c := m.c

	var (
		keyID    uuid.UUID
		material []byte
		found    bool
	)
	if mk.HasAltName {
		keyID, material, found = c.kb.DecryptedKeyByName(mk.KeyAltName)
	} else {
		keyID = mk.KeyID
		material, found = c.kb.DecryptedKeyByID(mk.KeyID)
	}
	if !found {
		return bsoncore.Value{}, errors.Wrap(errors.ErrKeyBroker, "no decrypted key material for marking")
	}

	payload, err := crypto.Encrypt(c.crypt.suite, mk.Algorithm, material, mk.IV, mk.V.Data)
	if err != nil {
		return bsoncore.Value{}, err
	}

	blob := ciphertext.Ciphertext{
		BlobSubtype:  mk.Algorithm.BlobSubtype(),
		KeyID:        keyID,
		OriginalType: mk.V.Type,
		Data:         payload,
	}.Serialize()

	return bsoncore.Value{
		Type: bsoncore.TypeBinary,
		Data: bsoncore.AppendBinary(nil, bsonutil.SubtypeEncrypted, blob),
	}, nil
}
