package keybroker

import (
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/allisson/fieldcrypt/internal/bsonutil"
	"github.com/allisson/fieldcrypt/internal/errors"
)

// State summarizes what a broker needs next.
type State int

const (
	// StateDone means every referenced key is decrypted (or none were
	// referenced at all).
	StateDone State = iota
	// StateNeedsMongoQuery means key documents must be fetched from the key
	// vault.
	StateNeedsMongoQuery
	// StateNeedsKMS means fetched key material awaits KMS decryption.
	StateNeedsKMS
	// StateWaiting means a peer context is resolving at least one key.
	StateWaiting
	// StateFailed means a terminal failure was recorded.
	StateFailed
)

type refState int

const (
	refNeedsFetch refState = iota
	refWaitingPeer
	refNeedsKMS
	refDecrypting
	refDecrypted
	refMissing // no key document arrived; tolerated, resolved lazily as absent
	refFailed
)

// keyRef is one referenced key in traversal order.
type keyRef struct {
	state refState

	hasID bool
	id    uuid.UUID

	hasAltName bool
	altName    bsoncore.Value

	storeKey string
	// alias points at an earlier ref resolving the same key id; aliased refs
	// never drive their own KMS round trip.
	alias *keyRef

	encryptedMaterial []byte
	masterKey         MasterKey
	material          []byte
	kms               *KMSCtx
	err               error
}

func (r *keyRef) resolve() *keyRef {
	if r.alias != nil {
		return r.alias
	}
	return r
}

// Broker is the per-context view over the shared store. It is driven by a
// single goroutine, like the context that owns it.
type Broker struct {
	store  *Store
	ctxID  uint32
	refs   []*keyRef
	byID   map[uuid.UUID]*keyRef
	byName map[string]*keyRef
	err    error
}

// NewBroker creates a broker for the context ctxID over the shared store.
func NewBroker(store *Store, ctxID uint32) *Broker {
	return &Broker{
		store:  store,
		ctxID:  ctxID,
		byID:   make(map[uuid.UUID]*keyRef),
		byName: make(map[string]*keyRef),
	}
}

func idStoreKey(id uuid.UUID) string {
	return "id:" + id.String()
}

func nameStoreKey(name bsoncore.Value) string {
	return "name:" + name.String()
}

// AddID registers interest in the key with the given id. Idempotent.
func (b *Broker) AddID(id uuid.UUID) error {
	if _, ok := b.byID[id]; ok {
		return nil
	}

	ref := &keyRef{hasID: true, id: id, storeKey: idStoreKey(id)}
	b.attach(ref)
	b.refs = append(b.refs, ref)
	b.byID[id] = ref
	return nil
}

// AddName registers interest in the key with the given alt name. Idempotent.
// The id is materialized once the key document arrives.
func (b *Broker) AddName(name bsoncore.Value) error {
	key := nameStoreKey(name)
	if _, ok := b.byName[key]; ok {
		return nil
	}

	ref := &keyRef{hasAltName: true, altName: name, storeKey: key}
	b.attach(ref)
	b.refs = append(b.refs, ref)
	b.byName[key] = ref
	return nil
}

// attach acquires the shared entry for ref and sets its initial state.
func (b *Broker) attach(ref *keyRef) {
	entry, res := b.store.acquire(ref.storeKey, b.ctxID)
	switch res {
	case acquireOwned:
		ref.state = refNeedsFetch
	case acquirePeer:
		ref.state = refWaitingPeer
	case acquireDone:
		ref.state = refDecrypted
		ref.material = entry.material
	case acquireFailed:
		ref.state = refFailed
		ref.err = entry.err
	}
}

// FilterOp builds the key-vault find filter for every key this broker still
// needs to fetch:
//
//	{$or: [{_id: {$in: [...]}}, {keyAltNames: {$in: [...]}}]}
func (b *Broker) FilterOp() (bsoncore.Document, error) {
	var ids, names []bsoncore.Value
	for _, ref := range b.refs {
		if ref.state != refNeedsFetch {
			continue
		}
		if ref.hasID {
			ids = append(ids, bsoncore.Value{
				Type: bsoncore.TypeBinary,
				Data: bsoncore.AppendBinary(nil, bsonutil.SubtypeUUID, ref.id[:]),
			})
		} else {
			names = append(names, ref.altName)
		}
	}
	if len(ids) == 0 && len(names) == 0 {
		return nil, errors.Wrap(errors.ErrKeyBroker, "no keys to fetch")
	}

	orIdx, or := bsoncore.AppendArrayStart(nil)
	branch := 0
	if len(ids) > 0 {
		or = appendInBranch(or, branch, "_id", ids)
		branch++
	}
	if len(names) > 0 {
		or = appendInBranch(or, branch, "keyAltNames", names)
	}
	or, err := bsoncore.AppendArrayEnd(or, orIdx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrMalformedBSON, err.Error())
	}

	idx, filter := bsoncore.AppendDocumentStart(nil)
	filter = bsoncore.AppendArrayElement(filter, "$or", or)
	filter, err = bsoncore.AppendDocumentEnd(filter, idx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrMalformedBSON, err.Error())
	}
	return filter, nil
}

// appendInBranch appends {field: {$in: values}} as array index i.
func appendInBranch(dst []byte, i int, field string, values []bsoncore.Value) []byte {
	inIdx, in := bsoncore.AppendArrayStart(nil)
	for j, v := range values {
		in = bsoncore.AppendValueElement(in, indexKey(j), v)
	}
	in, _ = bsoncore.AppendArrayEnd(in, inIdx)

	condIdx, cond := bsoncore.AppendDocumentStart(nil)
	cond = bsoncore.AppendArrayElement(cond, "$in", in)
	cond, _ = bsoncore.AppendDocumentEnd(cond, condIdx)

	branchIdx, branch := bsoncore.AppendDocumentStart(nil)
	branch = bsoncore.AppendDocumentElement(branch, field, cond)
	branch, _ = bsoncore.AppendDocumentEnd(branch, branchIdx)

	return bsoncore.AppendDocumentElement(dst, indexKey(i), branch)
}

func indexKey(i int) string {
	const digits = "0123456789"
	if i < 10 {
		return digits[i : i+1]
	}
	return digits[i/10:i/10+1] + digits[i%10:i%10+1]
}

// Feed consumes one key-vault document, matching it to pending refs by id or
// alt name.
func (b *Broker) Feed(doc bsoncore.Document) error {
	kd, err := ParseKeyDoc(doc)
	if err != nil {
		return b.fail(err)
	}

	matched := false

	if ref, ok := b.byID[kd.ID]; ok {
		matched = true
		b.feedRef(ref, kd)
	}

	for _, name := range kd.AltNames {
		ref, ok := b.byName[nameStoreKey(name)]
		if !ok {
			continue
		}
		matched = true

		// Materialize the id for the alt-name ref. If an id ref for the same
		// key already exists, alias it so KMS runs once.
		if !ref.hasID {
			ref.id = kd.ID
			ref.hasID = true
			if existing, ok := b.byID[kd.ID]; ok && existing != ref {
				ref.alias = existing.resolve()
				ref.state = refNeedsKMS
				continue
			}
			b.byID[kd.ID] = ref
		}
		b.feedRef(ref, kd)
	}

	if !matched {
		return b.fail(errors.Wrap(errors.ErrKeyBroker, "unexpected key document, no matching key was requested"))
	}
	return nil
}

func (b *Broker) feedRef(ref *keyRef, kd KeyDoc) {
	if ref.alias != nil || ref.state == refDecrypted || ref.state == refDecrypting {
		return
	}
	ref.encryptedMaterial = kd.EncryptedMaterial
	ref.masterKey = kd.MasterKey
	ref.state = refNeedsKMS
}

// DoneFeeding finishes the key-vault fetch. Refs without a document are
// marked missing, their shared entries released for peers; a missing key is
// tolerated here and surfaces only if something later requires its material.
func (b *Broker) DoneFeeding() error {
	if b.err != nil {
		return b.err
	}
	for _, ref := range b.refs {
		if ref.state == refNeedsFetch {
			ref.state = refMissing
			b.store.release(ref.storeKey, b.ctxID)
		}
	}
	return nil
}

// NextKMSCtx yields the next pending KMS round trip, or nil when none remain.
func (b *Broker) NextKMSCtx() *KMSCtx {
	for _, ref := range b.refs {
		if ref.state != refNeedsKMS || ref.alias != nil {
			continue
		}
		ref.kms = &KMSCtx{
			op:        OpDecrypt,
			masterKey: ref.masterKey,
			message:   ref.encryptedMaterial,
			ref:       ref,
		}
		ref.state = refDecrypting
		return ref.kms
	}
	return nil
}

// KMSDone completes the KMS iteration: every yielded context must have been
// fed, and the decrypted material is published to the shared store.
func (b *Broker) KMSDone() error {
	for _, ref := range b.refs {
		if ref.state != refDecrypting {
			continue
		}
		material, ok := ref.kms.Result()
		if !ok {
			return b.fail(errors.Wrap(errors.ErrKeyBroker, "KMS context not fed for a requested key"))
		}
		ref.material = material
		ref.state = refDecrypted

		b.store.complete(ref.storeKey, material)
		if ref.hasID && ref.storeKey != idStoreKey(ref.id) {
			// Alt-name ref: publish under the id too, so ciphertext lookups
			// from any context resolve without refetching.
			b.store.complete(idStoreKey(ref.id), material)
		}
	}

	// Settle aliases now that their targets are decrypted.
	for _, ref := range b.refs {
		if ref.alias != nil && ref.alias.state == refDecrypted && ref.state != refDecrypted {
			ref.material = ref.alias.material
			ref.state = refDecrypted
			b.store.complete(ref.storeKey, ref.material)
		}
	}
	return nil
}

// CheckCacheAndWait tries to settle refs waiting on peers using the shared
// store. In blocking mode it sleeps on the store's condition until all such
// refs settle; in non-blocking mode it returns after one pass.
func (b *Broker) CheckCacheAndWait(block bool) error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	for {
		pending := 0
		for _, ref := range b.refs {
			if ref.state != refWaitingPeer {
				continue
			}
			entry, ok := b.store.entries[ref.storeKey]
			switch {
			case !ok:
				// Owner gave up; take over the fetch.
				_, _ = b.store.acquireLocked(ref.storeKey, b.ctxID)
				ref.state = refNeedsFetch
			case entry.decrypted:
				ref.material = entry.material
				ref.state = refDecrypted
			case entry.err != nil:
				ref.err = entry.err
				ref.state = refFailed
			default:
				pending++
			}
		}

		if pending == 0 || !block {
			return nil
		}
		b.store.cond.Wait()
	}
}

// NextCtxID returns the id of a peer context this broker is waiting on, or 0
// when it waits on none.
func (b *Broker) NextCtxID() uint32 {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	for _, ref := range b.refs {
		if ref.state != refWaitingPeer {
			continue
		}
		if entry, ok := b.store.entries[ref.storeKey]; ok && entry.owner != 0 {
			return entry.owner
		}
	}
	return 0
}

// DecryptedKeyByID returns the decrypted material for id. A miss is not an
// error: decryption tolerates unresolved keys.
func (b *Broker) DecryptedKeyByID(id uuid.UUID) ([]byte, bool) {
	if ref, ok := b.byID[id]; ok {
		ref = ref.resolve()
		if ref.state == refDecrypted {
			return ref.material, true
		}
	}
	// Fall back to material decrypted by other contexts.
	return b.store.DecryptedByKey(idStoreKey(id))
}

// DecryptedKeyByName returns the resolved id and decrypted material for an
// alt name.
func (b *Broker) DecryptedKeyByName(name bsoncore.Value) (uuid.UUID, []byte, bool) {
	ref, ok := b.byName[nameStoreKey(name)]
	if !ok {
		return uuid.Nil, nil, false
	}
	resolved := ref.resolve()
	if !ref.hasID || resolved.state != refDecrypted {
		return uuid.Nil, nil, false
	}
	return ref.id, resolved.material, true
}

// Empty reports whether no keys were referenced.
func (b *Broker) Empty() bool {
	return len(b.refs) == 0
}

// State reports what the broker needs next, in priority order.
func (b *Broker) State() State {
	if b.err != nil {
		return StateFailed
	}

	state := StateDone
	for _, ref := range b.refs {
		switch ref.resolve().state {
		case refFailed:
			return StateFailed
		case refNeedsFetch:
			return StateNeedsMongoQuery
		case refNeedsKMS, refDecrypting:
			state = StateNeedsKMS
		case refWaitingPeer:
			if state == StateDone {
				state = StateWaiting
			}
		}
	}
	return state
}

// Status surfaces the first terminal failure, if any.
func (b *Broker) Status() error {
	if b.err != nil {
		return b.err
	}
	for _, ref := range b.refs {
		if ref.state == refFailed && ref.err != nil {
			return ref.err
		}
	}
	return nil
}

// fail records err on the broker, publishes it for owned entries, and returns
// it.
func (b *Broker) fail(err error) error {
	if b.err == nil {
		b.err = err
	}
	for _, ref := range b.refs {
		if ref.state == refNeedsFetch || ref.state == refNeedsKMS || ref.state == refDecrypting {
			b.store.fail(ref.storeKey, err)
			ref.state = refFailed
			ref.err = err
		}
	}
	return err
}
