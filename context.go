package fieldcrypt

import (
	gocontext "context"
	"time"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/allisson/fieldcrypt/internal/bsonutil"
	"github.com/allisson/fieldcrypt/internal/errors"
	"github.com/allisson/fieldcrypt/internal/keybroker"
)

// Context drives one end-to-end encrypt, decrypt or data-key operation. It is
// not safe for concurrent use: the owning goroutine advances it serially.
// Coordination with other contexts happens through the Crypt's shared stores.
type Context struct {
	crypt        *Crypt
	id           uint32
	kind         Kind
	explicit     bool
	state        State
	status       error
	kb           *keybroker.Broker
	opts         contextOptions
	cacheNoblock bool
	initialized  bool
	closed       bool
	startedAt    time.Time
	kmsYielded   []*KMSCtx
	machine      machine
}

// machine is the per-kind step implementation behind the public vtable. The
// base machine answers every step with "not applicable"; each kind overrides
// the steps its states admit.
type machine interface {
	opCollInfo() (bsoncore.Document, error)
	feedCollInfo(doc bsoncore.Document) error
	doneCollInfo() error
	opMarkings() (bsoncore.Document, error)
	feedMarkings(doc bsoncore.Document) error
	doneMarkings() error
	nextKMSCtx() *KMSCtx
	kmsDone() error
	waitDone() error
	nextDependentCtxID() uint32
	finalize() (bsoncore.Document, error)
}

// ID returns the context id used for ownership in the shared stores.
func (c *Context) ID() uint32 {
	return c.id
}

// Kind returns the operation kind.
func (c *Context) Kind() Kind {
	return c.kind
}

// State returns the current state.
func (c *Context) State() State {
	return c.state
}

// Status returns the recorded failure, or nil.
func (c *Context) Status() error {
	return c.status
}

// fail latches err as the context status and transitions to StateError. The
// first failure wins; later calls return the recorded status.
func (c *Context) fail(err error) error {
	if c.status == nil {
		c.status = err
	}
	c.state = StateError
	return c.status
}

// failMsg latches a new failure built from a sentinel and a message.
func (c *Context) failMsg(sentinel error, msg string) error {
	return c.fail(errors.Wrap(sentinel, msg))
}

// check guards every vtable call: the context must be initialized and not in
// the error state.
func (c *Context) check() error {
	if !c.initialized {
		return errors.Wrap(errors.ErrClientInput, "context not initialized")
	}
	if c.state == StateError {
		return c.status
	}
	return nil
}

func (c *Context) wrongState(op string) error {
	return c.failMsg(errors.ErrClientInput, op+" not valid in state "+c.state.String())
}

// initCommon validates options against the per-kind spec and stamps the
// context initialized.
func (c *Context) initCommon(kind Kind, spec optsSpec, label string) error {
	if c.initialized {
		return c.failMsg(errors.ErrClientInput, "context already initialized")
	}
	c.initialized = true
	c.kind = kind
	c.startedAt = time.Now()
	return c.applyOptsSpec(spec, label)
}

// MongoOp returns the document for the pending database operation: the
// listCollections filter, the schema for query analysis, or the key vault
// filter, depending on the state.
func (c *Context) MongoOp() (bsoncore.Document, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	switch c.state {
	case StateNeedMongoCollInfo:
		return c.machine.opCollInfo()
	case StateNeedMongoMarkings:
		return c.machine.opMarkings()
	case StateNeedMongoKeys:
		filter, err := c.kb.FilterOp()
		if err != nil {
			return nil, c.fail(err)
		}
		return filter, nil
	default:
		return nil, c.wrongState("MongoOp")
	}
}

// MongoFeed hands one reply document to the pending database operation. For
// key fetches it may be called once per matching key document.
func (c *Context) MongoFeed(doc []byte) error {
	if err := c.check(); err != nil {
		return err
	}
	parsed, err := bsonutil.ValidateDocument(doc)
	if err != nil {
		return c.fail(err)
	}
	switch c.state {
	case StateNeedMongoCollInfo:
		return c.machine.feedCollInfo(parsed)
	case StateNeedMongoMarkings:
		return c.machine.feedMarkings(parsed)
	case StateNeedMongoKeys:
		if err := c.kb.Feed(parsed); err != nil {
			return c.fail(err)
		}
		return nil
	default:
		return c.wrongState("MongoFeed")
	}
}

// MongoDone finishes the pending database operation and advances the state.
func (c *Context) MongoDone() error {
	if err := c.check(); err != nil {
		return err
	}
	switch c.state {
	case StateNeedMongoCollInfo:
		return c.machine.doneCollInfo()
	case StateNeedMongoMarkings:
		return c.machine.doneMarkings()
	case StateNeedMongoKeys:
		if err := c.kb.DoneFeeding(); err != nil {
			return c.fail(err)
		}
		return c.stateFromKeyBroker()
	default:
		return c.wrongState("MongoDone")
	}
}

// NextKMSCtx yields the next outstanding KMS round trip, or nil when all have
// been yielded. Valid only in StateNeedKMS.
func (c *Context) NextKMSCtx() (*KMSCtx, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	if c.state != StateNeedKMS {
		return nil, c.wrongState("NextKMSCtx")
	}
	kctx := c.machine.nextKMSCtx()
	if kctx != nil {
		c.kmsYielded = append(c.kmsYielded, kctx)
	}
	return kctx, nil
}

// KMSDone finishes the KMS iteration. Every yielded KMSCtx must have been fed.
func (c *Context) KMSDone() error {
	if err := c.check(); err != nil {
		return err
	}
	if c.state != StateNeedKMS {
		return c.wrongState("KMSDone")
	}
	if err := c.machine.kmsDone(); err != nil {
		return err
	}
	for _, kctx := range c.kmsYielded {
		c.crypt.metrics.RecordKMSRoundTrip(gocontext.Background(), kctx.MasterKey().Provider)
	}
	c.kmsYielded = c.kmsYielded[:0]
	return nil
}

// WaitDone resumes a context in StateWaiting once the awaited peer work
// finished. With cache-noblock it polls instead of blocking.
func (c *Context) WaitDone() error {
	if err := c.check(); err != nil {
		return err
	}
	if c.state != StateWaiting {
		return c.wrongState("WaitDone")
	}
	return c.machine.waitDone()
}

// NextDependentCtxID returns the id of a context this one is waiting on, or 0.
// A collinfo owner is reported once per wait; a key-broker dependency is
// reported on every call until it settles.
func (c *Context) NextDependentCtxID() uint32 {
	if !c.initialized || c.state == StateError {
		return 0
	}
	return c.machine.nextDependentCtxID()
}

// Finalize produces the operation result and transitions to StateDone. A nil
// document with a nil error means the original command needs no rewriting.
func (c *Context) Finalize() (bsoncore.Document, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	if c.state != StateReady {
		return nil, c.wrongState("Finalize")
	}
	return c.machine.finalize()
}

// Close releases the context's ownership in the shared stores and records the
// outcome. It is idempotent and safe to call in any state, including
// StateError.
func (c *Context) Close() {
	if c.closed {
		return
	}
	c.closed = true

	c.crypt.collInfo.RemoveByOwner(c.id)
	c.crypt.keys.RemoveByOwner(c.id)

	if c.initialized {
		status := "done"
		if c.state == StateError {
			status = "error"
		}
		c.crypt.metrics.RecordContextOutcome(
			gocontext.Background(), c.kind.String(), status, time.Since(c.startedAt),
		)
	}
}

// stateFromKeyBroker sets the context state from the key broker's needs.
func (c *Context) stateFromKeyBroker() error {
	switch c.kb.State() {
	case keybroker.StateNeedsMongoQuery:
		c.state = StateNeedMongoKeys
	case keybroker.StateNeedsKMS:
		c.state = StateNeedKMS
	case keybroker.StateWaiting:
		c.state = StateWaiting
	case keybroker.StateDone:
		c.state = StateReady
	case keybroker.StateFailed:
		return c.fail(c.kb.Status())
	}
	return nil
}

// baseMachine supplies the default step implementations: database steps are
// not applicable, KMS and waiting route to the key broker.
type baseMachine struct {
	c *Context
}

func (m baseMachine) notApplicable(op string) error {
	return m.c.failMsg(errors.ErrClientInput, op+" not applicable for this context type")
}

func (m baseMachine) opCollInfo() (bsoncore.Document, error) {
	return nil, m.notApplicable("collinfo")
}

func (m baseMachine) feedCollInfo(bsoncore.Document) error {
	return m.notApplicable("collinfo")
}

func (m baseMachine) doneCollInfo() error {
	return m.notApplicable("collinfo")
}

func (m baseMachine) opMarkings() (bsoncore.Document, error) {
	return nil, m.notApplicable("markings")
}

func (m baseMachine) feedMarkings(bsoncore.Document) error {
	return m.notApplicable("markings")
}

func (m baseMachine) doneMarkings() error {
	return m.notApplicable("markings")
}

func (m baseMachine) nextKMSCtx() *KMSCtx {
	return m.c.kb.NextKMSCtx()
}

func (m baseMachine) kmsDone() error {
	if err := m.c.kb.KMSDone(); err != nil {
		return m.c.fail(err)
	}
	return m.c.stateFromKeyBroker()
}

func (m baseMachine) waitDone() error {
	if err := m.c.kb.CheckCacheAndWait(!m.c.cacheNoblock); err != nil {
		return m.c.fail(err)
	}
	return m.c.stateFromKeyBroker()
}

func (m baseMachine) nextDependentCtxID() uint32 {
	return m.c.kb.NextCtxID()
}
