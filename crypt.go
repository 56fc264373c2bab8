// Package fieldcrypt is the driver core of client-side field-level encryption
// for a document database. It sequences encrypt and decrypt operations through
// externally driven state transitions: the library itself performs no network
// or key-management I/O, instead asking the embedding application to fetch
// collection schemas, invoke query analysis, fetch key documents and call a
// KMS.
//
// A Crypt is the long-lived process handle holding the shared collinfo cache
// and key store. Each operation runs on its own Context:
//
//	crypt := fieldcrypt.New()
//	ctx := crypt.NewContext()
//	if err := ctx.DecryptInit(doc); err != nil { ... }
//	for {
//		switch ctx.State() {
//		case fieldcrypt.StateNeedMongoKeys:
//			filter, _ := ctx.MongoOp()
//			// run key vault query, then for each result:
//			_ = ctx.MongoFeed(result)
//			_ = ctx.MongoDone()
//		case fieldcrypt.StateNeedKMS:
//			// drive every KMSCtx, e.g. with the kmskeeper package
//		case fieldcrypt.StateReady:
//			out, _ := ctx.Finalize()
//			...
//		}
//	}
package fieldcrypt

import (
	"sync/atomic"

	"github.com/allisson/fieldcrypt/internal/cache"
	"github.com/allisson/fieldcrypt/internal/crypto"
	"github.com/allisson/fieldcrypt/internal/keybroker"
	"github.com/allisson/fieldcrypt/internal/metrics"
)

// Algorithm selects how a value is encrypted. Deterministic keeps equal
// plaintexts equal on the wire; Random does not.
type Algorithm = crypto.Algorithm

// Algorithm values.
const (
	AlgorithmNone          = crypto.AlgorithmNone
	AlgorithmDeterministic = crypto.AlgorithmDeterministic
	AlgorithmRandom        = crypto.AlgorithmRandom
)

// Suite selects the AEAD cipher underneath either algorithm.
type Suite = crypto.Suite

// Suite values.
const (
	SuiteAESGCM   = crypto.SuiteAESGCM
	SuiteChaCha20 = crypto.SuiteChaCha20
)

// KMSCtx is one outstanding KMS round trip; see NextKMSCtx.
type KMSCtx = keybroker.KMSCtx

// MasterKey identifies the KMS master key for a round trip.
type MasterKey = keybroker.MasterKey

// KMS round-trip directions.
const (
	KMSDecrypt = keybroker.OpDecrypt
	KMSEncrypt = keybroker.OpEncrypt
)

// Crypt is the process-wide handle: the shared collinfo cache, the shared key
// store and the configuration every context inherits. A single Crypt is safe
// for concurrent use; individual contexts are not.
type Crypt struct {
	collInfo     *cache.Cache
	keys         *keybroker.Store
	metrics      metrics.CryptMetrics
	suite        crypto.Suite
	cacheNoblock bool
	lastCtxID    atomic.Uint32
}

// Option configures a Crypt.
type Option func(*Crypt)

// WithCacheNoblock makes WaitDone poll shared caches instead of blocking.
// Single-threaded embedders need this to avoid deadlocking on their own work.
func WithCacheNoblock() Option {
	return func(c *Crypt) {
		c.cacheNoblock = true
	}
}

// WithCipherSuite overrides the default AES-256-GCM cipher.
func WithCipherSuite(suite Suite) Option {
	return func(c *Crypt) {
		c.suite = suite
	}
}

// WithMetrics installs a metrics recorder for cache lookups, KMS round trips
// and context outcomes.
func WithMetrics(m metrics.CryptMetrics) Option {
	return func(c *Crypt) {
		c.metrics = m
	}
}

// New creates a Crypt handle.
func New(opts ...Option) *Crypt {
	c := &Crypt{
		collInfo: cache.New(),
		keys:     keybroker.NewStore(),
		metrics:  metrics.Noop{},
		suite:    crypto.SuiteAESGCM,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewContext creates a context for one operation. The context id is unique
// within the Crypt and identifies ownership in the shared stores.
func (c *Crypt) NewContext() *Context {
	id := c.lastCtxID.Add(1)
	return &Context{
		crypt:        c,
		id:           id,
		kb:           keybroker.NewBroker(c.keys, id),
		cacheNoblock: c.cacheNoblock,
	}
}
