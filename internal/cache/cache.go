// Package cache implements the shared collinfo cache. One context per
// namespace performs the out-of-band listCollections fetch; peers wait on the
// shared entry and consume the broadcast result.
package cache

import (
	"sync"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/allisson/fieldcrypt/internal/errors"
)

// EntryState is the lifecycle of one cache entry.
type EntryState int

const (
	// StatePending means the owner context is fetching the document.
	StatePending EntryState = iota
	// StateDone means the document is available.
	StateDone
)

type entry struct {
	state EntryState
	owner uint32
	doc   bsoncore.Document
}

// Cache maps namespace strings to collinfo documents with single-owner pending
// coordination. All methods are safe for concurrent use; transitions broadcast
// to blocked Wait callers.
type Cache struct {
	mu      sync.Mutex
	cond    *sync.Cond
	entries map[string]*entry
}

// New creates an empty cache.
func New() *Cache {
	c := &Cache{entries: make(map[string]*entry)}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// GetOrCreate looks up key. With no entry present, a pending entry owned by
// ctxID is created and (nil, StatePending, ctxID) returned: the caller owns
// the fetch. With a pending entry present, the existing owner is returned and
// the caller should wait. With a done entry, a copy of the document is
// returned.
func (c *Cache) GetOrCreate(key string, ctxID uint32) (bsoncore.Document, EntryState, uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.entries[key] = &entry{state: StatePending, owner: ctxID}
		return nil, StatePending, ctxID
	}
	if e.state == StatePending {
		return nil, StatePending, e.owner
	}

	doc := make(bsoncore.Document, len(e.doc))
	copy(doc, e.doc)
	return doc, StateDone, e.owner
}

// AddCopy transitions key to done with a copy of doc. Only the pending owner
// may complete an entry; a non-owner call is a silent no-op so that a stale
// fetch never clobbers the winner's result.
func (c *Cache) AddCopy(key string, doc bsoncore.Document, ctxID uint32) error {
	if len(doc) == 0 {
		return errors.Wrap(errors.ErrCache, "cannot cache an empty document")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.state != StatePending || e.owner != ctxID {
		return nil
	}

	e.doc = make(bsoncore.Document, len(doc))
	copy(e.doc, doc)
	e.state = StateDone
	e.owner = 0
	c.cond.Broadcast()
	return nil
}

// Wait blocks until any entry transitions, then returns. In non-blocking mode
// it returns immediately; callers poll via GetOrCreate instead.
func (c *Cache) Wait(block bool) error {
	if !block {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cond.Wait()
	return nil
}

// WaitPending blocks while key holds a pending entry. It returns as soon as
// the entry completes or is removed, with no window for a lost wakeup: the
// check and the wait happen under one lock.
func (c *Cache) WaitPending(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		e, ok := c.entries[key]
		if !ok || e.state != StatePending {
			return
		}
		c.cond.Wait()
	}
}

// RemoveByOwner drops every pending entry owned by ctxID and wakes all
// waiters. The next GetOrCreate for a dropped key elects a new owner, so a
// failed owner never deadlocks its peers.
func (c *Cache) RemoveByOwner(ctxID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := false
	for key, e := range c.entries {
		if e.state == StatePending && e.owner == ctxID {
			delete(c.entries, key)
			removed = true
		}
	}
	if removed {
		c.cond.Broadcast()
	}
}
