package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"
	"go.uber.org/goleak"
)

func collInfoDoc(t *testing.T, name string) bsoncore.Document {
	t.Helper()
	idx, doc := bsoncore.AppendDocumentStart(nil)
	doc = bsoncore.AppendStringElement(doc, "name", name)
	doc, err := bsoncore.AppendDocumentEnd(doc, idx)
	require.NoError(t, err)
	return doc
}

func TestGetOrCreate(t *testing.T) {
	t.Run("first caller becomes owner", func(t *testing.T) {
		c := New()
		doc, state, owner := c.GetOrCreate("db.coll", 1)
		assert.Nil(t, doc)
		assert.Equal(t, StatePending, state)
		assert.Equal(t, uint32(1), owner)
	})

	t.Run("second caller sees existing owner", func(t *testing.T) {
		c := New()
		c.GetOrCreate("db.coll", 1)

		doc, state, owner := c.GetOrCreate("db.coll", 2)
		assert.Nil(t, doc)
		assert.Equal(t, StatePending, state)
		assert.Equal(t, uint32(1), owner)
	})

	t.Run("done entry returns a copy", func(t *testing.T) {
		c := New()
		c.GetOrCreate("db.coll", 1)
		require.NoError(t, c.AddCopy("db.coll", collInfoDoc(t, "coll"), 1))

		doc, state, _ := c.GetOrCreate("db.coll", 2)
		require.Equal(t, StateDone, state)
		require.NotNil(t, doc)

		// Mutating the returned copy must not corrupt the cache.
		doc[4] = 0xff
		doc2, _, _ := c.GetOrCreate("db.coll", 3)
		assert.Equal(t, []byte(collInfoDoc(t, "coll")), []byte(doc2))
	})

	t.Run("distinct keys get distinct owners", func(t *testing.T) {
		c := New()
		_, _, ownerA := c.GetOrCreate("db.a", 1)
		_, _, ownerB := c.GetOrCreate("db.b", 2)
		assert.Equal(t, uint32(1), ownerA)
		assert.Equal(t, uint32(2), ownerB)
	})
}

func TestAddCopy(t *testing.T) {
	t.Run("owner completes entry", func(t *testing.T) {
		c := New()
		c.GetOrCreate("db.coll", 1)
		require.NoError(t, c.AddCopy("db.coll", collInfoDoc(t, "coll"), 1))

		_, state, _ := c.GetOrCreate("db.coll", 2)
		assert.Equal(t, StateDone, state)
	})

	t.Run("non-owner is a silent no-op", func(t *testing.T) {
		c := New()
		c.GetOrCreate("db.coll", 1)
		require.NoError(t, c.AddCopy("db.coll", collInfoDoc(t, "intruder"), 2))

		_, state, owner := c.GetOrCreate("db.coll", 3)
		assert.Equal(t, StatePending, state)
		assert.Equal(t, uint32(1), owner)
	})

	t.Run("empty document is an error", func(t *testing.T) {
		c := New()
		c.GetOrCreate("db.coll", 1)
		assert.Error(t, c.AddCopy("db.coll", nil, 1))
	})
}

func TestWait(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("non-blocking returns immediately", func(t *testing.T) {
		c := New()
		require.NoError(t, c.Wait(false))
	})

	t.Run("woken by AddCopy", func(t *testing.T) {
		c := New()
		c.GetOrCreate("db.coll", 1)
		c.GetOrCreate("db.coll", 2)

		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = c.Wait(true)
		}()

		// Give the waiter time to block.
		time.Sleep(10 * time.Millisecond)
		require.NoError(t, c.AddCopy("db.coll", collInfoDoc(t, "coll"), 1))

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("waiter was not woken")
		}
	})

	t.Run("woken by RemoveByOwner", func(t *testing.T) {
		c := New()
		c.GetOrCreate("db.coll", 1)
		c.GetOrCreate("db.coll", 2)

		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = c.Wait(true)
		}()

		time.Sleep(10 * time.Millisecond)
		c.RemoveByOwner(1)

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("waiter was not woken")
		}

		// The waiter re-polls and becomes the new owner.
		_, state, owner := c.GetOrCreate("db.coll", 2)
		assert.Equal(t, StatePending, state)
		assert.Equal(t, uint32(2), owner)
	})
}

func TestRemoveByOwner(t *testing.T) {
	t.Run("only pending entries owned by ctx are removed", func(t *testing.T) {
		c := New()
		c.GetOrCreate("db.mine", 1)
		c.GetOrCreate("db.theirs", 2)
		c.GetOrCreate("db.done", 1)
		require.NoError(t, c.AddCopy("db.done", collInfoDoc(t, "done"), 1))

		c.RemoveByOwner(1)

		_, state, owner := c.GetOrCreate("db.mine", 3)
		assert.Equal(t, StatePending, state)
		assert.Equal(t, uint32(3), owner)

		_, _, owner = c.GetOrCreate("db.theirs", 3)
		assert.Equal(t, uint32(2), owner)

		_, state, _ = c.GetOrCreate("db.done", 3)
		assert.Equal(t, StateDone, state)
	})
}

func TestConcurrentSingleOwner(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := New()
	const callers = 32

	var wg sync.WaitGroup
	owners := make([]uint32, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, owner := c.GetOrCreate("db.coll", uint32(i+1))
			owners[i] = owner
		}(i)
	}
	wg.Wait()

	// Every caller observed the same single owner.
	first := owners[0]
	for _, o := range owners {
		assert.Equal(t, first, o)
	}
}
