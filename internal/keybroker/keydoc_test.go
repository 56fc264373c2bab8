package keybroker

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/allisson/fieldcrypt/internal/bsonutil"
	apperrors "github.com/allisson/fieldcrypt/internal/errors"
)

func TestParseKeyDoc(t *testing.T) {
	id := uuid.New()

	t.Run("full document", func(t *testing.T) {
		doc := keyDoc(t, id, []string{"alpha", "beta"}, []byte("wrapped"))

		kd, err := ParseKeyDoc(doc)
		require.NoError(t, err)
		assert.Equal(t, id, kd.ID)
		assert.Equal(t, []byte("wrapped"), kd.EncryptedMaterial)
		assert.Equal(t, "local", kd.MasterKey.Provider)
		require.Len(t, kd.AltNames, 2)
		name, _ := kd.AltNames[0].StringValueOK()
		assert.Equal(t, "alpha", name)
	})

	t.Run("ignores unrecognized fields", func(t *testing.T) {
		idx, doc := bsoncore.AppendDocumentStart(nil)
		doc = bsonutil.AppendUUIDElement(doc, "_id", id)
		doc = bsoncore.AppendBinaryElement(doc, "keyMaterial", bsonutil.SubtypeGeneric, []byte("w"))
		doc = bsoncore.AppendDateTimeElement(doc, "creationDate", 0)
		doc = bsoncore.AppendInt32Element(doc, "status", 0)
		doc, err := bsoncore.AppendDocumentEnd(doc, idx)
		require.NoError(t, err)

		_, err = ParseKeyDoc(doc)
		assert.NoError(t, err)
	})

	t.Run("missing _id", func(t *testing.T) {
		idx, doc := bsoncore.AppendDocumentStart(nil)
		doc = bsoncore.AppendBinaryElement(doc, "keyMaterial", bsonutil.SubtypeGeneric, []byte("w"))
		doc, err := bsoncore.AppendDocumentEnd(doc, idx)
		require.NoError(t, err)

		_, err = ParseKeyDoc(doc)
		require.ErrorIs(t, err, apperrors.ErrKeyBroker)
		assert.Contains(t, err.Error(), "no '_id'")
	})

	t.Run("missing keyMaterial", func(t *testing.T) {
		idx, doc := bsoncore.AppendDocumentStart(nil)
		doc = bsonutil.AppendUUIDElement(doc, "_id", id)
		doc, err := bsoncore.AppendDocumentEnd(doc, idx)
		require.NoError(t, err)

		_, err = ParseKeyDoc(doc)
		require.ErrorIs(t, err, apperrors.ErrKeyBroker)
		assert.Contains(t, err.Error(), "no 'keyMaterial'")
	})

	t.Run("malformed _id", func(t *testing.T) {
		idx, doc := bsoncore.AppendDocumentStart(nil)
		doc = bsoncore.AppendStringElement(doc, "_id", "not-a-uuid")
		doc = bsoncore.AppendBinaryElement(doc, "keyMaterial", bsonutil.SubtypeGeneric, []byte("w"))
		doc, err := bsoncore.AppendDocumentEnd(doc, idx)
		require.NoError(t, err)

		_, err = ParseKeyDoc(doc)
		assert.ErrorIs(t, err, apperrors.ErrKeyBroker)
	})

	t.Run("not a document", func(t *testing.T) {
		_, err := ParseKeyDoc([]byte{9, 9})
		assert.ErrorIs(t, err, apperrors.ErrKeyBroker)
	})
}
