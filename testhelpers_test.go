package fieldcrypt

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/allisson/fieldcrypt/internal/bsonutil"
)

type elemFn func(dst []byte) []byte

// makeDoc assembles a BSON document from element mutators.
func makeDoc(t *testing.T, fns ...elemFn) bsoncore.Document {
	t.Helper()
	idx, dst := bsoncore.AppendDocumentStart(nil)
	for _, fn := range fns {
		dst = fn(dst)
	}
	dst, err := bsoncore.AppendDocumentEnd(dst, idx)
	require.NoError(t, err)
	return dst
}

func strElem(key, value string) elemFn {
	return func(dst []byte) []byte {
		return bsoncore.AppendStringElement(dst, key, value)
	}
}

func int32Elem(key string, value int32) elemFn {
	return func(dst []byte) []byte {
		return bsoncore.AppendInt32Element(dst, key, value)
	}
}

func boolElem(key string, value bool) elemFn {
	return func(dst []byte) []byte {
		return bsoncore.AppendBooleanElement(dst, key, value)
	}
}

func binElem(key string, subtype byte, data []byte) elemFn {
	return func(dst []byte) []byte {
		return bsoncore.AppendBinaryElement(dst, key, subtype, data)
	}
}

func docElem(key string, doc bsoncore.Document) elemFn {
	return func(dst []byte) []byte {
		return bsoncore.AppendDocumentElement(dst, key, doc)
	}
}

// testSchema is an arbitrary JSON schema document.
func testSchema(t *testing.T) bsoncore.Document {
	t.Helper()
	return makeDoc(t, docElem("properties", makeDoc(t,
		docElem("ssn", makeDoc(t, strElem("encrypt", "yes"))),
	)))
}

// markingElem builds a binary subtype 6 marking element for a key id.
func markingElem(t *testing.T, key string, keyID uuid.UUID, alg int32, value string) elemFn {
	t.Helper()
	payload := makeDoc(t,
		func(dst []byte) []byte { return bsonutil.AppendUUIDElement(dst, "ki", keyID) },
		int32Elem("a", alg),
		strElem("v", value),
	)
	return binElem(key, bsonutil.SubtypeEncrypted, append([]byte{0}, payload...))
}

// markingsReply wraps a marked command the way the query-analysis service
// replies.
func markingsReply(t *testing.T, result bsoncore.Document) bsoncore.Document {
	t.Helper()
	return makeDoc(t,
		boolElem("schemaRequiresEncryption", true),
		boolElem("hasEncryptedPlaceholders", true),
		docElem("result", result),
	)
}

// keyVaultDoc builds a key vault document with wrapped material.
func keyVaultDoc(t *testing.T, id uuid.UUID, wrapped []byte) bsoncore.Document {
	t.Helper()
	return makeDoc(t,
		func(dst []byte) []byte { return bsonutil.AppendUUIDElement(dst, "_id", id) },
		binElem("keyMaterial", bsonutil.SubtypeGeneric, wrapped),
		docElem("masterKey", makeDoc(t, strElem("provider", "local"))),
	)
}

// testMaterial is a fixed 32-byte key material.
func testMaterial(seed byte) []byte {
	material := make([]byte, 32)
	for i := range material {
		material[i] = seed + byte(i)
	}
	return material
}

// driveKeysAndKMS answers NEED_MONGO_KEYS with the given key documents and
// NEED_KMS with materials keyed by what the key doc wrapped.
func driveKeysAndKMS(t *testing.T, ctx *Context, keyDocs []bsoncore.Document, materials map[string][]byte) {
	t.Helper()

	require.Equal(t, StateNeedMongoKeys, ctx.State())
	_, err := ctx.MongoOp()
	require.NoError(t, err)
	for _, doc := range keyDocs {
		require.NoError(t, ctx.MongoFeed(doc))
	}
	require.NoError(t, ctx.MongoDone())

	if ctx.State() == StateNeedKMS {
		for {
			kctx, err := ctx.NextKMSCtx()
			require.NoError(t, err)
			if kctx == nil {
				break
			}
			material, ok := materials[string(kctx.Message())]
			require.True(t, ok, "no material for KMS message")
			require.NoError(t, kctx.Feed(material))
		}
		require.NoError(t, ctx.KMSDone())
	}
}
