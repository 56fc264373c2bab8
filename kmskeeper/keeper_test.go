package kmskeeper

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allisson/fieldcrypt"
)

const localKeeperURI = "base64key://smGbjm71Nxd1Ig5FS0wj9SlbzAIrnolCz9bQQ6uAhl4="

func TestOpen(t *testing.T) {
	t.Run("local keeper", func(t *testing.T) {
		k, err := Open(context.Background(), localKeeperURI)
		require.NoError(t, err)
		assert.NoError(t, k.Close())
	})

	t.Run("unknown scheme", func(t *testing.T) {
		_, err := Open(context.Background(), "bogus://nope")
		assert.Error(t, err)
	})
}

func TestDriveKMS(t *testing.T) {
	keeper, err := Open(context.Background(), localKeeperURI, WithRateLimit(100, 10))
	require.NoError(t, err)
	defer func() { _ = keeper.Close() }()

	t.Run("data key creation", func(t *testing.T) {
		crypt := fieldcrypt.New()
		cctx := crypt.NewContext()
		defer cctx.Close()

		require.NoError(t, cctx.SetMasterKey("local", "", ""))
		require.NoError(t, cctx.DataKeyInit())
		require.Equal(t, fieldcrypt.StateNeedKMS, cctx.State())

		require.NoError(t, keeper.DriveKMS(context.Background(), cctx))
		require.Equal(t, fieldcrypt.StateReady, cctx.State())

		keyDoc, err := cctx.Finalize()
		require.NoError(t, err)
		require.NotNil(t, keyDoc)
		assert.Equal(t, fieldcrypt.StateDone, cctx.State())

		// The wrapped material must round trip through the keeper.
		v, err := keyDoc.LookupErr("keyMaterial")
		require.NoError(t, err)
		_, wrapped, ok := v.BinaryOK()
		require.True(t, ok)

		material, err := keeper.keeper.Decrypt(context.Background(), wrapped)
		require.NoError(t, err)
		assert.Len(t, material, 32)
	})

	t.Run("second drive after the KMS phase fails", func(t *testing.T) {
		crypt := fieldcrypt.New()
		cctx := crypt.NewContext()
		defer cctx.Close()

		require.NoError(t, cctx.SetMasterKey("local", "", ""))
		require.NoError(t, cctx.DataKeyInit())
		require.NoError(t, keeper.DriveKMS(context.Background(), cctx))

		// The context is READY now; NextKMSCtx requires the NEED_KMS state,
		// so a second drive fails.
		assert.Error(t, keeper.DriveKMS(context.Background(), cctx))
	})
}
