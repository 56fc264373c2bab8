package commands

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/allisson/fieldcrypt"
	"github.com/allisson/fieldcrypt/internal/config"
	"github.com/allisson/fieldcrypt/kmskeeper"
)

// RunDecrypt drives one decrypt context to completion: key documents come
// from the key vault file, key material is unwrapped by the configured KMS
// keeper, and the decrypted document is printed as extended JSON.
func RunDecrypt(ctx context.Context, docPath, keyVaultPath string) error {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)

	if cfg.KMSKeyURI == "" {
		return fmt.Errorf("KMS_KEY_URI must be set")
	}

	doc, err := readHexFile(docPath)
	if err != nil {
		return err
	}
	keyDocs, err := readHexLines(keyVaultPath)
	if err != nil {
		return err
	}

	keeper, err := kmskeeper.Open(ctx, cfg.KMSKeyURI,
		kmskeeper.WithRateLimit(cfg.KMSRequestsPerSec, cfg.KMSBurst))
	if err != nil {
		return err
	}
	defer func() { _ = keeper.Close() }()

	var opts []fieldcrypt.Option
	if cfg.CacheNoblock {
		opts = append(opts, fieldcrypt.WithCacheNoblock())
	}
	crypt := fieldcrypt.New(opts...)

	cctx := crypt.NewContext()
	defer cctx.Close()

	if err := cctx.DecryptInit(doc); err != nil {
		return err
	}

	for {
		switch state := cctx.State(); state {
		case fieldcrypt.StateNeedMongoKeys:
			filter, err := cctx.MongoOp()
			if err != nil {
				return err
			}
			logger.Debug("fetching keys", slog.String("filter", bson.Raw(filter).String()))
			for _, keyDoc := range keyDocs {
				if err := cctx.MongoFeed(keyDoc); err != nil {
					return err
				}
			}
			if err := cctx.MongoDone(); err != nil {
				return err
			}
		case fieldcrypt.StateNeedKMS:
			if err := keeper.DriveKMS(ctx, cctx); err != nil {
				return err
			}
		case fieldcrypt.StateReady:
			out, err := cctx.Finalize()
			if err != nil {
				return err
			}
			fmt.Println(bson.Raw(out).String())
			return nil
		case fieldcrypt.StateError:
			return cctx.Status()
		default:
			return fmt.Errorf("unexpected state %s", state)
		}
	}
}
