package commands

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/allisson/fieldcrypt"
	"github.com/allisson/fieldcrypt/internal/config"
	"github.com/allisson/fieldcrypt/kmskeeper"
)

// RunCreateDataKey creates one data key document, wrapping fresh key material
// with the configured KMS keeper, and prints it as extended JSON and hex.
func RunCreateDataKey(ctx context.Context, provider, key, region string) error {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)

	if cfg.KMSKeyURI == "" {
		return fmt.Errorf("KMS_KEY_URI must be set")
	}

	keeper, err := kmskeeper.Open(ctx, cfg.KMSKeyURI,
		kmskeeper.WithRateLimit(cfg.KMSRequestsPerSec, cfg.KMSBurst))
	if err != nil {
		return err
	}
	defer func() { _ = keeper.Close() }()

	crypt := fieldcrypt.New()
	cctx := crypt.NewContext()
	defer cctx.Close()

	if err := cctx.SetMasterKey(provider, key, region); err != nil {
		return err
	}
	if err := cctx.DataKeyInit(); err != nil {
		return err
	}
	if err := keeper.DriveKMS(ctx, cctx); err != nil {
		return err
	}

	keyDoc, err := cctx.Finalize()
	if err != nil {
		return err
	}

	logger.Info("created data key", slog.String("provider", provider))
	fmt.Println(bson.Raw(keyDoc).String())
	fmt.Println(hex.EncodeToString(keyDoc))
	return nil
}
