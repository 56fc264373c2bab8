// Package kmskeeper answers a context's StateNeedKMS using gocloud.dev/secrets
// keepers. It lives outside the core on purpose: the library performs no I/O,
// and this package is one embedding application of its KMS surface.
package kmskeeper

import (
	"context"
	"fmt"

	"gocloud.dev/secrets"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/allisson/fieldcrypt"

	// Register all KMS provider drivers
	_ "gocloud.dev/secrets/awskms"
	_ "gocloud.dev/secrets/azurekeyvault"
	_ "gocloud.dev/secrets/gcpkms"
	_ "gocloud.dev/secrets/hashivault"
	_ "gocloud.dev/secrets/localsecrets"
)

// Keeper wraps a secrets.Keeper with a rate limiter for KMS round trips.
type Keeper struct {
	keeper  *secrets.Keeper
	limiter *rate.Limiter
}

// KeeperOption configures a Keeper.
type KeeperOption func(*Keeper)

// WithRateLimit bounds KMS round trips to rps requests per second with the
// given burst.
func WithRateLimit(rps float64, burst int) KeeperOption {
	return func(k *Keeper) {
		k.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// Open opens a keeper for the given provider URI.
// Supports: gcpkms://, awskms://, azurekeyvault://, hashivault://, base64key://
func Open(ctx context.Context, uri string, opts ...KeeperOption) (*Keeper, error) {
	keeper, err := secrets.OpenKeeper(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to open KMS keeper: %w", err)
	}

	k := &Keeper{
		keeper:  keeper,
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k, nil
}

// Close releases the underlying keeper.
func (k *Keeper) Close() error {
	return k.keeper.Close()
}

// DriveKMS drains every KMS round trip of a context in StateNeedKMS,
// performing the provider calls concurrently, and finishes with KMSDone. On
// return the context has advanced past the KMS phase.
func (k *Keeper) DriveKMS(ctx context.Context, cctx *fieldcrypt.Context) error {
	var kctxs []*fieldcrypt.KMSCtx
	for {
		kctx, err := cctx.NextKMSCtx()
		if err != nil {
			return err
		}
		if kctx == nil {
			break
		}
		kctxs = append(kctxs, kctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, kctx := range kctxs {
		kctx := kctx
		g.Go(func() error {
			if err := k.limiter.Wait(gctx); err != nil {
				return err
			}

			var (
				out []byte
				err error
			)
			switch kctx.Operation() {
			case fieldcrypt.KMSDecrypt:
				out, err = k.keeper.Decrypt(gctx, kctx.Message())
			case fieldcrypt.KMSEncrypt:
				out, err = k.keeper.Encrypt(gctx, kctx.Message())
			}
			if err != nil {
				return fmt.Errorf("KMS round trip failed: %w", err)
			}
			return kctx.Feed(out)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return cctx.KMSDone()
}
