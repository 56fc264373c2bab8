// Package main provides the fieldcrypt command-line tool: blob inspection and
// offline drives of the decrypt and data-key state machines.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/allisson/fieldcrypt/cmd/app/commands"
)

func main() {
	cmd := &cli.Command{
		Name:    "fieldcrypt",
		Usage:   "Field-level encryption driver tooling",
		Version: "1.0.0",
		Commands: []*cli.Command{
			{
				Name:  "inspect-blob",
				Usage: "Parse a ciphertext blob and print its fields",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "blob",
						Aliases:  []string{"b"},
						Required: true,
						Usage:    "Base64-encoded ciphertext blob",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunInspectBlob(cmd.String("blob"))
				},
			},
			{
				Name:  "decrypt",
				Usage: "Decrypt a BSON document using a key vault file and the configured KMS",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "doc",
						Aliases:  []string{"d"},
						Required: true,
						Usage:    "Path to the document (hex-encoded BSON)",
					},
					&cli.StringFlag{
						Name:     "keyvault",
						Aliases:  []string{"k"},
						Required: true,
						Usage:    "Path to the key vault file (one hex-encoded BSON key document per line)",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunDecrypt(ctx, cmd.String("doc"), cmd.String("keyvault"))
				},
			},
			{
				Name:  "create-data-key",
				Usage: "Create a new data key document wrapped by the configured KMS",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "provider",
						Aliases:  []string{"p"},
						Required: true,
						Usage:    "KMS provider name stored in the key document (e.g. local, aws)",
					},
					&cli.StringFlag{
						Name:  "key",
						Usage: "Provider-specific master key identifier (e.g. an ARN)",
					},
					&cli.StringFlag{
						Name:  "region",
						Usage: "Provider region, when applicable",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunCreateDataKey(
						ctx,
						cmd.String("provider"),
						cmd.String("key"),
						cmd.String("region"),
					)
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.Any("error", err))
		os.Exit(1)
	}
}
