package commands

import (
	"encoding/base64"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/allisson/fieldcrypt/internal/ciphertext"
)

// RunInspectBlob parses a base64 ciphertext blob and prints its fields.
func RunInspectBlob(blob string) error {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return fmt.Errorf("failed to decode blob as base64: %w", err)
	}

	ct, err := ciphertext.Parse(raw)
	if err != nil {
		return err
	}

	algorithm := "deterministic"
	if ct.BlobSubtype == ciphertext.SubtypeRandom {
		algorithm = "random"
	}

	fmt.Printf("blob subtype:       %d (%s)\n", ct.BlobSubtype, algorithm)
	fmt.Printf("key id:             %s\n", ct.KeyID)
	fmt.Printf("original bson type: %s\n", bson.Type(ct.OriginalType))
	fmt.Printf("ciphertext length:  %d bytes\n", len(ct.Data))
	return nil
}
