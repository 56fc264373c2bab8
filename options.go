package fieldcrypt

import (
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/allisson/fieldcrypt/internal/bsonutil"
	"github.com/allisson/fieldcrypt/internal/errors"
	"github.com/allisson/fieldcrypt/internal/validation"
)

// contextOptions holds everything settable before init. Which fields a given
// init accepts is decided by its option spec.
type contextOptions struct {
	masterKeyProvider string
	masterKeyCMK      string
	masterKeyRegion   string

	localSchema bsoncore.Document

	hasKeyID bool
	keyID    uuid.UUID

	hasKeyAltName bool
	keyAltName    bsoncore.Value

	iv []byte

	algorithm Algorithm
}

// setOptErr guards option setters: options are fixed once init ran.
func (c *Context) setOptErr() error {
	if c.initialized {
		return errors.Wrap(errors.ErrClientInput, "options must be set before initialization")
	}
	return nil
}

// SetMasterKey sets the KMS master key used to wrap a new data key. Required
// for DataKeyInit, prohibited elsewhere.
func (c *Context) SetMasterKey(provider, key, region string) error {
	if err := c.setOptErr(); err != nil {
		return err
	}
	if err := validation.NotBlank.Validate(provider); err != nil {
		return validation.WrapValidationError(err)
	}
	c.opts.masterKeyProvider = provider
	c.opts.masterKeyCMK = key
	c.opts.masterKeyRegion = region
	return nil
}

// SetKeyID selects the data key for explicit encryption by id.
func (c *Context) SetKeyID(id uuid.UUID) error {
	if err := c.setOptErr(); err != nil {
		return err
	}
	c.opts.keyID = id
	c.opts.hasKeyID = true
	return nil
}

// SetKeyAltName selects the data key for explicit encryption by alternate
// name.
func (c *Context) SetKeyAltName(name string) error {
	if err := c.setOptErr(); err != nil {
		return err
	}
	c.opts.keyAltName = bsoncore.Value{
		Type: bsoncore.TypeString,
		Data: bsoncore.AppendString(nil, name),
	}
	c.opts.hasKeyAltName = true
	return nil
}

// SetAlgorithm selects the encryption algorithm for explicit encryption.
func (c *Context) SetAlgorithm(alg Algorithm) error {
	if err := c.setOptErr(); err != nil {
		return err
	}
	if !alg.Valid() {
		return errors.Wrap(errors.ErrClientInput, "unknown algorithm")
	}
	c.opts.algorithm = alg
	return nil
}

// SetIV supplies a 16-byte initialization vector for deterministic explicit
// encryption.
func (c *Context) SetIV(iv []byte) error {
	if err := c.setOptErr(); err != nil {
		return err
	}
	if err := (validation.IV{}).Validate(iv); err != nil {
		return validation.WrapValidationError(err)
	}
	c.opts.iv = append([]byte(nil), iv...)
	return nil
}

// SetLocalSchema supplies a JSON schema for auto encryption, skipping the
// listCollections fetch.
func (c *Context) SetLocalSchema(schema []byte) error {
	if err := c.setOptErr(); err != nil {
		return err
	}
	doc, err := bsonutil.ValidateDocument(schema)
	if err != nil {
		return errors.Wrap(errors.ErrClientInput, "local schema must be valid BSON")
	}
	c.opts.localSchema = append(bsoncore.Document(nil), doc...)
	return nil
}

// optSpec is the validation stance for one option at init time.
type optSpec int

const (
	optProhibited optSpec = iota
	optRequired
	optOptional
)

// optsSpec is the per-context-type allow/require/forbid matrix.
type optsSpec struct {
	masterKey     optSpec
	schema        optSpec
	keyDescriptor optSpec // a key id or key alt name
	iv            optSpec
	algorithm     optSpec
}

var (
	autoEncryptSpec     = optsSpec{schema: optOptional}
	explicitEncryptSpec = optsSpec{keyDescriptor: optRequired, algorithm: optRequired, iv: optOptional}
	decryptSpec         = optsSpec{}
	datakeySpec         = optsSpec{masterKey: optRequired}
)

// applyOptsSpec checks the options set on the context against spec, emitting
// precise messages. label names the operation in those messages, e.g. "auto
// encryption".
func (c *Context) applyOptsSpec(spec optsSpec, label string) error {
	check := func(s optSpec, set bool, field string) error {
		switch {
		case s == optProhibited && set:
			return c.failMsg(errors.ErrClientInput, field+" must not be set for "+label)
		case s == optRequired && !set:
			return c.failMsg(errors.ErrClientInput, field+" is required for "+label)
		}
		return nil
	}

	if err := check(spec.masterKey, c.opts.masterKeyProvider != "", "masterkey options"); err != nil {
		return err
	}
	if err := check(spec.schema, len(c.opts.localSchema) > 0, "local_schema"); err != nil {
		return err
	}

	hasDescriptor := c.opts.hasKeyID || c.opts.hasKeyAltName
	if spec.keyDescriptor == optProhibited {
		if err := check(spec.keyDescriptor, c.opts.hasKeyID, "key_id"); err != nil {
			return err
		}
		if err := check(spec.keyDescriptor, c.opts.hasKeyAltName, "key_alt_name"); err != nil {
			return err
		}
	} else if spec.keyDescriptor == optRequired && !hasDescriptor {
		return c.failMsg(errors.ErrClientInput, "either key_id or key_alt_name is required for "+label)
	}
	if c.opts.hasKeyID && c.opts.hasKeyAltName {
		return c.failMsg(errors.ErrClientInput, "cannot set both key_id and key_alt_name")
	}

	if err := check(spec.iv, len(c.opts.iv) > 0, "iv"); err != nil {
		return err
	}
	return check(spec.algorithm, c.opts.algorithm != AlgorithmNone, "algorithm")
}
