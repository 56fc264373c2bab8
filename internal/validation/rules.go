// Package validation provides custom validation rules for context options and
// wire-format inputs.
package validation

import (
	"strings"

	validation "github.com/jellydator/validation"

	apperrors "github.com/allisson/fieldcrypt/internal/errors"
)

// WrapValidationError wraps validation errors as domain ErrClientInput.
func WrapValidationError(err error) error {
	if err == nil {
		return nil
	}
	return apperrors.Wrap(apperrors.ErrClientInput, err.Error())
}

// Namespace validates the "<db>.<coll>" collection namespace format. Both the
// database and collection parts must be non-empty.
var Namespace = validation.NewStringRuleWithError(
	func(s string) bool {
		dot := strings.Index(s, ".")
		return dot > 0 && dot < len(s)-1
	},
	validation.NewError("validation_namespace", "invalid ns. Must be <db>.<coll>"),
)

// KeyUUID validates a raw key id: exactly 16 bytes.
type KeyUUID struct{}

// Validate checks the value is a 16-byte slice.
func (KeyUUID) Validate(value interface{}) error {
	b, ok := value.([]byte)
	if !ok {
		return validation.NewError("validation_key_uuid", "key id must be a byte slice")
	}
	if len(b) != 16 {
		return validation.NewError("validation_key_uuid", "key id must be 16 bytes")
	}
	return nil
}

// IV validates an initialization vector: exactly 16 bytes when present.
type IV struct{}

// Validate checks the value is empty or a 16-byte slice.
func (IV) Validate(value interface{}) error {
	b, ok := value.([]byte)
	if !ok {
		return validation.NewError("validation_iv", "iv must be a byte slice")
	}
	if len(b) != 0 && len(b) != 16 {
		return validation.NewError("validation_iv", "iv must be 16 bytes")
	}
	return nil
}

// NotBlank validates that a string is not empty after trimming whitespace.
var NotBlank = validation.NewStringRuleWithError(
	func(s string) bool {
		return strings.TrimSpace(s) != ""
	},
	validation.NewError("validation_not_blank", "must not be blank"),
)
