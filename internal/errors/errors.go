// Package errors provides standardized domain errors that express the failure
// categories of the encryption core rather than infrastructure details. These
// errors should be used by every package in the module and matched with Is by
// embedding drivers.
package errors

import (
	"errors"
	"fmt"
)

// Standard domain errors shared across the module.
var (
	// ErrClientInput indicates the caller supplied malformed arguments: a bad
	// namespace, a message without 'v', a view collection, or an option that
	// violates the per-context option spec.
	ErrClientInput = errors.New("client input error")

	// ErrMalformedBSON indicates a document could not be parsed as BSON.
	ErrMalformedBSON = errors.New("malformed BSON")

	// ErrMalformedCiphertext indicates a ciphertext blob violates the wire format.
	ErrMalformedCiphertext = errors.New("malformed ciphertext")

	// ErrMalformedMarking indicates an encryption marking violates its schema.
	ErrMalformedMarking = errors.New("malformed marking")

	// ErrCrypto indicates the underlying cipher failed to encrypt or decrypt.
	ErrCrypto = errors.New("crypto failure")

	// ErrKeyBroker indicates a key broker failure (missing key documents,
	// unresolved alt names, a failed KMS round trip).
	ErrKeyBroker = errors.New("key broker failure")

	// ErrCache indicates a collinfo cache failure.
	ErrCache = errors.New("cache failure")
)

// New creates a new error with the given message.
// This is a convenience wrapper around errors.New for consistency.
func New(message string) error {
	return errors.New(message)
}

// Wrap wraps an error with additional context while preserving the error chain.
// Use this to add context at each layer without losing the original error type.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted message while preserving the error chain.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's tree matches target.
// This is a convenience wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
// This is a convenience wrapper around errors.As.
func As(err error, target any) bool {
	return errors.As(err, target)
}
