// Package apperrors provides standardized sentinel errors for the vaultmesh
// core, mirroring the error kinds of spec §7 as wrapped sentinels rather than
// a closed tagged union.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across every domain package. Domain packages wrap
// these into their own named errors (e.g. ErrDocumentNotFound = Wrap(ErrNotFound, ...))
// rather than declaring unrelated error values, so callers can always fall
// back to errors.Is against this set.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a conflict with existing data.
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput indicates the input data is invalid or fails validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates missing or invalid authentication credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates insufficient permissions or an untrusted signer.
	ErrForbidden = errors.New("forbidden")

	// ErrCancelled indicates a cooperative cancellation signal was observed.
	ErrCancelled = errors.New("cancelled")

	// ErrCorruption indicates a CAS integrity failure: AES tag mismatch,
	// content hash mismatch, or malformed serialization. Never retried.
	ErrCorruption = errors.New("corruption")

	// ErrTimeout indicates a transport-layer deadline was exceeded.
	ErrTimeout = errors.New("timeout")

	// ErrInvalidSignature indicates a signature failed verification against
	// its claimed public key.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrUnknownSigner indicates an entry was signed by a public key absent
	// from the document's trust set.
	ErrUnknownSigner = errors.New("unknown signer")

	// ErrMissingKey indicates the decryption key named by an entry is not
	// present in the local KeyBag. Non-fatal during document assembly: the
	// entry is skipped but retained in the store.
	ErrMissingKey = errors.New("missing decryption key")

	// ErrDependencyMissing indicates an entry's dependency id is absent from
	// the content-addressed store, so the document cannot be fully assembled.
	ErrDependencyMissing = errors.New("dependency missing")

	// ErrInvalidToken indicates a session token is malformed, expired, or
	// unknown to the server.
	ErrInvalidToken = errors.New("invalid token")

	// ErrChallengeExpired indicates an auth challenge was answered after its
	// expiry deadline.
	ErrChallengeExpired = errors.New("challenge expired")

	// ErrUserRevoked indicates the tenant's admin key or trust entry has been
	// revoked.
	ErrUserRevoked = errors.New("user revoked")

	// ErrUserNotFound indicates no tenant or trusted peer matches the
	// supplied identity.
	ErrUserNotFound = errors.New("user not found")

	// ErrTransport indicates a network-level failure distinct from a timeout
	// (connection refused, reset, DNS failure).
	ErrTransport = errors.New("transport error")
)

// New creates a new error with the given message.
func New(message string) error {
	return errors.New(message)
}

// Wrap wraps an error with additional context while preserving the error chain.
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
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
