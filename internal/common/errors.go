// Package common defines sentinel errors and small helpers shared by the
// vault, staging, ledger and repository layers. Callers should use errors.Is
// to match these values; producers wrap them with fmt.Errorf("...: %w").
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors.
	ErrorUnauthorized = errors.New("unauthorized")

	// Key management errors.
	ErrInvalidKeyLength      = errors.New("invalid key length")
	ErrAuthenticationFailure = errors.New("wrapped key authentication failure")
	ErrMasterKeyMismatch     = errors.New("master key mismatch")
	ErrCorruptKeyMaterial    = errors.New("corrupt key material")

	// Stream cipher errors.
	ErrTamperedCiphertext = errors.New("tampered ciphertext")
	ErrTagNotReady        = errors.New("authentication tag not ready")

	// Blob storage errors.
	ErrBlobNotFound        = errors.New("blob not found")
	ErrStorageWriteFailure = errors.New("storage write failure")

	// Content validation errors.
	ErrValidationFailed = errors.New("validation failed")

	// External analysis errors.
	ErrAnalysisOutputInvalid = errors.New("analysis output invalid")

	// Audit trail errors.
	ErrLedgerUnavailable = errors.New("ledger unavailable")

	// Staging errors.
	ErrStagingCleanupFailed = errors.New("staging cleanup failed")
)

// IsIntegrityError reports whether err signals that stored key material or
// ciphertext failed authentication. Such errors are never retried.
func IsIntegrityError(err error) bool {
	return errors.Is(err, ErrAuthenticationFailure) ||
		errors.Is(err, ErrTamperedCiphertext) ||
		errors.Is(err, ErrCorruptKeyMaterial)
}
