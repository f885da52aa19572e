package interfaces

import "errors"

var (
	// ErrWeakInput: the password or salt does not meet policy. Prompt again.
	ErrWeakInput = errors.New("weak input")

	// ErrAlreadyInitialized: keys already exist locally or in the directory.
	ErrAlreadyInitialized = errors.New("keys already initialized")

	// ErrRotationInProgress: a rotation is running for this session.
	ErrRotationInProgress = errors.New("rotation in progress")

	// ErrDirectoryUnavailable wraps transport and storage failures of the
	// public key directory. Callers may retry with backoff; nothing here retries.
	ErrDirectoryUnavailable = errors.New("directory unavailable")

	// ErrIncompatibleCurve: local and peer keys live on different curves.
	ErrIncompatibleCurve = errors.New("incompatible curve")

	// ErrAuthentication: ciphertext failed authentication.
	ErrAuthentication = errors.New("authentication failed")

	ErrNotFound           = errors.New("not found")
	ErrNotInitialized     = errors.New("keys not initialized")
	ErrRevoked            = errors.New("keys revoked")
	ErrInvalidTransition  = errors.New("invalid lifecycle transition")
	ErrNoMigrationNeeded  = errors.New("no migration needed")
	ErrMigrationRequired  = errors.New("key migration required")
	ErrKeyMismatch        = errors.New("derived key does not match published key")
	ErrGenerationExists   = errors.New("generation already published with a different key")
	ErrInvalidRecord      = errors.New("invalid key record")
	ErrUnauthorized       = errors.New("not signed by a live key of the user")
	ErrGenerationNotFound = errors.New("key generation not retained")
)

// UserFacing is the only failure detail ever shown to an end user.
type UserFacing string

const (
	TryDifferentPassword UserFacing = "try a different password"
	TryAgainLater        UserFacing = "try again later"
	Reauthenticate       UserFacing = "re-authenticate"
)

// Classify collapses any error from this module into a user-facing category.
// Detailed reasons belong in logs.
func Classify(err error) UserFacing {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrWeakInput), errors.Is(err, ErrKeyMismatch):
		return TryDifferentPassword
	case errors.Is(err, ErrDirectoryUnavailable),
		errors.Is(err, ErrBackendUnavailable),
		errors.Is(err, ErrRotationInProgress):
		return TryAgainLater
	default:
		// Integrity failures, revocation and state misuse all end in a fresh sign-in.
		return Reauthenticate
	}
}
