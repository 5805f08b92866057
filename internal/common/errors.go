// Package common defines shared constants and sentinel errors used across
// client and server layers of dirkeeper. Callers should use errors.Is / errors.As
// to match these values.
package common

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Repository-level errors.
	ErrorNotFound    = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Service-level errors.
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token expired")
	ErrInvalidRequest = errors.New("invalid request")

	// ErrWrongSecret is the only failure signal of an unwrap. A wrong passcode,
	// a wrong PRF output and a corrupted ciphertext all surface as this value.
	ErrWrongSecret = errors.New("incorrect")

	// ErrInvalidSecret rejects a secret of the wrong shape before any derivation
	// (e.g. a passcode that is not 6 digits). It does not count as an attempt.
	ErrInvalidSecret = errors.New("invalid secret format")

	// ErrLockedOut is wrapped by *LockedOutError.
	ErrLockedOut = errors.New("locked out")

	// Provisioning state.
	ErrNeedsSetup       = errors.New("encryption is not set up for this account")
	ErrNeedsDeviceSetup = errors.New("this device has no directory key")
	ErrSchemeMismatch   = errors.New("operation not valid for the account encryption scheme")

	// Relay.
	ErrRelayProtocol = errors.New("relay protocol error")
	ErrCodeNotFound  = errors.New("migration code not found")
	ErrAlreadyPaired = errors.New("migration code already paired")

	// Client-side transport.
	ErrTransientNetwork = errors.New("server unavailable")
)

// LockedOutError reports a temporary or permanent lockout. RetryAt is zero
// when Permanent is set.
type LockedOutError struct {
	RetryAt   time.Time
	Permanent bool
}

func (e *LockedOutError) Error() string {
	if e.Permanent {
		return "account locked permanently, contact an administrator"
	}
	return fmt.Sprintf("too many attempts, retry after %s", e.RetryAt.UTC().Format(time.RFC3339))
}

func (e *LockedOutError) Unwrap() error { return ErrLockedOut }
