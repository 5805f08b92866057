// Package models defines server-side records persisted in the document store
// and the blob store.
package models

import (
	"github.com/dmitrijs2005/dirkeeper/internal/common"
	"github.com/dmitrijs2005/dirkeeper/internal/lockout"
)

// SchemeTag names an EncryptionScheme variant on the wire.
type SchemeTag string

const (
	SchemeNone     SchemeTag = "none"
	SchemePasscode SchemeTag = "passcode"
	SchemePRF      SchemeTag = "prf"
	SchemeErased   SchemeTag = "erased"
)

// EncryptionScheme is the lifecycle phase of an account's directory key.
// Exactly one variant applies at a time.
type EncryptionScheme interface {
	Tag() SchemeTag
}

// UnprovisionedScheme: no directory key was ever set up.
type UnprovisionedScheme struct{}

// PasscodeScheme (v1): one account-level wrap under a passcode-derived key.
type PasscodeScheme struct {
	Salt    []byte
	Wrapped []byte
	IV      []byte
}

// PRFScheme (v2): every device holds its own wrap on its session record.
type PRFScheme struct{}

// ErasedScheme: the v1 material was destroyed by a permanent lockout.
type ErasedScheme struct{}

func (UnprovisionedScheme) Tag() SchemeTag { return SchemeNone }
func (PasscodeScheme) Tag() SchemeTag      { return SchemePasscode }
func (PRFScheme) Tag() SchemeTag           { return SchemePRF }
func (ErasedScheme) Tag() SchemeTag        { return SchemeErased }

// Account is the per-account encryption record.
type Account struct {
	UserID          string
	PasscodeSalt    []byte
	WrappedDirKey   []byte
	WrappedDirKeyIV []byte
	Lockout         lockout.State
	PRFMigrated     bool
}

// Scheme derives the current variant from the stored columns.
func (a *Account) Scheme() EncryptionScheme {
	switch {
	case a == nil:
		return UnprovisionedScheme{}
	case a.PRFMigrated:
		return PRFScheme{}
	case a.WrappedDirKey != nil:
		return PasscodeScheme{Salt: a.PasscodeSalt, Wrapped: a.WrappedDirKey, IV: a.WrappedDirKeyIV}
	default:
		return ErasedScheme{}
	}
}

// SetPasscodeWrap stores a (new) v1 wrap.
func (a *Account) SetPasscodeWrap(salt, wrapped, iv []byte) {
	a.PasscodeSalt = salt
	a.WrappedDirKey = wrapped
	a.WrappedDirKeyIV = iv
}

// MigrateToPRF moves a v1 account to the PRF scheme and drops the v1 fields.
// Migrating an account that is already on PRF is a no-op.
func (a *Account) MigrateToPRF() error {
	switch a.Scheme().(type) {
	case PRFScheme:
		return nil
	case PasscodeScheme:
		a.SetPasscodeWrap(nil, nil, nil)
		a.PRFMigrated = true
		return nil
	default:
		return common.ErrSchemeMismatch
	}
}

// Erase irrecoverably drops the wrapped directory key material.
func (a *Account) Erase() {
	common.WipeByteArray(a.WrappedDirKey)
	a.SetPasscodeWrap(nil, nil, nil)
}
