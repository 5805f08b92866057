package cryptox

import (
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/dmitrijs2005/dirkeeper/internal/common"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// Scheme tags which derivation turns a secret into a wrapping key.
type Scheme string

const (
	SchemePasscode Scheme = "passcode"
	SchemePRF      Scheme = "prf"
)

const (
	// PasscodeLength is the number of digits in a passcode.
	PasscodeLength = 6
	// SaltSize is the length of a freshly generated passcode salt.
	SaltSize = 16
	// MinPRFSize is the shortest PRF output accepted as key material.
	MinPRFSize = 32
	// PRFInfo is the HKDF context label for PRF-derived wrapping keys.
	PRFInfo = "Data Encryption"
)

// PasscodeIterations is the PBKDF2-SHA256 work factor. Tests lower it.
var PasscodeIterations = 1_000_000

// GenerateSalt returns a random passcode salt.
func GenerateSalt() []byte {
	return common.GenerateRandByteArray(SaltSize)
}

// ValidatePasscode checks that p is exactly six ASCII digits.
func ValidatePasscode(p []byte) error {
	if len(p) != PasscodeLength {
		return common.ErrInvalidSecret
	}
	for _, c := range p {
		if c < '0' || c > '9' {
			return common.ErrInvalidSecret
		}
	}
	return nil
}

// DerivePasscodeKey stretches a 6-digit passcode into an AES-256 key.
func DerivePasscodeKey(passcode, salt []byte) ([]byte, error) {
	if err := ValidatePasscode(passcode); err != nil {
		return nil, err
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("empty salt: %w", common.ErrInvalidRequest)
	}
	return pbkdf2.Key(passcode, salt, PasscodeIterations, common.DirKeySize, sha256.New), nil
}

// DerivePRFKey expands a passkey PRF evaluation into an AES-256 key using
// HKDF-SHA256 with a zero salt and the PRFInfo label.
func DerivePRFKey(prf []byte) ([]byte, error) {
	if len(prf) < MinPRFSize {
		return nil, common.ErrInvalidSecret
	}
	r := hkdf.New(sha256.New, prf, make([]byte, sha256.Size), []byte(PRFInfo))
	key := make([]byte, common.DirKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// DeriveKey dispatches on scheme. The salt is only used by SchemePasscode; a
// PRF evaluation is already bound to the authenticator's own salt input.
func DeriveKey(scheme Scheme, secret, salt []byte) ([]byte, error) {
	switch scheme {
	case SchemePasscode:
		return DerivePasscodeKey(secret, salt)
	case SchemePRF:
		return DerivePRFKey(secret)
	default:
		return nil, fmt.Errorf("unknown scheme %q: %w", scheme, common.ErrInvalidRequest)
	}
}
