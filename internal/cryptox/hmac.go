package cryptox

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
)

// PRFSalt is the fixed salt a device evaluates its PRF over to obtain the
// secret for its directory key wrap.
var PRFSalt = []byte("dirkeeper/prf/directory-key/v1")

var errNoDeviceSecret = errors.New("device secret is not set")

// DevCredential computes HMAC-SHA256(secret, userID), the login
// credential accepted by the development authenticator.
func DevCredential(secret []byte, userID string) []byte {
	return hmacSHA256(secret, []byte(userID))
}

// SoftPRF evaluates a software PRF keyed by a device-held secret. It stands in
// for an authenticator PRF extension on devices without one.
type SoftPRF struct {
	Secret []byte
}

// Evaluate returns HMAC-SHA256(secret, salt).
func (s SoftPRF) Evaluate(salt []byte) ([]byte, error) {
	if len(s.Secret) == 0 {
		return nil, errNoDeviceSecret
	}
	return hmacSHA256(s.Secret, salt), nil
}

func hmacSHA256(key, msg []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(msg)
	return m.Sum(nil)
}
