package cryptox

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/dmitrijs2005/dirkeeper/internal/common"
	"golang.org/x/crypto/hkdf"
)

// MigrationInfo labels the key derived from the migration ECDH secret.
const MigrationInfo = "dirkeeper-migration"

// EphemeralKey is a single-use P-256 key pair for one migration session.
type EphemeralKey struct {
	priv *ecdh.PrivateKey
}

// NewEphemeralKey generates a fresh P-256 key pair.
func NewEphemeralKey() (*EphemeralKey, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &EphemeralKey{priv: priv}, nil
}

// PublicBytes returns the raw uncompressed public point (65 bytes).
func (k *EphemeralKey) PublicBytes() []byte {
	return k.priv.PublicKey().Bytes()
}

// SharedKey runs ECDH against the peer's raw public key and expands the
// shared secret into an AES-256 key. Both peers obtain the same key.
func (k *EphemeralKey) SharedKey(peer []byte) ([]byte, error) {
	pub, err := ecdh.P256().NewPublicKey(peer)
	if err != nil {
		return nil, fmt.Errorf("peer public key: %w", err)
	}
	secret, err := k.priv.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("ecdh: %w", err)
	}
	defer common.WipeByteArray(secret)

	key := make([]byte, common.DirKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(MigrationInfo)), key); err != nil {
		return nil, err
	}
	return key, nil
}
