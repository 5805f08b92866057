// Package cryptox holds the symmetric primitives shared by the server and the
// client: AES-256-GCM sealing, key wrapping, passcode/PRF key derivation and
// the ephemeral P-256 agreement used during device migration.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/dirkeeper/internal/common"
)

// NonceSize is the AES-GCM nonce length used everywhere in dirkeeper.
const NonceSize = 12

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext under key with a fresh random nonce.
func Seal(key, plaintext []byte) (ciphertext, nonce []byte, err error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	nonce = common.GenerateRandByteArray(NonceSize)
	return aesgcm.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// Open decrypts ciphertext produced by Seal. Any authentication failure,
// including a malformed nonce, is reported as common.ErrWrongSecret so callers
// cannot tell a wrong key from a damaged ciphertext.
func Open(key, ciphertext, nonce []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aesgcm.NonceSize() {
		return nil, common.ErrWrongSecret
	}
	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, common.ErrWrongSecret
	}
	return plaintext, nil
}

// WrapKey encrypts key under the key-encrypting key kek.
func WrapKey(kek, key []byte) (wrapped, iv []byte, err error) {
	return Seal(kek, key)
}

// UnwrapKey reverses WrapKey and checks the recovered key length.
func UnwrapKey(kek, wrapped, iv []byte) ([]byte, error) {
	key, err := Open(kek, wrapped, iv)
	if err != nil {
		return nil, err
	}
	if len(key) != common.DirKeySize {
		common.WipeByteArray(key)
		return nil, common.ErrWrongSecret
	}
	return key, nil
}

// SealBlob encrypts a whole object and prefixes the nonce, which is the layout
// used for file contents in the blob store.
func SealBlob(key, plaintext []byte) ([]byte, error) {
	ct, nonce, err := Seal(key, plaintext)
	if err != nil {
		return nil, err
	}
	return append(nonce, ct...), nil
}

// OpenBlob decrypts an object written by SealBlob.
func OpenBlob(key, blob []byte) ([]byte, error) {
	if len(blob) < NonceSize {
		return nil, common.ErrWrongSecret
	}
	return Open(key, blob[NonceSize:], blob[:NonceSize])
}

// EncryptEntry serializes entry to JSON and seals it under key.
func EncryptEntry(entry any, key []byte) (ciphertext, nonce []byte, err error) {
	plaintext, err := json.Marshal(entry)
	if err != nil {
		return nil, nil, err
	}
	defer common.WipeByteArray(plaintext)
	return Seal(key, plaintext)
}

// DecryptEntry opens ciphertext and unmarshals the JSON plaintext into v.
func DecryptEntry(ciphertext, nonce, key []byte, v any) error {
	plaintext, err := Open(key, ciphertext, nonce)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(plaintext)
	return json.Unmarshal(plaintext, v)
}
