// Package blobstore keeps encrypted objects: the per-user directory blob, the
// file ciphertexts and their wrapped-DEK sidecars. Objects are opaque bytes;
// nothing stored here is readable without a client-held key.
package blobstore

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/dirkeeper/internal/common"
	"github.com/google/uuid"
)

// Store is the narrow object-store surface the services need.
type Store interface {
	// Get returns common.ErrorNotFound for a missing key.
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// DirectoryKey is the object holding a user's encrypted listing.
func DirectoryKey(userID string) string {
	return fmt.Sprintf("users/%s/directory.json", userID)
}

// FileKey is the object holding a file's nonce-prefixed ciphertext.
func FileKey(userID, objectID string) string {
	return fmt.Sprintf("users/%s/files/%s", userID, objectID)
}

// DEKKey is the sidecar holding the wrapped DEK of a file.
func DEKKey(userID, objectID string) string {
	return FileKey(userID, objectID) + ".key"
}

// NewObjectID returns a fresh random object id.
func NewObjectID() string {
	return uuid.NewString()
}

// ValidateObjectID rejects anything that is not a UUID, which also keeps
// caller input out of the key path.
func ValidateObjectID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: object id", common.ErrInvalidRequest)
	}
	return nil
}
