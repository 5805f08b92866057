// Package services contains server-side business logic. This file implements
// KeyService, which guards the wrapped directory key: passcode unwrap with the
// lockout ladder, passcode rotation, device PRF upgrade and the encrypted
// directory and file lookups.
package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/dirkeeper/internal/common"
	"github.com/dmitrijs2005/dirkeeper/internal/cryptox"
	"github.com/dmitrijs2005/dirkeeper/internal/dbx"
	"github.com/dmitrijs2005/dirkeeper/internal/logging"
	"github.com/dmitrijs2005/dirkeeper/internal/server/blobstore"
	"github.com/dmitrijs2005/dirkeeper/internal/server/models"
	"github.com/dmitrijs2005/dirkeeper/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/dirkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/dirkeeper/internal/server/repositories/sessions"
)

// Unwrap results reported to the Observer.
const (
	ResultOK          = "ok"
	ResultWrongSecret = "wrong_secret"
	ResultLocked      = "locked"
	ResultErased      = "erased"
)

// Observer receives unwrap outcomes. The metrics package implements it.
type Observer interface {
	UnwrapResult(result string)
}

type nopObserver struct{}

func (nopObserver) UnwrapResult(string) {}

const (
	wrappedKeySize = common.DirKeySize + 16 // AES-GCM tag
)

type KeyService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	blobs       blobstore.Store
	observer    Observer
	logger      logging.Logger
	now         func() time.Time
}

func NewKeyService(db *sql.DB, m repomanager.RepositoryManager, blobs blobstore.Store,
	observer Observer, logger logging.Logger) *KeyService {
	if observer == nil {
		observer = nopObserver{}
	}
	return &KeyService{
		db:          db,
		repomanager: m,
		blobs:       blobs,
		observer:    observer,
		logger:      logger.With("module", "keys"),
		now:         time.Now,
	}
}

// Unwrap opens the v1 wrapped directory key with a passcode. Every failure
// of the decrypt step counts against the lockout ladder and is persisted in
// the same transaction that read the counters.
func (s *KeyService) Unwrap(ctx context.Context, userID string, passcode []byte) ([]byte, error) {
	if err := cryptox.ValidatePasscode(passcode); err != nil {
		return nil, err
	}

	var dirKey []byte
	var attemptErr error

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Accounts(tx)
		acc, err := s.lockAccount(ctx, repo, userID)
		if err != nil {
			return err
		}
		dirKey, attemptErr, err = s.attempt(ctx, repo, acc, passcode)
		return err
	})
	if err != nil {
		return nil, err
	}
	if attemptErr != nil {
		return nil, attemptErr
	}
	return dirKey, nil
}

// RewrapOnPasscodeChange re-wraps the directory key under a new passcode and
// a fresh salt. The old passcode goes through the same lockout path as Unwrap.
func (s *KeyService) RewrapOnPasscodeChange(ctx context.Context, userID string, oldPasscode, newPasscode []byte) error {
	if err := cryptox.ValidatePasscode(oldPasscode); err != nil {
		return err
	}
	if err := cryptox.ValidatePasscode(newPasscode); err != nil {
		return err
	}

	var attemptErr error

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Accounts(tx)
		acc, err := s.lockAccount(ctx, repo, userID)
		if err != nil {
			return err
		}

		var dirKey []byte
		dirKey, attemptErr, err = s.attempt(ctx, repo, acc, oldPasscode)
		if err != nil || attemptErr != nil {
			return err
		}
		defer common.WipeByteArray(dirKey)

		salt := cryptox.GenerateSalt()
		kek, err := cryptox.DerivePasscodeKey(newPasscode, salt)
		if err != nil {
			return err
		}
		defer common.WipeByteArray(kek)

		wrapped, iv, err := cryptox.WrapKey(kek, dirKey)
		if err != nil {
			return fmt.Errorf("wrap directory key: %w", err)
		}
		acc.SetPasscodeWrap(salt, wrapped, iv)
		return repo.Save(ctx, acc)
	})
	if err != nil {
		return err
	}
	if attemptErr == nil {
		s.logger.Info(ctx, "passcode changed", "user_id", userID)
	}
	return attemptErr
}

// lockAccount loads the account row under FOR UPDATE and rejects schemes
// that have no passcode wrap to try.
func (s *KeyService) lockAccount(ctx context.Context, repo accounts.Repository, userID string) (*models.Account, error) {
	acc, err := repo.GetForUpdate(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrNeedsSetup
		}
		return nil, err
	}

	switch acc.Scheme().(type) {
	case models.PasscodeScheme:
		return acc, nil
	case models.PRFScheme:
		return nil, common.ErrSchemeMismatch
	default:
		err := keylessErr(acc)
		if errors.Is(err, common.ErrLockedOut) {
			s.observer.UnwrapResult(ResultLocked)
		}
		return nil, err
	}
}

// keylessErr is reported for an account without key material: a permanent
// lockout once the wrap was erased, needsSetup otherwise.
func keylessErr(acc *models.Account) error {
	if acc.Lockout.IsPermanent() {
		return &common.LockedOutError{Permanent: true}
	}
	return common.ErrNeedsSetup
}

// attempt runs one lockout-guarded unwrap on a row locked by the caller and
// persists the resulting counters. A wrong secret or active lockout comes
// back as attemptErr, leaving err for failures that must abort the
// transaction.
func (s *KeyService) attempt(ctx context.Context, repo accounts.Repository, acc *models.Account, passcode []byte) (dirKey []byte, attemptErr error, err error) {
	now := s.now()

	state, lockErr := acc.Lockout.Check(now)
	if lockErr != nil {
		s.observer.UnwrapResult(ResultLocked)
		return nil, lockErr, nil
	}
	acc.Lockout = state

	v1 := acc.Scheme().(models.PasscodeScheme)
	kek, err := cryptox.DerivePasscodeKey(passcode, v1.Salt)
	if err != nil {
		return nil, nil, err
	}
	defer common.WipeByteArray(kek)

	dirKey, openErr := cryptox.UnwrapKey(kek, v1.Wrapped, v1.IV)
	if openErr == nil {
		acc.Lockout = acc.Lockout.Succeed()
		if err := repo.Save(ctx, acc); err != nil {
			common.WipeByteArray(dirKey)
			return nil, nil, err
		}
		s.observer.UnwrapResult(ResultOK)
		return dirKey, nil, nil
	}

	state, outcome := acc.Lockout.Fail(now)
	acc.Lockout = state
	if outcome.Erase {
		acc.Erase()
	}
	if err := repo.Save(ctx, acc); err != nil {
		return nil, nil, err
	}

	switch {
	case outcome.Erase:
		s.observer.UnwrapResult(ResultErased)
		s.logger.Warn(ctx, "directory key erased after repeated failures", "user_id", acc.UserID)
	case state.LockedOut:
		s.observer.UnwrapResult(ResultLocked)
		s.logger.Info(ctx, "account locked", "user_id", acc.UserID, "attempts", state.FailedAttempts)
	default:
		s.observer.UnwrapResult(ResultWrongSecret)
	}
	return nil, state.Err(), nil
}

// Setup stores the first v1 wrap of an account. The client generates the
// directory key and wraps it locally; the server only checks the shapes.
func (s *KeyService) Setup(ctx context.Context, userID string, salt, wrapped, iv []byte) error {
	if len(salt) != cryptox.SaltSize || len(wrapped) != wrappedKeySize || len(iv) != cryptox.NonceSize {
		return common.ErrInvalidRequest
	}

	acc := &models.Account{UserID: userID}
	acc.SetPasscodeWrap(salt, wrapped, iv)

	repo := s.repomanager.Accounts(s.db)
	if err := repo.Create(ctx, acc); err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			if existing, gerr := repo.Get(ctx, userID); gerr == nil && existing.Lockout.IsPermanent() {
				return &common.LockedOutError{Permanent: true}
			}
		}
		return err
	}
	s.logger.Info(ctx, "account provisioned", "user_id", userID)
	return nil
}

// FetchDirectory returns the device wrap and the encrypted listing for the
// calling session. A session without its own wrap gets ErrNeedsDeviceSetup
// together with a bundle whose Scheme tells the client which path to take:
// passcode upgrade while the account is still v1, migration once it is v2.
func (s *KeyService) FetchDirectory(ctx context.Context, userID, sessionID string) (*models.DirectoryBundle, error) {
	acc, err := s.repomanager.Accounts(s.db).Get(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrNeedsSetup
		}
		return nil, err
	}

	scheme := acc.Scheme()
	if _, erased := scheme.(models.ErasedScheme); erased {
		return nil, keylessErr(acc)
	}

	sess, err := s.ownSession(ctx, s.repomanager.Sessions(s.db), userID, sessionID)
	if err != nil {
		return nil, err
	}

	bundle := &models.DirectoryBundle{Scheme: scheme.Tag()}
	if !sess.HasDeviceKey() {
		return bundle, common.ErrNeedsDeviceSetup
	}
	bundle.DeviceKey = sess.WrappedDirKey
	bundle.DeviceKeyIV = sess.WrappedDirKeyIV

	blob, err := s.loadDirectory(ctx, userID)
	if err != nil {
		return nil, err
	}
	bundle.Directory = blob
	return bundle, nil
}

// UpgradeDeviceToPRF stores the device's v2 wrap, whether it came from a
// passcode unwrap or from a migration. If the account is still on the
// passcode scheme it is moved to PRF in the same transaction, which destroys
// the v1 wrap. Repeating the call overwrites the device wrap.
func (s *KeyService) UpgradeDeviceToPRF(ctx context.Context, userID, sessionID string, wrapped, iv []byte) error {
	if len(wrapped) != wrappedKeySize || len(iv) != cryptox.NonceSize {
		return common.ErrInvalidRequest
	}

	var migrated bool
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		accRepo := s.repomanager.Accounts(tx)
		acc, err := accRepo.GetForUpdate(ctx, userID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrNeedsSetup
			}
			return err
		}

		if err := s.repomanager.Sessions(tx).SetDeviceKey(ctx, sessionID, userID, wrapped, iv); err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrorUnauthorized
			}
			return err
		}

		switch acc.Scheme().(type) {
		case models.PRFScheme:
			return nil
		case models.PasscodeScheme:
			if err := acc.MigrateToPRF(); err != nil {
				return err
			}
			migrated = true
			return accRepo.Save(ctx, acc)
		default:
			return keylessErr(acc)
		}
	})
	if err != nil {
		return err
	}

	if migrated {
		s.logger.Info(ctx, "account migrated to prf", "user_id", userID)
	}
	return nil
}

// PutDirectory replaces the encrypted listing of a provisioned account.
func (s *KeyService) PutDirectory(ctx context.Context, userID string, blob models.DirectoryBlob) error {
	if len(blob.Listing) == 0 || len(blob.ListingIV) != cryptox.NonceSize ||
		len(blob.DEK) == 0 || len(blob.DEKIV) != cryptox.NonceSize {
		return common.ErrInvalidRequest
	}

	acc, err := s.repomanager.Accounts(s.db).Get(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrNeedsSetup
		}
		return err
	}
	if _, erased := acc.Scheme().(models.ErasedScheme); erased {
		return keylessErr(acc)
	}

	data, err := json.Marshal(blob)
	if err != nil {
		return err
	}
	return s.blobs.Put(ctx, blobstore.DirectoryKey(userID), data, "application/json")
}

// FileDownload returns a short-lived URL for a file's ciphertext together
// with its wrapped DEK.
func (s *KeyService) FileDownload(ctx context.Context, userID, objectID string) (*models.FileDownload, error) {
	if err := blobstore.ValidateObjectID(objectID); err != nil {
		return nil, err
	}

	raw, err := s.blobs.Get(ctx, blobstore.DEKKey(userID, objectID))
	if err != nil {
		return nil, err
	}
	var dek models.WrappedDEK
	if err := json.Unmarshal(raw, &dek); err != nil {
		return nil, fmt.Errorf("decode dek sidecar: %w", err)
	}

	url, err := s.blobs.PresignGet(ctx, blobstore.FileKey(userID, objectID), common.PresignTTL)
	if err != nil {
		return nil, err
	}
	return &models.FileDownload{URL: url, DEK: dek}, nil
}

// FileUpload allocates an object id, stores the wrapped DEK sidecar and
// returns a short-lived URL the client PUTs the ciphertext to.
func (s *KeyService) FileUpload(ctx context.Context, userID string, dek models.WrappedDEK) (objectID, url string, err error) {
	if len(dek.Data) != wrappedKeySize || len(dek.IV) != cryptox.NonceSize {
		return "", "", common.ErrInvalidRequest
	}

	objectID = blobstore.NewObjectID()
	raw, err := json.Marshal(dek)
	if err != nil {
		return "", "", err
	}
	if err := s.blobs.Put(ctx, blobstore.DEKKey(userID, objectID), raw, "application/json"); err != nil {
		return "", "", err
	}

	url, err = s.blobs.PresignPut(ctx, blobstore.FileKey(userID, objectID), common.PresignTTL)
	if err != nil {
		return "", "", err
	}
	return objectID, url, nil
}

func (s *KeyService) ownSession(ctx context.Context, repo sessions.Repository, userID, sessionID string) (*models.Session, error) {
	sess, err := repo.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, err
	}
	if sess.UserID != userID {
		return nil, common.ErrorUnauthorized
	}
	return sess, nil
}

func (s *KeyService) loadDirectory(ctx context.Context, userID string) (models.DirectoryBlob, error) {
	var blob models.DirectoryBlob

	raw, err := s.blobs.Get(ctx, blobstore.DirectoryKey(userID))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// provisioned but nothing uploaded yet
			return blob, nil
		}
		return blob, err
	}
	if err := json.Unmarshal(raw, &blob); err != nil {
		return blob, fmt.Errorf("decode directory blob: %w", err)
	}
	return blob, nil
}
