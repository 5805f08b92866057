// Package services contains the client's device service: sign-in, unlocking
// the directory key through the device PRF or the passcode, the encrypted
// listing, the upload queue and device migration.
package services

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/dmitrijs2005/dirkeeper/internal/client/client"
	"github.com/dmitrijs2005/dirkeeper/internal/client/migrate"
	"github.com/dmitrijs2005/dirkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/dirkeeper/internal/client/repositories/uploads"
	"github.com/dmitrijs2005/dirkeeper/internal/common"
	"github.com/dmitrijs2005/dirkeeper/internal/cryptox"
	"github.com/dmitrijs2005/dirkeeper/internal/directory"
	"github.com/dmitrijs2005/dirkeeper/internal/logging"
)

var (
	// ErrLocked is returned by operations that need the directory key.
	ErrLocked = errors.New("directory is locked")
	// ErrSignedOut is returned when no session is stored on this device.
	ErrSignedOut = errors.New("not signed in")
)

// PRF is the device's pseudo random function, a passkey PRF extension or
// cryptox.SoftPRF.
type PRF interface {
	Evaluate(salt []byte) ([]byte, error)
}

// newDirKey is swapped in tests.
var newDirKey = func() []byte { return common.GenerateRandByteArray(common.DirKeySize) }

// Deps are the collaborators of a DeviceService.
type Deps struct {
	Client   client.Client
	Store    *metadata.DeviceStore
	Uploads  uploads.Repository
	HTTP     *http.Client
	Dialer   migrate.Dialer
	Logger   logging.Logger
	Download string // directory downloaded files are written to
}

// DeviceService holds the unlocked directory key and listing in memory.
// Its methods are safe for concurrent use; they serialize on one mutex.
type DeviceService struct {
	client  client.Client
	store   *metadata.DeviceStore
	uploads uploads.Repository
	http    *http.Client
	dialer  migrate.Dialer
	log     logging.Logger
	outDir  string

	mu      sync.Mutex
	userID  string
	dirKey  []byte
	listing *directory.Listing
}

func NewDeviceService(d Deps) *DeviceService {
	if d.HTTP == nil {
		d.HTTP = http.DefaultClient
	}
	if d.Logger == nil {
		d.Logger = logging.Nop()
	}
	return &DeviceService{
		client:  d.Client,
		store:   d.Store,
		uploads: d.Uploads,
		http:    d.HTTP,
		dialer:  d.Dialer,
		log:     d.Logger.With("module", "device"),
		outDir:  d.Download,
	}
}

// Resume restores a stored session. It reports whether one was found.
func (s *DeviceService) Resume(ctx context.Context) (bool, error) {
	sess, err := s.store.Session(ctx)
	if err != nil {
		return false, err
	}
	if sess.Token == "" {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = sess.UserID
	s.client.SetToken(sess.Token)
	return true, nil
}

// Login signs in with the development credential derived from authSecret
// and keeps the session token in the device store.
func (s *DeviceService) Login(ctx context.Context, userID string, authSecret []byte) error {
	cred := hex.EncodeToString(cryptox.DevCredential(authSecret, userID))
	if err := s.client.Login(ctx, userID, cred); err != nil {
		return fmt.Errorf("login error: %w", err)
	}
	if err := s.store.SaveSession(ctx, metadata.Session{UserID: userID, Token: s.client.Token()}); err != nil {
		return fmt.Errorf("session saving error: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockLocked()
	s.userID = userID
	return nil
}

// Logout ends the server session, forgets it locally and locks the device.
// The local session is dropped even when the server cannot be reached.
func (s *DeviceService) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	remoteErr := s.client.Logout(ctx)
	if remoteErr != nil {
		s.log.Warn(ctx, "server logout failed", "error", remoteErr)
	}
	s.client.SetToken("")
	s.lockLocked()
	s.userID = ""
	if err := s.store.ClearSession(ctx); err != nil {
		return err
	}
	if remoteErr != nil && !errors.Is(remoteErr, common.ErrTransientNetwork) && !errors.Is(remoteErr, common.ErrorUnauthorized) {
		return remoteErr
	}
	return nil
}

func (s *DeviceService) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *DeviceService) Unlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirKey != nil
}

// Lock wipes the directory key from memory.
func (s *DeviceService) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockLocked()
}

func (s *DeviceService) lockLocked() {
	common.WipeByteArray(s.dirKey)
	s.dirKey = nil
	s.listing = nil
}

func (s *DeviceService) requireSession() error {
	if s.client.Token() == "" {
		return ErrSignedOut
	}
	return nil
}

// prfKey evaluates the device PRF and derives the v2 wrapping key.
func (s *DeviceService) prfKey(ctx context.Context) ([]byte, error) {
	secret, err := s.store.DeviceSecret(ctx)
	if err != nil {
		return nil, err
	}
	out, err := cryptox.SoftPRF{Secret: secret}.Evaluate(cryptox.PRFSalt)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(out)
	return cryptox.DeriveKey(cryptox.SchemePRF, out, nil)
}

// Setup provisions a new account: a random directory key wrapped under the
// passcode and an empty encrypted listing. The device stays unlocked.
func (s *DeviceService) Setup(ctx context.Context, passcode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireSession(); err != nil {
		return err
	}

	dirKey := newDirKey()
	listing, err := s.provisionLocked(ctx, dirKey, passcode)
	if err != nil {
		common.WipeByteArray(dirKey)
		return err
	}

	s.lockLocked()
	s.dirKey, s.listing = dirKey, listing
	s.log.Info(ctx, "directory provisioned", "user_id", s.userID)
	return nil
}

// provisionLocked stores the passcode wrap of dirKey and an empty listing.
func (s *DeviceService) provisionLocked(ctx context.Context, dirKey []byte, passcode string) (*directory.Listing, error) {
	salt := cryptox.GenerateSalt()
	kek, err := cryptox.DerivePasscodeKey([]byte(passcode), salt)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(kek)

	wrapped, iv, err := cryptox.WrapKey(kek, dirKey)
	if err != nil {
		return nil, err
	}
	if err := s.client.Setup(ctx, salt, wrapped, iv); err != nil {
		return nil, fmt.Errorf("setup error: %w", err)
	}

	listing := directory.NewListing("/")
	if err := s.putListingLocked(ctx, dirKey, listing); err != nil {
		return nil, err
	}
	return listing, nil
}

// Unlock opens the directory key with this device's PRF wrap.
// A *client.DeviceSetupError means the device has no wrap yet: with scheme
// passcode call UnlockWithPasscode, with scheme prf migrate from another
// device.
func (s *DeviceService) Unlock(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireSession(); err != nil {
		return err
	}

	bundle, err := s.client.FetchDirectory(ctx)
	if err != nil {
		return err
	}

	kek, err := s.prfKey(ctx)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(kek)

	dirKey, err := cryptox.UnwrapKey(kek, bundle.DeviceKey, bundle.DeviceKeyIV)
	if err != nil {
		return err
	}
	listing, err := directory.DecryptListing(dirKey, bundle.Directory)
	if err != nil {
		common.WipeByteArray(dirKey)
		return err
	}
	s.lockLocked()
	s.dirKey, s.listing = dirKey, listing
	return nil
}

// UnlockWithPasscode unwraps the directory key with the passcode on the
// server and immediately stores this device's PRF wrap, which moves the
// account to the PRF scheme.
func (s *DeviceService) UnlockWithPasscode(ctx context.Context, passcode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireSession(); err != nil {
		return err
	}

	dirKey, err := s.client.Unwrap(ctx, passcode)
	if err != nil {
		return err
	}
	if err := s.enrollLocked(ctx, dirKey); err != nil {
		common.WipeByteArray(dirKey)
		return err
	}
	return s.refreshLocked(ctx, dirKey)
}

// Upgrade stores this device's PRF wrap of the unlocked directory key.
func (s *DeviceService) Upgrade(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirKey == nil {
		return ErrLocked
	}
	return s.enrollLocked(ctx, s.dirKey)
}

func (s *DeviceService) enrollLocked(ctx context.Context, dirKey []byte) error {
	kek, err := s.prfKey(ctx)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(kek)

	wrapped, iv, err := cryptox.WrapKey(kek, dirKey)
	if err != nil {
		return err
	}
	if err := s.client.UpgradeDevice(ctx, wrapped, iv); err != nil {
		return fmt.Errorf("device upgrade error: %w", err)
	}
	s.log.Info(ctx, "device enrolled with prf")
	return nil
}

// refreshLocked fetches and opens the listing with an already known key and
// takes ownership of dirKey.
func (s *DeviceService) refreshLocked(ctx context.Context, dirKey []byte) error {
	bundle, err := s.client.FetchDirectory(ctx)
	if err != nil {
		common.WipeByteArray(dirKey)
		return err
	}
	listing, err := directory.DecryptListing(dirKey, bundle.Directory)
	if err != nil {
		common.WipeByteArray(dirKey)
		return err
	}
	s.lockLocked()
	s.dirKey, s.listing = dirKey, listing
	return nil
}

// ChangePasscode rewraps the directory key under a new passcode. Only
// accounts still on the passcode scheme have a passcode wrap.
func (s *DeviceService) ChangePasscode(ctx context.Context, oldPasscode, newPasscode string) error {
	if err := cryptox.ValidatePasscode([]byte(newPasscode)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireSession(); err != nil {
		return err
	}
	return s.client.ChangePasscode(ctx, oldPasscode, newPasscode)
}
