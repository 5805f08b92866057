package metadata

import (
	"context"

	"github.com/dmitrijs2005/dirkeeper/internal/common"
)

const (
	keyUserID       = "user_id"
	keyToken        = "token"
	keyDeviceSecret = "device_secret"
)

// DeviceSecretSize is the length of the soft PRF key generated per device.
const DeviceSecretSize = 32

// Session is the signed-in state of this device.
type Session struct {
	UserID string
	Token  string
}

// DeviceStore reads and writes the named device values kept in a Repository.
type DeviceStore struct {
	repo Repository
}

func NewDeviceStore(repo Repository) *DeviceStore {
	return &DeviceStore{repo: repo}
}

// Session returns the stored session. A zero Session means signed out.
func (s *DeviceStore) Session(ctx context.Context) (Session, error) {
	user, err := s.repo.Get(ctx, keyUserID)
	if err != nil {
		return Session{}, err
	}
	token, err := s.repo.Get(ctx, keyToken)
	if err != nil {
		return Session{}, err
	}
	return Session{UserID: string(user), Token: string(token)}, nil
}

func (s *DeviceStore) SaveSession(ctx context.Context, sess Session) error {
	if err := s.repo.Set(ctx, keyUserID, []byte(sess.UserID)); err != nil {
		return err
	}
	return s.repo.Set(ctx, keyToken, []byte(sess.Token))
}

// ClearSession forgets the token but keeps the device secret, so the device
// keeps its PRF wrap across sign-ins.
func (s *DeviceStore) ClearSession(ctx context.Context) error {
	for _, k := range []string{keyToken, keyUserID} {
		if err := s.repo.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// DeviceSecret returns the device's soft PRF key, creating it on first use.
func (s *DeviceStore) DeviceSecret(ctx context.Context) ([]byte, error) {
	v, err := s.repo.Get(ctx, keyDeviceSecret)
	if err != nil {
		return nil, err
	}
	if len(v) == DeviceSecretSize {
		return v, nil
	}
	v = common.GenerateRandByteArray(DeviceSecretSize)
	if err := s.repo.Set(ctx, keyDeviceSecret, v); err != nil {
		return nil, err
	}
	return v, nil
}
