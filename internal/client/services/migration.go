package services

import (
	"context"

	"github.com/dmitrijs2005/dirkeeper/internal/client/migrate"
	"github.com/dmitrijs2005/dirkeeper/internal/common"
)

// MigrateNew receives the directory key from another signed-in device.
// onCode gets the pairing code to enter on the old device. The PRF wrap is
// stored before the relay is told the transfer succeeded.
func (s *DeviceService) MigrateNew(ctx context.Context, onCode func(code string)) error {
	s.mu.Lock()
	err := s.requireSession()
	token := s.client.Token()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	// the wait for the old device can be long; the lock is not held
	n := &migrate.NewDevice{RelayURL: s.client.RelayURL(), Token: token, Dialer: s.dialer}
	dirKey, err := n.Run(ctx, onCode, s.enrollLocked)
	if err != nil {
		return err
	}
	s.log.Info(ctx, "directory key received from another device")

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx, dirKey)
}

// MigrateOld sends the unlocked directory key to the device showing code.
func (s *DeviceService) MigrateOld(ctx context.Context, code string) error {
	s.mu.Lock()
	if s.dirKey == nil {
		s.mu.Unlock()
		return ErrLocked
	}
	dirKey := append([]byte(nil), s.dirKey...)
	token := s.client.Token()
	s.mu.Unlock()
	defer common.WipeByteArray(dirKey)

	o := &migrate.OldDevice{RelayURL: s.client.RelayURL(), Token: token, Dialer: s.dialer}
	if err := o.Run(ctx, code, dirKey); err != nil {
		return err
	}
	s.log.Info(ctx, "directory key sent to another device")
	return nil
}
