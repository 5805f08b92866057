package models

import "time"

// Session is the per-device record created at login. WrappedDirKey is the
// device's v2 wrap and stays nil until the device completes PRF setup or a
// migration.
type Session struct {
	ID              string
	UserID          string
	WrappedDirKey   []byte
	WrappedDirKeyIV []byte
	PRFEnabled      bool
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// HasDeviceKey reports whether the device holds its own wrap.
func (s *Session) HasDeviceKey() bool {
	return s.PRFEnabled && len(s.WrappedDirKey) > 0
}
