package client

import (
	"errors"

	"github.com/dmitrijs2005/dirkeeper/internal/common"
)

var (
	ErrUnavailable           = common.ErrTransientNetwork
	ErrUnauthorized          = common.ErrorUnauthorized
	ErrRateLimited           = errors.New("rate limited")
	ErrLocalDataNotAvailable = errors.New("local data unavailable")
)

// DeviceSetupError is returned by FetchDirectory when this device has no
// wrap yet. Scheme tells which path provisions it: "passcode" for an upgrade
// from the passcode, "prf" for a migration from another device.
type DeviceSetupError struct {
	Scheme string
}

func (e *DeviceSetupError) Error() string {
	return common.ErrNeedsDeviceSetup.Error() + " (scheme " + e.Scheme + ")"
}

func (e *DeviceSetupError) Unwrap() error { return common.ErrNeedsDeviceSetup }
