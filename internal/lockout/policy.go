// Package lockout implements the escalating lockout ladder applied to failed
// directory-key unwrap attempts. It is pure state-transition logic; callers
// persist State themselves and must apply Check/Fail/Succeed inside the same
// atomic read-modify-write.
package lockout

import (
	"time"

	"github.com/dmitrijs2005/dirkeeper/internal/common"
)

const (
	// LockoutThreshold is the failed-attempt count at which delays start.
	LockoutThreshold = 3
	// EraseThreshold is the failed-attempt count at which the lockout becomes
	// permanent and the wrapped key material is destroyed.
	EraseThreshold = 9
	// Permanent is the RetryAt sentinel for a lockout that never expires.
	Permanent int64 = -1
)

// delays is indexed by failed-attempt count, LockoutThreshold..EraseThreshold-1.
var delays = [EraseThreshold]time.Duration{
	3: 1 * time.Minute,
	4: 5 * time.Minute,
	5: 15 * time.Minute,
	6: 60 * time.Minute,
	7: 180 * time.Minute,
	8: 480 * time.Minute,
}

// Delay returns the backoff applied after the given number of consecutive
// failures. It is zero below LockoutThreshold and at or above EraseThreshold.
func Delay(attempts int) time.Duration {
	if attempts < LockoutThreshold || attempts >= EraseThreshold {
		return 0
	}
	return delays[attempts]
}

// State is the persisted lockout record of one account. RetryAt is unix
// milliseconds, or Permanent.
type State struct {
	FailedAttempts int
	LockedOut      bool
	RetryAt        int64
}

// Outcome tells the caller what to do after a failed attempt.
type Outcome struct {
	// Erase is set when the wrapped directory key must be destroyed.
	Erase bool
}

// IsPermanent reports whether the account is locked for good.
func (s State) IsPermanent() bool {
	return s.LockedOut && s.RetryAt == Permanent
}

// Check evaluates the lockout before an attempt. An expired temporary lockout
// is cleared (the attempt counter is kept so the ladder keeps escalating). A
// still-active lockout is returned as *common.LockedOutError.
func (s State) Check(now time.Time) (State, error) {
	if !s.LockedOut {
		return s, nil
	}
	if s.RetryAt == Permanent {
		return s, &common.LockedOutError{Permanent: true}
	}
	retryAt := time.UnixMilli(s.RetryAt)
	if now.After(retryAt) {
		s.LockedOut = false
		return s, nil
	}
	return s, &common.LockedOutError{RetryAt: retryAt}
}

// Fail records one failed attempt.
func (s State) Fail(now time.Time) (State, Outcome) {
	s.FailedAttempts++
	switch {
	case s.FailedAttempts >= EraseThreshold:
		s.LockedOut = true
		s.RetryAt = Permanent
		return s, Outcome{Erase: true}
	case s.FailedAttempts >= LockoutThreshold:
		s.LockedOut = true
		s.RetryAt = now.Add(Delay(s.FailedAttempts)).UnixMilli()
	}
	return s, Outcome{}
}

// Succeed resets the record after a successful unwrap.
func (s State) Succeed() State {
	return State{}
}

// Err returns the error a caller should surface for s right after Fail: the
// lockout if one was just engaged, otherwise common.ErrWrongSecret.
func (s State) Err() error {
	if !s.LockedOut {
		return common.ErrWrongSecret
	}
	if s.RetryAt == Permanent {
		return &common.LockedOutError{Permanent: true}
	}
	return &common.LockedOutError{RetryAt: time.UnixMilli(s.RetryAt)}
}
