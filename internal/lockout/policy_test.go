package lockout

import (
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/dirkeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelay_Ordering(t *testing.T) {
	for n := LockoutThreshold; n < EraseThreshold-1; n++ {
		assert.LessOrEqual(t, Delay(n), Delay(n+1), "delay[%d] > delay[%d]", n, n+1)
	}
	assert.Equal(t, time.Minute, Delay(3))
	assert.Equal(t, 480*time.Minute, Delay(8))
	assert.Zero(t, Delay(2))
	assert.Zero(t, Delay(9))
}

func TestFail_Ladder(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)

	tests := []struct {
		name      string
		before    int
		locked    bool
		retryAt   int64
		erase     bool
		wantError error
	}{
		{name: "first failure", before: 0, wantError: common.ErrWrongSecret},
		{name: "second failure", before: 1, wantError: common.ErrWrongSecret},
		{name: "third failure locks", before: 2, locked: true, retryAt: now.Add(time.Minute).UnixMilli(), wantError: common.ErrLockedOut},
		{name: "eighth failure", before: 7, locked: true, retryAt: now.Add(480 * time.Minute).UnixMilli(), wantError: common.ErrLockedOut},
		{name: "ninth failure erases", before: 8, locked: true, retryAt: Permanent, erase: true, wantError: common.ErrLockedOut},
		{name: "beyond ninth", before: 12, locked: true, retryAt: Permanent, erase: true, wantError: common.ErrLockedOut},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, out := State{FailedAttempts: tt.before}.Fail(now)
			assert.Equal(t, tt.before+1, s.FailedAttempts)
			assert.Equal(t, tt.locked, s.LockedOut)
			if tt.locked {
				assert.Equal(t, tt.retryAt, s.RetryAt)
			}
			assert.Equal(t, tt.erase, out.Erase)
			assert.ErrorIs(t, s.Err(), tt.wantError)
		})
	}
}

func TestFail_Monotonic(t *testing.T) {
	now := time.Now()
	var s State
	prev := 0
	for i := 0; i < 20; i++ {
		s, _ = s.Fail(now)
		require.GreaterOrEqual(t, s.FailedAttempts, prev)
		prev = s.FailedAttempts
	}
	assert.True(t, s.IsPermanent())
}

func TestCheck_SelfHeals(t *testing.T) {
	now := time.Now()
	s := State{FailedAttempts: 3, LockedOut: true, RetryAt: now.Add(-time.Second).UnixMilli()}

	healed, err := s.Check(now)
	require.NoError(t, err)
	assert.False(t, healed.LockedOut)
	assert.Equal(t, 3, healed.FailedAttempts, "attempt counter must survive self-healing")
}

func TestCheck_StillLocked(t *testing.T) {
	now := time.Now()
	retry := now.Add(time.Minute)
	s := State{FailedAttempts: 3, LockedOut: true, RetryAt: retry.UnixMilli()}

	_, err := s.Check(now)
	var lo *common.LockedOutError
	require.True(t, errors.As(err, &lo))
	assert.False(t, lo.Permanent)
	assert.Equal(t, retry.UnixMilli(), lo.RetryAt.UnixMilli())
}

func TestCheck_PermanentNeverHeals(t *testing.T) {
	s := State{FailedAttempts: 9, LockedOut: true, RetryAt: Permanent}

	_, err := s.Check(time.Now().Add(100 * 365 * 24 * time.Hour))
	var lo *common.LockedOutError
	require.True(t, errors.As(err, &lo))
	assert.True(t, lo.Permanent)
}

func TestScenario_LockThenRecover(t *testing.T) {
	now := time.Now()
	s := State{FailedAttempts: 2}

	s, out := s.Fail(now)
	require.False(t, out.Erase)
	assert.Equal(t, 3, s.FailedAttempts)
	assert.True(t, s.LockedOut)
	assert.Equal(t, now.Add(time.Minute).UnixMilli(), s.RetryAt)

	// correct passcode before retryAt is not even attempted
	_, err := s.Check(now.Add(30 * time.Second))
	assert.ErrorIs(t, err, common.ErrLockedOut)

	// after retryAt the attempt proceeds and success resets the record
	s, err = s.Check(now.Add(61 * time.Second))
	require.NoError(t, err)
	s = s.Succeed()
	assert.Equal(t, State{}, s)
}
