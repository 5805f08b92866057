package models

import (
	"testing"

	"github.com/dmitrijs2005/dirkeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccount_Scheme(t *testing.T) {
	var none *Account
	assert.Equal(t, SchemeNone, none.Scheme().Tag())

	v1 := &Account{WrappedDirKey: []byte{1}, PasscodeSalt: []byte{2}, WrappedDirKeyIV: []byte{3}}
	s, ok := v1.Scheme().(PasscodeScheme)
	require.True(t, ok)
	assert.Equal(t, []byte{2}, s.Salt)

	assert.Equal(t, SchemePRF, (&Account{PRFMigrated: true}).Scheme().Tag())
	assert.Equal(t, SchemeErased, (&Account{}).Scheme().Tag())
}

func TestAccount_MigrateToPRF_ErasesV1(t *testing.T) {
	a := &Account{WrappedDirKey: []byte{1}, PasscodeSalt: []byte{2}, WrappedDirKeyIV: []byte{3}}

	require.NoError(t, a.MigrateToPRF())
	assert.True(t, a.PRFMigrated)
	assert.Nil(t, a.WrappedDirKey)
	assert.Nil(t, a.PasscodeSalt)
	assert.Nil(t, a.WrappedDirKeyIV)

	// idempotent
	require.NoError(t, a.MigrateToPRF())

	erased := &Account{}
	assert.ErrorIs(t, erased.MigrateToPRF(), common.ErrSchemeMismatch)
}

func TestAccount_Erase(t *testing.T) {
	key := []byte{9, 9, 9}
	a := &Account{WrappedDirKey: key, PasscodeSalt: []byte{2}, WrappedDirKeyIV: []byte{3}}
	a.Erase()

	assert.Equal(t, SchemeErased, a.Scheme().Tag())
	assert.Equal(t, []byte{0, 0, 0}, key, "wrapped key buffer must be wiped")
}

func TestSession_HasDeviceKey(t *testing.T) {
	assert.False(t, (&Session{}).HasDeviceKey())
	assert.False(t, (&Session{WrappedDirKey: []byte{1}}).HasDeviceKey())
	assert.True(t, (&Session{PRFEnabled: true, WrappedDirKey: []byte{1}}).HasDeviceKey())
}
