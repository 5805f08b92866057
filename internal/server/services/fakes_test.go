package services

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/dirkeeper/internal/common"
	"github.com/dmitrijs2005/dirkeeper/internal/cryptox"
	"github.com/dmitrijs2005/dirkeeper/internal/dbx"
	"github.com/dmitrijs2005/dirkeeper/internal/server/models"
	"github.com/dmitrijs2005/dirkeeper/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/dirkeeper/internal/server/repositories/sessions"
	"github.com/stretchr/testify/require"
)

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func cloneAccount(a *models.Account) *models.Account {
	c := *a
	c.PasscodeSalt = cloneBytes(a.PasscodeSalt)
	c.WrappedDirKey = cloneBytes(a.WrappedDirKey)
	c.WrappedDirKeyIV = cloneBytes(a.WrappedDirKeyIV)
	return &c
}

type fakeAccounts struct {
	mu      sync.Mutex
	rows    map[string]*models.Account
	saves   int
	saveErr error
}

func (f *fakeAccounts) Get(_ context.Context, userID string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[userID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return cloneAccount(a), nil
}

func (f *fakeAccounts) GetForUpdate(ctx context.Context, userID string) (*models.Account, error) {
	return f.Get(ctx, userID)
}

func (f *fakeAccounts) Create(_ context.Context, acc *models.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[acc.UserID]; ok {
		return common.ErrAlreadyExists
	}
	f.rows[acc.UserID] = cloneAccount(acc)
	return nil
}

func (f *fakeAccounts) Save(_ context.Context, acc *models.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	f.rows[acc.UserID] = cloneAccount(acc)
	return nil
}

type fakeSessions struct {
	mu   sync.Mutex
	rows map[string]*models.Session
}

func (f *fakeSessions) Create(_ context.Context, s *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *s
	c.CreatedAt = time.Now()
	f.rows[s.ID] = &c
	return nil
}

func (f *fakeSessions) Get(_ context.Context, id string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *s
	return &c, nil
}

func (f *fakeSessions) SetDeviceKey(_ context.Context, id, userID string, wrapped, iv []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok || s.UserID != userID {
		return common.ErrorNotFound
	}
	s.WrappedDirKey, s.WrappedDirKeyIV, s.PRFEnabled = cloneBytes(wrapped), cloneBytes(iv), true
	return nil
}

func (f *fakeSessions) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, id)
	return nil
}

func (f *fakeSessions) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, s := range f.rows {
		if !s.ExpiresAt.After(now) {
			delete(f.rows, id)
			n++
		}
	}
	return n, nil
}

type fakeRepoManager struct {
	a *fakeAccounts
	s *fakeSessions
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		a: &fakeAccounts{rows: map[string]*models.Account{}},
		s: &fakeSessions{rows: map[string]*models.Session{}},
	}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Accounts(dbx.DBTX) accounts.Repository       { return m.a }
func (m *fakeRepoManager) Sessions(dbx.DBTX) sessions.Repository       { return m.s }

type recordingObserver struct {
	mu      sync.Mutex
	results []string
}

func (r *recordingObserver) UnwrapResult(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

// newMockDB returns a sqlmock DB that tolerates any number of committed or
// rolled back transactions; the fakes stand in for the SQL itself.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.MatchExpectationsInOrder(false)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func expectTx(mock sqlmock.Sqlmock, n int) {
	for i := 0; i < n; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
	}
}

func lowIterations(t *testing.T) {
	t.Helper()
	orig := cryptox.PasscodeIterations
	cryptox.PasscodeIterations = 1000
	t.Cleanup(func() { cryptox.PasscodeIterations = orig })
}

// provision stores a v1 account for userID whose directory key is returned.
func provision(t *testing.T, m *fakeRepoManager, userID, passcode string) []byte {
	t.Helper()
	dirKey := common.GenerateRandByteArray(common.DirKeySize)
	salt := cryptox.GenerateSalt()
	kek, err := cryptox.DerivePasscodeKey([]byte(passcode), salt)
	require.NoError(t, err)
	wrapped, iv, err := cryptox.WrapKey(kek, dirKey)
	require.NoError(t, err)

	acc := &models.Account{UserID: userID}
	acc.SetPasscodeWrap(salt, wrapped, iv)
	require.NoError(t, m.a.Create(context.Background(), acc))
	return dirKey
}
