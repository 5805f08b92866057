package migrate

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/dirkeeper/internal/common"
	"github.com/dmitrijs2005/dirkeeper/internal/logging"
	"github.com/dmitrijs2005/dirkeeper/internal/server/auth"
	"github.com/dmitrijs2005/dirkeeper/internal/server/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokens map[string]string

func (t tokens) Authorize(_ context.Context, token string) (*auth.Claims, error) {
	u, ok := t[token]
	if !ok {
		return nil, common.ErrInvalidToken
	}
	return &auth.Claims{UserID: u, SessionID: token}, nil
}

func startRelay(t *testing.T) (string, *relay.Registry) {
	t.Helper()
	reg := relay.NewRegistry(time.Minute)
	h := relay.NewHandler(reg, tokens{"new": "alice", "old": "alice"}, nil, logging.Nop())
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/relay", reg
}

type result struct {
	key []byte
	err error
}

func runPair(t *testing.T, url string, dirKey []byte, persist func(context.Context, []byte) error) (result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	codes := make(chan string, 1)
	newRes := make(chan result, 1)
	go func() {
		nd := &NewDevice{RelayURL: url, Token: "new"}
		key, err := nd.Run(ctx, func(code string) { codes <- code }, persist)
		newRes <- result{key, err}
	}()

	var code string
	select {
	case code = <-codes:
	case r := <-newRes:
		return r, errors.New("new device ended before a code was issued")
	}

	od := &OldDevice{RelayURL: url, Token: "old"}
	oldErr := od.Run(ctx, code, dirKey)
	return <-newRes, oldErr
}

func TestMigration_TransfersKey(t *testing.T) {
	url, reg := startRelay(t)
	dirKey := common.GenerateRandByteArray(common.DirKeySize)

	var persisted []byte
	got, oldErr := runPair(t, url, dirKey, func(_ context.Context, k []byte) error {
		persisted = append([]byte(nil), k...)
		return nil
	})

	require.NoError(t, oldErr)
	require.NoError(t, got.err)
	assert.Equal(t, dirKey, got.key)
	assert.Equal(t, dirKey, persisted)
	assert.Eventually(t, func() bool { return reg.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestMigration_PersistFailureAbortsBothSides(t *testing.T) {
	url, reg := startRelay(t)
	boom := errors.New("store down")

	got, oldErr := runPair(t, url, common.GenerateRandByteArray(common.DirKeySize), func(context.Context, []byte) error {
		return boom
	})

	assert.ErrorIs(t, got.err, boom)
	assert.Nil(t, got.key)
	assert.ErrorIs(t, oldErr, ErrRelayRejected)
	assert.Eventually(t, func() bool { return reg.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestOldDevice_UnknownCode(t *testing.T) {
	url, _ := startRelay(t)

	od := &OldDevice{RelayURL: url, Token: "old"}
	err := od.Run(context.Background(), "ABCDEF", common.GenerateRandByteArray(common.DirKeySize))
	assert.ErrorIs(t, err, ErrRelayRejected)
	assert.Contains(t, err.Error(), common.ErrCodeNotFound.Error())
}

func TestNewDevice_Unauthorized(t *testing.T) {
	url, _ := startRelay(t)

	nd := &NewDevice{RelayURL: url, Token: "forged"}
	_, err := nd.Run(context.Background(), func(string) { t.Fatal("no code for a bad token") }, nil)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestNewDevice_CancelWhileWaiting(t *testing.T) {
	url, reg := startRelay(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		nd := &NewDevice{RelayURL: url, Token: "new"}
		_, err := nd.Run(ctx, func(string) { cancel() }, nil)
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Eventually(t, func() bool { return reg.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}
