package relay

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/dirkeeper/internal/api"
	"github.com/dmitrijs2005/dirkeeper/internal/common"
	"github.com/dmitrijs2005/dirkeeper/internal/cryptox"
	"github.com/dmitrijs2005/dirkeeper/internal/logging"
	"github.com/dmitrijs2005/dirkeeper/internal/server/auth"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAuthorizer map[string]string

func (s stubAuthorizer) Authorize(_ context.Context, token string) (*auth.Claims, error) {
	user, ok := s[token]
	if !ok {
		return nil, common.ErrInvalidToken
	}
	return &auth.Claims{UserID: user, SessionID: token}, nil
}

type countingObserver struct {
	mu sync.Mutex
	n  int
}

func (c *countingObserver) MigrationCompleted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

func (c *countingObserver) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type relayFixture struct {
	registry *Registry
	observer *countingObserver
	url      string
}

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()
	reg := NewRegistry(time.Minute)
	obs := &countingObserver{}
	authz := stubAuthorizer{"tok-a1": "alice", "tok-a2": "alice", "tok-m": "mallory"}
	h := NewHandler(reg, authz, obs, logging.Nop())
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &relayFixture{registry: reg, observer: obs, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

type testPeer struct {
	t  *testing.T
	ws *websocket.Conn
}

func (f *relayFixture) dial(t *testing.T) *testPeer {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return &testPeer{t: t, ws: ws}
}

func (p *testPeer) send(msg api.Message) {
	p.t.Helper()
	require.NoError(p.t, p.ws.WriteJSON(msg))
}

func (p *testPeer) recv() api.Message {
	p.t.Helper()
	_ = p.ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg api.Message
	require.NoError(p.t, p.ws.ReadJSON(&msg))
	return msg
}

func (p *testPeer) expect(typ api.MessageType) api.Message {
	p.t.Helper()
	msg := p.recv()
	require.Equal(p.t, typ, msg.Type, "got %+v", msg)
	return msg
}

func (p *testPeer) expectClosed() {
	p.t.Helper()
	_ = p.ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg api.Message
	assert.Error(p.t, p.ws.ReadJSON(&msg))
}

func TestHandler_EndToEndMigration(t *testing.T) {
	f := newRelayFixture(t)
	dirKey := common.GenerateRandByteArray(common.DirKeySize)

	newDev := f.dial(t)
	newDev.send(api.Message{Type: api.MsgAuth, Token: "tok-a1"})
	code := newDev.expect(api.MsgCode).Code
	require.True(t, ValidCode(code))

	oldDev := f.dial(t)
	oldDev.send(api.Message{Type: api.MsgAuth, Token: "tok-a2", Code: strings.ToLower(code)})
	newDev.expect(api.MsgStart)
	oldDev.expect(api.MsgStart)

	newEph, err := cryptox.NewEphemeralKey()
	require.NoError(t, err)
	oldEph, err := cryptox.NewEphemeralKey()
	require.NoError(t, err)

	newDev.send(api.Message{Type: api.MsgECDHKey, Key: newEph.PublicBytes()})
	oldDev.send(api.Message{Type: api.MsgECDHKey, Key: oldEph.PublicBytes()})

	oldShared, err := oldEph.SharedKey(oldDev.expect(api.MsgECDHKey).Key)
	require.NoError(t, err)
	newShared, err := newEph.SharedKey(newDev.expect(api.MsgECDHKey).Key)
	require.NoError(t, err)

	newDev.send(api.Message{Type: api.MsgECDHDone})
	oldDev.send(api.Message{Type: api.MsgECDHDone})
	newDev.expect(api.MsgECDHDone)
	oldDev.expect(api.MsgECDHDone)

	ct, iv, err := cryptox.Seal(oldShared, dirKey)
	require.NoError(t, err)
	oldDev.send(api.Message{Type: api.MsgData, Data: ct, IV: iv})

	data := newDev.expect(api.MsgData)
	got, err := cryptox.Open(newShared, data.Data, data.IV)
	require.NoError(t, err)
	assert.Equal(t, dirKey, got)

	newDev.send(api.Message{Type: api.MsgEncData, Data: []byte(api.StatusOK)})
	newDev.expect(api.MsgComplete)
	oldDev.expect(api.MsgComplete)
	newDev.expectClosed()
	oldDev.expectClosed()

	assert.Eventually(t, func() bool { return f.registry.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return f.observer.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_PeerDisconnectTearsDown(t *testing.T) {
	f := newRelayFixture(t)

	newDev := f.dial(t)
	newDev.send(api.Message{Type: api.MsgAuth, Token: "tok-a1"})
	code := newDev.expect(api.MsgCode).Code

	oldDev := f.dial(t)
	oldDev.send(api.Message{Type: api.MsgAuth, Token: "tok-a2", Code: code})
	newDev.expect(api.MsgStart)
	oldDev.expect(api.MsgStart)

	require.NoError(t, oldDev.ws.Close())

	msg := newDev.expect(api.MsgError)
	assert.Equal(t, errPeerLeft.Error(), msg.Msg)
	newDev.expectClosed()
	assert.Eventually(t, func() bool { return f.registry.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, f.observer.count())
}

func TestHandler_Unauthorized(t *testing.T) {
	f := newRelayFixture(t)

	dev := f.dial(t)
	dev.send(api.Message{Type: api.MsgAuth, Token: "nope"})
	dev.expect(api.MsgUnauthorized)
	dev.expectClosed()
	assert.Zero(t, f.registry.Len())
}

func TestHandler_BadCodes(t *testing.T) {
	f := newRelayFixture(t)

	newDev := f.dial(t)
	newDev.send(api.Message{Type: api.MsgAuth, Token: "tok-a1"})
	code := newDev.expect(api.MsgCode).Code

	tests := []struct {
		name  string
		token string
		code  string
	}{
		{"malformed", "tok-a2", "12"},
		{"unknown", "tok-a2", "ZZZZZZ"},
		{"other account", "tok-m", code},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.code == "ZZZZZZ" && code == "ZZZZZZ" {
				t.Skip("collided with the live code")
			}
			dev := f.dial(t)
			dev.send(api.Message{Type: api.MsgAuth, Token: tt.token, Code: tt.code})
			msg := dev.expect(api.MsgError)
			assert.Equal(t, common.ErrCodeNotFound.Error(), msg.Msg)
			dev.expectClosed()
		})
	}

	// the waiting device is untouched by failed pairings
	assert.Equal(t, 1, f.registry.Len())
}

func TestHandler_ProtocolViolationTearsDown(t *testing.T) {
	f := newRelayFixture(t)

	newDev := f.dial(t)
	newDev.send(api.Message{Type: api.MsgAuth, Token: "tok-a1"})
	newDev.expect(api.MsgCode)

	newDev.send(api.Message{Type: api.MsgData, Data: []byte("early")})
	msg := newDev.expect(api.MsgError)
	assert.Contains(t, msg.Msg, common.ErrRelayProtocol.Error())
	newDev.expectClosed()
	assert.Eventually(t, func() bool { return f.registry.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_ShutdownClosesWaitingDevices(t *testing.T) {
	f := newRelayFixture(t)
	h := NewHandler(f.registry, stubAuthorizer{}, nil, logging.Nop())

	newDev := f.dial(t)
	newDev.send(api.Message{Type: api.MsgAuth, Token: "tok-a1"})
	newDev.expect(api.MsgCode)

	h.Shutdown()
	msg := newDev.expect(api.MsgError)
	assert.Equal(t, ErrShuttingDown.Error(), msg.Msg)
	assert.Zero(t, f.registry.Len())
}
