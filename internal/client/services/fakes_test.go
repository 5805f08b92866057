package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/dirkeeper/internal/api"
	"github.com/dmitrijs2005/dirkeeper/internal/client/client"
	"github.com/dmitrijs2005/dirkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/dirkeeper/internal/client/repositories/uploads"
	"github.com/dmitrijs2005/dirkeeper/internal/common"
	"github.com/dmitrijs2005/dirkeeper/internal/cryptox"
	"github.com/dmitrijs2005/dirkeeper/internal/logging"
	"github.com/dmitrijs2005/dirkeeper/internal/server/auth"
	"github.com/dmitrijs2005/dirkeeper/internal/server/relay"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var authSecret = []byte("dev-secret")

type deviceWrap struct {
	wrapped, iv []byte
}

// fakeServer keeps one account in memory and serves blobs and the relay
// over httptest.
type fakeServer struct {
	mu       sync.Mutex
	sessions map[string]*deviceWrap // token -> device wrap, nil until enrolled
	scheme   string
	salt     []byte
	wrapped  []byte
	iv       []byte
	dir      api.DirectoryBlob
	deks     map[string]api.WrappedDEK
	blobs    map[string][]byte

	srv      *httptest.Server
	relayURL string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{
		sessions: map[string]*deviceWrap{},
		deks:     map[string]api.WrappedDEK{},
		blobs:    map[string][]byte{},
	}

	reg := relay.NewRegistry(time.Minute)
	mux := http.NewServeMux()
	mux.Handle("/relay", relay.NewHandler(reg, f, nil, logging.Nop()))
	mux.HandleFunc("/blob/", f.serveBlob)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(func() {
		reg.CloseAll(nil)
		f.srv.Close()
	})
	f.relayURL = "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/relay"
	return f
}

func (f *fakeServer) Authorize(_ context.Context, token string) (*auth.Claims, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[token]; !ok {
		return nil, common.ErrInvalidToken
	}
	return &auth.Claims{UserID: "alice", SessionID: token}, nil
}

func (f *fakeServer) currentScheme() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scheme
}

func (f *fakeServer) storedBlobs() map[string][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]byte, len(f.blobs))
	for k, v := range f.blobs {
		out[k] = v
	}
	return out
}

func (f *fakeServer) serveBlob(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/blob/")
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodPut:
		b, _ := io.ReadAll(r.Body)
		f.blobs[id] = b
	case http.MethodGet:
		b, ok := f.blobs[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(b)
	}
}

// fakeClient is one device's view of fakeServer.
type fakeClient struct {
	s     *fakeServer
	token string

	putDirErr error
}

func (c *fakeClient) Login(_ context.Context, userID, credential string) error {
	if credential != fmt.Sprintf("%x", cryptox.DevCredential(authSecret, userID)) {
		return common.ErrorUnauthorized
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.token = uuid.NewString()
	c.s.sessions[c.token] = nil
	return nil
}

func (c *fakeClient) Logout(context.Context) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	delete(c.s.sessions, c.token)
	return nil
}

func (c *fakeClient) Token() string     { return c.token }
func (c *fakeClient) SetToken(t string) { c.token = t }

func (c *fakeClient) session() (*deviceWrap, error) {
	w, ok := c.s.sessions[c.token]
	if !ok {
		return nil, common.ErrorUnauthorized
	}
	return w, nil
}

func (c *fakeClient) Setup(_ context.Context, salt, wrapped, iv []byte) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if c.s.scheme != "" {
		return common.ErrAlreadyExists
	}
	c.s.scheme, c.s.salt, c.s.wrapped, c.s.iv = string(cryptox.SchemePasscode), salt, wrapped, iv
	return nil
}

func (c *fakeClient) Unwrap(_ context.Context, passcode string) ([]byte, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if c.s.scheme != string(cryptox.SchemePasscode) {
		return nil, common.ErrNeedsSetup
	}
	kek, err := cryptox.DerivePasscodeKey([]byte(passcode), c.s.salt)
	if err != nil {
		return nil, err
	}
	return cryptox.UnwrapKey(kek, c.s.wrapped, c.s.iv)
}

func (c *fakeClient) ChangePasscode(ctx context.Context, oldPasscode, newPasscode string) error {
	key, err := c.Unwrap(ctx, oldPasscode)
	if err != nil {
		return err
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	salt := cryptox.GenerateSalt()
	kek, err := cryptox.DerivePasscodeKey([]byte(newPasscode), salt)
	if err != nil {
		return err
	}
	wrapped, iv, err := cryptox.WrapKey(kek, key)
	if err != nil {
		return err
	}
	c.s.salt, c.s.wrapped, c.s.iv = salt, wrapped, iv
	return nil
}

func (c *fakeClient) FetchDirectory(context.Context) (*api.DirectoryResponse, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if c.s.scheme == "" {
		return nil, common.ErrNeedsSetup
	}
	w, err := c.session()
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, &client.DeviceSetupError{Scheme: c.s.scheme}
	}
	return &api.DirectoryResponse{Scheme: c.s.scheme, DeviceKey: w.wrapped, DeviceKeyIV: w.iv, Directory: c.s.dir}, nil
}

func (c *fakeClient) PutDirectory(_ context.Context, blob api.DirectoryBlob) error {
	if c.putDirErr != nil {
		return c.putDirErr
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.dir = blob
	return nil
}

func (c *fakeClient) UpgradeDevice(_ context.Context, wrapped, iv []byte) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if _, err := c.session(); err != nil {
		return err
	}
	c.s.sessions[c.token] = &deviceWrap{wrapped: wrapped, iv: iv}
	c.s.scheme, c.s.salt, c.s.wrapped, c.s.iv = string(cryptox.SchemePRF), nil, nil, nil
	return nil
}

func (c *fakeClient) FileURL(_ context.Context, objectID string) (*api.FileResponse, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	dek, ok := c.s.deks[objectID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &api.FileResponse{URL: c.s.srv.URL + "/blob/" + objectID, DEK: dek}, nil
}

func (c *fakeClient) CreateFile(_ context.Context, dek api.WrappedDEK) (*api.UploadResponse, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	id := uuid.NewString()
	c.s.deks[id] = dek
	return &api.UploadResponse{ObjectID: id, URL: c.s.srv.URL + "/blob/" + id}, nil
}

func (c *fakeClient) Ping(context.Context) error       { return nil }
func (c *fakeClient) WaitOnline(context.Context) error { return nil }
func (c *fakeClient) RelayURL() string                 { return c.s.relayURL }

type device struct {
	svc    *DeviceService
	client *fakeClient
	store  *metadata.DeviceStore
	out    string
}

func newDevice(t *testing.T, srv *fakeServer) *device {
	t.Helper()
	dir := t.TempDir()
	db, err := client.InitDatabase(context.Background(), filepath.Join(dir, "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	fc := &fakeClient{s: srv}
	store := metadata.NewDeviceStore(metadata.NewSQLiteRepository(db))
	out := filepath.Join(dir, "downloads")
	svc := NewDeviceService(Deps{
		Client:   fc,
		Store:    store,
		Uploads:  uploads.NewSQLiteRepository(db),
		Download: out,
	})
	return &device{svc: svc, client: fc, store: store, out: out}
}

func lowIterations(t *testing.T) {
	t.Helper()
	orig := cryptox.PasscodeIterations
	cryptox.PasscodeIterations = 1000
	t.Cleanup(func() { cryptox.PasscodeIterations = orig })
}
