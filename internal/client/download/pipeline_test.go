package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/dmitrijs2005/dirkeeper/internal/api"
	"github.com/dmitrijs2005/dirkeeper/internal/common"
	"github.com/dmitrijs2005/dirkeeper/internal/cryptox"
	"github.com/dmitrijs2005/dirkeeper/internal/directory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	resp *api.FileResponse
	err  error
}

func (s stubSource) FileURL(context.Context, string) (*api.FileResponse, error) {
	return s.resp, s.err
}

type blobFixture struct {
	dirKey []byte
	plain  []byte
	blob   []byte
	dek    api.WrappedDEK
}

func newBlobFixture(t *testing.T) blobFixture {
	t.Helper()
	dirKey := common.GenerateRandByteArray(common.DirKeySize)
	fileKey := common.GenerateRandByteArray(common.DirKeySize)
	plain := []byte("the quick brown fox jumps over the lazy dog")

	blob, err := cryptox.SealBlob(fileKey, plain)
	require.NoError(t, err)
	dek, err := directory.WrapFileDEK(dirKey, fileKey)
	require.NoError(t, err)
	return blobFixture{dirKey: dirKey, plain: plain, blob: blob, dek: dek}
}

func serve(t *testing.T, body []byte, withLength bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if withLength {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		} else {
			w.(http.Flusher).Flush()
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPipeline_Success(t *testing.T) {
	f := newBlobFixture(t)
	srv := serve(t, f.blob, true)

	p := New(stubSource{resp: &api.FileResponse{URL: srv.URL, DEK: f.dek}}, srv.Client(), f.dirKey)
	var states []State
	var progress []int
	p.OnState = func(s State) { states = append(states, s) }
	p.OnProgress = func(pct int) { progress = append(progress, pct) }

	got, err := p.Run(context.Background(), "obj")
	require.NoError(t, err)
	assert.Equal(t, f.plain, got)
	assert.Equal(t, []State{RequestingURL, Downloading, Decrypting, Done}, states)
	assert.Equal(t, 100, progress[len(progress)-1])
	assert.Equal(t, Done, p.State())
	assert.NoError(t, p.Err())
}

func TestPipeline_UnknownLengthReportsIndeterminate(t *testing.T) {
	f := newBlobFixture(t)
	srv := serve(t, f.blob, false)

	p := New(stubSource{resp: &api.FileResponse{URL: srv.URL, DEK: f.dek}}, srv.Client(), f.dirKey)
	var progress []int
	p.OnProgress = func(pct int) { progress = append(progress, pct) }

	_, err := p.Run(context.Background(), "obj")
	require.NoError(t, err)
	require.NotEmpty(t, progress)
	for _, pct := range progress {
		assert.Equal(t, -1, pct)
	}
}

func TestPipeline_Failures(t *testing.T) {
	f := newBlobFixture(t)

	corrupted := append([]byte(nil), f.blob...)
	corrupted[len(corrupted)-1] ^= 0x01

	notFound := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(notFound.Close)

	tests := []struct {
		name   string
		src    stubSource
		key    []byte
		wantIs error
		stage  State
	}{
		{
			name:   "url lookup",
			src:    stubSource{err: common.ErrorNotFound},
			key:    f.dirKey,
			wantIs: common.ErrorNotFound,
			stage:  RequestingURL,
		},
		{
			name:   "corrupted object",
			src:    stubSource{resp: &api.FileResponse{URL: serve(t, corrupted, true).URL, DEK: f.dek}},
			key:    f.dirKey,
			wantIs: common.ErrWrongSecret,
			stage:  Decrypting,
		},
		{
			name:   "wrong directory key",
			src:    stubSource{resp: &api.FileResponse{URL: serve(t, f.blob, true).URL, DEK: f.dek}},
			key:    common.GenerateRandByteArray(common.DirKeySize),
			wantIs: common.ErrWrongSecret,
			stage:  Decrypting,
		},
		{
			name:  "http status",
			src:   stubSource{resp: &api.FileResponse{URL: notFound.URL, DEK: f.dek}},
			key:   f.dirKey,
			stage: Downloading,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.src, nil, tt.key)
			var last State
			p.OnState = func(s State) {
				if s != Failed {
					last = s
				}
			}

			_, err := p.Run(context.Background(), "obj")
			require.Error(t, err)
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
			assert.Equal(t, Failed, p.State())
			assert.Equal(t, err, p.Err())
			assert.Equal(t, tt.stage, last)
		})
	}
}
