// Package download fetches one encrypted file from the blob store and opens
// it with its DEK.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/dmitrijs2005/dirkeeper/internal/api"
	"github.com/dmitrijs2005/dirkeeper/internal/common"
	"github.com/dmitrijs2005/dirkeeper/internal/cryptox"
	"github.com/dmitrijs2005/dirkeeper/internal/directory"
	"github.com/dmitrijs2005/dirkeeper/internal/netx"
)

type State int

const (
	Idle State = iota
	RequestingURL
	Downloading
	Decrypting
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case RequestingURL:
		return "requesting_url"
	case Downloading:
		return "downloading"
	case Decrypting:
		return "decrypting"
	case Done:
		return "done"
	default:
		return "failed"
	}
}

// URLSource resolves an object id to a presigned URL and the wrapped DEK.
type URLSource interface {
	FileURL(ctx context.Context, objectID string) (*api.FileResponse, error)
}

// Pipeline runs Idle → RequestingURL → Downloading → Decrypting → Done, or
// stops in Failed and keeps the cause. It does not retry.
type Pipeline struct {
	src    URLSource
	http   *http.Client
	dirKey []byte

	// OnState and OnProgress are optional and called from Run's goroutine.
	OnState    func(State)
	OnProgress func(percent int)

	mu    sync.Mutex
	state State
	err   error
}

func New(src URLSource, hc *http.Client, dirKey []byte) *Pipeline {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Pipeline{src: src, http: hc, dirKey: dirKey}
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err is the failure cause once State is Failed.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Pipeline) set(s State, err error) {
	p.mu.Lock()
	p.state, p.err = s, err
	p.mu.Unlock()
	if p.OnState != nil {
		p.OnState(s)
	}
}

func (p *Pipeline) fail(err error) ([]byte, error) {
	p.set(Failed, err)
	return nil, err
}

// Run downloads objectID and returns its plaintext.
func (p *Pipeline) Run(ctx context.Context, objectID string) ([]byte, error) {
	p.set(RequestingURL, nil)
	file, err := p.src.FileURL(ctx, objectID)
	if err != nil {
		return p.fail(err)
	}

	p.set(Downloading, nil)
	blob, err := p.fetch(ctx, file.URL)
	if err != nil {
		return p.fail(err)
	}

	p.set(Decrypting, nil)
	dek, err := directory.UnwrapFileDEK(p.dirKey, file.DEK)
	if err != nil {
		return p.fail(err)
	}
	defer common.WipeByteArray(dek)

	plain, err := cryptox.OpenBlob(dek, blob)
	if err != nil {
		return p.fail(err)
	}

	p.set(Done, nil)
	return plain, nil
}

func (p *Pipeline) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed: %s", resp.Status)
	}

	r := io.Reader(resp.Body)
	if p.OnProgress != nil {
		r = &netx.ProgressReader{R: resp.Body, Total: resp.ContentLength, OnProgress: p.OnProgress}
	}
	return io.ReadAll(r)
}
