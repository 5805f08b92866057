package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/dirkeeper/internal/api"
	"github.com/dmitrijs2005/dirkeeper/internal/common"
	"github.com/sethvargo/go-retry"
)

const (
	requestTimeout   = 15 * time.Second
	pingTimeout      = 3 * time.Second
	onlineBackoff    = 500 * time.Millisecond
	onlineBackoffCap = 10 * time.Second
)

type HTTPClient struct {
	baseURL string
	http    *http.Client
	maxWait time.Duration
	mu      sync.RWMutex
	token   string
}

// NewHTTPClient talks to the server at baseURL. maxWait bounds WaitOnline;
// zero means until ctx is done.
func NewHTTPClient(baseURL string, maxWait time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
		maxWait: maxWait,
	}
}

func (c *HTTPClient) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *HTTPClient) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// do sends in as JSON and decodes a 2xx body into out. Transport failures
// and 5xx answers become ErrUnavailable.
func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set(common.AuthorizationHeaderName, common.BearerPrefix+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return mapStatus(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func mapStatus(resp *http.Response) error {
	var e api.ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		if e.Error == common.ErrWrongSecret.Error() {
			return common.ErrWrongSecret
		}
		return ErrUnauthorized
	case http.StatusLocked:
		le := &common.LockedOutError{Permanent: e.Permanent}
		if !e.Permanent {
			le.RetryAt = time.UnixMilli(e.RetryAt)
		}
		return le
	case http.StatusConflict:
		switch {
		case e.NeedsSetup:
			return common.ErrNeedsSetup
		case e.NeedsDeviceSetup:
			return &DeviceSetupError{Scheme: e.Scheme}
		case e.Error == common.ErrAlreadyExists.Error():
			return common.ErrAlreadyExists
		default:
			return common.ErrSchemeMismatch
		}
	case http.StatusBadRequest:
		if e.Error == common.ErrInvalidSecret.Error() {
			return common.ErrInvalidSecret
		}
		return common.ErrInvalidRequest
	case http.StatusNotFound:
		return common.ErrorNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	if resp.StatusCode >= 500 {
		return ErrUnavailable
	}
	return fmt.Errorf("unexpected status %s", resp.Status)
}

func (c *HTTPClient) Login(ctx context.Context, userID, credential string) error {
	var resp api.LoginResponse
	if err := c.do(ctx, http.MethodPost, api.PathSession, api.LoginRequest{UserID: userID, Credential: credential}, &resp); err != nil {
		return err
	}
	c.SetToken(resp.Token)
	return nil
}

func (c *HTTPClient) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodDelete, api.PathSession, nil, nil); err != nil {
		return err
	}
	c.SetToken("")
	return nil
}

func (c *HTTPClient) Setup(ctx context.Context, salt, wrapped, iv []byte) error {
	return c.do(ctx, http.MethodPost, api.PathSetup, api.SetupRequest{Salt: salt, Wrapped: wrapped, IV: iv}, nil)
}

func (c *HTTPClient) Unwrap(ctx context.Context, passcode string) ([]byte, error) {
	var resp api.UnwrapResponse
	if err := c.do(ctx, http.MethodPost, api.PathUnwrap, api.UnwrapRequest{Passcode: passcode}, &resp); err != nil {
		return nil, err
	}
	return resp.DirectoryKey, nil
}

func (c *HTTPClient) ChangePasscode(ctx context.Context, oldPasscode, newPasscode string) error {
	return c.do(ctx, http.MethodPost, api.PathPasscode, api.ChangePasscodeRequest{OldPasscode: oldPasscode, NewPasscode: newPasscode}, nil)
}

func (c *HTTPClient) FetchDirectory(ctx context.Context) (*api.DirectoryResponse, error) {
	var resp api.DirectoryResponse
	if err := c.do(ctx, http.MethodGet, api.PathDirectory, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) PutDirectory(ctx context.Context, blob api.DirectoryBlob) error {
	return c.do(ctx, http.MethodPut, api.PathDirectory, blob, nil)
}

func (c *HTTPClient) UpgradeDevice(ctx context.Context, wrapped, iv []byte) error {
	return c.do(ctx, http.MethodPost, api.PathDevicePRF, api.DeviceKeyRequest{Wrapped: wrapped, IV: iv}, nil)
}

func (c *HTTPClient) FileURL(ctx context.Context, objectID string) (*api.FileResponse, error) {
	var resp api.FileResponse
	if err := c.do(ctx, http.MethodGet, api.PathFiles+"/"+url.PathEscape(objectID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) CreateFile(ctx context.Context, dek api.WrappedDEK) (*api.UploadResponse, error) {
	var resp api.UploadResponse
	if err := c.do(ctx, http.MethodPost, api.PathFiles, api.UploadRequest{DEK: dek}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	var resp map[string]string
	if err := c.do(ctx, http.MethodGet, api.PathHealth, nil, &resp); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrUnavailable
		}
		return err
	}
	if resp["status"] != "OK" {
		return ErrUnavailable
	}
	return nil
}

// WaitOnline polls /health with capped exponential backoff until the server
// answers, ctx ends or maxWait elapses.
func (c *HTTPClient) WaitOnline(ctx context.Context) error {
	b := retry.WithCappedDuration(onlineBackoffCap, retry.NewExponential(onlineBackoff))
	if c.maxWait > 0 {
		b = retry.WithMaxDuration(c.maxWait, b)
	}

	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := c.Ping(ctx)
		if errors.Is(err, ErrUnavailable) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// RelayURL is the websocket address of the migration relay.
func (c *HTTPClient) RelayURL() string {
	u := c.baseURL + api.PathRelay
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}
