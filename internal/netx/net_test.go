package netx

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpload(t *testing.T) {
	file := []byte("hello, s3")

	t.Run("success 200 OK", func(t *testing.T) {
		var gotBody []byte
		var gotCT, gotMethod string

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotCT = r.Header.Get("Content-Type")
			gotBody, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusOK)
		}))
		defer ts.Close()

		require.NoError(t, Upload(context.Background(), ts.Client(), ts.URL+"/k?X-Amz-Signature=abc", file))
		assert.Equal(t, http.MethodPut, gotMethod)
		assert.Equal(t, "application/octet-stream", gotCT)
		assert.Equal(t, file, gotBody)
	})

	t.Run("non-200 -> error", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer ts.Close()

		err := Upload(context.Background(), ts.Client(), ts.URL, file)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "upload failed: 403")
	})

	t.Run("network error", func(t *testing.T) {
		ts := httptest.NewServer(http.NotFoundHandler())
		ts.Close()

		err := Upload(context.Background(), http.DefaultClient, ts.URL, file)
		require.Error(t, err)
		assert.False(t, strings.Contains(err.Error(), "upload failed"))
	})
}

// chunked hands out at most n bytes per Read.
type chunked struct {
	r io.Reader
	n int
}

func (c chunked) Read(b []byte) (int, error) {
	if len(b) > c.n {
		b = b[:c.n]
	}
	return c.r.Read(b)
}

func TestProgressReader_KnownTotal(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 100)
	var seen []int
	pr := &ProgressReader{R: chunked{bytes.NewReader(data), 25}, Total: 100, OnProgress: func(p int) { seen = append(seen, p) }}

	got, err := io.ReadAll(pr)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, []int{25, 50, 75, 100}, seen)
}

func TestProgressReader_UnknownTotal(t *testing.T) {
	var seen []int
	pr := &ProgressReader{R: chunked{strings.NewReader("abcdef"), 3}, OnProgress: func(p int) { seen = append(seen, p) }}

	_, err := io.ReadAll(pr)
	require.NoError(t, err)
	assert.Equal(t, []int{-1, -1}, seen)
}
