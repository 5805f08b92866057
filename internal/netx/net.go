// Package netx moves object bodies to and from presigned blob store URLs.
package netx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// Upload PUTs data to a presigned URL.
func Upload(ctx context.Context, hc *http.Client, url string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("upload failed: %s; body: %s", resp.Status, string(b))
	}
	return nil
}

// ProgressReader reports how much of Total has been read. OnProgress gets a
// percentage in 0..100, or -1 for every chunk when Total is unknown.
type ProgressReader struct {
	R          io.Reader
	Total      int64
	OnProgress func(percent int)

	read int64
	last int
}

func (p *ProgressReader) Read(b []byte) (int, error) {
	n, err := p.R.Read(b)
	if n > 0 && p.OnProgress != nil {
		p.read += int64(n)
		if p.Total <= 0 {
			p.OnProgress(-1)
		} else {
			pct := int(p.read * 100 / p.Total)
			if pct > 100 {
				pct = 100
			}
			if pct != p.last {
				p.last = pct
				p.OnProgress(pct)
			}
		}
	}
	return n, err
}
