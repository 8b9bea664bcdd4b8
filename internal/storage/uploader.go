// Package storage puts finished export artifacts somewhere a texter's
// browser can fetch them from.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
)

// Uploader stores a named artifact and answers where to download it.
type Uploader interface {
	Upload(ctx context.Context, key string, contentType string, data []byte) error
	DownloadURL(key string) string
}

// HTTPUploader PUTs artifacts against an object-store HTTP endpoint.
type HTTPUploader struct {
	baseURL string
	client  *fasthttp.Client
	timeout time.Duration
}

func NewHTTPUploader(baseURL string, timeout time.Duration) *HTTPUploader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPUploader{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &fasthttp.Client{
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
		timeout: timeout,
	}
}

func (u *HTTPUploader) Upload(ctx context.Context, key string, contentType string, data []byte) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(u.DownloadURL(key))
	req.Header.SetMethod(fasthttp.MethodPut)
	req.Header.SetContentType(contentType)
	req.SetBody(data)

	if err := u.client.DoTimeout(req, resp, u.timeout); err != nil {
		return errors.Wrap(err, "upload artifact")
	}
	if code := resp.StatusCode(); code >= 300 {
		return fmt.Errorf("upload artifact: unexpected status %d", code)
	}
	return nil
}

func (u *HTTPUploader) DownloadURL(key string) string {
	return u.baseURL + "/" + key
}

// MemoryUploader keeps artifacts in a map; tests and the CLI use it.
type MemoryUploader struct {
	Objects map[string][]byte
}

func NewMemoryUploader() *MemoryUploader {
	return &MemoryUploader{Objects: make(map[string][]byte)}
}

func (u *MemoryUploader) Upload(_ context.Context, key string, _ string, data []byte) error {
	u.Objects[key] = data
	return nil
}

func (u *MemoryUploader) DownloadURL(key string) string {
	return "memory://" + key
}
