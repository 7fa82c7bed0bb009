// Package fetch streams remote audio and video assets to local storage.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
)

// ErrTooManyRedirects is returned when a download would follow more than
// one redirect hop.
var ErrTooManyRedirects = errors.New("too many redirects")

// Client downloads HTTP(S) resources to disk. The zero value is not usable;
// construct with New.
type Client struct {
	http *http.Client
}

// New returns a download client. Generated asset URLs commonly bounce
// through one signed-URL redirect, so exactly one hop is followed.
func New() *Client {
	return &Client{
		http: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > 1 {
					return ErrTooManyRedirects
				}
				return nil
			},
		},
	}
}

// NewWithHTTPClient returns a download client using the given HTTP client.
// Used by tests to install a mock transport.
func NewWithHTTPClient(hc *http.Client) *Client {
	return &Client{http: hc}
}

// Download streams the body at rawURL to destPath. Only http and https
// schemes are accepted, and only a 200 response is a success. On any
// failure the partially written destination file is removed before the
// error is returned. Download never retries; retry policy belongs to the
// caller.
func (c *Client) Download(ctx context.Context, rawURL, destPath string) (err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse download URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	defer func() {
		f.Close()
		if err != nil {
			// No orphaned partial files.
			os.Remove(destPath)
		}
	}()

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	if _, err = io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("write %s: %w", destPath, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", destPath, err)
	}
	return nil
}
