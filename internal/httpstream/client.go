// Package httpstream opens long-lived HTTP responses as raw chunk streams.
// It is the transport collaborator for the MJPEG session: it only connects
// and reads bytes, and knows nothing about frames.
package httpstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrBadStatus  = errors.New("httpstream: non-success status")
	ErrInvalidURL = errors.New("httpstream: invalid url")
)

// Config describes one stream endpoint.
type Config struct {
	// URL is the stream endpoint (required).
	URL string
	// Headers are added to the request, overriding defaults by name.
	Headers map[string]string
	// ConnectTimeout bounds dialing and response-header wait. It does not
	// bound the body: the stream is intentionally endless.
	ConnectTimeout time.Duration
}

const DefaultConnectTimeout = 10 * time.Second

// Client opens an endpoint and hands back the response body for chunked
// consumption. A non-2xx status is reported as ErrBadStatus, distinct from
// transport failures.
type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, cfg.URL)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		ResponseHeaderTimeout: cfg.ConnectTimeout,
		// The body is a live stream; compression would buffer it.
		DisableCompression: true,
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Transport: transport},
	}, nil
}

func (c *Client) URL() string {
	return c.cfg.URL
}

// Open performs the GET and returns the body plus the response Content-Type.
// The caller owns closing the body; cancelling ctx aborts an in-flight read.
func (c *Client) Open(ctx context.Context) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("httpstream: build request: %w", err)
	}

	// Some camera servers refuse clients that do not look like a browser.
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Encoding", "identity")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("httpstream: connect: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		_ = resp.Body.Close()
		return nil, "", fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}
