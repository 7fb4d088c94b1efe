package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/time/rate"
)

// ErrUnsupportedEncoding is returned when a chunk response uses a
// Content-Encoding the client cannot decode. It is never retried.
var ErrUnsupportedEncoding = errors.New("http: unsupported content encoding")

// Options configures the HTTP client.
type Options struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 16
	MaxIdleConnsPerHost int

	// Timeout for individual requests, including reading the body.
	// Default: 60s
	Timeout time.Duration

	// RequestsPerSecond throttles outgoing requests. Zero disables throttling.
	RequestsPerSecond float64

	// ForceRetryOn404 classifies 404 responses as retryable.
	ForceRetryOn404 bool

	// Proxy settings. The proxy is only used when UseProxy is set and
	// ProxyHost is not empty.
	UseProxy      bool
	ProxyHost     string
	ProxyPort     int
	ProxyUser     string
	ProxyPassword string

	// NonProxyHosts lists hosts that bypass the proxy. Entries may be
	// wildcards such as "*.example.com" and may themselves contain several
	// hosts separated by '|' or ','.
	NonProxyHosts []string

	// CRLCheckEnabled and CRLCheckFailOpen describe the certificate
	// revocation policy requested by the caller. They are reported through
	// Client.Revocation for the certificate verifier; the client itself does
	// not check revocation.
	CRLCheckEnabled  bool
	CRLCheckFailOpen bool
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost: 16,
		Timeout:             60 * time.Second,
		CRLCheckEnabled:     true,
		CRLCheckFailOpen:    true,
	}
}

// Revocation is the certificate revocation policy a client was built with.
type Revocation struct {
	Enabled  bool
	FailOpen bool
}

// Response is a successful chunk response. Body is already decoded according
// to its Content-Encoding.
type Response struct {
	Body          io.ReadCloser
	StatusCode    int
	ContentLength int64
	Encoding      string
}

// Client issues single-attempt chunk downloads. Retrying is left to the
// caller, which also has to account for parse failures.
type Client struct {
	client    *http.Client
	transport *http.Transport
	limiter   *rate.Limiter
	opts      Options
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) (*Client, error) {
	transport, err := NewTransport(opts)
	if err != nil {
		return nil, err
	}

	c := &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		transport: transport,
		opts:      opts,
	}

	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return c, nil
}

// Transport returns the transport the client was configured with.
func (c *Client) Transport() *http.Transport {
	return c.transport
}

// Revocation returns the configured certificate revocation policy.
func (c *Client) Revocation() Revocation {
	return Revocation{
		Enabled:  c.opts.CRLCheckEnabled,
		FailOpen: c.opts.CRLCheckFailOpen,
	}
}

// GetChunk performs a single GET request for a chunk payload.
// Non-2xx responses are returned as *StatusError.
func (c *Client) GetChunk(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait for rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
			Retryable:  IsRetryableStatus(resp.StatusCode, c.opts.ForceRetryOn404),
		}
	}

	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	body, err := decodeBody(resp.Body, encoding)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}

	return &Response{
		Body:          body,
		StatusCode:    resp.StatusCode,
		ContentLength: resp.ContentLength,
		Encoding:      encoding,
	}, nil
}

// decodeBody wraps body with a decompressor matching the content encoding.
func decodeBody(body io.ReadCloser, encoding string) (io.ReadCloser, error) {
	switch encoding {
	case "", "identity":
		return body, nil
	case "gzip":
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("open gzip body: %w", err)
		}
		return &decodedBody{Reader: zr, close: zr.Close, body: body}, nil
	case "zstd":
		zr, err := zstd.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("open zstd body: %w", err)
		}
		return &decodedBody{Reader: zr, close: func() error { zr.Close(); return nil }, body: body}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, encoding)
	}
}

// decodedBody closes both the decompressor and the underlying body.
type decodedBody struct {
	io.Reader
	close func() error
	body  io.ReadCloser
}

func (d *decodedBody) Close() error {
	err := d.close()
	if cerr := d.body.Close(); err == nil {
		err = cerr
	}
	return err
}
