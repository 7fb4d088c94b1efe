package resultset

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	sfhttp "github.com/aschwenker-insight/snowflake-connector-net/internal/http"
)

// SSE-C headers sent with chunk downloads when the result is encrypted with a
// query result master key.
const (
	HeaderSSECAlgorithm = "x-amz-server-side-encryption-customer-algorithm"
	HeaderSSECKey       = "x-amz-server-side-encryption-customer-key"
	SSECAlgorithmAES256 = "AES256"
)

// Fetcher opens the payload of one chunk. Each call is a single attempt;
// retrying is done by the Downloader.
type Fetcher interface {
	Fetch(ctx context.Context, chunk *ResultChunk) (io.ReadCloser, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, chunk *ResultChunk) (io.ReadCloser, error)

func (f FetcherFunc) Fetch(ctx context.Context, chunk *ResultChunk) (io.ReadCloser, error) {
	return f(ctx, chunk)
}

// HTTPFetcher downloads chunks from their presigned URLs.
type HTTPFetcher struct {
	Client *sfhttp.Client

	// Headers are sent with every chunk request. When empty and QRMK is set,
	// the SSE-C headers are sent instead.
	Headers map[string]string
	QRMK    string
}

func (f *HTTPFetcher) Fetch(ctx context.Context, c *ResultChunk) (io.ReadCloser, error) {
	resp, err := f.Client.GetChunk(ctx, c.URL(), f.headers())
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (f *HTTPFetcher) headers() map[string]string {
	if len(f.Headers) > 0 {
		return f.Headers
	}
	if f.QRMK == "" {
		return nil
	}
	return map[string]string{
		HeaderSSECAlgorithm: SSECAlgorithmAES256,
		HeaderSSECKey:       f.QRMK,
	}
}

// BucketFetcher reads chunks stored as objects in a bucket. The chunk URL is
// the object key relative to Prefix.
type BucketFetcher struct {
	Bucket          *blob.Bucket
	Prefix          string
	ForceRetryOn404 bool
}

func (f *BucketFetcher) Fetch(ctx context.Context, c *ResultChunk) (io.ReadCloser, error) {
	r, err := f.Bucket.NewReader(ctx, f.Prefix+c.URL(), nil)
	if err != nil {
		return nil, f.classify(err)
	}
	return r, nil
}

// classify maps a blob error onto the HTTP status the same failure would have
// produced, so bucket and HTTP downloads share one retry classification.
func (f *BucketFetcher) classify(err error) error {
	var status int
	switch gcerrors.Code(err) {
	case gcerrors.NotFound:
		status = http.StatusNotFound
	case gcerrors.PermissionDenied:
		status = http.StatusForbidden
	case gcerrors.ResourceExhausted:
		status = http.StatusTooManyRequests
	case gcerrors.DeadlineExceeded:
		status = http.StatusRequestTimeout
	case gcerrors.Internal, gcerrors.Unknown:
		status = http.StatusServiceUnavailable
	case gcerrors.Canceled:
		return err
	default:
		status = http.StatusBadRequest
	}
	se := &sfhttp.StatusError{
		StatusCode: status,
		Status:     http.StatusText(status),
		Retryable:  sfhttp.IsRetryableStatus(status, f.ForceRetryOn404),
	}
	return fmt.Errorf("open chunk object: %w: %w", se, err)
}
