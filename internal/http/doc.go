// Package http provides the HTTP transport used to download result chunks.
//
// This package handles:
//   - Transport setup (connection pooling, proxy, bypass list)
//   - Single-attempt chunk GET requests with gzip/zstd decoding
//   - Classification of response statuses into retryable or fatal
//   - Optional request throttling
//
// Retrying is not done here: a chunk attempt can also fail while parsing, so
// the retry loop lives with the chunk downloader.
//
// # Usage
//
//	client, err := http.NewClient(http.Options{
//	    Timeout:   60 * time.Second,
//	    UseProxy:  true,
//	    ProxyHost: "proxy.internal",
//	    ProxyPort: 3128,
//	})
//
//	resp, err := client.GetChunk(ctx, chunkURL, headers)
//	if err != nil && http.IsRetryable(err) {
//	    // try again later
//	}
//	defer resp.Body.Close()
package http
