// Package retry holds the retry budget and backoff schedule for chunk
// downloads.
//
// A chunk gets MaxRetries retries on top of its first attempt: with the
// default budget of 7 a chunk may fail seven times and still succeed on the
// eighth attempt. Delays grow exponentially from Backoff up to MaxBackoff
// with 0.5x-1.5x jitter.
package retry
