// Package resultset retrieves the chunks of a large query result and exposes
// them as ordered rows.
//
// A result set consists of an optional inline first page and a list of
// chunks, each a JSON array of arrays stored behind its own URL. A
// [Downloader] fetches chunks with a bounded pool of workers, retries
// transient failures per chunk and hands chunks to the consumer strictly in
// index order. [Rows] wraps a Downloader in a forward-only cursor.
//
// # Retrying
//
// Every attempt fetches the chunk and parses it with a fresh parser from the
// configured [ParserFactory]. Retryable HTTP statuses, transport errors and
// parse failures consume one attempt each; a chunk fails once its failures
// exceed the retry budget (7 by default). Non-retryable statuses fail the
// chunk at once. The consumer sees a single [ChunkError] holding every
// attempt's failure when it reaches the failed chunk.
//
// # Prefetching
//
// At most Concurrency chunks are scheduled ahead of the consumer, fewer if a
// memory limit is set. Each delivered chunk frees a slot for the next one.
//
// # Sources
//
// [HTTPFetcher] downloads presigned URLs through the internal HTTP client.
// [BucketFetcher] reads chunk objects through gocloud.dev/blob, as written by
// [Stage]:
//
//	{bucket}/{dest}.chunks/chunk-000000.json
//	{bucket}/{dest}.chunks/chunk-000001.json
//	{bucket}/{dest}.manifest.json
package resultset
