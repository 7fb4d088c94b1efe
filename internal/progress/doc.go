// Package progress provides progress reporting for result set retrieval.
//
// The reporter writes human-readable progress to stderr, including the
// share of rows read, throughput, and chunk retry counts.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    TotalRows:   manifest.RowCount,
//	    TotalChunks: len(manifest.Chunks),
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	d := resultset.NewDownloader(fetcher, descs, resultset.WithObserver(reporter))
//
// # Output Format
//
//	[sfchunk] Reading: s3://results/q1
//	[sfchunk] Rows: 100,000,000 | Chunks: 4096 | Workers: 8
//	[sfchunk] Progress: 45.2% | 45,200,000 / 100,000,000 rows | 6.1 GiB | Speed: 812,000 rows/s | ETA: 1m 7s
//	[sfchunk] Chunks: 1851 completed | 8 in-progress | 2237 pending | 3 retries
package progress
