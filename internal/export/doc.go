// Package export drains a staged or remote result set into a JSON-lines
// stream.
//
// It wires the configuration, the chunk HTTP client or a storage bucket,
// the resultset downloader and the progress reporter together:
//
//	stats, err := export.Export(ctx, manifest, os.Stdout, export.Options{
//	    Config:   cfg,
//	    Progress: reporter,
//	    Logger:   logger,
//	})
//
// Every row is written as a JSON array. Rows are read in result order: the
// inline rowset of the manifest first, then every chunk by index.
//
// # Failures
//
// A chunk that exhausts its retries ends the export with a
// *resultset.ChunkError. Rows already written stay written. If the number of
// rows read differs from the manifest row count, ErrRowCountMismatch is
// returned.
package export
