package resultset

import (
	"context"
	"fmt"

	"gocloud.dev/blob"
)

// ValidationResult contains the results of validating a staged result set.
type ValidationResult struct {
	Valid          bool     // true if all chunks exist and sizes match
	RowCount       int64    // total rows from manifest
	ChunkCount     int      // number of chunks in manifest
	MissingChunks  int      // number of chunks that don't exist
	SizeMismatches int      // number of chunks with wrong size
	Errors         []string // detailed error messages
}

// Validate checks that every chunk of the result set staged under dest exists
// with the size recorded in the manifest. It reads object attributes only.
//
// Missing chunks or size mismatches are reported in the result with
// Valid=false, not returned as errors.
func Validate(ctx context.Context, bucket *blob.Bucket, dest string) (*ValidationResult, error) {
	manifest, err := ReadManifest(ctx, bucket, dest)
	if err != nil {
		return nil, err
	}

	result := &ValidationResult{
		Valid:      true,
		RowCount:   manifest.RowCount,
		ChunkCount: len(manifest.Chunks),
		Errors:     make([]string, 0),
	}

	for i, chunk := range manifest.Chunks {
		attrs, err := bucket.Attributes(ctx, chunk.URL)
		if err != nil {
			if IsNotExist(err) {
				result.Valid = false
				result.MissingChunks++
				result.Errors = append(result.Errors,
					fmt.Sprintf("chunk %d missing: %s", i, chunk.URL))
				continue
			}
			return nil, fmt.Errorf("resultset: check chunk %d: %w", i, err)
		}

		if chunk.CompressedSize > 0 && attrs.Size != chunk.CompressedSize {
			result.Valid = false
			result.SizeMismatches++
			result.Errors = append(result.Errors,
				fmt.Sprintf("chunk %d size mismatch: expected %d, got %d",
					i, chunk.CompressedSize, attrs.Size))
		}
	}

	return result, nil
}
