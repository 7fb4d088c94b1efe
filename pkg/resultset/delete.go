package resultset

import (
	"context"
	"fmt"
	"io"

	"gocloud.dev/blob"
)

// Delete removes a staged result set: every chunk listed in its manifest,
// then the manifest itself. Chunks already gone are skipped.
func Delete(ctx context.Context, bucket *blob.Bucket, dest string) error {
	manifest, err := ReadManifest(ctx, bucket, dest)
	if err != nil {
		return err
	}

	for _, chunk := range manifest.Chunks {
		if err := bucket.Delete(ctx, chunk.URL); err != nil && !IsNotExist(err) {
			return fmt.Errorf("resultset: delete chunk %s: %w", chunk.URL, err)
		}
	}

	if err := bucket.Delete(ctx, ManifestKey(dest)); err != nil {
		return fmt.Errorf("resultset: delete manifest: %w", err)
	}
	return nil
}

// DeletePartial removes the chunks of a staging run that never wrote its
// manifest. Without a manifest the chunks are found by listing the chunk
// prefix. If a manifest exists, it behaves like Delete.
func DeletePartial(ctx context.Context, bucket *blob.Bucket, dest string) error {
	if exists, _ := bucket.Exists(ctx, ManifestKey(dest)); exists {
		return Delete(ctx, bucket, dest)
	}

	iter := bucket.List(&blob.ListOptions{Prefix: ChunksPrefix(dest)})
	deleted := 0
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("resultset: list chunks: %w", err)
		}
		if err := bucket.Delete(ctx, obj.Key); err != nil && !IsNotExist(err) {
			return fmt.Errorf("resultset: delete chunk %s: %w", obj.Key, err)
		}
		deleted++
	}

	if deleted == 0 {
		return fmt.Errorf("resultset: no manifest or chunks found for %s", dest)
	}
	return nil
}
