package resultset

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	json "github.com/goccy/go-json"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

// Manifest describes a result set: the inline first page and the chunks
// holding the rest.
type Manifest struct {
	RowCount        int64             `json:"row_count"`
	ColumnCount     int               `json:"column_count"`
	RecordsAffected int64             `json:"records_affected,omitempty"`
	Rowset          [][]Value         `json:"rowset,omitempty"`
	Chunks          []ChunkDescriptor `json:"chunks"`
	ChunkHeaders    map[string]string `json:"chunk_headers,omitempty"`
	QRMK            string            `json:"qrmk,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// ManifestKey returns the object key of the manifest staged under dest.
func ManifestKey(dest string) string {
	return dest + ".manifest.json"
}

// ChunksPrefix returns the key prefix of the chunks staged under dest.
func ChunksPrefix(dest string) string {
	return dest + ".chunks/"
}

// DecodeManifest reads a manifest from r. Numbers in the inline rowset are
// kept as json.Number.
func DecodeManifest(r io.Reader) (*Manifest, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("resultset: decode manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// ReadManifest loads the manifest staged under dest.
func ReadManifest(ctx context.Context, bucket *blob.Bucket, dest string) (*Manifest, error) {
	data, err := bucket.ReadAll(ctx, ManifestKey(dest))
	if err != nil {
		return nil, fmt.Errorf("resultset: read manifest: %w", err)
	}
	return DecodeManifest(bytes.NewReader(data))
}

// WriteManifest stores m under dest.
func WriteManifest(ctx context.Context, bucket *blob.Bucket, dest string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("resultset: marshal manifest: %w", err)
	}
	if err := bucket.WriteAll(ctx, ManifestKey(dest), data, &blob.WriterOptions{ContentType: "application/json"}); err != nil {
		return fmt.Errorf("resultset: write manifest: %w", err)
	}
	return nil
}

// MaxChunkSize is the largest compressed or uncompressed size a manifest
// chunk may declare.
const MaxChunkSize = 16 << 30

// Validate checks that the manifest is self-consistent.
func (m *Manifest) Validate() error {
	total := int64(len(m.Rowset))
	for i, c := range m.Chunks {
		if c.URL == "" {
			return fmt.Errorf("resultset: manifest chunk %d has no url", i)
		}
		if c.RowCount < 0 {
			return fmt.Errorf("resultset: manifest chunk %d has negative row count", i)
		}
		if c.UncompressedSize < 0 || c.UncompressedSize > MaxChunkSize {
			return fmt.Errorf("resultset: manifest chunk %d has invalid uncompressed size %d", i, c.UncompressedSize)
		}
		if c.CompressedSize < 0 || c.CompressedSize > MaxChunkSize {
			return fmt.Errorf("resultset: manifest chunk %d has invalid compressed size %d", i, c.CompressedSize)
		}
		total += int64(c.RowCount)
	}
	if m.RowCount > 0 && total != m.RowCount {
		return fmt.Errorf("resultset: manifest row count %d does not match chunks (%d)", m.RowCount, total)
	}
	return nil
}

// Descriptors returns the chunk descriptors with the manifest column count
// filled in where a chunk does not carry its own.
func (m *Manifest) Descriptors() []ChunkDescriptor {
	descs := make([]ChunkDescriptor, len(m.Chunks))
	for i, c := range m.Chunks {
		if c.ColumnCount == 0 {
			c.ColumnCount = m.ColumnCount
		}
		descs[i] = c
	}
	return descs
}

// OpenBucket opens a bucket by URL (s3://, gs://, file://, mem://).
func OpenBucket(ctx context.Context, bucketURL string) (*blob.Bucket, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("resultset: open bucket: %w", err)
	}
	return bucket, nil
}

// IsNotExist reports whether err indicates a missing object or manifest.
func IsNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
