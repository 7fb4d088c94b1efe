package resultset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"gocloud.dev/blob"
)

// DefaultRowsPerChunk is the chunk size used by Stage when none is given.
const DefaultRowsPerChunk = 10000

// StageOptions configures staging of a result set.
type StageOptions struct {
	RowsPerChunk int
	InlineRows   int // Rows kept in the manifest rowset instead of a chunk
	Metadata     map[string]string
	ChunkHeaders map[string]string
	QRMK         string
}

// StageOption is a functional option for Stage and NewStager.
type StageOption func(*StageOptions)

// WithRowsPerChunk sets the number of rows written to each chunk object.
func WithRowsPerChunk(n int) StageOption {
	return func(o *StageOptions) {
		o.RowsPerChunk = n
	}
}

// WithInlineRows keeps the first n rows inline in the manifest.
func WithInlineRows(n int) StageOption {
	return func(o *StageOptions) {
		o.InlineRows = n
	}
}

// WithMetadata sets caller-defined metadata stored in the manifest.
func WithMetadata(metadata map[string]string) StageOption {
	return func(o *StageOptions) {
		o.Metadata = metadata
	}
}

// WithChunkHeaders records headers a reader must send with chunk requests.
func WithChunkHeaders(headers map[string]string, qrmk string) StageOption {
	return func(o *StageOptions) {
		o.ChunkHeaders = headers
		o.QRMK = qrmk
	}
}

// Stager writes rows into chunk objects and finishes with a manifest.
//
// Storage layout:
//
//	{bucket}/{dest}.chunks/chunk-000000.json
//	{bucket}/{dest}.chunks/chunk-000001.json
//	{bucket}/{dest}.manifest.json
type Stager struct {
	bucket *blob.Bucket
	dest   string
	opts   StageOptions

	mu       sync.Mutex
	manifest Manifest
	buffered [][]Value
	closed   bool
}

// NewStager creates a stager writing under dest.
func NewStager(bucket *blob.Bucket, dest string, options ...StageOption) (*Stager, error) {
	opts := StageOptions{RowsPerChunk: DefaultRowsPerChunk}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.RowsPerChunk <= 0 {
		return nil, errors.New("resultset: rows per chunk must be positive")
	}
	if dest == "" {
		return nil, errors.New("resultset: destination must not be empty")
	}

	return &Stager{
		bucket: bucket,
		dest:   dest,
		opts:   opts,
		manifest: Manifest{
			ChunkHeaders: opts.ChunkHeaders,
			QRMK:         opts.QRMK,
			Metadata:     opts.Metadata,
		},
	}, nil
}

// Append adds one row. All rows must have the same number of columns.
func (s *Stager) Append(ctx context.Context, row []Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("resultset: stager is closed")
	}
	if s.manifest.RowCount == 0 {
		s.manifest.ColumnCount = len(row)
	} else if len(row) != s.manifest.ColumnCount {
		return fmt.Errorf("resultset: row %d has %d columns, expected %d",
			s.manifest.RowCount, len(row), s.manifest.ColumnCount)
	}
	s.manifest.RowCount++

	if len(s.manifest.Rowset) < s.opts.InlineRows && len(s.manifest.Chunks) == 0 && len(s.buffered) == 0 {
		s.manifest.Rowset = append(s.manifest.Rowset, row)
		return nil
	}

	s.buffered = append(s.buffered, row)
	if len(s.buffered) >= s.opts.RowsPerChunk {
		return s.flushLocked(ctx)
	}
	return nil
}

// flushLocked writes the buffered rows as the next chunk object.
func (s *Stager) flushLocked(ctx context.Context) error {
	if len(s.buffered) == 0 {
		return nil
	}

	data, err := json.Marshal(s.buffered)
	if err != nil {
		return fmt.Errorf("resultset: marshal chunk %d: %w", len(s.manifest.Chunks), err)
	}
	sum := sha256.Sum256(data)

	key := fmt.Sprintf("%schunk-%06d.json", ChunksPrefix(s.dest), len(s.manifest.Chunks))
	if err := s.bucket.WriteAll(ctx, key, data, &blob.WriterOptions{ContentType: "application/json"}); err != nil {
		return fmt.Errorf("resultset: write chunk %s: %w", key, err)
	}

	s.manifest.Chunks = append(s.manifest.Chunks, ChunkDescriptor{
		URL:              key,
		RowCount:         len(s.buffered),
		ColumnCount:      s.manifest.ColumnCount,
		UncompressedSize: int64(len(data)),
		CompressedSize:   int64(len(data)),
		Checksum:         hex.EncodeToString(sum[:]),
	})
	s.buffered = nil
	return nil
}

// Complete writes the last partial chunk and the manifest.
func (s *Stager) Complete(ctx context.Context) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("resultset: stager is already closed")
	}
	if err := s.flushLocked(ctx); err != nil {
		return nil, err
	}
	s.closed = true

	if s.manifest.Chunks == nil {
		s.manifest.Chunks = []ChunkDescriptor{}
	}
	s.manifest.CreatedAt = time.Now().UTC()
	if err := WriteManifest(ctx, s.bucket, s.dest, &s.manifest); err != nil {
		return nil, err
	}
	m := s.manifest
	return &m, nil
}

// Stage writes rows under dest and returns the manifest.
func Stage(ctx context.Context, bucket *blob.Bucket, dest string, rows [][]Value, options ...StageOption) (*Manifest, error) {
	s, err := NewStager(bucket, dest, options...)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if err := s.Append(ctx, row); err != nil {
			return nil, err
		}
	}
	return s.Complete(ctx)
}
