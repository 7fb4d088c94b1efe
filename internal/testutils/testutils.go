//go:build integration

// Package testutils provides shared test infrastructure for integration tests.
package testutils

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gocloud.dev/blob"

	"github.com/aschwenker-insight/snowflake-connector-net/pkg/resultset"
)

// GenerateRows returns n deterministic rows of cols values. The first value
// is a string, the rest are numbers.
func GenerateRows(t *testing.T, n, cols int) [][]resultset.Value {
	t.Helper()
	if cols < 1 {
		t.Fatalf("cols must be positive, got %d", cols)
	}
	rows := make([][]resultset.Value, n)
	for i := range rows {
		row := make([]resultset.Value, cols)
		row[0] = fmt.Sprintf("row-%d", i)
		for c := 1; c < cols; c++ {
			row[c] = json.Number(fmt.Sprint(i*cols + c))
		}
		rows[i] = row
	}
	return rows
}

// ChunkServer serves chunk objects of a bucket over HTTP. Request paths are
// object keys.
type ChunkServer struct {
	*httptest.Server

	bucket *blob.Bucket

	mu        sync.Mutex
	failFirst int
	status    int
	requests  map[string]int
}

// ChunkServerOption configures a ChunkServer.
type ChunkServerOption func(*ChunkServer)

// WithFailures makes the first n requests for every key fail with status.
func WithFailures(n, status int) ChunkServerOption {
	return func(s *ChunkServer) {
		s.failFirst = n
		s.status = status
	}
}

// StartChunkServer starts an HTTP server that serves the objects of bucket.
func StartChunkServer(t *testing.T, bucket *blob.Bucket, opts ...ChunkServerOption) *ChunkServer {
	t.Helper()

	s := &ChunkServer{
		bucket:   bucket,
		status:   http.StatusServiceUnavailable,
		requests: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *ChunkServer) serve(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/")

	s.mu.Lock()
	s.requests[key]++
	n := s.requests[key]
	s.mu.Unlock()

	if n <= s.failFirst {
		w.WriteHeader(s.status)
		return
	}

	data, err := s.bucket.ReadAll(r.Context(), key)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// Requests returns the number of requests received for key.
func (s *ChunkServer) Requests(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[key]
}

// TotalRequests returns the number of requests received for all keys.
func (s *ChunkServer) TotalRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.requests {
		total += n
	}
	return total
}

// Rewrite points the chunk URLs of m at the server.
func (s *ChunkServer) Rewrite(m *resultset.Manifest) {
	for i := range m.Chunks {
		m.Chunks[i].URL = s.URL + "/" + m.Chunks[i].URL
	}
}

// MinioEnv contains connection information for a Minio test environment.
type MinioEnv struct {
	Container testcontainers.Container
	BucketURL string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Close terminates the Minio container.
func (e *MinioEnv) Close(ctx context.Context) error {
	if e.Container != nil {
		return e.Container.Terminate(ctx)
	}
	return nil
}

// OpenBucket opens a gocloud bucket connection to the Minio environment.
func (e *MinioEnv) OpenBucket(ctx context.Context) (*blob.Bucket, error) {
	return blob.OpenBucket(ctx, e.BucketURL)
}

// StartMinioContainer starts a Minio container with a pre-created bucket.
func StartMinioContainer(t *testing.T, ctx context.Context, bucketName string) *MinioEnv {
	t.Helper()

	const (
		accessKey = "minioadmin"
		secretKey = "minioadmin"
	)

	networkName := fmt.Sprintf("sfchunk-test-net-%d", time.Now().UnixNano())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{
			Name: networkName,
		},
	})
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	t.Cleanup(func() { network.Remove(ctx) })

	minioContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Networks:     []string{networkName},
			NetworkAliases: map[string][]string{
				networkName: {"minio"},
			},
			Env: map[string]string{
				"MINIO_ROOT_USER":     accessKey,
				"MINIO_ROOT_PASSWORD": secretKey,
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start minio container: %v", err)
	}

	createBucket(t, ctx, networkName, accessKey, secretKey, bucketName)

	host, err := minioContainer.Host(ctx)
	if err != nil {
		t.Fatalf("get container host: %v", err)
	}
	port, err := minioContainer.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("get container port: %v", err)
	}
	endpoint := fmt.Sprintf("%s:%s", host, port.Port())

	t.Setenv("AWS_ACCESS_KEY_ID", accessKey)
	t.Setenv("AWS_SECRET_ACCESS_KEY", secretKey)

	return &MinioEnv{
		Container: minioContainer,
		BucketURL: fmt.Sprintf("s3://%s?endpoint=http://%s&use_path_style=true&disable_https=true&region=us-east-1",
			bucketName, endpoint),
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
	}
}

// createBucket creates a bucket using a short-lived minio/mc container.
func createBucket(t *testing.T, ctx context.Context, networkName, accessKey, secretKey, bucketName string) {
	t.Helper()

	mcContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:      "minio/mc:latest",
			Networks:   []string{networkName},
			Entrypoint: []string{"/bin/sh", "-c"},
			Cmd: []string{
				fmt.Sprintf(
					"/usr/bin/mc config host add myminio http://minio:9000 %s %s && "+
						"/usr/bin/mc mb myminio/%s; exit 0",
					accessKey, secretKey, bucketName,
				),
			},
			WaitingFor: wait.ForExit(),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start mc container: %v", err)
	}
	defer mcContainer.Terminate(ctx)
}

// CompareJSONLines checks that r holds one JSON array per expected row, in
// order, with equal values.
func CompareJSONLines(t *testing.T, r io.Reader, expected [][]resultset.Value) {
	t.Helper()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	i := 0
	for sc.Scan() {
		if i >= len(expected) {
			t.Fatalf("more lines than expected rows (%d)", len(expected))
		}
		want, err := json.Marshal(expected[i])
		if err != nil {
			t.Fatalf("marshal row %d: %v", i, err)
		}
		if sc.Text() != string(want) {
			t.Fatalf("line %d: got %s, want %s", i, sc.Text(), want)
		}
		i++
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("read lines: %v", err)
	}
	if i != len(expected) {
		t.Fatalf("got %d lines, want %d", i, len(expected))
	}
}
