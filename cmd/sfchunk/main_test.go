package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	_ "gocloud.dev/blob/fileblob"

	"github.com/aschwenker-insight/snowflake-connector-net/pkg/resultset"
)

func writeInput(t *testing.T, n int) string {
	t.Helper()
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		fmt.Fprintf(&buf, "[\"row-%d\", %d, {\"k\": [1.5, null]}]\n", i, i)
	}
	path := filepath.Join(t.TempDir(), "rows.jsonl")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return path
}

func bucketURL(t *testing.T) string {
	t.Helper()
	return "file://" + filepath.ToSlash(t.TempDir())
}

func readOutput(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestRunUsage(t *testing.T) {
	tests := []struct {
		args []string
		want int
	}{
		{nil, ExitInvalidArgs},
		{[]string{"help"}, ExitSuccess},
		{[]string{"upload"}, ExitInvalidArgs},
		{[]string{"fetch"}, ExitInvalidArgs},
		{[]string{"stage", "-bucket", "mem://"}, ExitInvalidArgs},
		{[]string{"validate", "-object", "x"}, ExitInvalidArgs},
		{[]string{"delete", "-force"}, ExitInvalidArgs},
		{[]string{"fetch", "-manifest", "m.json", "-parser", "streaming"}, ExitInvalidArgs},
		{[]string{"fetch", "-manifest", "m.json", "-memory-limit", "lots"}, ExitInvalidArgs},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			if got := run(tt.args); got != tt.want {
				t.Errorf("run(%q) = %d, want %d", tt.args, got, tt.want)
			}
		})
	}
}

func TestStageFetchValidateDelete(t *testing.T) {
	input := writeInput(t, 25)
	bucket := bucketURL(t)
	object := "results/q1"

	if code := run([]string{
		"stage",
		"-bucket", bucket,
		"-object", object,
		"-input", input,
		"-rows-per-chunk", "10",
		"-inline-rows", "2",
	}); code != ExitSuccess {
		t.Fatalf("stage exit code %d", code)
	}

	for _, parser := range []string{"reusable", "oneshot"} {
		t.Run("fetch "+parser, func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "out.jsonl")
			if code := run([]string{
				"fetch",
				"-bucket", bucket,
				"-object", object,
				"-output", out,
				"-parser", parser,
				"-concurrency", "2",
				"-verify",
			}); code != ExitSuccess {
				t.Fatalf("fetch exit code %d", code)
			}

			lines := readOutput(t, out)
			if len(lines) != 25 {
				t.Fatalf("got %d lines, want 25", len(lines))
			}
			for i, line := range lines {
				want := fmt.Sprintf(`["row-%d",%d,{"k":[1.5,null]}]`, i, i)
				if line != want {
					t.Fatalf("line %d: got %s, want %s", i, line, want)
				}
			}
		})
	}

	if code := run([]string{"validate", "-bucket", bucket, "-object", object, "-full"}); code != ExitSuccess {
		t.Fatalf("validate exit code %d", code)
	}

	if code := run([]string{"delete", "-bucket", bucket, "-object", object, "-force"}); code != ExitSuccess {
		t.Fatalf("delete exit code %d", code)
	}

	if code := run([]string{"validate", "-bucket", bucket, "-object", object}); code != ExitStorageError {
		t.Fatalf("validate after delete: exit code %d, want %d", code, ExitStorageError)
	}
}

func TestFetchMissingChunk(t *testing.T) {
	input := writeInput(t, 12)
	bucket := bucketURL(t)

	if code := run([]string{"stage", "-bucket", bucket, "-object", "q", "-input", input, "-rows-per-chunk", "5"}); code != ExitSuccess {
		t.Fatalf("stage exit code %d", code)
	}

	ctx := context.Background()
	bkt, err := resultset.OpenBucket(ctx, bucket)
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	m, err := resultset.ReadManifest(ctx, bkt, "q")
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if err := bkt.Delete(ctx, m.Chunks[1].URL); err != nil {
		t.Fatalf("delete chunk: %v", err)
	}
	bkt.Close()

	if code := run([]string{"validate", "-bucket", bucket, "-object", "q"}); code != ExitValidationFailed {
		t.Errorf("validate exit code %d, want %d", code, ExitValidationFailed)
	}

	out := filepath.Join(t.TempDir(), "out.jsonl")
	if code := run([]string{"fetch", "-bucket", bucket, "-object", "q", "-output", out}); code != ExitChunkFailed {
		t.Errorf("fetch exit code %d, want %d", code, ExitChunkFailed)
	}
}

func TestFetchLocalManifestMissing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.manifest.json")
	if code := run([]string{"fetch", "-manifest", missing}); code != ExitSourceNotAccess {
		t.Errorf("fetch exit code %d, want %d", code, ExitSourceNotAccess)
	}
}

func TestDeletePartialStage(t *testing.T) {
	bucket := bucketURL(t)
	input := filepath.Join(t.TempDir(), "bad.jsonl")
	// The third row is malformed, so the stage run stops after one chunk.
	if err := os.WriteFile(input, []byte("[1]\n[2]\n{\n"), 0644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	if code := run([]string{"stage", "-bucket", bucket, "-object", "p", "-input", input, "-rows-per-chunk", "2"}); code != ExitStorageError {
		t.Fatalf("stage exit code %d, want %d", code, ExitStorageError)
	}

	if code := run([]string{"delete", "-bucket", bucket, "-object", "p", "-force", "-partial"}); code != ExitSuccess {
		t.Fatalf("delete -partial exit code %d", code)
	}
}

func TestStageRowsKeepsNumbers(t *testing.T) {
	ctx := context.Background()
	bkt, err := resultset.OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	defer bkt.Close()

	stager, err := resultset.NewStager(bkt, "n", resultset.WithInlineRows(10))
	if err != nil {
		t.Fatalf("NewStager: %v", err)
	}
	if err := stageRows(ctx, stager, strings.NewReader("[12345678901234567890]\n[0.1]\n")); err != nil {
		t.Fatalf("stageRows: %v", err)
	}
	m, err := stager.Complete(ctx)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got := m.Rowset[0][0]; got != json.Number("12345678901234567890") {
		t.Errorf("got %#v, want json.Number", got)
	}
}
