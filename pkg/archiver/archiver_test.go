package archiver

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/jladdjr/penpal/pkg/errs"
	"github.com/jladdjr/penpal/pkg/trace"
)

func newTestContext() context.Context {
	return trace.WithContext(context.Background(), trace.NewLog("TEST", trace.VerbosityVerbose))
}

func testArchivers(t *testing.T) []Archiver {
	t.Helper()
	result := []Archiver{MemoryArchiver{}}
	if _, err := exec.LookPath("tar"); err == nil {
		result = append(result, &TarArchiver{})
	} else {
		t.Log("system tar not found, skipping TarArchiver cases")
	}
	return result
}

func TestCreateAndExtractArchiveRoundTrip(t *testing.T) {
	ctx := newTestContext()

	for _, a := range testArchivers(t) {
		parent, err := os.MkdirTemp("", "archiver-test-*")
		if err != nil {
			t.Fatalf("failed to create temp dir: %v", err)
		}
		defer os.RemoveAll(parent)

		fileA := filepath.Join(parent, "a.txt")
		fileB := filepath.Join(parent, "b.bin")
		if err := os.WriteFile(fileA, []byte("hello"), 0600); err != nil {
			t.Fatalf("failed to write fixture: %v", err)
		}
		if err := os.WriteFile(fileB, []byte{1, 2, 3, 4}, 0600); err != nil {
			t.Fatalf("failed to write fixture: %v", err)
		}

		dest := filepath.Join(parent, "out.tgz")
		if err := a.CreateArchive(ctx, []string{fileA, fileB}, dest); err != nil {
			t.Fatalf("CreateArchive failed: %v", err)
		}

		info, err := os.Stat(dest)
		if err != nil {
			t.Fatalf("archive not created: %v", err)
		}
		if info.Mode().Perm() != 0700 {
			t.Errorf("archive mode = %04o, want 0700", info.Mode().Perm())
		}

		extractDir := filepath.Join(parent, "extracted")
		if err := a.ExtractArchive(ctx, dest, extractDir); err != nil {
			t.Fatalf("ExtractArchive failed: %v", err)
		}

		gotA, err := os.ReadFile(filepath.Join(extractDir, "a.txt"))
		if err != nil {
			t.Fatalf("failed to read extracted a.txt: %v", err)
		}
		if string(gotA) != "hello" {
			t.Errorf("a.txt contents = %q, want %q", gotA, "hello")
		}

		gotB, err := os.ReadFile(filepath.Join(extractDir, "b.bin"))
		if err != nil {
			t.Fatalf("failed to read extracted b.bin: %v", err)
		}
		if len(gotB) != 4 {
			t.Errorf("b.bin length = %d, want 4", len(gotB))
		}
	}
}

func TestExtractArchiveRejectsPathTraversal(t *testing.T) {
	ctx := newTestContext()

	parent, err := os.MkdirTemp("", "archiver-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(parent)

	archive := maliciousTarGz(t, parent)

	destDir := filepath.Join(parent, "dest")
	err = (MemoryArchiver{}).ExtractArchive(ctx, archive, destDir)
	if err == nil {
		t.Fatal("expected path traversal to be rejected")
	}
	if !errs.Is(err, errs.MalformedCiphertext) {
		t.Errorf("expected MalformedCiphertext, got %v", err)
	}
}

// maliciousTarGz builds a gzip-compressed tar whose sole member escapes
// its extraction directory, for the traversal-rejection test above.
func maliciousTarGz(t *testing.T, dir string) string {
	t.Helper()

	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)

	content := []byte("payload")
	header := &tar.Header{
		Name: "../escaped.txt",
		Mode: 0600,
		Size: int64(len(content)),
	}
	if err := tw.WriteHeader(header); err != nil {
		t.Fatalf("failed to write tar header: %v", err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatalf("failed to write tar content: %v", err)
	}

	if err := tw.Close(); err != nil {
		t.Fatalf("failed to close tar writer: %v", err)
	}
	if err := gzw.Close(); err != nil {
		t.Fatalf("failed to close gzip writer: %v", err)
	}

	path := filepath.Join(dir, "evil.tgz")
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		t.Fatalf("failed to write malicious archive: %v", err)
	}
	return path
}
