package archiver

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jladdjr/penpal/pkg/errs"
	"github.com/jladdjr/penpal/pkg/trace"
)

// MemoryArchiver is a disk-free, in-process fake for Archiver. It never
// invokes a subprocess, so test suites never depend on a tar binary being
// present on PATH. It implements the same gzip-compressed-tar-of-basenames
// contract as TarArchiver using archive/tar and compress/gzip directly,
// with plain buffer operations since test fixtures are small.
type MemoryArchiver struct{}

// Preflight always succeeds; there is no external dependency to check.
func (MemoryArchiver) Preflight(ctx context.Context) error {
	return nil
}

// CreateArchive writes a gzip-compressed tar of sources' basenames to
// dest.
func (MemoryArchiver) CreateArchive(ctx context.Context, sources []string, dest string) error {
	log := trace.FromContext(ctx).WithPrefix("MEM-ARCHIVE")

	if len(sources) == 0 {
		return errs.New(errs.IoError, dest)
	}
	parent := filepath.Dir(sources[0])

	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)

	for _, src := range sources {
		if filepath.Dir(src) != parent {
			return fmt.Errorf("source %s does not share parent %s", src, parent)
		}
		info, err := os.Stat(src)
		if err != nil {
			return errs.Wrap(errs.IoError, src, err)
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return errs.Wrap(errs.IoError, src, err)
		}
		header.Name = filepath.Base(src)
		if err := tw.WriteHeader(header); err != nil {
			return errs.Wrap(errs.IoError, src, err)
		}
		f, err := os.Open(src)
		if err != nil {
			return errs.Wrap(errs.IoError, src, err)
		}
		n, err := io.Copy(tw, f)
		f.Close()
		if err != nil {
			return errs.Wrap(errs.IoError, src, err)
		}
		log.Debugf("added %s to archive (%d bytes)", header.Name, n)
	}

	if err := tw.Close(); err != nil {
		return errs.Wrap(errs.IoError, dest, err)
	}
	if err := gzw.Close(); err != nil {
		return errs.Wrap(errs.IoError, dest, err)
	}

	if err := os.WriteFile(dest, buf.Bytes(), 0700); err != nil {
		return errs.Wrap(errs.IoError, dest, err)
	}
	return nil
}

// ExtractArchive extracts every member of archive into destDir, rejecting
// any member whose relative path would escape destDir.
func (MemoryArchiver) ExtractArchive(ctx context.Context, archive string, destDir string) error {
	log := trace.FromContext(ctx).WithPrefix("MEM-ARCHIVE")

	raw, err := os.ReadFile(archive)
	if err != nil {
		return errs.Wrap(errs.IoError, archive, err)
	}

	gzr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return errs.Wrap(errs.MalformedCiphertext, archive, err)
	}
	defer gzr.Close()

	if err := os.MkdirAll(destDir, 0700); err != nil {
		return errs.Wrap(errs.IoError, destDir, err)
	}

	tr := tar.NewReader(gzr)
	memberCount := 0
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errs.Wrap(errs.MalformedCiphertext, archive, err)
		}

		clean := filepath.Clean(header.Name)
		if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
			return errs.New(errs.MalformedCiphertext, archive)
		}

		outPath := filepath.Join(destDir, clean)
		if header.Typeflag == tar.TypeDir {
			if err := os.MkdirAll(outPath, 0700); err != nil {
				return errs.Wrap(errs.IoError, outPath, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(outPath), 0700); err != nil {
			return errs.Wrap(errs.IoError, outPath, err)
		}
		f, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
		if err != nil {
			return errs.Wrap(errs.IoError, outPath, err)
		}
		n, err := io.Copy(f, tr)
		f.Close()
		if err != nil {
			return errs.Wrap(errs.IoError, outPath, err)
		}
		memberCount++
		log.Debugf("extracted %s (%d bytes)", clean, n)
	}

	return nil
}
