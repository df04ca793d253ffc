package archiver

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/jladdjr/penpal/pkg/errs"
	"github.com/jladdjr/penpal/pkg/trace"
)

// TarArchiver wraps the system "tar" binary via os/exec. The archiver is
// an external collaborator, not part of the cryptographic core, so it is
// invoked as a subprocess rather than linked as a library.
type TarArchiver struct {
	// Bin overrides the tar binary name; defaults to "tar" if empty.
	Bin string
}

func (a *TarArchiver) bin() string {
	if a.Bin != "" {
		return a.Bin
	}
	return "tar"
}

// Preflight runs "tar --help" and fails with MissingDependency if the
// binary cannot be found or exits non-zero.
func (a *TarArchiver) Preflight(ctx context.Context) error {
	log := trace.FromContext(ctx).WithPrefix("ARCHIVE")
	log.Debugf("checking for tar binary: %s", a.bin())

	cmd := exec.CommandContext(ctx, a.bin(), "--help")
	if err := cmd.Run(); err != nil {
		log.Error(fmt.Errorf("tar preflight failed: %w", err))
		return errs.Wrap(errs.MissingDependency, a.bin(), err)
	}
	return nil
}

// CreateArchive runs "tar -czf dest -C parent basename...".
func (a *TarArchiver) CreateArchive(ctx context.Context, sources []string, dest string) error {
	log := trace.FromContext(ctx).WithPrefix("ARCHIVE")

	if len(sources) == 0 {
		return errs.New(errs.IoError, dest)
	}

	parent := filepath.Dir(sources[0])
	args := []string{"-czf", dest, "-C", parent}
	for _, src := range sources {
		if filepath.Dir(src) != parent {
			return fmt.Errorf("source %s does not share parent %s", src, parent)
		}
		args = append(args, filepath.Base(src))
	}

	log.Debugf("running: %s %v", a.bin(), args)
	cmd := exec.CommandContext(ctx, a.bin(), args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		log.Error(fmt.Errorf("tar create failed: %w: %s", err, out))
		return errs.Wrap(errs.IoError, dest, fmt.Errorf("%w: %s", err, out))
	}

	if err := os.Chmod(dest, 0700); err != nil {
		return errs.Wrap(errs.IoError, dest, err)
	}
	return nil
}

// ExtractArchive runs "tar -xzf archive -C destDir" after verifying the
// archive contains no member that would escape destDir.
func (a *TarArchiver) ExtractArchive(ctx context.Context, archive string, destDir string) error {
	log := trace.FromContext(ctx).WithPrefix("ARCHIVE")

	if err := verifyNoTraversal(ctx, a.bin(), archive); err != nil {
		return err
	}

	if err := os.MkdirAll(destDir, 0700); err != nil {
		return errs.Wrap(errs.IoError, destDir, err)
	}

	log.Debugf("extracting %s into %s", archive, destDir)
	cmd := exec.CommandContext(ctx, a.bin(), "-xzf", archive, "-C", destDir)
	if out, err := cmd.CombinedOutput(); err != nil {
		log.Error(fmt.Errorf("tar extract failed: %w: %s", err, out))
		return errs.Wrap(errs.MalformedCiphertext, archive, fmt.Errorf("%w: %s", err, out))
	}
	return nil
}

// verifyNoTraversal lists the archive's members with "tar -tzf" and
// rejects any absolute path, and any path that after cleaning is ".." or
// starts with "../". A path such as "a/../b" cleans to "b" and is accepted.
func verifyNoTraversal(ctx context.Context, bin string, archive string) error {
	cmd := exec.CommandContext(ctx, bin, "-tzf", archive)
	out, err := cmd.Output()
	if err != nil {
		return errs.Wrap(errs.MalformedCiphertext, archive, err)
	}

	names := splitLines(string(out))
	for _, name := range names {
		if name == "" {
			continue
		}
		if filepath.IsAbs(name) {
			return errs.New(errs.MalformedCiphertext, archive)
		}
		clean := filepath.Clean(name)
		if clean == ".." || strings.HasPrefix(clean, "../") {
			return errs.New(errs.MalformedCiphertext, archive)
		}
	}
	return nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
