// Package securefs implements the filesystem discipline penpal depends on
// for its security guarantees: permission inspection, owner-only
// directory creation, and scoped temporary directories that are always
// cleaned up, even on failure.
package securefs

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jladdjr/penpal/pkg/errs"
	"github.com/jladdjr/penpal/pkg/trace"
)

// SecureDirMode is the exact permission mode a pad directory, temp
// directory, and every directory in the pad root hierarchy must have:
// owner rwx, group none, world none.
const SecureDirMode = 0700

// SecureFileMode is the exact permission mode a consumable block file
// must have: owner read-only.
const SecureFileMode = 0400

// UserPerms returns the owner's read/write/execute bits for path.
func UserPerms(path string) (read, write, exec bool, err error) {
	mode, ierr := statMode(path)
	if ierr != nil {
		return false, false, false, ierr
	}
	return mode&0400 != 0, mode&0200 != 0, mode&0100 != 0, nil
}

// GroupPerms returns the group's read/write/execute bits for path.
func GroupPerms(path string) (read, write, exec bool, err error) {
	mode, ierr := statMode(path)
	if ierr != nil {
		return false, false, false, ierr
	}
	return mode&0040 != 0, mode&0020 != 0, mode&0010 != 0, nil
}

// WorldPerms returns the world's read/write/execute bits for path.
func WorldPerms(path string) (read, write, exec bool, err error) {
	mode, ierr := statMode(path)
	if ierr != nil {
		return false, false, false, ierr
	}
	return mode&0004 != 0, mode&0002 != 0, mode&0001 != 0, nil
}

func statMode(path string) (fs.FileMode, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errs.Wrap(errs.PathMissing, path, err)
		}
		return 0, errs.Wrap(errs.IoError, path, err)
	}
	return info.Mode().Perm(), nil
}

// AssertSecureDir fails unless path exists, is a directory, and has mode
// exactly SecureDirMode.
func AssertSecureDir(ctx context.Context, path string) error {
	log := trace.FromContext(ctx).WithPrefix("SECUREFS")

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Error(fmt.Errorf("directory does not exist: %s", path))
			return errs.Wrap(errs.PathMissing, path, err)
		}
		log.Error(fmt.Errorf("cannot stat %s: %w", path, err))
		return errs.Wrap(errs.IoError, path, err)
	}
	if !info.IsDir() {
		log.Error(fmt.Errorf("not a directory: %s", path))
		return errs.New(errs.NotADirectory, path)
	}
	if info.Mode().Perm() != SecureDirMode {
		log.Error(fmt.Errorf("insecure permissions on %s: got %04o, want %04o", path, info.Mode().Perm(), SecureDirMode))
		return errs.New(errs.InsecurePermissions, path)
	}
	log.Debugf("directory is secure: %s", path)
	return nil
}

// PadRoot returns the configured pad root, creating it with SecureDirMode
// if absent. configured may be empty, in which case the default
// "$HOME/.pad" is used.
func PadRoot(ctx context.Context, configured string) (string, error) {
	log := trace.FromContext(ctx).WithPrefix("SECUREFS")

	root := configured
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errs.Wrap(errs.IoError, "", err)
		}
		root = filepath.Join(home, ".pad")
	}

	if _, err := os.Stat(root); err != nil {
		if !os.IsNotExist(err) {
			return "", errs.Wrap(errs.IoError, root, err)
		}
		log.Debugf("creating pad root: %s", root)
		if err := os.Mkdir(root, SecureDirMode); err != nil {
			return "", errs.Wrap(errs.IoError, root, err)
		}
	}
	return root, nil
}

// ValidatePath fails with PathMissing unless path exists.
func ValidatePath(ctx context.Context, path string) error {
	log := trace.FromContext(ctx).WithPrefix("SECUREFS")
	log.Debugf("validating path exists: %s", path)

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return errs.Wrap(errs.PathMissing, path, err)
		}
		return errs.Wrap(errs.IoError, path, err)
	}
	return nil
}

// ScopedTempDir is a temporary directory under a caller-chosen parent
// (Encrypter and Decrypter use the pad directory itself) whose lifetime is
// tied to Release. Callers must defer Release immediately after Acquire
// succeeds so the directory is removed on every exit path, including
// panics unwinding through the deferred call.
type ScopedTempDir struct {
	path string
	ctx  context.Context
}

// AcquireScopedTempDir creates a uniquely named directory under parent with
// SecureDirMode.
func AcquireScopedTempDir(ctx context.Context, parent string) (*ScopedTempDir, error) {
	log := trace.FromContext(ctx).WithPrefix("SECUREFS")

	dir, err := os.MkdirTemp(parent, "penpal-session-*")
	if err != nil {
		log.Error(fmt.Errorf("failed to create scoped temp dir under %s: %w", parent, err))
		return nil, errs.Wrap(errs.IoError, parent, err)
	}
	if err := os.Chmod(dir, SecureDirMode); err != nil {
		os.RemoveAll(dir)
		return nil, errs.Wrap(errs.IoError, dir, err)
	}
	log.Debugf("acquired scoped temp dir: %s", dir)
	return &ScopedTempDir{path: dir, ctx: ctx}, nil
}

// Path returns the temp directory's path.
func (s *ScopedTempDir) Path() string {
	return s.path
}

// Release recursively removes the temp directory. It is safe to call more
// than once.
func (s *ScopedTempDir) Release() error {
	if s.path == "" {
		return nil
	}
	log := trace.FromContext(s.ctx).WithPrefix("SECUREFS")
	log.Debugf("releasing scoped temp dir: %s", s.path)

	path := s.path
	err := os.RemoveAll(path)
	s.path = ""
	if err != nil {
		return errs.Wrap(errs.IoError, path, err)
	}
	return nil
}
