package securefs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jladdjr/penpal/pkg/errs"
	"github.com/jladdjr/penpal/pkg/trace"
)

func newTestContext() context.Context {
	return trace.WithContext(context.Background(), trace.NewLog("TEST", trace.VerbosityVerbose))
}

func TestAssertSecureDir(t *testing.T) {
	ctx := newTestContext()

	tempDir, err := os.MkdirTemp("", "securefs-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	secure := filepath.Join(tempDir, "secure")
	if err := os.Mkdir(secure, SecureDirMode); err != nil {
		t.Fatalf("failed to create secure dir: %v", err)
	}

	insecure := filepath.Join(tempDir, "insecure")
	if err := os.Mkdir(insecure, 0750); err != nil {
		t.Fatalf("failed to create insecure dir: %v", err)
	}

	missing := filepath.Join(tempDir, "missing")

	notADir := filepath.Join(tempDir, "file")
	if err := os.WriteFile(notADir, []byte("x"), 0600); err != nil {
		t.Fatalf("failed to create file: %v", err)
	}

	tests := []struct {
		name     string
		path     string
		wantCode errs.Code
		wantErr  bool
	}{
		{"secure", secure, 0, false},
		{"insecure", insecure, errs.InsecurePermissions, true},
		{"missing", missing, errs.PathMissing, true},
		{"not a directory", notADir, errs.NotADirectory, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := AssertSecureDir(ctx, tt.path)
			if tt.wantErr && err == nil {
				t.Fatalf("expected error for %s", tt.path)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error for %s: %v", tt.path, err)
			}
			if tt.wantErr && !errs.Is(err, tt.wantCode) {
				t.Errorf("expected code %s, got %v", tt.wantCode, err)
			}
		})
	}
}

func TestPadRootDefaultsAndCreates(t *testing.T) {
	ctx := newTestContext()

	tempDir, err := os.MkdirTemp("", "securefs-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	explicit := filepath.Join(tempDir, "mypad")
	root, err := PadRoot(ctx, explicit)
	if err != nil {
		t.Fatalf("PadRoot failed: %v", err)
	}
	if root != explicit {
		t.Fatalf("expected %s, got %s", explicit, root)
	}

	info, err := os.Stat(root)
	if err != nil {
		t.Fatalf("pad root was not created: %v", err)
	}
	if info.Mode().Perm() != SecureDirMode {
		t.Errorf("pad root has mode %04o, want %04o", info.Mode().Perm(), SecureDirMode)
	}

	// Calling again on an already-existing root must not fail.
	if _, err := PadRoot(ctx, explicit); err != nil {
		t.Fatalf("PadRoot on existing root failed: %v", err)
	}

	// An empty configured root falls back to $HOME/.pad.
	t.Setenv("HOME", tempDir)
	def, err := PadRoot(ctx, "")
	if err != nil {
		t.Fatalf("PadRoot with default root failed: %v", err)
	}
	if want := filepath.Join(tempDir, ".pad"); def != want {
		t.Fatalf("expected default root %s, got %s", want, def)
	}
	info, err = os.Stat(def)
	if err != nil {
		t.Fatalf("default pad root was not created: %v", err)
	}
	if info.Mode().Perm() != SecureDirMode {
		t.Errorf("default pad root has mode %04o, want %04o", info.Mode().Perm(), SecureDirMode)
	}
}

func TestScopedTempDirReleaseRemovesContents(t *testing.T) {
	ctx := newTestContext()

	parent, err := os.MkdirTemp("", "securefs-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(parent)

	scoped, err := AcquireScopedTempDir(ctx, parent)
	if err != nil {
		t.Fatalf("AcquireScopedTempDir failed: %v", err)
	}

	if err := os.WriteFile(filepath.Join(scoped.Path(), "leftover"), []byte("x"), 0600); err != nil {
		t.Fatalf("failed to write into scoped dir: %v", err)
	}

	if err := scoped.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	if _, err := os.Stat(scoped.Path()); err == nil {
		t.Fatalf("scoped temp dir still exists after release")
	}

	// Releasing twice must be safe.
	if err := scoped.Release(); err != nil {
		t.Fatalf("second Release failed: %v", err)
	}
}

func TestUserGroupWorldPerms(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "securefs-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	path := filepath.Join(tempDir, "f")
	if err := os.WriteFile(path, []byte("x"), 0640); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	ur, uw, ux, err := UserPerms(path)
	if err != nil {
		t.Fatalf("UserPerms failed: %v", err)
	}
	if !ur || !uw || ux {
		t.Errorf("unexpected user perms: r=%v w=%v x=%v", ur, uw, ux)
	}

	gr, gw, gx, err := GroupPerms(path)
	if err != nil {
		t.Fatalf("GroupPerms failed: %v", err)
	}
	if !gr || gw || gx {
		t.Errorf("unexpected group perms: r=%v w=%v x=%v", gr, gw, gx)
	}

	wr, ww, wx, err := WorldPerms(path)
	if err != nil {
		t.Fatalf("WorldPerms failed: %v", err)
	}
	if wr || ww || wx {
		t.Errorf("unexpected world perms: r=%v w=%v x=%v", wr, ww, wx)
	}
}
