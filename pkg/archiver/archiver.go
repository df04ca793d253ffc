// Package archiver bundles and unbundles the file sets penpal passes
// between its staging directory and its on-disk artifacts. Production
// code always goes through TarArchiver, which shells out to the system
// tar binary; tests use MemoryArchiver, an in-process fake that never
// touches a subprocess or a tar binary on PATH.
package archiver

import "context"

// Archiver bundles a set of source files sharing a common parent
// directory into a single compressed archive, and reverses the operation.
type Archiver interface {
	// Preflight verifies the archiver is usable, failing with
	// errs.MissingDependency if not.
	Preflight(ctx context.Context) error

	// CreateArchive bundles sources (a non-empty ordered list of file
	// paths sharing a common parent directory) into dest. Each source's
	// basename is preserved as the archive member name. dest is left with
	// mode 0700.
	CreateArchive(ctx context.Context, sources []string, dest string) error

	// ExtractArchive extracts every member of archive into destDir,
	// rejecting any member whose relative path would escape destDir.
	ExtractArchive(ctx context.Context, archive string, destDir string) error
}
