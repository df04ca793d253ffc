// Package pad implements the one-time-pad lifecycle: creating a pad
// directory pre-filled with random block files, and atomically consuming
// (read-then-destroy) a block chosen either uniformly at random or by
// name. Every operation here is security-critical: a block read twice, a
// block left on disk after being used, or a block named by anything other
// than the hash of its own content breaks the pad's one-time guarantee for
// every ciphertext the pad ever produces.
package pad

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"golang.org/x/crypto/sha3"
	"golang.org/x/exp/slices"
	"golang.org/x/sys/unix"

	"github.com/jladdjr/penpal/pkg/errs"
	"github.com/jladdjr/penpal/pkg/rng"
	"github.com/jladdjr/penpal/pkg/securefs"
	"github.com/jladdjr/penpal/pkg/trace"
)

// StdBlockSize is the default block size used to pre-fill a new pad.
const StdBlockSize = 512 * 1024

// MaxBlockSize is the hard cap on any single block's size.
const MaxBlockSize = 1024 * 1024

const lockFileName = ".penpal-lock"

// CreatePad creates a new pad directory at path, pre-filled with blocks
// totaling at least totalBytes (ceil division by StdBlockSize). path's
// parent must already exist and pass AssertSecureDir; path itself must not
// already exist.
func CreatePad(ctx context.Context, path string, totalBytes int64, src rng.RNG) error {
	log := trace.FromContext(ctx).WithPrefix("PAD")

	parent := filepath.Dir(path)
	if err := securefs.AssertSecureDir(ctx, parent); err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return errs.New(errs.AlreadyExists, path)
	} else if !os.IsNotExist(err) {
		return errs.Wrap(errs.IoError, path, err)
	}

	if err := os.Mkdir(path, securefs.SecureDirMode); err != nil {
		return errs.Wrap(errs.IoError, path, err)
	}

	numBlocks := (totalBytes + StdBlockSize - 1) / StdBlockSize
	log.Infof("creating pad %s with %d blocks of %d bytes", path, numBlocks, StdBlockSize)

	for i := int64(0); i < numBlocks; i++ {
		if _, err := CreateBlock(ctx, path, StdBlockSize, src); err != nil {
			return err
		}
	}
	return nil
}

// CreateBlock creates one block of exactly size random bytes inside
// padDir, named by the hex-encoded sha3-256 of its content. Creation is
// atomic: the content is written to a temp name in padDir, fsynced,
// renamed to its final name, then chmoded to SecureFileMode. A name
// collision regenerates fresh random content rather than retrying the
// same bytes, since a collision implies either a broken RNG or an
// astronomically unlikely coincidence that must not be papered over by
// reusing key material.
func CreateBlock(ctx context.Context, padDir string, size int, src rng.RNG) (string, error) {
	log := trace.FromContext(ctx).WithPrefix("PAD")

	if size > MaxBlockSize {
		return "", fmt.Errorf("block size %d exceeds maximum %d", size, MaxBlockSize)
	}
	if err := securefs.AssertSecureDir(ctx, padDir); err != nil {
		return "", err
	}

	for {
		content := make([]byte, size)
		n, err := src.Read(ctx, content)
		if err != nil {
			return "", errs.Wrap(errs.IoError, padDir, err)
		}
		if n != size {
			return "", errs.Wrap(errs.IoError, padDir, fmt.Errorf("short random read: %d of %d bytes", n, size))
		}

		sum := sha3.Sum256(content)
		name := fmt.Sprintf("%x", sum)
		finalPath := filepath.Join(padDir, name)

		if _, err := os.Stat(finalPath); err == nil {
			log.Debugf("block name collision on %s, regenerating", name)
			continue
		} else if !os.IsNotExist(err) {
			return "", errs.Wrap(errs.IoError, finalPath, err)
		}

		tmp, err := os.CreateTemp(padDir, ".block-*.tmp")
		if err != nil {
			return "", errs.Wrap(errs.IoError, padDir, err)
		}
		tmpPath := tmp.Name()

		if _, err := tmp.Write(content); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return "", errs.Wrap(errs.IoError, tmpPath, err)
		}
		if err := tmp.Sync(); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return "", errs.Wrap(errs.IoError, tmpPath, err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmpPath)
			return "", errs.Wrap(errs.IoError, tmpPath, err)
		}

		if err := os.Rename(tmpPath, finalPath); err != nil {
			os.Remove(tmpPath)
			return "", errs.Wrap(errs.IoError, finalPath, err)
		}
		if err := os.Chmod(finalPath, securefs.SecureFileMode); err != nil {
			return "", errs.Wrap(errs.IoError, finalPath, err)
		}

		log.Debugf("created block %s (%d bytes)", name, size)
		return name, nil
	}
}

// listBlocks returns the sorted names of every block file in padDir.
// Sorting gives a deterministic enumeration order so that uniform random
// selection over the enumeration is meaningful and testable.
func listBlocks(padDir string) ([]string, error) {
	entries, err := os.ReadDir(padDir)
	if err != nil {
		return nil, errs.Wrap(errs.IoError, padDir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || e.Name() == lockFileName {
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names, nil
}

// HasBlocks reports whether padDir contains at least one consumable block
// file, without consuming anything.
func HasBlocks(padDir string) (bool, error) {
	names, err := listBlocks(padDir)
	if err != nil {
		return false, err
	}
	return len(names) > 0, nil
}

// FetchAndDestroyRandomBlock chooses one block uniformly at random from
// padDir, reads its full contents, and unlinks the file before returning.
// If the unlink fails, the bytes are zeroized and discarded rather than
// returned, since a block that was read but not destroyed is reusable key
// material and must never reach a caller.
func FetchAndDestroyRandomBlock(ctx context.Context, padDir string) (string, []byte, error) {
	log := trace.FromContext(ctx).WithPrefix("PAD")

	names, err := listBlocks(padDir)
	if err != nil {
		return "", nil, err
	}
	if len(names) == 0 {
		return "", nil, errs.New(errs.EmptyOneTimePad, padDir)
	}

	idx, err := uniformIndex(len(names))
	if err != nil {
		return "", nil, errs.Wrap(errs.IoError, padDir, err)
	}
	name := names[idx]
	log.Debugf("selected block %s (of %d)", name, len(names))

	content, err := readAndUnlink(ctx, padDir, name)
	if err != nil {
		return "", nil, err
	}
	return name, content, nil
}

// VerifyManifestConsistency checks that every block name the manifest
// lists is still present in padDir, without consuming anything. Decrypt
// calls this before destroying any block so that a manifest referencing a
// name no longer on disk (tampered, or a pad shared with another session)
// fails atomically instead of partway through, after some blocks have
// already been destroyed.
func VerifyManifestConsistency(padDir string, names []string) error {
	present, err := listBlocks(padDir)
	if err != nil {
		return err
	}
	for _, name := range names {
		if !slices.Contains(present, name) {
			return errs.New(errs.BlockNotFound, filepath.Join(padDir, name))
		}
	}
	return nil
}

// FetchAndDestroyBlockByName reads and destroys the named block, failing
// with BlockNotFound if it is absent. Used by decrypt, which must consume
// blocks in the order recorded by the manifest rather than at random.
func FetchAndDestroyBlockByName(ctx context.Context, padDir string, name string) ([]byte, error) {
	path := filepath.Join(padDir, name)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.BlockNotFound, path)
		}
		return nil, errs.Wrap(errs.IoError, path, err)
	}
	return readAndUnlink(ctx, padDir, name)
}

func readAndUnlink(ctx context.Context, padDir string, name string) ([]byte, error) {
	log := trace.FromContext(ctx).WithPrefix("PAD")
	path := filepath.Join(padDir, name)

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.IoError, path, err)
	}

	if err := os.Remove(path); err != nil {
		log.Error(fmt.Errorf("failed to unlink consumed block %s: %w", path, err))
		for i := range content {
			content[i] = 0
		}
		return nil, errs.Wrap(errs.PadConsumptionError, path, err)
	}

	log.Debugf("destroyed block %s after read", name)
	return content, nil
}

// uniformIndex picks an index in [0, n) using the OS cryptographic RNG,
// via crypto/rand.Int so the distribution has no modulo bias.
func uniformIndex(n int) (int, error) {
	bign, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(bign.Int64()), nil
}

// Session holds the advisory exclusive lock on a pad directory for the
// duration of one encrypt or decrypt call. The design assumes exactly one
// active session per pad; a second concurrent Lock call on the same pad
// fails with PadBusy rather than silently interleaving block consumption,
// which would let two sessions read the same block before either unlinks
// it.
type Session struct {
	ctx  context.Context
	file *os.File
}

// Lock acquires the advisory exclusive lock on padDir's sentinel file,
// creating the sentinel if absent. It fails with PadBusy if another
// session already holds the lock.
func Lock(ctx context.Context, padDir string) (*Session, error) {
	log := trace.FromContext(ctx).WithPrefix("PAD")

	path := filepath.Join(padDir, lockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, securefs.SecureFileMode|0200)
	if err != nil {
		return nil, errs.Wrap(errs.IoError, path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, errs.New(errs.PadBusy, padDir)
		}
		return nil, errs.Wrap(errs.IoError, path, err)
	}

	log.Debugf("acquired pad session lock: %s", path)
	return &Session{ctx: ctx, file: f}, nil
}

// Unlock releases the advisory lock. Safe to call more than once.
func (s *Session) Unlock() error {
	if s.file == nil {
		return nil
	}
	log := trace.FromContext(s.ctx).WithPrefix("PAD")

	err := unix.Flock(int(s.file.Fd()), unix.LOCK_UN)
	closeErr := s.file.Close()
	s.file = nil

	if err != nil {
		return errs.Wrap(errs.IoError, "", err)
	}
	if closeErr != nil {
		return errs.Wrap(errs.IoError, "", closeErr)
	}
	log.Debugf("released pad session lock")
	return nil
}
