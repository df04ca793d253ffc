// Package penpal orchestrates the encrypt and decrypt pipelines: staging
// plaintext or ciphertext into a scoped temp directory, streaming XOR
// against pad blocks in the order the state machine requires, and
// guaranteeing cleanup on every exit path. This is the top-level package
// the CLI calls into; everything else (pad, archiver, xor, manifest,
// securefs) is a leaf it composes.
package penpal

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/jladdjr/penpal/pkg/archiver"
	"github.com/jladdjr/penpal/pkg/errs"
	"github.com/jladdjr/penpal/pkg/manifest"
	"github.com/jladdjr/penpal/pkg/pad"
	"github.com/jladdjr/penpal/pkg/securefs"
	"github.com/jladdjr/penpal/pkg/trace"
	"github.com/jladdjr/penpal/pkg/xor"
)

// Config bundles the collaborators Encrypter and Decrypter depend on, so
// tests can substitute an in-memory archiver without touching disk or
// requiring a tar binary on PATH.
type Config struct {
	Archiver archiver.Archiver
}

// DefaultConfig returns the production configuration: a TarArchiver
// shelling out to the system tar binary.
func DefaultConfig() Config {
	return Config{Archiver: &archiver.TarArchiver{}}
}

// Encrypter implements the encrypt pipeline: plaintext -> inner archive ->
// streaming XOR against randomly chosen pad blocks -> manifest +
// ciphertext -> outer archive.
type Encrypter struct {
	Config Config
}

// NewEncrypter constructs an Encrypter with the given configuration.
func NewEncrypter(cfg Config) *Encrypter {
	return &Encrypter{Config: cfg}
}

// Encrypt runs the full Idle -> Preflight -> Staged -> Streaming ->
// Emitted -> Released pipeline against sourcePath, writing the result to
// destPath.
func (e *Encrypter) Encrypt(ctx context.Context, padPath, sourcePath, destPath string) (err error) {
	log := trace.FromContext(ctx).WithPrefix("ENCRYPT")
	log.Infof("encrypting %s with pad %s", sourcePath, padPath)

	// Preflight.
	log.WithStage(trace.StagePreflight).Debugf("validating pad %s and source %s", padPath, sourcePath)
	if err := securefs.ValidatePath(ctx, padPath); err != nil {
		return err
	}
	if err := securefs.ValidatePath(ctx, sourcePath); err != nil {
		return err
	}
	if err := securefs.AssertSecureDir(ctx, padPath); err != nil {
		return err
	}
	if err := e.Config.Archiver.Preflight(ctx); err != nil {
		return err
	}
	has, err := pad.HasBlocks(padPath)
	if err != nil {
		return err
	}
	if !has {
		return errs.New(errs.EmptyOneTimePad, padPath)
	}

	session, err := pad.Lock(ctx, padPath)
	if err != nil {
		return err
	}
	defer func() {
		if uerr := session.Unlock(); uerr != nil && err == nil {
			err = uerr
		}
	}()

	// Staged: the scoped temp directory lives inside padPath, which has
	// already passed AssertSecureDir, so intermediate plaintext is at
	// least owner-only even if the process is killed mid-stream.
	scoped, err := securefs.AcquireScopedTempDir(ctx, padPath)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := scoped.Release(); rerr != nil && err == nil {
			err = rerr
		}
		log.WithStage(trace.StageReleased).Debugf("released staging directory for %s", sourcePath)
	}()
	log.WithStage(trace.StageStaged).Debugf("staged in %s", scoped.Path())

	contentArchive := filepath.Join(scoped.Path(), "content.tgz")
	if err := e.Config.Archiver.CreateArchive(ctx, []string{sourcePath}, contentArchive); err != nil {
		return err
	}

	log.WithStage(trace.StageStreaming).Debugf("streaming %s against pad %s", contentArchive, padPath)
	ciphertext, names, err := e.streamEncrypt(ctx, padPath, contentArchive)
	if err != nil {
		return err
	}
	defer xor.Zero(ciphertext)

	// Emitted.
	manifestBytes, err := manifest.Encode(names)
	if err != nil {
		return err
	}
	manifestPath := filepath.Join(scoped.Path(), "manifest")
	if err := os.WriteFile(manifestPath, manifestBytes, 0600); err != nil {
		return errs.Wrap(errs.IoError, manifestPath, err)
	}
	cipherPath := filepath.Join(scoped.Path(), "cipher.bin")
	if err := os.WriteFile(cipherPath, ciphertext, 0600); err != nil {
		return errs.Wrap(errs.IoError, cipherPath, err)
	}

	if err := e.Config.Archiver.CreateArchive(ctx, []string{manifestPath, cipherPath}, destPath); err != nil {
		return err
	}
	if err := os.Chmod(destPath, 0700); err != nil {
		return errs.Wrap(errs.IoError, destPath, err)
	}
	log.WithStage(trace.StageEmitted).Debugf("wrote %s", destPath)

	log.Infof("encrypted %s -> %s using %d blocks", sourcePath, destPath, len(names))
	return nil
}

// streamEncrypt runs the block consumption loop. It probes the plaintext
// stream for EOF with bufio.Reader.Peek before fetching each block, so a
// plaintext whose length is an exact multiple of the consumed blocks'
// sizes never fetches and wastes a final block: Peek detects EOF without
// requiring a block to already be in hand.
func (e *Encrypter) streamEncrypt(ctx context.Context, padPath string, contentArchivePath string) ([]byte, []string, error) {
	plainFile, err := os.Open(contentArchivePath)
	if err != nil {
		return nil, nil, errs.Wrap(errs.IoError, contentArchivePath, err)
	}
	defer plainFile.Close()

	br := bufio.NewReader(plainFile)

	var ciphertext []byte
	var names []string

	for {
		if _, err := br.Peek(1); err == io.EOF {
			break
		} else if err != nil {
			return nil, nil, errs.Wrap(errs.IoError, contentArchivePath, err)
		}

		name, key, err := pad.FetchAndDestroyRandomBlock(ctx, padPath)
		if err != nil {
			return nil, nil, err
		}

		cleartext := make([]byte, len(key))
		n, rerr := io.ReadFull(br, cleartext)
		if rerr != nil && rerr != io.ErrUnexpectedEOF {
			xor.Zero(key)
			return nil, nil, errs.Wrap(errs.IoError, contentArchivePath, rerr)
		}
		cleartext = cleartext[:n]

		cipherChunk := xor.Xor(cleartext, key[:n])
		ciphertext = append(ciphertext, cipherChunk...)
		names = append(names, name)

		xor.Zero(key)
		xor.Zero(cleartext)

		if n < len(key) {
			break
		}
	}

	return ciphertext, names, nil
}

// Decrypter implements the decrypt pipeline: outer archive -> ciphertext +
// manifest -> XOR in manifest order against named pad blocks -> inner
// archive -> restored plaintext. Decryption destroys the blocks it
// consumes, so it is non-repeatable against the same pad.
type Decrypter struct {
	Config Config
}

// NewDecrypter constructs a Decrypter with the given configuration.
func NewDecrypter(cfg Config) *Decrypter {
	return &Decrypter{Config: cfg}
}

// Decrypt runs the full pipeline against encryptedPath, extracting the
// recovered plaintext into destDir. If destDir is empty, the plaintext is
// extracted next to encryptedPath.
func (d *Decrypter) Decrypt(ctx context.Context, padPath, encryptedPath, destDir string) (err error) {
	log := trace.FromContext(ctx).WithPrefix("DECRYPT")
	log.Infof("decrypting %s with pad %s", encryptedPath, padPath)

	// Preflight.
	log.WithStage(trace.StagePreflight).Debugf("validating pad %s and ciphertext %s", padPath, encryptedPath)
	if err := securefs.ValidatePath(ctx, padPath); err != nil {
		return err
	}
	if err := securefs.ValidatePath(ctx, encryptedPath); err != nil {
		return err
	}
	if err := securefs.AssertSecureDir(ctx, padPath); err != nil {
		return err
	}
	if err := d.Config.Archiver.Preflight(ctx); err != nil {
		return err
	}

	session, err := pad.Lock(ctx, padPath)
	if err != nil {
		return err
	}
	defer func() {
		if uerr := session.Unlock(); uerr != nil && err == nil {
			err = uerr
		}
	}()

	scoped, err := securefs.AcquireScopedTempDir(ctx, padPath)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := scoped.Release(); rerr != nil && err == nil {
			err = rerr
		}
		log.WithStage(trace.StageReleased).Debugf("released staging directory for %s", encryptedPath)
	}()
	log.WithStage(trace.StageStaged).Debugf("staged in %s", scoped.Path())

	// Unbundle.
	unbundleDir := filepath.Join(scoped.Path(), "unbundled")
	if err := d.Config.Archiver.ExtractArchive(ctx, encryptedPath, unbundleDir); err != nil {
		return err
	}
	if err := requireExactMembers(unbundleDir, "manifest", "cipher.bin"); err != nil {
		return errs.Wrap(errs.MalformedCiphertext, encryptedPath, err)
	}

	manifestBytes, err := os.ReadFile(filepath.Join(unbundleDir, "manifest"))
	if err != nil {
		return errs.Wrap(errs.IoError, "manifest", err)
	}
	names, err := manifest.Decode(manifestBytes)
	if err != nil {
		return err
	}
	if err := pad.VerifyManifestConsistency(padPath, names); err != nil {
		return err
	}

	log.WithStage(trace.StageStreaming).Debugf("streaming %s against pad %s", filepath.Join(unbundleDir, "cipher.bin"), padPath)
	plaintext, err := d.streamDecrypt(ctx, padPath, filepath.Join(unbundleDir, "cipher.bin"), names, encryptedPath)
	if err != nil {
		return err
	}
	defer xor.Zero(plaintext)

	// Emit.
	contentArchive := filepath.Join(scoped.Path(), "content.tgz")
	if err := os.WriteFile(contentArchive, plaintext, 0600); err != nil {
		return errs.Wrap(errs.IoError, contentArchive, err)
	}

	outDir := destDir
	if outDir == "" {
		outDir = filepath.Dir(encryptedPath)
	}
	if err := d.Config.Archiver.ExtractArchive(ctx, contentArchive, outDir); err != nil {
		return err
	}

	if err := os.Remove(encryptedPath); err != nil {
		return errs.Wrap(errs.IoError, encryptedPath, err)
	}
	log.WithStage(trace.StageEmitted).Debugf("wrote plaintext into %s", outDir)

	log.Infof("decrypted %s using %d blocks into %s", encryptedPath, len(names), outDir)
	return nil
}

// streamDecrypt XORs the cipher stream against named blocks in manifest
// order, allowing a short final read only on the last name, then verifies
// the cipher stream is exhausted.
func (d *Decrypter) streamDecrypt(ctx context.Context, padPath string, cipherPath string, names []string, encryptedPath string) ([]byte, error) {
	cipherFile, err := os.Open(cipherPath)
	if err != nil {
		return nil, errs.Wrap(errs.IoError, cipherPath, err)
	}
	defer cipherFile.Close()

	var plaintext []byte

	for i, name := range names {
		key, err := pad.FetchAndDestroyBlockByName(ctx, padPath, name)
		if err != nil {
			return nil, err
		}

		isLast := i == len(names)-1
		chunk := make([]byte, len(key))
		n, rerr := io.ReadFull(cipherFile, chunk)

		switch {
		case rerr == nil:
			// full chunk read
		case rerr == io.ErrUnexpectedEOF && isLast:
			// short read on the final block is expected
		case rerr == io.EOF && isLast:
			n = 0
		default:
			xor.Zero(key)
			return nil, errs.Wrap(errs.MalformedCiphertext, cipherPath, rerr)
		}

		chunk = chunk[:n]
		plainChunk := xor.Xor(chunk, key[:n])
		plaintext = append(plaintext, plainChunk...)
		xor.Zero(key)
	}

	var probe [1]byte
	if n, _ := cipherFile.Read(probe[:]); n > 0 {
		return nil, errs.New(errs.ManifestTooShort, encryptedPath)
	}

	return plaintext, nil
}

func requireExactMembers(dir string, want ...string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	if len(entries) != len(want) {
		return os.ErrInvalid
	}
	expected := make(map[string]bool, len(want))
	for _, w := range want {
		expected[w] = true
	}
	for _, e := range entries {
		if !expected[e.Name()] {
			return os.ErrInvalid
		}
	}
	return nil
}
