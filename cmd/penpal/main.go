// Command penpal is the CLI front end for the pad and penpal packages. It
// is intentionally thin: argument parsing and exit-code mapping only,
// with every cryptographic and filesystem decision delegated to the
// library packages.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/urfave/cli"

	"github.com/jladdjr/penpal/pkg/errs"
	"github.com/jladdjr/penpal/pkg/pad"
	"github.com/jladdjr/penpal/pkg/penpal"
	"github.com/jladdjr/penpal/pkg/rng"
	"github.com/jladdjr/penpal/pkg/securefs"
	"github.com/jladdjr/penpal/pkg/trace"
)

func main() {
	app := cli.NewApp()
	app.Name = "penpal"
	app.Usage = "encrypt and decrypt files with a local one-time pad"
	app.Flags = []cli.Flag{
		cli.BoolFlag{Name: "verbose", Usage: "enable verbose tracing"},
	}
	app.Commands = []cli.Command{
		{
			Name:  "pad",
			Usage: "manage one-time pad directories",
			Subcommands: []cli.Command{
				{
					Name:      "create",
					Usage:     "create a new pad directory filled with random blocks",
					ArgsUsage: "<path> <size-bytes>",
					Action:    runPadCreate,
				},
			},
		},
		{
			Name:      "encrypt",
			Usage:     "encrypt a file or directory against a pad",
			ArgsUsage: "<pad> <source> <dest>",
			Action:    runEncrypt,
		},
		{
			Name:      "decrypt",
			Usage:     "decrypt a file produced by encrypt, destroying the blocks it used",
			ArgsUsage: "<pad> <encrypted> [destDir]",
			Action:    runDecrypt,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if coder, ok := err.(cli.ExitCoder); ok {
			os.Exit(coder.ExitCode())
		}
		os.Exit(errs.ExitCode(err))
	}
}

func newContext(c *cli.Context) context.Context {
	verbose := c.GlobalBool("verbose") || c.Bool("verbose")
	return trace.WithContext(context.Background(), trace.NewFromVerboseFlag("CLI", verbose))
}

func usageError(format string, args ...interface{}) error {
	return cli.NewExitError(fmt.Sprintf(format, args...), 1)
}

// resolvePad maps a bare pad name to a directory under the pad root
// ($HOME/.pad by default), creating the root if absent. A path containing a
// separator is used as given.
func resolvePad(ctx context.Context, arg string) (string, error) {
	if filepath.IsAbs(arg) || strings.ContainsRune(arg, os.PathSeparator) {
		return arg, nil
	}
	root, err := securefs.PadRoot(ctx, os.Getenv("PENPAL_PAD_ROOT"))
	if err != nil {
		return "", err
	}
	return filepath.Join(root, arg), nil
}

func runPadCreate(c *cli.Context) error {
	if c.NArg() != 2 {
		return usageError("usage: penpal pad create <path> <size-bytes>")
	}
	path := c.Args().Get(0)
	size, err := strconv.ParseInt(c.Args().Get(1), 10, 64)
	if err != nil {
		return usageError("invalid size-bytes: %v", err)
	}

	ctx := newContext(c)
	padPath, err := resolvePad(ctx, path)
	if err != nil {
		return err
	}
	return pad.CreatePad(ctx, padPath, size, rng.NewDefaultRNG())
}

func runEncrypt(c *cli.Context) error {
	if c.NArg() != 3 {
		return usageError("usage: penpal encrypt <pad> <source> <dest>")
	}
	ctx := newContext(c)
	padPath, err := resolvePad(ctx, c.Args().Get(0))
	if err != nil {
		return err
	}
	enc := penpal.NewEncrypter(penpal.DefaultConfig())
	return enc.Encrypt(ctx, padPath, c.Args().Get(1), c.Args().Get(2))
}

func runDecrypt(c *cli.Context) error {
	if c.NArg() != 2 && c.NArg() != 3 {
		return usageError("usage: penpal decrypt <pad> <encrypted> [destDir]")
	}
	ctx := newContext(c)
	padPath, err := resolvePad(ctx, c.Args().Get(0))
	if err != nil {
		return err
	}
	destDir := ""
	if c.NArg() == 3 {
		destDir = c.Args().Get(2)
	}
	dec := penpal.NewDecrypter(penpal.DefaultConfig())
	return dec.Decrypt(ctx, padPath, c.Args().Get(1), destDir)
}
