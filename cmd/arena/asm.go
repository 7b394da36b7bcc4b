package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fortiblox/X1-Arena/internal/types"
	"github.com/fortiblox/X1-Arena/pkg/library"
	"github.com/fortiblox/X1-Arena/pkg/loader"
)

func openLibrary(path string, log *zap.Logger) (*library.Store, error) {
	if path == "" {
		return nil, errors.New("--library is required")
	}
	cfg := library.DefaultConfig(path)
	cfg.Logger = log
	return library.Open(cfg)
}

func asmCommand(newLogger func() (*zap.Logger, error)) *cobra.Command {
	var (
		libraryPath string
		name        string
		imagePath   string
	)
	c := &cobra.Command{
		Use:   "asm <file>",
		Short: "Assembles a program into the library",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			log, err := newLogger()
			if err != nil {
				return err
			}
			defer log.Sync()

			path := args[0]
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			}

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			prog, err := loader.LoadFile(name, f)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			if imagePath != "" {
				image, err := loader.EncodeImage(prog.Text)
				if err != nil {
					return err
				}
				if err := os.WriteFile(imagePath, image, 0o644); err != nil {
					return err
				}
			}

			lib, err := openLibrary(libraryPath, log)
			if err != nil {
				return err
			}
			defer lib.Close()

			digest, err := lib.Put(name, prog.Text)
			if err != nil {
				return err
			}
			log.Info("stored program",
				zap.String("name", name),
				zap.Int("instructions", len(prog.Text)),
			)
			fmt.Fprintf(c.OutOrStdout(), "%s %s\n", name, digest)
			return nil
		},
	}

	flags := c.Flags()
	flags.StringVar(&libraryPath, "library", "", "Program library directory")
	flags.StringVar(&name, "name", "", "Program name (default: file name without extension)")
	flags.StringVar(&imagePath, "image", "", "Also write the compressed program image to this file")
	return c
}

func programsCommand(newLogger func() (*zap.Logger, error)) *cobra.Command {
	var (
		libraryPath string
		show        string
		digest      string
	)
	c := &cobra.Command{
		Use:   "programs",
		Short: "Lists library programs, or disassembles one",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			log, err := newLogger()
			if err != nil {
				return err
			}
			defer log.Sync()

			lib, err := openLibrary(libraryPath, log)
			if err != nil {
				return err
			}
			defer lib.Close()

			out := c.OutOrStdout()
			if digest != "" {
				h, err := types.ParseHash(digest)
				if err != nil {
					return fmt.Errorf("--digest %s: %w", digest, err)
				}
				text, err := lib.Get(h)
				if err != nil {
					return fmt.Errorf("%s: %w", h.Short(), err)
				}
				fmt.Fprintf(out, "# %s\n", h)
				fmt.Fprint(out, loader.Disassemble(text))
				return nil
			}
			if show != "" {
				prog, err := lib.GetByName(show)
				if err != nil {
					return fmt.Errorf("%s: %w", show, err)
				}
				fmt.Fprintf(out, "# %s %s\n", prog.Name, prog.Digest)
				fmt.Fprint(out, loader.Disassemble(prog.Text))
				return nil
			}

			names, err := lib.Names()
			if err != nil {
				return err
			}
			for _, name := range names {
				digest, err := lib.Resolve(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%-24s %s\n", name, digest.Short())
			}
			return nil
		},
	}

	flags := c.Flags()
	flags.StringVar(&libraryPath, "library", "", "Program library directory")
	flags.StringVar(&show, "show", "", "Disassemble the named program")
	flags.StringVar(&digest, "digest", "", "Disassemble the image with this digest (hex or base58)")
	return c
}
