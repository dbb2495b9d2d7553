// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

// Command mpqtool is a small CLI wrapping package mpq: listing, extracting,
// and building MPQ archives from the shell.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	mpq "github.com/suprsokr/mpq"
)

func main() {
	app := &cli.App{
		Name:  "mpqtool",
		Usage: "inspect, extract, and build MPQ archives",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Usage: "enable debug logging"},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("verbose") {
				logrus.SetLevel(logrus.DebugLevel)
			}
			return nil
		},
		Commands: []*cli.Command{
			listCommand(),
			extractCommand(),
			catCommand(),
			buildCommand(),
			verifyCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "mpqtool:", err)
		os.Exit(1)
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Usage:     "list every known member of an archive",
		ArgsUsage: "<archive.mpq>",
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 1 {
				return cli.Exit("expected exactly one archive path", 1)
			}
			a, err := mpq.Open(c.Args().Get(0))
			if err != nil {
				return err
			}
			defer a.Close()

			for _, name := range a.List() {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func catCommand() *cli.Command {
	return &cli.Command{
		Name:      "cat",
		Usage:     "print one member's decoded bytes to stdout",
		ArgsUsage: "<archive.mpq> <member>",
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 2 {
				return cli.Exit("expected an archive path and a member name", 1)
			}
			a, err := mpq.Open(c.Args().Get(0))
			if err != nil {
				return err
			}
			defer a.Close()

			data, err := a.Read(c.Args().Get(1))
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}
}

func extractCommand() *cli.Command {
	return &cli.Command{
		Name:      "extract",
		Usage:     "extract every known member into a destination directory",
		ArgsUsage: "<archive.mpq> <destdir>",
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 2 {
				return cli.Exit("expected an archive path and a destination directory", 1)
			}
			a, err := mpq.Open(c.Args().Get(0))
			if err != nil {
				return err
			}
			defer a.Close()

			destDir := c.Args().Get(1)
			for _, name := range a.List() {
				data, err := a.Read(name)
				if err != nil {
					logrus.WithField("name", name).WithError(err).Warn("skipping unreadable member")
					continue
				}

				rel := strings.ReplaceAll(name, "\\", string(filepath.Separator))
				dest := filepath.Join(destDir, rel)
				if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
					return err
				}
				if err := os.WriteFile(dest, data, 0o644); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func buildCommand() *cli.Command {
	var version string
	var sectorExp int

	return &cli.Command{
		Name:      "build",
		Usage:     "build a fresh archive from a directory tree",
		ArgsUsage: "<srcdir> <archive.mpq>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "version", Value: "v2", Usage: "v1, v2, v3, or v4", Destination: &version},
			&cli.IntFlag{Name: "sector-exponent", Value: 3, Usage: "sector size is 512 << exponent", Destination: &sectorExp},
		},
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 2 {
				return cli.Exit("expected a source directory and a destination archive path", 1)
			}
			srcDir := c.Args().Get(0)
			dest := c.Args().Get(1)

			v, err := parseVersion(version)
			if err != nil {
				return err
			}

			b := mpq.NewBuilder(
				mpq.WithVersion(v),
				mpq.WithSectorExponent(uint16(sectorExp)),
				mpq.WithDefaultCompression(0x02),
			)

			err = filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if info.IsDir() {
					return nil
				}
				rel, err := filepath.Rel(srcDir, path)
				if err != nil {
					return err
				}
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				member := strings.ReplaceAll(rel, string(filepath.Separator), "\\")
				return b.Add(member, data)
			})
			if err != nil {
				return err
			}

			return b.Build(dest)
		},
	}
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify-signature",
		Usage:     "report an archive's weak/strong signature status",
		ArgsUsage: "<archive.mpq>",
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 1 {
				return cli.Exit("expected exactly one archive path", 1)
			}
			a, err := mpq.Open(c.Args().Get(0))
			if err != nil {
				return err
			}
			defer a.Close()

			status, err := a.VerifySignature(mpq.VerifyOptions{})
			if err != nil {
				return err
			}
			fmt.Println(signatureStatusString(status))
			return nil
		},
	}
}

func signatureStatusString(s mpq.SignatureStatus) string {
	switch s {
	case mpq.SignatureNone:
		return "no signature present"
	case mpq.SignatureWeakValid:
		return "weak signature valid"
	case mpq.SignatureWeakInvalid:
		return "weak signature invalid"
	case mpq.SignatureWeakNoKey:
		return "weak signature present, no key supplied"
	case mpq.SignatureStrongValid:
		return "strong signature valid"
	case mpq.SignatureStrongInvalid:
		return "strong signature invalid"
	case mpq.SignatureStrongNoKey:
		return "strong signature present, no key supplied"
	default:
		return "unknown"
	}
}

func parseVersion(s string) (mpq.FormatVersion, error) {
	switch strings.ToLower(s) {
	case "v1":
		return mpq.FormatV1, nil
	case "v2":
		return mpq.FormatV2, nil
	case "v3":
		return mpq.FormatV3, nil
	case "v4":
		return mpq.FormatV4, nil
	default:
		return 0, fmt.Errorf("unknown version %q (want v1, v2, v3, or v4)", s)
	}
}
