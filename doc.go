// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

/*
Package mpq provides pure Go support for reading and writing MPQ (Mo'PaQ)
archives.

MPQ is an archive format created by Blizzard Entertainment, used in games
like Diablo, StarCraft, and World of Warcraft. This package covers the full
family of on-disk revisions, v1 through v4: the classic Hash/Block/Hi-Block
tables present since the original format, and the v3+ extended HET/BET
tables used by Cataclysm and later.

# Features

  - Pure Go implementation - no CGO
  - Read and write MPQ archives, versions v1 through v4
  - All seven compression codecs: zlib, bzip2, LZMA, sparse/RLE, PKWARE DCL
    implode, Huffman, and ADPCM mono/stereo, including stacked combinations
  - Classic and HET/BET lookup, sector and single-unit storage, per-sector
    CRC32 integrity
  - Weak (RSA-512) and strong (RSA-2048) signature verification
  - Deterministic, atomic archive builds

# Basic Usage

Opening an archive and reading a file:

	archive, err := mpq.Open("game.mpq")
	if err != nil {
		log.Fatal(err)
	}
	defer archive.Close()

	data, err := archive.Read("Data\\file.txt")
	if err != nil {
		log.Fatal(err)
	}

Building a fresh archive:

	b := mpq.NewBuilder(mpq.WithVersion(mpq.FormatV2), mpq.WithSectorExponent(3))
	if err := b.Add("Data\\file.txt", payload); err != nil {
		log.Fatal(err)
	}
	if err := b.Build("patch.mpq"); err != nil {
		log.Fatal(err)
	}

# Path Conventions

MPQ archives use backslash (\) as the path separator. This package folds
forward slashes to backslashes when hashing and looking up names, so both
forms resolve to the same entry; the case of the name is likewise folded
for hashing purposes and not preserved on read.

# Limitations

Archive modification in place and patch-archive chaining are not
supported; the build surface only produces whole, fresh archives.
*/
package mpq
