// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/suprsokr/mpq/internal/codec"
	"github.com/suprsokr/mpq/internal/crypt"
)

// FileOptions configures one file added to a Builder.
type FileOptions struct {
	CompressionMask byte
	Encrypt         bool
	FixKey          bool
	SectorCRC       bool
	SingleUnit      bool
	Locale          uint16
}

// DefaultFileOptions returns zero-value options: no compression, no
// encryption, sector-based storage, locale-neutral.
func DefaultFileOptions() FileOptions {
	return FileOptions{Locale: LocaleNeutral}
}

type pendingFile struct {
	name string
	data []byte
	opts FileOptions
}

// hashSizePolicy picks the classic Hash Table size during Build.
type hashSizePolicy struct {
	exact   uint32
	useExact bool
}

// Builder composes a fresh archive from an ordered set of inputs and
// writes it atomically. It never mutates an existing archive; in-place
// modification of an existing MPQ is not part of this surface.
type Builder struct {
	version         FormatVersion
	sectorExponent  uint16
	defaultMask     byte
	hashSize        hashSizePolicy
	generateListfile bool
	generateAttrs    bool
	files           []pendingFile
	names           map[string]bool

	log *logrus.Entry
}

// BuilderOption configures a Builder at construction time.
type BuilderOption func(*Builder)

// WithVersion sets the target on-disk header revision.
func WithVersion(v FormatVersion) BuilderOption {
	return func(b *Builder) { b.version = v }
}

// WithSectorExponent sets the sector-size exponent; sector size is
// 512 << exponent.
func WithSectorExponent(exp uint16) BuilderOption {
	return func(b *Builder) { b.sectorExponent = exp }
}

// WithDefaultCompression sets the compression mask applied to files that
// don't specify their own.
func WithDefaultCompression(mask byte) BuilderOption {
	return func(b *Builder) { b.defaultMask = mask }
}

// WithExactHashTableSize forces the classic Hash Table to exactly n
// slots (must be a power of two, checked at Build time).
func WithExactHashTableSize(n uint32) BuilderOption {
	return func(b *Builder) { b.hashSize = hashSizePolicy{exact: n, useExact: true} }
}

// WithListfile enables emitting a (listfile) special file (default on).
func WithListfile(enabled bool) BuilderOption {
	return func(b *Builder) { b.generateListfile = enabled }
}

// WithAttributes enables emitting an (attributes) special file with a
// CRC32 array (default on).
func WithAttributes(enabled bool) BuilderOption {
	return func(b *Builder) { b.generateAttrs = enabled }
}

// NewBuilder constructs a Builder with sensible defaults: FormatV2,
// sector exponent 3 (4 KiB sectors), no default compression, an
// automatically-sized hash table, and both (listfile) and (attributes)
// generation enabled.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		version:          FormatV2,
		sectorExponent:   3,
		generateListfile: true,
		generateAttrs:    true,
		names:            make(map[string]bool),
		log:              logrus.WithField("component", "mpq.Builder"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

const maxMemberNameLength = 1024

// Add queues one file for inclusion, using the builder's default
// compression mask and locale-neutral, unencrypted, sector-based storage.
func (b *Builder) Add(name string, data []byte) error {
	opts := DefaultFileOptions()
	opts.CompressionMask = b.defaultMask
	return b.AddWithOptions(name, data, opts)
}

// AddWithOptions queues one file with explicit per-file options.
func (b *Builder) AddWithOptions(name string, data []byte, opts FileOptions) error {
	name = normalizeName(name)
	if len(name) > maxMemberNameLength {
		return &NameTooLongError{Name: name, Max: maxMemberNameLength}
	}
	if b.names[name] {
		return &DuplicateNameError{Name: name}
	}
	if !codecCombinationValid(opts.CompressionMask) {
		return errors.Errorf("mpq: compression mask 0x%02X is not a producible combination", opts.CompressionMask)
	}

	b.names[name] = true
	b.files = append(b.files, pendingFile{name: name, data: data, opts: opts})
	return nil
}

// Build synthesizes the archive and atomically installs it at dest.
func (b *Builder) Build(dest string) error {
	if len(b.files) == 0 {
		return ErrNoFilesToArchive
	}

	sectorSize := uint32(512) << b.sectorExponent

	// Internal files ((listfile), (attributes)) are appended after user
	// files but before any table is planned, so they get ordinary block
	// records like any other member.
	allFiles := append([]pendingFile(nil), b.files...)
	attrsIdx := -1
	if b.generateListfile {
		names := make([]string, len(b.files))
		for i, f := range b.files {
			names[i] = f.name
		}
		allFiles = append(allFiles, pendingFile{
			name: "(listfile)",
			data: buildListfile(names),
			opts: FileOptions{Locale: LocaleNeutral},
		})
	}
	if b.generateAttrs {
		attrsIdx = len(allFiles)
		allFiles = append(allFiles, pendingFile{
			name: "(attributes)",
			opts: FileOptions{Locale: LocaleNeutral},
		}) // data filled in once CRCs are known, below
	}

	headerSize := headerSizeForVersion(b.version)
	layoutOffset := uint32(headerSize)

	blobs := make([][]byte, len(allFiles))
	entries := make([]blockTableEntry, len(allFiles))
	crc32s := make([]uint32, len(allFiles))

	for i, f := range allFiles {
		if i == attrsIdx {
			continue // filled in after the rest of the layout is known
		}

		writeOpts := writeOptions{
			CompressionMask: f.opts.CompressionMask,
			Encrypt:         f.opts.Encrypt,
			FixKey:          f.opts.FixKey,
			SectorCRC:       f.opts.SectorCRC,
			SingleUnit:      f.opts.SingleUnit,
		}
		blob, entry, err := writeFileBlob(f.name, f.data, sectorSize, layoutOffset, writeOpts)
		if err != nil {
			return errors.Wrapf(err, "mpq: writing %q", f.name)
		}
		entry.FilePos = layoutOffset
		crc32s[i] = crypt.CRC32(f.data)

		blobs[i] = blob
		entries[i] = entry
		layoutOffset += uint32(len(blob))
	}

	if attrsIdx >= 0 {
		attrData := buildAttributes(len(allFiles), crc32s, nil, nil)
		allFiles[attrsIdx].data = attrData
		writeOpts := writeOptions{}
		blob, entry, err := writeFileBlob("(attributes)", attrData, sectorSize, layoutOffset, writeOpts)
		if err != nil {
			return errors.Wrap(err, "mpq: writing (attributes)")
		}
		entry.FilePos = layoutOffset
		blobs[attrsIdx] = blob
		entries[attrsIdx] = entry
		layoutOffset += uint32(len(blob))
	}

	hashSize := b.resolveHashTableSize(len(allFiles))
	if hashSize < 4 || hashSize > 1<<20 || !isPowerOfTwo(hashSize) {
		return errors.New("mpq: resolved hash table size out of bounds or not a power of two")
	}

	hashTable := newSentinelHashTable(hashSize)
	for i, f := range allFiles {
		if err := insertClassic(hashTable, f.name, f.opts.Locale, uint32(i)); err != nil {
			return err
		}
	}

	hashTableOffset := layoutOffset
	hashBytes := writeHashTable(hashTable)
	layoutOffset += uint32(len(hashBytes))

	blockTableOffset := layoutOffset
	blockBytes := writeBlockTable(entries)
	layoutOffset += uint32(len(blockBytes))

	header := &archiveHeader{
		Version:          b.version,
		HeaderSize:       headerSize,
		FormatVersionRaw: uint16(b.version),
		SectorSizeExp:    b.sectorExponent,
		HashTableOffset:  hashTableOffset,
		BlockTableOffset: blockTableOffset,
		HashTableEntries: hashSize,
		BlockTableCount:  uint32(len(allFiles)),
	}

	var hetBytes, betBytes []byte
	if b.version >= FormatV3 {
		names := make([]string, len(allFiles))
		records := make([]betRecord, len(allFiles))
		for i, f := range allFiles {
			names[i] = f.name
			records[i] = betRecord{
				FilePos:          uint64(entries[i].FilePos),
				UncompressedSize: uint64(entries[i].UncompressedSize),
				CompressedSize:   uint64(entries[i].CompressedSize),
				Flags:            entries[i].Flags,
			}
		}

		het := buildHETTable(names, len(allFiles))
		bet := buildBETTable(records, names)

		var err error
		hetBytes, err = encodeHET(het)
		if err != nil {
			return errors.Wrap(err, "mpq: encoding het table")
		}
		betBytes, err = encodeBET(bet)
		if err != nil {
			return errors.Wrap(err, "mpq: encoding bet table")
		}

		header.HETTableOffset = uint64(layoutOffset)
		layoutOffset += uint32(len(hetBytes))
		header.BETTableOffset = uint64(layoutOffset)
		layoutOffset += uint32(len(betBytes))
	}

	header.ArchiveSize32 = layoutOffset
	header.ArchiveSize64 = uint64(layoutOffset)

	headerBytes := writeArchiveHeader(header)

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".mpq-build-*")
	if err != nil {
		return errors.Wrap(err, "mpq: creating temp file")
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		tmp.Close()
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(headerBytes); err != nil {
		return errors.Wrap(err, "mpq: writing header")
	}
	for _, blob := range blobs {
		if _, err := tmp.Write(blob); err != nil {
			return errors.Wrap(err, "mpq: writing file blob")
		}
	}
	if _, err := tmp.Write(hashBytes); err != nil {
		return errors.Wrap(err, "mpq: writing hash table")
	}
	if _, err := tmp.Write(blockBytes); err != nil {
		return errors.Wrap(err, "mpq: writing block table")
	}
	if hetBytes != nil {
		if _, err := tmp.Write(hetBytes); err != nil {
			return errors.Wrap(err, "mpq: writing het table")
		}
	}
	if betBytes != nil {
		if _, err := tmp.Write(betBytes); err != nil {
			return errors.Wrap(err, "mpq: writing bet table")
		}
	}

	if err := tmp.Sync(); err != nil {
		return errors.Wrap(err, "mpq: syncing temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "mpq: closing temp file")
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return errors.Wrap(err, "mpq: renaming temp file into place")
	}

	success = true
	b.log.WithField("dest", dest).WithField("files", len(b.files)).Info("built archive")
	return nil
}

func (b *Builder) resolveHashTableSize(fileCount int) uint32 {
	if b.hashSize.useExact {
		return b.hashSize.exact
	}
	size := nextPowerOfTwo(uint32(fileCount) * 4 / 3)
	if size < 4 {
		size = 4
	}
	return size
}

func codecCombinationValid(mask byte) bool {
	return codec.ValidCombination(mask)
}
