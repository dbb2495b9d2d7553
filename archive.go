// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Archive is an opened, read-only MPQ archive. The zero value is not
// usable; construct one with Open.
type Archive struct {
	file *os.File
	size int64

	header    *archiveHeader
	hashTable []hashTableEntry
	blockTbl  []blockTableEntry
	hiBlock   []uint16
	het       *hetTable
	bet       *betTable

	listfile   []string
	attributes *attributesTable

	log *logrus.Entry
}

// Open opens the archive at path, locates and parses its header, and
// loads the classic tables (and HET/BET, when the header declares them).
func Open(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "mpq: open")
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "mpq: stat")
	}

	a, err := openFromReader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	a.file = f
	return a, nil
}

func openFromReader(f *os.File, size int64) (*Archive, error) {
	log := logrus.WithField("component", "mpq.Archive")

	base, err := locateHeader(f, size)
	if err != nil {
		return nil, err
	}

	header, err := readArchiveHeader(f, base)
	if err != nil {
		return nil, err
	}

	a := &Archive{size: size, header: header, log: log}

	hashOffset := int64(header.hashTableOffset()) + base
	hashTable, err := readHashTable(f, hashOffset, header.HashTableEntries)
	if err != nil {
		return nil, err
	}
	a.hashTable = hashTable

	blockOffset := int64(header.blockTableOffset()) + base
	blockTable, err := readBlockTable(f, blockOffset, header.BlockTableCount)
	if err != nil {
		return nil, err
	}
	a.blockTbl = blockTable

	if header.Version >= FormatV2 && header.HiBlockTableOffset != 0 {
		hiOffset := int64(header.HiBlockTableOffset) + base
		hi, err := readHiBlockTable(f, hiOffset, header.BlockTableCount)
		if err != nil {
			return nil, err
		}
		a.hiBlock = hi
	}

	if header.Version >= FormatV3 && header.HETTableOffset != 0 {
		het, err := a.readExtendedTable(f, base, int64(header.HETTableOffset), header.HETTableCompressedSize)
		if err == nil {
			t, derr := decodeHET(het)
			if derr == nil {
				a.het = t
			} else {
				log.WithError(derr).Warn("failed to decode het table, falling back to classic lookup")
			}
		}
	}
	if header.Version >= FormatV3 && header.BETTableOffset != 0 {
		bet, err := a.readExtendedTable(f, base, int64(header.BETTableOffset), header.BETTableCompressedSize)
		if err == nil {
			t, derr := decodeBET(bet)
			if derr == nil {
				a.bet = t
			} else {
				log.WithError(derr).Warn("failed to decode bet table, falling back to classic lookup")
			}
		}
	}

	if lf, err := a.readSpecialFile("(listfile)"); err == nil {
		a.listfile = parseListfile(lf)
	}
	if ab, err := a.readSpecialFile("(attributes)"); err == nil {
		if at, err := parseAttributes(ab, len(a.blockTbl)); err == nil {
			a.attributes = at
		}
	}

	return a, nil
}

// readExtendedTable reads a HET/BET blob of the given compressed size
// (falling back to "read to end of file" when the header didn't record a
// size, e.g. archives not using v4's explicit compressed-size fields).
func (a *Archive) readExtendedTable(f *os.File, base int64, offset int64, compressedSize uint64) ([]byte, error) {
	absolute := base + offset
	size := compressedSize
	if size == 0 {
		info, err := f.Stat()
		if err != nil {
			return nil, err
		}
		size = uint64(info.Size() - absolute)
	}
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, absolute); err != nil {
		return nil, err
	}
	return buf, nil
}

// FileInfo describes one resolved archive member.
type FileInfo struct {
	Name             string
	BlockIndex       int
	CompressedSize   uint32
	UncompressedSize uint32
	Flags            uint32
}

// Find resolves name to its block index and metadata. It prefers the
// extended HET/BET tables when present, falling back to the classic Hash
// Table otherwise.
func (a *Archive) Find(name string, locale uint16) (*FileInfo, error) {
	name = normalizeName(name)

	if a.het != nil && a.bet != nil {
		if idx, ok := findHET(a.het, name); ok {
			if want, ok2 := findBETByHash(a.bet, name); !ok2 || uint32(want) != idx {
				// Truncated-hash collision: the BET cross-check disagrees.
				// Fall through to the classic table below.
			} else if int(idx) < a.bet.RecordCount {
				rec := a.bet.record(int(idx))
				return &FileInfo{
					Name:             name,
					BlockIndex:       int(idx),
					CompressedSize:   uint32(rec.CompressedSize),
					UncompressedSize: uint32(rec.UncompressedSize),
					Flags:            rec.Flags,
				}, nil
			}
		}
	}

	idx, ok := findClassic(a.hashTable, name, locale)
	if !ok {
		return nil, &FileNotFoundError{Name: name}
	}
	blockIndex := int(a.hashTable[idx].BlockIndex)
	if blockIndex < 0 || blockIndex >= len(a.blockTbl) {
		return nil, &InvalidBlockIndexError{Index: blockIndex}
	}
	b := a.blockTbl[blockIndex]
	return &FileInfo{
		Name:             name,
		BlockIndex:       blockIndex,
		CompressedSize:   b.CompressedSize,
		UncompressedSize: b.UncompressedSize,
		Flags:            b.Flags,
	}, nil
}

// Read looks up name (locale-neutral) and returns its decoded bytes.
func (a *Archive) Read(name string) ([]byte, error) {
	return a.ReadLocale(name, LocaleNeutral)
}

// ReadLocale is Read with an explicit locale tag; pass LocaleAny to match
// the first entry regardless of locale.
func (a *Archive) ReadLocale(name string, locale uint16) ([]byte, error) {
	info, err := a.Find(name, locale)
	if err != nil {
		return nil, err
	}
	return a.readBlock(info.BlockIndex, name)
}

func (a *Archive) readBlock(blockIndex int, name string) ([]byte, error) {
	if blockIndex < 0 || blockIndex >= len(a.blockTbl) {
		return nil, &InvalidBlockIndexError{Index: blockIndex}
	}
	block := a.blockTbl[blockIndex]
	if !block.exists() {
		return nil, &FileNotFoundError{Name: name}
	}

	var hi uint16
	if blockIndex < len(a.hiBlock) {
		hi = a.hiBlock[blockIndex]
	}

	var key uint32
	if block.encrypted() {
		key = deriveFileKey(name, block.FilePos, block.UncompressedSize, block.fixKey())
	}

	return readFileBlob(a.file, a.header.Base, &block, hi, a.header.sectorSize(), key)
}

// readSpecialFile reads one of the well-known internal files
// ((listfile), (attributes)) by its classic-table lookup, tolerating
// absence.
func (a *Archive) readSpecialFile(name string) ([]byte, error) {
	idx, ok := findClassic(a.hashTable, name, LocaleAny)
	if !ok {
		return nil, &FileNotFoundError{Name: name}
	}
	blockIndex := int(a.hashTable[idx].BlockIndex)
	return a.readBlock(blockIndex, name)
}

// List returns every known member name. When a (listfile) was present in
// the archive, names come from it; otherwise placeholder names are
// synthesized from each occupied block index.
func (a *Archive) List() []string {
	if len(a.listfile) > 0 {
		return a.listfile
	}
	names := make([]string, 0, len(a.blockTbl))
	for i, b := range a.blockTbl {
		if b.exists() && !b.deleteMarker() {
			names = append(names, syntheticName(i))
		}
	}
	return names
}

func syntheticName(blockIndex int) string {
	return "File" + strconv.Itoa(blockIndex) + ".dat"
}

// HasFile reports whether name resolves to an existing, non-deleted
// entry.
func (a *Archive) HasFile(name string) bool {
	info, err := a.Find(name, LocaleAny)
	if err != nil {
		return false
	}
	if info.BlockIndex >= len(a.blockTbl) {
		return false
	}
	b := a.blockTbl[info.BlockIndex]
	return b.exists() && !b.deleteMarker()
}

// Close releases the underlying file handle.
func (a *Archive) Close() error {
	if a.file == nil {
		return nil
	}
	return a.file.Close()
}

func normalizeName(name string) string {
	return strings.ReplaceAll(name, "/", "\\")
}
