// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"io"
	"math/bits"

	"github.com/pkg/errors"
	"github.com/suprsokr/mpq/internal/crypt"
)

var (
	hashTableKey  = crypt.Hash("(hash table)", crypt.FileKey)
	blockTableKey = crypt.Hash("(block table)", crypt.FileKey)
)

func isPowerOfTwo(n uint32) bool {
	return n != 0 && n&(n-1) == 0
}

func nextPowerOfTwo(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	if isPowerOfTwo(n) {
		return n
	}
	return 1 << uint(bits.Len32(n))
}

// readHashTable reads and decrypts the classic Hash Table at the given
// absolute offset.
func readHashTable(r io.ReaderAt, offset int64, entries uint32) ([]hashTableEntry, error) {
	if !isPowerOfTwo(entries) {
		return nil, &CorruptTableError{Table: "hash", Reason: "entry count is not a power of two"}
	}

	raw := make([]byte, int(entries)*16)
	if _, err := r.ReadAt(raw, offset); err != nil {
		return nil, errors.Wrap(err, "mpq: reading hash table")
	}
	crypt.DecryptBytes(raw, hashTableKey)

	out := make([]hashTableEntry, entries)
	for i := range out {
		words := readUint32Array(raw[i*16:(i+1)*16], 4)
		out[i] = hashTableEntry{
			Name1:      words[0],
			Name2:      words[1],
			Locale:     uint16(words[2] & 0xFFFF),
			Platform:   uint16(words[2] >> 16),
			BlockIndex: words[3],
		}
	}
	return out, nil
}

func writeHashTable(entries []hashTableEntry) []byte {
	raw := make([]byte, len(entries)*16)
	for i, e := range entries {
		locPlat := uint32(e.Locale) | uint32(e.Platform)<<16
		words := []uint32{e.Name1, e.Name2, locPlat, e.BlockIndex}
		copy(raw[i*16:(i+1)*16], writeUint32Array(words))
	}
	crypt.EncryptBytes(raw, hashTableKey)
	return raw
}

// readBlockTable reads and decrypts the classic Block Table.
func readBlockTable(r io.ReaderAt, offset int64, count uint32) ([]blockTableEntry, error) {
	raw := make([]byte, int(count)*16)
	if _, err := r.ReadAt(raw, offset); err != nil {
		return nil, errors.Wrap(err, "mpq: reading block table")
	}
	crypt.DecryptBytes(raw, blockTableKey)

	out := make([]blockTableEntry, count)
	for i := range out {
		words := readUint32Array(raw[i*16:(i+1)*16], 4)
		out[i] = blockTableEntry{
			FilePos:          words[0],
			CompressedSize:   words[1],
			UncompressedSize: words[2],
			Flags:            words[3],
		}
	}
	return out, nil
}

func writeBlockTable(entries []blockTableEntry) []byte {
	raw := make([]byte, len(entries)*16)
	for i, b := range entries {
		words := []uint32{b.FilePos, b.CompressedSize, b.UncompressedSize, b.Flags}
		copy(raw[i*16:(i+1)*16], writeUint32Array(words))
	}
	crypt.EncryptBytes(raw, blockTableKey)
	return raw
}

// readHiBlockTable reads the unencrypted parallel array of high 16-bit
// file-position words.
func readHiBlockTable(r io.ReaderAt, offset int64, count uint32) ([]uint16, error) {
	raw := make([]byte, int(count)*2)
	if _, err := r.ReadAt(raw, offset); err != nil {
		return nil, errors.Wrap(err, "mpq: reading hi-block table")
	}
	return readUint16Array(raw, int(count)), nil
}

func writeHiBlockTable(values []uint16) []byte {
	return writeUint16Array(values)
}

// findClassic performs the linear-probe lookup of §4.4 against the
// classic Hash Table, honoring the requested locale (LocaleAny matches
// any).
func findClassic(table []hashTableEntry, name string, locale uint16) (int, bool) {
	n := uint32(len(table))
	if n == 0 {
		return 0, false
	}
	start := crypt.Hash(name, crypt.TableOffset) % n
	a := crypt.Hash(name, crypt.NameA)
	b := crypt.Hash(name, crypt.NameB)

	idx := start
	for {
		e := &table[idx]
		if e.neverUsed() {
			return 0, false
		}
		if !e.deleted() && e.Name1 == a && e.Name2 == b {
			if locale == LocaleAny || e.Locale == locale {
				return int(idx), true
			}
		}
		idx = (idx + 1) % n
		if idx == start {
			return 0, false
		}
	}
}

// insertClassic scans forward from name's natural bucket for the first
// sentinel slot and inserts a fresh entry there. Used only during build;
// never writes the "deleted" sentinel.
func insertClassic(table []hashTableEntry, name string, locale uint16, blockIndex uint32) error {
	n := uint32(len(table))
	start := crypt.Hash(name, crypt.TableOffset) % n
	a := crypt.Hash(name, crypt.NameA)
	b := crypt.Hash(name, crypt.NameB)

	idx := start
	for {
		if table[idx].neverUsed() {
			table[idx] = hashTableEntry{Name1: a, Name2: b, Locale: locale, Platform: 0, BlockIndex: blockIndex}
			return nil
		}
		idx = (idx + 1) % n
		if idx == start {
			return ErrHashTableFull
		}
	}
}

func newSentinelHashTable(size uint32) []hashTableEntry {
	table := make([]hashTableEntry, size)
	for i := range table {
		table[i] = hashTableEntry{BlockIndex: hashEntryNeverUsed}
	}
	return table
}
