// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"io"

	"github.com/pkg/errors"
	"github.com/suprsokr/mpq/internal/codec"
	"github.com/suprsokr/mpq/internal/crypt"
)

// readFileBlob implements the read path for one block
// entry, given its derived file key (0 if not encrypted).
func readFileBlob(r io.ReaderAt, base int64, block *blockTableEntry, hiWord uint16, sectorSize uint32, key uint32) ([]byte, error) {
	position := base + int64(filePos64(block.FilePos, hiWord))

	if block.singleUnit() {
		raw := make([]byte, block.CompressedSize)
		if _, err := r.ReadAt(raw, position); err != nil {
			return nil, errors.Wrap(err, "mpq: reading single-unit blob")
		}
		if block.encrypted() {
			crypt.DecryptBytes(raw, key)
		}
		if block.compressed() && uint32(len(raw)) < block.UncompressedSize {
			decoded, err := decodeCompressedBlock(raw)
			if err != nil {
				return nil, err
			}
			if uint32(len(decoded)) != block.UncompressedSize {
				return nil, &codec.CorruptData{Codec: "single-unit", Err: errors.Errorf("decoded %d bytes, want %d", len(decoded), block.UncompressedSize)}
			}
			return decoded, nil
		}
		return raw, nil
	}

	sectorCount := int((uint64(block.UncompressedSize) + uint64(sectorSize) - 1) / uint64(sectorSize))
	if sectorCount == 0 {
		sectorCount = 1
	}
	offsetTableLen := (sectorCount + 1) * 4
	offsetRaw := make([]byte, offsetTableLen)
	if _, err := r.ReadAt(offsetRaw, position); err != nil {
		return nil, errors.Wrap(err, "mpq: reading sector offset table")
	}
	if block.encrypted() {
		crypt.DecryptBytes(offsetRaw, key-1)
	}
	offsets := readUint32Array(offsetRaw, sectorCount+1)

	// The CRC array, when present, sits between the offset table and the
	// first sector's payload, so the sector offsets (and the first one in
	// particular) must account for its length.
	crcArrayLen := 0
	if block.sectorCRC() {
		crcArrayLen = sectorCount * 4
	}
	sectorDataStart := offsetTableLen + crcArrayLen

	if offsets[0] != uint32(sectorDataStart) {
		return nil, &CorruptSectorTableError{Reason: "first offset does not equal the map's own size"}
	}
	for i := 1; i <= sectorCount; i++ {
		if offsets[i] < offsets[i-1] {
			return nil, &CorruptSectorTableError{Reason: "offsets are not monotone"}
		}
	}
	if offsets[sectorCount] != block.CompressedSize {
		return nil, &CorruptSectorTableError{Reason: "last offset does not equal compressed size"}
	}

	var crcs []uint32
	if block.sectorCRC() {
		crcRaw := make([]byte, crcArrayLen)
		if _, err := r.ReadAt(crcRaw, position+int64(offsetTableLen)); err != nil {
			return nil, errors.Wrap(err, "mpq: reading sector crc array")
		}
		crcs = readUint32Array(crcRaw, sectorCount)
	}

	out := make([]byte, 0, block.UncompressedSize)
	remaining := int64(block.UncompressedSize)
	for n := 0; n < sectorCount; n++ {
		expectedLen := int64(sectorSize)
		if remaining < expectedLen {
			expectedLen = remaining
		}
		remaining -= expectedLen

		rawLen := offsets[n+1] - offsets[n]
		raw := make([]byte, rawLen)
		if _, err := r.ReadAt(raw, position+int64(offsets[n])); err != nil {
			return nil, errors.Wrap(err, "mpq: reading sector payload")
		}

		if block.sectorCRC() {
			if crypt.CRC32(raw) != crcs[n] {
				return nil, &CrcMismatchError{Sector: n}
			}
		}
		if block.encrypted() {
			crypt.DecryptBytes(raw, key+uint32(n))
		}

		if int64(len(raw)) < expectedLen {
			decoded, err := decodeCompressedBlock(raw)
			if err != nil {
				return nil, err
			}
			if int64(len(decoded)) != expectedLen {
				return nil, &codec.CorruptData{Codec: "sector", Err: errors.Errorf("sector %d decoded to %d bytes, want %d", n, len(decoded), expectedLen)}
			}
			out = append(out, decoded...)
		} else {
			out = append(out, raw...)
		}
	}

	return out, nil
}

func decodeCompressedBlock(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	mask := raw[0]
	return codec.Decode(mask, raw[1:])
}

// writeOptions configures how writeFileBlob lays out one file (build
// surface §4.6, write path).
type writeOptions struct {
	CompressionMask byte
	Encrypt         bool
	FixKey          bool
	SectorCRC       bool
	SingleUnit      bool
}

// writeFileBlob implements the write path and returns the
// on-disk bytes plus the populated block-table fields (FilePos is left
// zero; the caller fills it in once the blob's final offset is known).
// filePosLow32 must be the blob's eventual offset (low 32 bits, relative
// to the archive base) when opts.FixKey is set, since FIX_KEY folds the
// file position into the encryption key.
func writeFileBlob(name string, data []byte, sectorSize uint32, filePosLow32 uint32, opts writeOptions) ([]byte, blockTableEntry, error) {
	var flags uint32 = FlagExists
	if opts.Encrypt {
		flags |= FlagEncrypted
	}
	if opts.FixKey {
		flags |= FlagFixKey
	}
	if opts.CompressionMask != 0 {
		flags |= FlagCompress
	}
	if opts.SingleUnit {
		flags |= FlagSingleUnit
	}
	if opts.SectorCRC {
		flags |= FlagSectorCRC
	}

	var out []byte
	var compressedSize int

	if opts.SingleUnit {
		raw := data
		if opts.CompressionMask != 0 {
			encoded, err := codec.Encode(data, opts.CompressionMask)
			if err != nil {
				return nil, blockTableEntry{}, err
			}
			if len(encoded)+1 < len(data) {
				raw = append([]byte{opts.CompressionMask}, encoded...)
			} else {
				flags &^= FlagCompress
			}
		}
		if opts.Encrypt {
			key := deriveFileKey(name, filePosLow32, uint32(len(data)), opts.FixKey)
			crypt.EncryptBytes(raw, key)
		}
		out = raw
		compressedSize = len(raw)
	} else {
		sectorCount := int((uint64(len(data)) + uint64(sectorSize) - 1) / uint64(sectorSize))
		if sectorCount == 0 {
			sectorCount = 1
		}
		offsetTableLen := (sectorCount + 1) * 4

		rawSectors := make([][]byte, sectorCount)
		for n := 0; n < sectorCount; n++ {
			start := n * int(sectorSize)
			end := start + int(sectorSize)
			if end > len(data) {
				end = len(data)
			}
			sector := data[start:end]

			rawSector := sector
			if opts.CompressionMask != 0 {
				encoded, err := codec.Encode(sector, opts.CompressionMask)
				if err != nil {
					return nil, blockTableEntry{}, err
				}
				if len(encoded)+1 < len(sector) {
					rawSector = append([]byte{opts.CompressionMask}, encoded...)
				}
			}
			rawSectors[n] = rawSector
		}

		if compressedTotal(rawSectors) >= len(data) {
			flags &^= FlagCompress
		}

		crcArrayLen := 0
		if opts.SectorCRC {
			crcArrayLen = sectorCount * 4
		}

		offsets := make([]uint32, sectorCount+1)
		offsets[0] = uint32(offsetTableLen + crcArrayLen)
		for n, s := range rawSectors {
			offsets[n+1] = offsets[n] + uint32(len(s))
		}
		offsetRaw := writeUint32Array(offsets)

		if opts.Encrypt {
			key := deriveFileKey(name, filePosLow32, uint32(len(data)), opts.FixKey)
			crypt.EncryptBytes(offsetRaw, key-1)
			for n := range rawSectors {
				crypt.EncryptBytes(rawSectors[n], key+uint32(n))
			}
		}

		// Sector CRCs cover the bytes exactly as they land on disk, i.e.
		// after encryption: compute them only once the sectors
		// reach their final form.
		var crcRaw []byte
		if opts.SectorCRC {
			crcs := make([]uint32, sectorCount)
			for n, s := range rawSectors {
				crcs[n] = crypt.CRC32(s)
			}
			crcRaw = writeUint32Array(crcs)
		}

		out = append(out, offsetRaw...)
		out = append(out, crcRaw...)
		for _, s := range rawSectors {
			out = append(out, s...)
		}
		compressedSize = len(out)
	}

	entry := blockTableEntry{
		CompressedSize:   uint32(compressedSize),
		UncompressedSize: uint32(len(data)),
		Flags:            flags,
	}
	return out, entry, nil
}

func compressedTotal(sectors [][]byte) int {
	n := 0
	for _, s := range sectors {
		n += len(s)
	}
	return n
}

// deriveFileKey applies FIX_KEY using only the low 32 bits of the file
// position, even though v2+
// positions can be 48 bits wide.
func deriveFileKey(name string, filePosLow32 uint32, uncompressedSize uint32, fixKey bool) uint32 {
	return crypt.DeriveFileKey(name, filePosLow32, uncompressedSize, fixKey)
}
