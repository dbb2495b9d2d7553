// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const scanStride = 0x200

// userDataHeader is the optional preamble read when the scan encounters
// the MPQ\x1B magic before the real archive header.
type userDataHeader struct {
	UserDataSize       uint32
	HeaderOffset       uint32
	UserDataHeaderSize uint32
}

// locateHeader scans r at 512-byte-aligned offsets for the archive magic,
// following any user-data preamble redirection, and returns the absolute
// byte offset of the archive header (the "archive base").
func locateHeader(r io.ReaderAt, size int64) (int64, error) {
	scanOffset := int64(0)
	for {
		if scanOffset+4 > size {
			return 0, ErrNotAnArchive
		}

		var magicBuf [4]byte
		if _, err := r.ReadAt(magicBuf[:], scanOffset); err != nil {
			return 0, errors.Wrap(err, "mpq: reading magic")
		}
		magic := binary.LittleEndian.Uint32(magicBuf[:])

		switch magic {
		case magicArchiveHeader:
			return scanOffset, nil
		case magicUserData:
			ud, err := readUserDataHeader(r, scanOffset)
			if err != nil {
				return 0, err
			}
			scanOffset = scanOffset + int64(ud.HeaderOffset)
			continue
		default:
			scanOffset += scanStride
		}
	}
}

func readUserDataHeader(r io.ReaderAt, base int64) (*userDataHeader, error) {
	buf := make([]byte, 16)
	if _, err := r.ReadAt(buf, base); err != nil {
		return nil, errors.Wrap(err, "mpq: reading user-data header")
	}
	return &userDataHeader{
		UserDataSize:       binary.LittleEndian.Uint32(buf[4:8]),
		HeaderOffset:       binary.LittleEndian.Uint32(buf[8:12]),
		UserDataHeaderSize: binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}

// readArchiveHeader parses the version-unified header at base, per the
// field layout shared across all four header revisions.
func readArchiveHeader(r io.ReaderAt, base int64) (*archiveHeader, error) {
	// Read the widest possible header (v4, 208 bytes); the archive may be
	// shorter, in which case the tail bytes aren't touched.
	buf := make([]byte, 208)
	n, err := r.ReadAt(buf, base+4) // skip the 4-byte magic already confirmed
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "mpq: reading header")
	}

	if n < 28 { // v1 fields after the magic: 32 - 4
		return nil, ErrNotAnArchive
	}

	h := &archiveHeader{Base: base}
	h.HeaderSize = binary.LittleEndian.Uint32(buf[0:4])

	version, ok := versionForHeaderSize(h.HeaderSize)
	if !ok {
		return nil, ErrUnknownVersion
	}
	h.Version = version

	h.ArchiveSize32 = binary.LittleEndian.Uint32(buf[4:8])
	h.FormatVersionRaw = binary.LittleEndian.Uint16(buf[8:10])
	h.SectorSizeExp = binary.LittleEndian.Uint16(buf[10:12])
	h.HashTableOffset = binary.LittleEndian.Uint32(buf[12:16])
	h.BlockTableOffset = binary.LittleEndian.Uint32(buf[16:20])
	h.HashTableEntries = binary.LittleEndian.Uint32(buf[20:24])
	h.BlockTableCount = binary.LittleEndian.Uint32(buf[24:28])

	if version >= FormatV2 {
		if n < 40 {
			return nil, ErrNotAnArchive
		}
		h.HiBlockTableOffset = binary.LittleEndian.Uint64(buf[28:36])
		h.HashTableOffsetHi = binary.LittleEndian.Uint16(buf[36:38])
		h.BlockTableOffsetHi = binary.LittleEndian.Uint16(buf[38:40])
	}

	if version >= FormatV3 {
		if n < 64 {
			return nil, ErrNotAnArchive
		}
		h.ArchiveSize64 = binary.LittleEndian.Uint64(buf[40:48])
		h.BETTableOffset = binary.LittleEndian.Uint64(buf[48:56])
		h.HETTableOffset = binary.LittleEndian.Uint64(buf[56:64])
	}

	if version >= FormatV4 {
		if n < 204 {
			return nil, ErrNotAnArchive
		}
		h.HashTableCompressedSize = binary.LittleEndian.Uint64(buf[64:72])
		h.BlockTableCompressedSize = binary.LittleEndian.Uint64(buf[72:80])
		h.HiBlockTableCompressedSize = binary.LittleEndian.Uint64(buf[80:88])
		h.HETTableCompressedSize = binary.LittleEndian.Uint64(buf[88:96])
		h.BETTableCompressedSize = binary.LittleEndian.Uint64(buf[96:104])
		h.RawChunkSize = binary.LittleEndian.Uint32(buf[104:108])
		copy(h.BlockTableMD5[:], buf[108:124])
		copy(h.HashTableMD5[:], buf[124:140])
		copy(h.HiBlockTableMD5[:], buf[140:156])
		copy(h.BETTableMD5[:], buf[156:172])
		copy(h.HETTableMD5[:], buf[172:188])
		copy(h.HeaderMD5[:], buf[188:204])
	}

	return h, nil
}

// writeArchiveHeader serializes h in the layout matching h.Version and
// returns the bytes, magic included.
func writeArchiveHeader(h *archiveHeader) []byte {
	size := headerSizeForVersion(h.Version)
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], magicArchiveHeader)
	binary.LittleEndian.PutUint32(buf[4:8], h.HeaderSize)
	binary.LittleEndian.PutUint32(buf[8:12], h.ArchiveSize32)
	binary.LittleEndian.PutUint16(buf[12:14], h.FormatVersionRaw)
	binary.LittleEndian.PutUint16(buf[14:16], h.SectorSizeExp)
	binary.LittleEndian.PutUint32(buf[16:20], h.HashTableOffset)
	binary.LittleEndian.PutUint32(buf[20:24], h.BlockTableOffset)
	binary.LittleEndian.PutUint32(buf[24:28], h.HashTableEntries)
	binary.LittleEndian.PutUint32(buf[28:32], h.BlockTableCount)

	if h.Version >= FormatV2 {
		binary.LittleEndian.PutUint64(buf[32:40], h.HiBlockTableOffset)
		binary.LittleEndian.PutUint16(buf[40:42], h.HashTableOffsetHi)
		binary.LittleEndian.PutUint16(buf[42:44], h.BlockTableOffsetHi)
	}
	if h.Version >= FormatV3 {
		binary.LittleEndian.PutUint64(buf[44:52], h.ArchiveSize64)
		binary.LittleEndian.PutUint64(buf[52:60], h.BETTableOffset)
		binary.LittleEndian.PutUint64(buf[60:68], h.HETTableOffset)
	}
	if h.Version >= FormatV4 {
		binary.LittleEndian.PutUint64(buf[68:76], h.HashTableCompressedSize)
		binary.LittleEndian.PutUint64(buf[76:84], h.BlockTableCompressedSize)
		binary.LittleEndian.PutUint64(buf[84:92], h.HiBlockTableCompressedSize)
		binary.LittleEndian.PutUint64(buf[92:100], h.HETTableCompressedSize)
		binary.LittleEndian.PutUint64(buf[100:108], h.BETTableCompressedSize)
		binary.LittleEndian.PutUint32(buf[108:112], h.RawChunkSize)
		copy(buf[112:128], h.BlockTableMD5[:])
		copy(buf[128:144], h.HashTableMD5[:])
		copy(buf[144:160], h.HiBlockTableMD5[:])
		copy(buf[160:176], h.BETTableMD5[:])
		copy(buf[176:192], h.HETTableMD5[:])
		copy(buf[192:208], h.HeaderMD5[:])
	}

	return buf
}

func readUint32Array(data []byte, count int) []uint32 {
	out := make([]uint32, count)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return out
}

func writeUint32Array(values []uint32) []byte {
	out := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	return out
}

func readUint16Array(data []byte, count int) []uint16 {
	out := make([]uint16, count)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(data[i*2:])
	}
	return out
}

func writeUint16Array(values []uint16) []byte {
	out := make([]byte, len(values)*2)
	for i, v := range values {
		binary.LittleEndian.PutUint16(out[i*2:], v)
	}
	return out
}
