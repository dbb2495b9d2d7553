// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import "encoding/binary"

// Attribute array bits, one per sub-array the (attributes) special file
// can carry.
const (
	AttrCRC32   = 0x00000001
	AttrFILETIME = 0x00000002
	AttrMD5     = 0x00000004
	AttrPatchBit = 0x00000008
)

// attributesTable holds the parsed (attributes) special file: up to four
// parallel arrays, one entry per block-table slot, selected by Flags.
type attributesTable struct {
	Version   uint32
	Flags     uint32
	CRC32     []uint32
	FileTime  []uint64
	MD5       [][16]byte
	PatchBits []bool
}

func parseAttributes(data []byte, blockCount int) (*attributesTable, error) {
	if len(data) < 8 {
		return nil, &CorruptTableError{Table: "attributes", Reason: "too short for header"}
	}
	t := &attributesTable{
		Version: binary.LittleEndian.Uint32(data[0:4]),
		Flags:   binary.LittleEndian.Uint32(data[4:8]),
	}
	pos := 8

	if t.Flags&AttrCRC32 != 0 {
		need := blockCount * 4
		if pos+need > len(data) {
			return nil, &CorruptTableError{Table: "attributes", Reason: "truncated crc32 array"}
		}
		t.CRC32 = readUint32Array(data[pos:pos+need], blockCount)
		pos += need
	}
	if t.Flags&AttrFILETIME != 0 {
		need := blockCount * 8
		if pos+need > len(data) {
			return nil, &CorruptTableError{Table: "attributes", Reason: "truncated filetime array"}
		}
		t.FileTime = make([]uint64, blockCount)
		for i := 0; i < blockCount; i++ {
			t.FileTime[i] = binary.LittleEndian.Uint64(data[pos+i*8:])
		}
		pos += need
	}
	if t.Flags&AttrMD5 != 0 {
		need := blockCount * 16
		if pos+need > len(data) {
			return nil, &CorruptTableError{Table: "attributes", Reason: "truncated md5 array"}
		}
		t.MD5 = make([][16]byte, blockCount)
		for i := 0; i < blockCount; i++ {
			copy(t.MD5[i][:], data[pos+i*16:pos+i*16+16])
		}
		pos += need
	}
	if t.Flags&AttrPatchBit != 0 {
		need := (blockCount + 7) / 8
		if pos+need > len(data) {
			return nil, &CorruptTableError{Table: "attributes", Reason: "truncated patch-bit array"}
		}
		t.PatchBits = make([]bool, blockCount)
		for i := 0; i < blockCount; i++ {
			byteIdx := i / 8
			bit := uint(i % 8)
			t.PatchBits[i] = data[pos+byteIdx]&(1<<bit) != 0
		}
	}

	return t, nil
}

// buildAttributes synthesizes the (attributes) special file's bytes for
// blockCount entries. crc32s, fileTimes, and md5s may be nil to omit the
// corresponding array; when present they must have length blockCount.
func buildAttributes(blockCount int, crc32s []uint32, fileTimes []uint64, md5s [][16]byte) []byte {
	var flags uint32
	if crc32s != nil {
		flags |= AttrCRC32
	}
	if fileTimes != nil {
		flags |= AttrFILETIME
	}
	if md5s != nil {
		flags |= AttrMD5
	}

	out := make([]byte, 8)
	binary.LittleEndian.PutUint32(out[0:4], 100) // attributes format version
	binary.LittleEndian.PutUint32(out[4:8], flags)

	if crc32s != nil {
		out = append(out, writeUint32Array(crc32s)...)
	}
	if fileTimes != nil {
		ft := make([]byte, blockCount*8)
		for i, v := range fileTimes {
			binary.LittleEndian.PutUint64(ft[i*8:], v)
		}
		out = append(out, ft...)
	}
	if md5s != nil {
		md := make([]byte, blockCount*16)
		for i, v := range md5s {
			copy(md[i*16:], v[:])
		}
		out = append(out, md...)
	}

	return out
}
