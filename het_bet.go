// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/suprsokr/mpq/internal/bitio"
	"github.com/suprsokr/mpq/internal/crypt"
)

// hetHashBits is fixed at 8: the truncated Jenkins hash stored per bucket
// is always one whole byte, with 0xFF marking an empty bucket.
const hetHashBits = 8
const hetEmptyBucket = 0xFF

type hetTable struct {
	BucketCount uint32
	IndexBits   int
	Buckets     []byte   // len == BucketCount, truncated 8-bit hash or hetEmptyBucket
	Indexes     []uint32 // len == BucketCount, decoded file index or all-ones sentinel
}

func hetIndexSentinel(bits int) uint32 {
	if bits <= 0 {
		return 0
	}
	return uint32(1)<<uint(bits) - 1
}

// buildHETTable places fileCount names (in order, index is the file
// index) into an oversized bucket array via linear probing.
func buildHETTable(names []string, fileCount int) *hetTable {
	bucketCount := nextPowerOfTwo(uint32(fileCount)*4/3 + 1)
	if bucketCount < 4 {
		bucketCount = 4
	}
	indexBits := bitio.MinBits(uint64(fileCount))
	if indexBits == 0 {
		indexBits = 1
	}
	sentinel := hetIndexSentinel(indexBits)

	t := &hetTable{BucketCount: bucketCount, IndexBits: indexBits}
	t.Buckets = make([]byte, bucketCount)
	t.Indexes = make([]uint32, bucketCount)
	for i := range t.Buckets {
		t.Buckets[i] = hetEmptyBucket
		t.Indexes[i] = sentinel
	}

	for fileIdx, name := range names {
		full := crypt.JenkinsHash(name)
		truncated := byte(full & 0xFF)
		start := uint32(full) % bucketCount
		idx := start
		for {
			if t.Indexes[idx] == sentinel {
				t.Buckets[idx] = truncated
				t.Indexes[idx] = uint32(fileIdx)
				break
			}
			idx = (idx + 1) % bucketCount
		}
	}
	return t
}

// findHET returns the file index for name, or false if not present. It
// does not itself confirm against the BET name-hash array; callers that
// have one should cross-check to rule out an 8-bit truncated-hash
// collision between two different names.
func findHET(t *hetTable, name string) (uint32, bool) {
	if t == nil || t.BucketCount == 0 {
		return 0, false
	}
	full := crypt.JenkinsHash(name)
	truncated := byte(full & 0xFF)
	start := uint32(full) % t.BucketCount
	sentinel := hetIndexSentinel(t.IndexBits)

	idx := start
	for {
		if t.Indexes[idx] == sentinel {
			return 0, false
		}
		if t.Buckets[idx] == truncated {
			return t.Indexes[idx], true
		}
		idx = (idx + 1) % t.BucketCount
		if idx == start {
			return 0, false
		}
	}
}

// encodeHET serializes t to its on-disk form: a small fixed header
// followed by the bucket array and the bit-packed index array, zlib
// compressed and encrypted under the hash-table key.
func encodeHET(t *hetTable) ([]byte, error) {
	w := bitio.NewWriter(len(t.Buckets) * 4 / 8)
	for _, idx := range t.Indexes {
		w.WriteBits(uint64(idx), t.IndexBits)
	}
	indexBlob := w.Bytes()

	header := make([]byte, 16)
	binary.LittleEndian.PutUint32(header[0:4], magicHET)
	binary.LittleEndian.PutUint32(header[4:8], t.BucketCount)
	binary.LittleEndian.PutUint32(header[8:12], uint32(t.IndexBits))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(indexBlob)))

	plain := make([]byte, 0, len(header)+len(t.Buckets)+len(indexBlob))
	plain = append(plain, header...)
	plain = append(plain, t.Buckets...)
	plain = append(plain, indexBlob...)

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(plain); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	out := buf.Bytes()
	crypt.EncryptBytes(out, hashTableKey)
	return out, nil
}

func decodeHET(data []byte) (*hetTable, error) {
	plain := make([]byte, len(data))
	copy(plain, data)
	crypt.DecryptBytes(plain, hashTableKey)

	zr, err := zlib.NewReader(bytes.NewReader(plain))
	if err != nil {
		return nil, &CorruptTableError{Table: "het", Reason: err.Error()}
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, &CorruptTableError{Table: "het", Reason: err.Error()}
	}

	if len(raw) < 16 || binary.LittleEndian.Uint32(raw[0:4]) != magicHET {
		return nil, &CorruptTableError{Table: "het", Reason: "bad magic"}
	}
	bucketCount := binary.LittleEndian.Uint32(raw[4:8])
	indexBits := int(binary.LittleEndian.Uint32(raw[8:12]))
	indexBlobLen := int(binary.LittleEndian.Uint32(raw[12:16]))

	bucketsStart := 16
	bucketsEnd := bucketsStart + int(bucketCount)
	if bucketsEnd+indexBlobLen > len(raw) {
		return nil, &CorruptTableError{Table: "het", Reason: "truncated body"}
	}

	t := &hetTable{BucketCount: bucketCount, IndexBits: indexBits}
	t.Buckets = append([]byte(nil), raw[bucketsStart:bucketsEnd]...)
	t.Indexes = make([]uint32, bucketCount)
	indexBlob := raw[bucketsEnd : bucketsEnd+indexBlobLen]
	for i := range t.Indexes {
		t.Indexes[i] = uint32(bitio.Extract(indexBlob, i*indexBits, indexBits))
	}
	return t, nil
}

// betTable holds the bit-packed BET file records plus the distinct-flags
// array and a parallel Jenkins-hash array used to disambiguate HET's
// truncated 8-bit hash.
type betTable struct {
	RecordCount int
	EntryBits   int

	PosOffset, PosBits     int
	SizeOffset, SizeBits   int
	CSizeOffset, CSizeBits int
	FlagIdxOffset, FlagIdxBits int

	FlagArray []uint32
	Records   []byte // bit-packed blob, RecordCount * EntryBits bits
	NameHash2 []uint32
}

type betRecord struct {
	FilePos          uint64
	UncompressedSize uint64
	CompressedSize   uint64
	Flags            uint32
}

func buildBETTable(records []betRecord, names []string) *betTable {
	var maxPos, maxSize, maxCSize uint64
	flagIndex := map[uint32]int{}
	var flagArray []uint32
	flagIdxPerRecord := make([]int, len(records))

	for i, r := range records {
		if r.FilePos > maxPos {
			maxPos = r.FilePos
		}
		if r.UncompressedSize > maxSize {
			maxSize = r.UncompressedSize
		}
		if r.CompressedSize > maxCSize {
			maxCSize = r.CompressedSize
		}
		idx, ok := flagIndex[r.Flags]
		if !ok {
			idx = len(flagArray)
			flagArray = append(flagArray, r.Flags)
			flagIndex[r.Flags] = idx
		}
		flagIdxPerRecord[i] = idx
	}

	posBits := max1(bitio.MinBits(maxPos))
	sizeBits := max1(bitio.MinBits(maxSize))
	csizeBits := max1(bitio.MinBits(maxCSize))
	flagIdxBits := max1(bitio.MinBits(uint64(len(flagArray))))

	t := &betTable{
		RecordCount:   len(records),
		PosOffset:     0,
		PosBits:       posBits,
		SizeOffset:    posBits,
		SizeBits:      sizeBits,
		CSizeOffset:   posBits + sizeBits,
		CSizeBits:     csizeBits,
		FlagIdxOffset: posBits + sizeBits + csizeBits,
		FlagIdxBits:   flagIdxBits,
		FlagArray:     flagArray,
	}
	t.EntryBits = t.FlagIdxOffset + flagIdxBits

	w := bitio.NewWriter(len(records) * t.EntryBits / 8)
	for i, r := range records {
		w.WriteBits(r.FilePos, posBits)
		w.WriteBits(r.UncompressedSize, sizeBits)
		w.WriteBits(r.CompressedSize, csizeBits)
		w.WriteBits(uint64(flagIdxPerRecord[i]), flagIdxBits)
		// Pad each record to a byte-independent bit offset of i*EntryBits;
		// WriteBits already tracks a running bit cursor so consecutive
		// records pack contiguously without gaps.
	}
	t.Records = w.Bytes()

	t.NameHash2 = make([]uint32, len(names))
	for i, n := range names {
		t.NameHash2[i] = uint32(crypt.JenkinsHash(n) & 0xFFFFFFFF)
	}

	return t
}

func max1(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

func (t *betTable) record(index int) betRecord {
	base := index * t.EntryBits
	flagIdx := int(bitio.Extract(t.Records, base+t.FlagIdxOffset, t.FlagIdxBits))
	var flags uint32
	if flagIdx >= 0 && flagIdx < len(t.FlagArray) {
		flags = t.FlagArray[flagIdx]
	}
	return betRecord{
		FilePos:          bitio.Extract(t.Records, base+t.PosOffset, t.PosBits),
		UncompressedSize: bitio.Extract(t.Records, base+t.SizeOffset, t.SizeBits),
		CompressedSize:   bitio.Extract(t.Records, base+t.CSizeOffset, t.CSizeBits),
		Flags:            flags,
	}
}

func encodeBET(t *betTable) ([]byte, error) {
	header := make([]byte, 48)
	binary.LittleEndian.PutUint32(header[0:4], magicBET)
	binary.LittleEndian.PutUint32(header[4:8], uint32(t.RecordCount))
	binary.LittleEndian.PutUint32(header[8:12], uint32(t.EntryBits))
	binary.LittleEndian.PutUint32(header[12:16], uint32(t.PosOffset))
	binary.LittleEndian.PutUint32(header[16:20], uint32(t.PosBits))
	binary.LittleEndian.PutUint32(header[20:24], uint32(t.SizeOffset))
	binary.LittleEndian.PutUint32(header[24:28], uint32(t.SizeBits))
	binary.LittleEndian.PutUint32(header[28:32], uint32(t.CSizeOffset))
	binary.LittleEndian.PutUint32(header[32:36], uint32(t.CSizeBits))
	binary.LittleEndian.PutUint32(header[36:40], uint32(t.FlagIdxOffset))
	binary.LittleEndian.PutUint32(header[40:44], uint32(t.FlagIdxBits))
	binary.LittleEndian.PutUint32(header[44:48], uint32(len(t.FlagArray)))

	plain := append([]byte(nil), header...)
	plain = append(plain, writeUint32Array(t.FlagArray)...)
	plain = append(plain, t.Records...)
	plain = append(plain, writeUint32Array(t.NameHash2)...)

	recLenHeader := make([]byte, 4)
	binary.LittleEndian.PutUint32(recLenHeader, uint32(len(t.Records)))
	plain = append(plain, recLenHeader...)

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(plain); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	out := buf.Bytes()
	crypt.EncryptBytes(out, blockTableKey)
	return out, nil
}

func decodeBET(data []byte) (*betTable, error) {
	plain := make([]byte, len(data))
	copy(plain, data)
	crypt.DecryptBytes(plain, blockTableKey)

	zr, err := zlib.NewReader(bytes.NewReader(plain))
	if err != nil {
		return nil, &CorruptTableError{Table: "bet", Reason: err.Error()}
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, &CorruptTableError{Table: "bet", Reason: err.Error()}
	}

	if len(raw) < 48 || binary.LittleEndian.Uint32(raw[0:4]) != magicBET {
		return nil, &CorruptTableError{Table: "bet", Reason: "bad magic"}
	}

	t := &betTable{}
	t.RecordCount = int(binary.LittleEndian.Uint32(raw[4:8]))
	t.EntryBits = int(binary.LittleEndian.Uint32(raw[8:12]))
	t.PosOffset = int(binary.LittleEndian.Uint32(raw[12:16]))
	t.PosBits = int(binary.LittleEndian.Uint32(raw[16:20]))
	t.SizeOffset = int(binary.LittleEndian.Uint32(raw[20:24]))
	t.SizeBits = int(binary.LittleEndian.Uint32(raw[24:28]))
	t.CSizeOffset = int(binary.LittleEndian.Uint32(raw[28:32]))
	t.CSizeBits = int(binary.LittleEndian.Uint32(raw[32:36]))
	t.FlagIdxOffset = int(binary.LittleEndian.Uint32(raw[36:40]))
	t.FlagIdxBits = int(binary.LittleEndian.Uint32(raw[40:44]))
	flagCount := int(binary.LittleEndian.Uint32(raw[44:48]))

	pos := 48
	if pos+flagCount*4 > len(raw) {
		return nil, &CorruptTableError{Table: "bet", Reason: "truncated flag array"}
	}
	t.FlagArray = readUint32Array(raw[pos:pos+flagCount*4], flagCount)
	pos += flagCount * 4

	if pos+4 > len(raw) {
		return nil, &CorruptTableError{Table: "bet", Reason: "truncated"}
	}
	// Trailing 4-byte record-blob length was appended after NameHash2 at
	// encode time; recover it from the tail instead of re-deriving it,
	// since EntryBits*RecordCount may not land on a byte boundary in a
	// way that's recoverable from the other header fields alone.
	recLen := int(binary.LittleEndian.Uint32(raw[len(raw)-4:]))
	body := raw[pos : len(raw)-4]
	if recLen > len(body) {
		return nil, &CorruptTableError{Table: "bet", Reason: "bad record blob length"}
	}
	t.Records = append([]byte(nil), body[:recLen]...)

	nameHashBlob := body[recLen:]
	if len(nameHashBlob)%4 != 0 {
		return nil, &CorruptTableError{Table: "bet", Reason: "bad name-hash array length"}
	}
	t.NameHash2 = readUint32Array(nameHashBlob, len(nameHashBlob)/4)

	return t, nil
}

// findBETByHash returns the first file index whose NameHash2 entry equals
// the low 32 bits of name's Jenkins hash, found by a linear scan. It does
// not consult HET; Find compares its result against HET's candidate.
func findBETByHash(t *betTable, name string) (int, bool) {
	want := uint32(crypt.JenkinsHash(name) & 0xFFFFFFFF)
	for i, h := range t.NameHash2 {
		if h == want {
			return i, true
		}
	}
	return 0, false
}
