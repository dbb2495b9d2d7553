// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package codec

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleCorpus() [][]byte {
	return [][]byte{
		{},
		[]byte("a"),
		[]byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		[]byte("the quick brown fox jumps over the lazy dog, the quick brown fox jumps again"),
		bytes.Repeat([]byte{0x00, 0x01, 0x02, 0x03}, 300),
		mkRandom(4096, 1),
		mkRandom(17, 2),
	}
}

func mkRandom(n int, seed int64) []byte {
	r := rand.New(rand.NewSource(seed))
	b := make([]byte, n)
	r.Read(b)
	return b
}

func TestZlibRoundTrip(t *testing.T) {
	for _, data := range sampleCorpus() {
		enc, err := encodeZlib(data)
		require.NoError(t, err)
		dec, err := decodeZlib(enc)
		require.NoError(t, err)
		require.Equal(t, data, dec)
	}
}

func TestBzip2RoundTrip(t *testing.T) {
	for _, data := range sampleCorpus() {
		enc, err := encodeBzip2(data)
		require.NoError(t, err)
		dec, err := decodeBzip2(enc)
		require.NoError(t, err)
		require.Equal(t, data, dec)
	}
}

func TestSparseRoundTrip(t *testing.T) {
	for _, data := range sampleCorpus() {
		enc, err := encodeSparse(data)
		require.NoError(t, err)
		dec, err := decodeSparse(enc)
		require.NoError(t, err)
		require.Equal(t, data, dec)
	}
}

func TestPKWareRoundTrip(t *testing.T) {
	for _, data := range sampleCorpus() {
		enc, err := encodePKWare(data)
		require.NoError(t, err)
		dec, err := decodePKWare(enc)
		require.NoError(t, err)
		require.Equal(t, data, dec)
	}
}

func TestHuffmanRoundTrip(t *testing.T) {
	for _, data := range sampleCorpus() {
		enc, err := encodeHuffman(data)
		require.NoError(t, err)
		dec, err := decodeHuffman(enc)
		require.NoError(t, err)
		require.Equal(t, data, dec)
	}
}

func TestLZMARoundTrip(t *testing.T) {
	for _, data := range sampleCorpus() {
		enc, err := encodeLZMA(data)
		require.NoError(t, err)
		dec, err := decodeLZMA(enc)
		require.NoError(t, err)
		require.Equal(t, data, dec)
	}
}

func TestADPCMMonoRoundTrip(t *testing.T) {
	pcm := make([]byte, 2*500)
	r := rand.New(rand.NewSource(3))
	r.Read(pcm)
	enc, err := encodeADPCM(pcm, 1)
	require.NoError(t, err)
	dec, err := decodeADPCM(enc, 1)
	require.NoError(t, err)
	require.Equal(t, len(pcm), len(dec))
}

func TestADPCMStereoRoundTrip(t *testing.T) {
	pcm := make([]byte, 2*501) // odd total sample count to exercise the half-byte tail path
	r := rand.New(rand.NewSource(4))
	r.Read(pcm)
	enc, err := encodeADPCM(pcm, 2)
	require.NoError(t, err)
	dec, err := decodeADPCM(enc, 2)
	require.NoError(t, err)
	require.Equal(t, len(pcm), len(dec))
}

func TestADPCMEmpty(t *testing.T) {
	enc, err := encodeADPCM(nil, 2)
	require.NoError(t, err)
	dec, err := decodeADPCM(enc, 2)
	require.NoError(t, err)
	require.Empty(t, dec)
}

func TestDispatchSingleCodec(t *testing.T) {
	data := []byte("single codec mask round trip test payload, repeated repeated repeated")
	for _, mask := range []byte{MaskZlib, MaskBzip2, MaskPKWare, MaskHuffman, MaskSparse} {
		enc, err := Encode(data, mask)
		require.NoError(t, err)
		dec, err := Decode(mask, enc)
		require.NoError(t, err)
		require.Equal(t, data, dec, "mask 0x%02X", mask)
	}
}

func TestDispatchADPCMWithZlibMask(t *testing.T) {
	pcm := make([]byte, 2*200)
	r := rand.New(rand.NewSource(5))
	r.Read(pcm)
	mask := byte(MaskADPCMStereo | MaskZlib)
	enc, err := Encode(pcm, mask)
	require.NoError(t, err)
	dec, err := Decode(mask, enc)
	require.NoError(t, err)
	require.Equal(t, len(pcm), len(dec))
}

func TestDispatchSparseWrapsZlib(t *testing.T) {
	data := bytes.Repeat([]byte("wrap me in sparse then zlib "), 40)
	mask := byte(MaskSparse | MaskZlib)
	enc, err := Encode(data, mask)
	require.NoError(t, err)
	dec, err := Decode(mask, enc)
	require.NoError(t, err)
	require.Equal(t, data, dec)
}

func TestDispatchLZMASentinel(t *testing.T) {
	data := []byte("lzma sentinel path, lzma sentinel path, lzma sentinel path")
	enc, err := Encode(data, MaskLZMASentinel)
	require.NoError(t, err)
	dec, err := Decode(MaskLZMASentinel, enc)
	require.NoError(t, err)
	require.Equal(t, data, dec)
}

func TestDispatchPassthroughZeroMask(t *testing.T) {
	data := []byte("uncompressed")
	enc, err := Encode(data, 0)
	require.NoError(t, err)
	require.Equal(t, data, enc)
	dec, err := Decode(0, enc)
	require.NoError(t, err)
	require.Equal(t, data, dec)
}

func TestDispatchUnknownBitRejected(t *testing.T) {
	_, err := Decode(0x04, []byte("x"))
	require.Error(t, err)
	var unsupported *UnsupportedCompression
	require.ErrorAs(t, err, &unsupported)
}

func TestValidCombination(t *testing.T) {
	valid := []byte{0x00, MaskZlib, MaskBzip2, MaskPKWare, MaskHuffman, MaskLZMASentinel,
		MaskSparse | MaskZlib, MaskADPCMStereo | MaskZlib, MaskADPCMMono | MaskHuffman,
		MaskSparse | MaskADPCMStereo | MaskPKWare}
	for _, m := range valid {
		require.True(t, ValidCombination(m), "expected 0x%02X valid", m)
	}

	invalid := []byte{MaskADPCMMono | MaskADPCMStereo, MaskZlib | MaskPKWare,
		MaskADPCMStereo, 0x04}
	for _, m := range invalid {
		require.False(t, ValidCombination(m), "expected 0x%02X invalid", m)
	}
}
