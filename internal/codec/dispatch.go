// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

// Package codec implements the MPQ compression dispatcher and its seven
// decoders/encoders: ADPCM mono/stereo, Huffman, zlib deflate, PKWARE DCL
// implode, bzip2, sparse/RLE, and LZMA.
//
// A compressed sector or single-unit blob begins with one mask byte naming
// which codecs were applied and in what combination. Every codec below is
// self-terminating: Decode consumes its entire input and produces however
// many bytes its own stream format yields; the caller (the file I/O engine)
// is responsible for checking the result against the block's declared
// uncompressed length and failing with CorruptData on mismatch.
package codec

import "fmt"

// Mask bits. LZMA (0x12) is a literal sentinel byte, not a combinable bit —
// it is never OR'd with anything else.
const (
	MaskHuffman      = 0x01
	MaskZlib         = 0x02
	MaskPKWare       = 0x08
	MaskBzip2        = 0x10
	MaskSparse       = 0x20
	MaskADPCMMono    = 0x40
	MaskADPCMStereo  = 0x80
	MaskLZMASentinel = 0x12
)

// CorruptData is returned when a codec's own stream is malformed.
type CorruptData struct {
	Codec string
	Err   error
}

func (e *CorruptData) Error() string {
	return fmt.Sprintf("corrupt %s stream: %v", e.Codec, e.Err)
}

func (e *CorruptData) Unwrap() error { return e.Err }

// UnsupportedCompression is returned when the mask names a bit this
// dispatcher does not implement.
type UnsupportedCompression struct {
	Mask byte
}

func (e *UnsupportedCompression) Error() string {
	return fmt.Sprintf("unsupported compression mask 0x%02X", e.Mask)
}

// knownBits is every bit this dispatcher knows how to decode, used to
// detect unknown bits in a mask.
const knownBits = MaskHuffman | MaskZlib | MaskPKWare | MaskBzip2 | MaskSparse | MaskADPCMMono | MaskADPCMStereo

// Decode applies the codecs named by mask in reverse apply-order (sparse
// outermost, primary codec next, Huffman, then ADPCM innermost) and returns
// the fully decoded bytes. The ADPCM channel count comes from the mask
// bit itself: 1 for MaskADPCMMono, 2 for MaskADPCMStereo.
func Decode(mask byte, data []byte) ([]byte, error) {
	if mask == MaskLZMASentinel {
		return decodeLZMA(data)
	}
	if mask == 0 {
		return data, nil
	}
	if mask&^knownBits != 0 {
		return nil, &UnsupportedCompression{Mask: mask}
	}

	result := data
	var err error

	if mask&MaskSparse != 0 {
		result, err = decodeSparse(result)
		if err != nil {
			return nil, &CorruptData{Codec: "sparse", Err: err}
		}
	}

	switch {
	case mask&MaskBzip2 != 0:
		result, err = decodeBzip2(result)
		if err != nil {
			return nil, &CorruptData{Codec: "bzip2", Err: err}
		}
	case mask&MaskZlib != 0:
		result, err = decodeZlib(result)
		if err != nil {
			return nil, &CorruptData{Codec: "zlib", Err: err}
		}
	case mask&MaskPKWare != 0:
		result, err = decodePKWare(result)
		if err != nil {
			return nil, &CorruptData{Codec: "pkware", Err: err}
		}
	}

	if mask&MaskHuffman != 0 {
		result, err = decodeHuffman(result)
		if err != nil {
			return nil, &CorruptData{Codec: "huffman", Err: err}
		}
	}

	if mask&MaskADPCMStereo != 0 {
		result, err = decodeADPCM(result, 2)
		if err != nil {
			return nil, &CorruptData{Codec: "adpcm-stereo", Err: err}
		}
	} else if mask&MaskADPCMMono != 0 {
		result, err = decodeADPCM(result, 1)
		if err != nil {
			return nil, &CorruptData{Codec: "adpcm-mono", Err: err}
		}
	}

	return result, nil
}

// Encode applies the codecs named by mask in apply-order (ADPCM innermost,
// then Huffman, then the primary codec, then sparse outermost) and returns
// the encoded bytes, NOT including the leading mask byte — callers that
// write sectors/units prepend that themselves once they've decided the
// result is worth keeping over verbatim storage.
func Encode(data []byte, mask byte) ([]byte, error) {
	if mask == MaskLZMASentinel {
		return encodeLZMA(data)
	}
	if mask == 0 {
		return data, nil
	}
	if mask&^knownBits != 0 {
		return nil, &UnsupportedCompression{Mask: mask}
	}

	result := data
	var err error

	if mask&MaskADPCMStereo != 0 {
		result, err = encodeADPCM(result, 2)
		if err != nil {
			return nil, &CorruptData{Codec: "adpcm-stereo", Err: err}
		}
	} else if mask&MaskADPCMMono != 0 {
		result, err = encodeADPCM(result, 1)
		if err != nil {
			return nil, &CorruptData{Codec: "adpcm-mono", Err: err}
		}
	}

	if mask&MaskHuffman != 0 {
		result, err = encodeHuffman(result)
		if err != nil {
			return nil, &CorruptData{Codec: "huffman", Err: err}
		}
	}

	switch {
	case mask&MaskBzip2 != 0:
		result, err = encodeBzip2(result)
		if err != nil {
			return nil, &CorruptData{Codec: "bzip2", Err: err}
		}
	case mask&MaskZlib != 0:
		result, err = encodeZlib(result)
		if err != nil {
			return nil, &CorruptData{Codec: "zlib", Err: err}
		}
	case mask&MaskPKWare != 0:
		result, err = encodePKWare(result)
		if err != nil {
			return nil, &CorruptData{Codec: "pkware", Err: err}
		}
	}

	if mask&MaskSparse != 0 {
		result, err = encodeSparse(result)
		if err != nil {
			return nil, &CorruptData{Codec: "sparse", Err: err}
		}
	}

	return result, nil
}

// ValidCombination reports whether mask is one of the patterns the build
// surface is allowed to produce: a single non-ADPCM codec, ADPCM paired
// with one of zlib/PKWARE/Huffman, or sparse wrapping any of the above.
// The LZMA sentinel is valid alone only.
func ValidCombination(mask byte) bool {
	if mask == 0 || mask == MaskLZMASentinel {
		return true
	}

	m := mask
	sparse := m&MaskSparse != 0
	m &^= MaskSparse

	adpcm := 0
	if m&MaskADPCMMono != 0 {
		adpcm++
		m &^= MaskADPCMMono
	}
	if m&MaskADPCMStereo != 0 {
		adpcm++
		m &^= MaskADPCMStereo
	}
	if adpcm > 1 {
		return false
	}

	primaryBits := 0
	for _, b := range []byte{MaskHuffman, MaskZlib, MaskPKWare, MaskBzip2} {
		if m&b != 0 {
			primaryBits++
			m &^= b
		}
	}

	if m != 0 {
		return false // unknown leftover bit
	}

	if adpcm == 1 {
		// ADPCM must pair with exactly one of zlib/PKWARE/Huffman.
		return primaryBits == 1 && mask&MaskBzip2 == 0
	}

	_ = sparse
	return primaryBits <= 1
}
