// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package codec

import (
	"encoding/binary"
	"fmt"
)

// MPQ's ADPCM codec compresses 16-bit PCM audio using a step-index delta
// scheme in the IMA-ADPCM family, hand-rolled here. Input/output PCM is
// little-endian int16 samples, interleaved by channel (channels is 1 for
// mono, 2 for stereo). Output starts with a 4-byte little-endian total
// sample count, then one initial predictor/step-index pair per channel so
// the decoder can seed its state identically, followed by one nibble per
// remaining sample packed two to a byte.
var adpcmStepTable = [...]int{
	7, 8, 9, 10, 11, 12, 13, 14, 16, 17, 19, 21, 23, 25, 28, 31,
	34, 37, 41, 45, 50, 55, 60, 66, 73, 80, 88, 97, 107, 118, 130, 143,
	157, 173, 190, 209, 230, 253, 279, 307, 337, 371, 408, 449, 494, 544, 598, 658,
	724, 796, 876, 963, 1060, 1166, 1282, 1411, 1552, 1707, 1878, 2066, 2272, 2499, 2749, 3024,
	3327, 3660, 4026, 4428, 4871, 5358, 5894, 6484, 7132, 7845, 8630, 9493, 10442, 11487, 12635, 13899,
	15289, 16818, 18500, 20350, 22385, 24623, 27086, 29794, 32767,
}

var adpcmIndexTable = [...]int{-1, -1, -1, -1, 2, 4, 6, 8}

type adpcmChannelState struct {
	predictor int
	index     int
}

func (s *adpcmChannelState) encodeSample(sample int16) byte {
	step := adpcmStepTable[s.index]
	diff := int(sample) - s.predictor

	nibble := 0
	if diff < 0 {
		nibble = 8
		diff = -diff
	}

	testStep := step
	if diff >= testStep {
		nibble |= 4
		diff -= testStep
	}
	testStep >>= 1
	if diff >= testStep {
		nibble |= 2
		diff -= testStep
	}
	testStep >>= 1
	if diff >= testStep {
		nibble |= 1
	}

	s.applyNibble(nibble)
	return byte(nibble)
}

func (s *adpcmChannelState) applyNibble(nibble int) {
	step := adpcmStepTable[s.index]
	diff := step >> 3
	if nibble&4 != 0 {
		diff += step
	}
	if nibble&2 != 0 {
		diff += step >> 1
	}
	if nibble&1 != 0 {
		diff += step >> 2
	}
	if nibble&8 != 0 {
		s.predictor -= diff
	} else {
		s.predictor += diff
	}

	if s.predictor > 32767 {
		s.predictor = 32767
	} else if s.predictor < -32768 {
		s.predictor = -32768
	}

	s.index += adpcmIndexTable[nibble&7]
	if s.index < 0 {
		s.index = 0
	} else if s.index >= len(adpcmStepTable) {
		s.index = len(adpcmStepTable) - 1
	}
}

func encodeADPCM(data []byte, channels int) ([]byte, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("pcm data length %d is not a multiple of 2", len(data))
	}
	samples := len(data) / 2
	pcm := make([]int16, samples)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}

	states := make([]adpcmChannelState, channels)
	out := make([]byte, 0, len(data)/2+4*channels+4)

	sampleCountHeader := make([]byte, 4)
	binary.LittleEndian.PutUint32(sampleCountHeader, uint32(samples))
	out = append(out, sampleCountHeader...)

	for ch := 0; ch < channels; ch++ {
		if ch < samples {
			states[ch].predictor = int(pcm[ch])
		}
		head := make([]byte, 4)
		binary.LittleEndian.PutUint16(head[0:], uint16(int16(states[ch].predictor)))
		binary.LittleEndian.PutUint16(head[2:], uint16(states[ch].index))
		out = append(out, head...)
	}

	var nibbleBuf byte
	haveHalf := false
	for i := channels; i < samples; i++ {
		ch := (i - channels) % channels
		nibble := states[ch].encodeSample(pcm[i])
		if !haveHalf {
			nibbleBuf = nibble
			haveHalf = true
		} else {
			out = append(out, nibbleBuf|nibble<<4)
			haveHalf = false
		}
	}
	if haveHalf {
		out = append(out, nibbleBuf)
	}

	return out, nil
}

func decodeADPCM(data []byte, channels int) ([]byte, error) {
	if len(data) < 4+4*channels {
		return nil, fmt.Errorf("adpcm header truncated: have %d bytes, need %d", len(data), 4+4*channels)
	}

	totalSamples := int(binary.LittleEndian.Uint32(data))
	data = data[4:]

	states := make([]adpcmChannelState, channels)
	pcm := make([]int16, channels)
	for ch := 0; ch < channels && ch < totalSamples; ch++ {
		states[ch].predictor = int(int16(binary.LittleEndian.Uint16(data[ch*4:])))
		states[ch].index = int(binary.LittleEndian.Uint16(data[ch*4+2:]))
		pcm[ch] = int16(states[ch].predictor)
	}
	if totalSamples < channels {
		pcm = pcm[:totalSamples]
	}

	nibbles := data[4*channels:]
	remaining := totalSamples - channels
	sampleIdx := channels
	nibbleIdx := 0
	for remaining > 0 {
		byteIdx := nibbleIdx / 2
		if byteIdx >= len(nibbles) {
			return nil, fmt.Errorf("truncated adpcm nibble stream: need %d more samples", remaining)
		}
		var nibble byte
		if nibbleIdx%2 == 0 {
			nibble = nibbles[byteIdx] & 0x0F
		} else {
			nibble = nibbles[byteIdx] >> 4
		}
		nibbleIdx++

		ch := (sampleIdx - channels) % channels
		states[ch].applyNibble(int(nibble))
		pcm = append(pcm, int16(states[ch].predictor))
		sampleIdx++
		remaining--
	}

	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out, nil
}
