// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package crypt

import "testing"

func TestHashTriples(t *testing.T) {
	if got := Hash("(hash table)", FileKey); got != 0xC3AF3770 {
		t.Errorf("(hash table) FileKey = 0x%08X, want 0xC3AF3770", got)
	}
	if got := Hash("(block table)", FileKey); got != 0xEC83B3A3 {
		t.Errorf("(block table) FileKey = 0x%08X, want 0xEC83B3A3", got)
	}
	if got := Hash("(listfile)", NameA); got != 0x7E4A7FE4 {
		t.Errorf("(listfile) NameA = 0x%08X, want 0x7E4A7FE4", got)
	}
	if got := Hash("(listfile)", NameB); got != 0xCABC04F6 {
		t.Errorf("(listfile) NameB = 0x%08X, want 0xCABC04F6", got)
	}
	if got := Hash("(listfile)", TableOffset); got != 0xFD5F6EEA {
		t.Errorf("(listfile) TableOffset = 0x%08X, want 0xFD5F6EEA", got)
	}
}

func TestClassicLookupHashes(t *testing.T) {
	name := `unit\neutral\chicken.mdx`
	if got := Hash(name, NameA); got != 0xB785DF90 {
		t.Errorf("NameA = 0x%08X, want 0xB785DF90", got)
	}
	if got := Hash(name, NameB); got != 0x0936D252 {
		t.Errorf("NameB = 0x%08X, want 0x0936D252", got)
	}
}

func TestHashCaseAndSlashInvariance(t *testing.T) {
	variants := []string{
		`Data\File.txt`,
		`data\file.txt`,
		`DATA\FILE.TXT`,
		`Data/File.txt`,
		`data/FILE.txt`,
	}
	for _, v := range []uint32{TableOffset, NameA, NameB, FileKey} {
		want := Hash(variants[0], v)
		for _, name := range variants[1:] {
			if got := Hash(name, v); got != want {
				t.Errorf("hash variant %d: Hash(%q) = 0x%08X, want 0x%08X (from %q)", v, name, got, want, variants[0])
			}
		}
	}
}

func TestStreamCipherVector(t *testing.T) {
	plain := []uint32{
		0x12345678, 0x9ABCDEF0, 0x13579BDF, 0x2468ACE0,
		0xFEDCBA98, 0x76543210, 0xF0DEBC9A, 0xE1C3A597,
	}
	wantCipher := []uint32{
		0x6DBB9D94, 0x20F0AF34, 0x3A73EA6F, 0x8E82A467,
		0x5F11FC9B, 0xD9BE74FF, 0x82071B61, 0xF1E4D305,
	}
	const key = 0xC1EB1CEF

	buf := append([]uint32(nil), plain...)
	EncryptWords(buf, key)
	for i := range buf {
		if buf[i] != wantCipher[i] {
			t.Fatalf("encrypt[%d] = 0x%08X, want 0x%08X", i, buf[i], wantCipher[i])
		}
	}

	DecryptWords(buf, key)
	for i := range buf {
		if buf[i] != plain[i] {
			t.Fatalf("decrypt[%d] = 0x%08X, want 0x%08X", i, buf[i], plain[i])
		}
	}
}

func TestCipherRoundTripArbitraryKeysAndSizes(t *testing.T) {
	keys := []uint32{0, 1, 0xDEADBEEF, 0xFFFFFFFF, 0x7FED7FED}
	sizes := []int{0, 1, 2, 3, 4, 5, 17, 4096}

	for _, key := range keys {
		for _, size := range sizes {
			data := make([]byte, size)
			for i := range data {
				data[i] = byte(i*31 + 7)
			}
			orig := append([]byte(nil), data...)

			EncryptBytes(data, key)
			DecryptBytes(data, key)

			for i := range data {
				if data[i] != orig[i] {
					t.Fatalf("key=0x%X size=%d: round trip mismatch at byte %d: got %d want %d", key, size, i, data[i], orig[i])
				}
			}
		}
	}
}

func TestJenkinsHashDeterministic(t *testing.T) {
	a := JenkinsHash(`Data\File.txt`)
	b := JenkinsHash(`data/file.txt`)
	if a != b {
		t.Errorf("JenkinsHash not case/slash invariant: %x != %x", a, b)
	}
	if JenkinsHash("") == JenkinsHash("x") {
		t.Errorf("JenkinsHash collided on trivially distinct inputs")
	}
}

func TestCRC32KnownVectors(t *testing.T) {
	if got := CRC32(nil); got != 0 {
		t.Errorf("CRC32(nil) = 0x%08X, want 0", got)
	}
	if got := CRC32([]byte("123456789")); got != 0xCBF43926 {
		t.Errorf("CRC32(check string) = 0x%08X, want 0xCBF43926", got)
	}
}

func TestCRC32DetectsPerturbation(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	want := CRC32(data)
	for i := range data {
		perturbed := append([]byte(nil), data...)
		perturbed[i] ^= 0xFF
		if CRC32(perturbed) == want {
			t.Fatalf("CRC32 failed to detect single-byte perturbation at index %d", i)
		}
	}
}
