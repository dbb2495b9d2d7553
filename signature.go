// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"crypto"
	"crypto/md5"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/pem"
	"math/big"

	"github.com/pkg/errors"
)

// SignatureStatus is the result of VerifySignature.
type SignatureStatus int

const (
	SignatureNone SignatureStatus = iota
	SignatureWeakValid
	SignatureWeakInvalid
	// SignatureWeakNoKey distinguishes "a weak signature is present but no
	// public key was supplied to check it" from SignatureNone ("no
	// signature present at all").
	SignatureWeakNoKey
	SignatureStrongValid
	SignatureStrongInvalid
	SignatureStrongNoKey
)

const weakSignatureRecordSize = 8 + 64 // 8 zero bytes + 64-byte RSA signature

// strongSignaturePadByte and strongSignaturePadFill implement the custom
// PKCS#1-like padding used by the 2048-bit strong signature: 0x0B followed
// by 235 0xBB bytes followed by the SHA-1 digest.
const (
	strongSignaturePadByte = 0x0B
	strongSignaturePadFill = 0xBB
	strongSignaturePadLen  = 235
)

// ParsePublicKeyPEM loads an RSA public key from PEM bytes (e.g. an
// operator-supplied copy of a known Blizzard signing key), for use with
// VerifySignature's options.
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("mpq: no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "mpq: parsing public key")
	}
	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("mpq: public key is not RSA")
	}
	return rsaKey, nil
}

// VerifyOptions supplies the public keys VerifySignature needs; both may
// be nil/empty, in which case a present signature resolves to
// SignatureWeakNoKey / SignatureStrongNoKey instead of being checked.
type VerifyOptions struct {
	WeakPublicKey  *rsa.PublicKey
	StrongPublicKeys []*rsa.PublicKey
}

// VerifySignature checks the archive's (signature) weak signature. Only
// when no weak signature is present does it look for a strong signature
// immediately following the declared archive end and check that instead.
func (a *Archive) VerifySignature(opts VerifyOptions) (SignatureStatus, error) {
	if status, err := a.verifyWeakSignature(opts.WeakPublicKey); status != SignatureNone {
		return status, err
	}
	return a.verifyStrongSignature(opts.StrongPublicKeys)
}

func (a *Archive) verifyWeakSignature(key *rsa.PublicKey) (SignatureStatus, error) {
	info, err := a.Find("(signature)", LocaleAny)
	if err != nil {
		return SignatureNone, nil
	}
	sigBytes, err := a.readBlock(info.BlockIndex, "(signature)")
	if err != nil || len(sigBytes) < weakSignatureRecordSize {
		return SignatureNone, nil
	}
	if key == nil {
		return SignatureWeakNoKey, nil
	}

	digest, err := a.archiveDigestExcludingBlock(info.BlockIndex, md5.New())
	if err != nil {
		return SignatureWeakInvalid, err
	}

	sigLE := sigBytes[8:72]
	sigBE := reverseBytes(sigLE)
	if err := rsa.VerifyPKCS1v15(key, crypto.MD5, digest, sigBE); err != nil {
		return SignatureWeakInvalid, nil
	}
	return SignatureWeakValid, nil
}

func (a *Archive) verifyStrongSignature(keys []*rsa.PublicKey) (SignatureStatus, error) {
	tail := make([]byte, 4+256)
	offset := a.header.Base + int64(a.header.archiveSize())
	if _, err := a.file.ReadAt(tail, offset); err != nil {
		return SignatureNone, nil
	}
	if binaryLE4(tail[0:4]) != magicStrongSig {
		return SignatureNone, nil
	}
	if len(keys) == 0 {
		return SignatureStrongNoKey, nil
	}

	sigLE := tail[4:260]
	sigBE := reverseBytes(sigLE)

	archiveBytes := make([]byte, a.header.archiveSize())
	if _, err := a.file.ReadAt(archiveBytes, a.header.Base); err != nil {
		return SignatureStrongInvalid, err
	}
	digest := sha1.Sum(archiveBytes)

	for _, key := range keys {
		if verifyStrongPadded(key, sigBE, digest[:]) {
			return SignatureStrongValid, nil
		}
	}
	return SignatureStrongInvalid, nil
}

// verifyStrongPadded performs the raw RSA public-key transform (no ASN.1
// DigestInfo wrapper — crypto/rsa's PKCS#1v1.5 verifier assumes one, but
// the strong-signature scheme uses the custom 0x0B/0xBB padding instead)
// and checks the result against that padding.
func verifyStrongPadded(key *rsa.PublicKey, sigBE []byte, digest []byte) bool {
	c := new(big.Int).SetBytes(sigBE)
	m := new(big.Int).Exp(c, big.NewInt(int64(key.E)), key.N)

	keySize := (key.N.BitLen() + 7) / 8
	decoded := make([]byte, keySize)
	m.FillBytes(decoded)

	want := 1 + strongSignaturePadLen + len(digest)
	if len(decoded) < want {
		return false
	}
	body := decoded[len(decoded)-want:]
	if body[0] != strongSignaturePadByte {
		return false
	}
	for _, b := range body[1 : 1+strongSignaturePadLen] {
		if b != strongSignaturePadFill {
			return false
		}
	}
	return hmacEqual(body[1+strongSignaturePadLen:], digest)
}

func hmacEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

func binaryLE4(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// archiveDigestExcludingBlock hashes the archive's bytes from its base to
// its declared end, with the given block's on-disk bytes zeroed (the
// (signature) file's own stored bytes must be zero when computing the
// digest it itself attests to).
func (a *Archive) archiveDigestExcludingBlock(blockIndex int, h hasher) ([]byte, error) {
	size := a.header.archiveSize()
	buf := make([]byte, size)
	if _, err := a.file.ReadAt(buf, a.header.Base); err != nil {
		return nil, err
	}

	block := a.blockTbl[blockIndex]
	start := int64(block.FilePos)
	end := start + int64(block.CompressedSize)
	if start >= 0 && end <= int64(len(buf)) {
		for i := start; i < end; i++ {
			buf[i] = 0
		}
	}

	h.Write(buf)
	return h.Sum(nil), nil
}

type hasher interface {
	Write(p []byte) (n int, err error)
	Sum(b []byte) []byte
}
