// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package codec

import (
	"bytes"
	"compress/bzip2"
	"io"

	dsnetbzip2 "github.com/dsnet/compress/bzip2"
)

// decodeBzip2 uses the stdlib reader.
func decodeBzip2(data []byte) ([]byte, error) {
	r := bzip2.NewReader(bytes.NewReader(data))
	return io.ReadAll(r)
}

// encodeBzip2 needs a writer, which compress/bzip2 does not provide;
// github.com/dsnet/compress/bzip2 fills that gap.
func encodeBzip2(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := dsnetbzip2.NewWriter(&buf, &dsnetbzip2.WriterConfig{Level: 9})
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
