// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package codec

import (
	"bytes"
	"compress/zlib"
	"io"
)

// decodeZlib and encodeZlib wrap stdlib compress/zlib, exactly as
// suprsokr-go-mpq's compress.go does. zlib's own stream framing is
// self-terminating, so no expected-length hint is needed on decode.
func decodeZlib(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func encodeZlib(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
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
