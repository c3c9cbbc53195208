// Package transport provides helpers shared by the message-queue backends.
package transport

import (
	"bytes"

	"github.com/pierrec/lz4"
)

// CompressValue compresses a message value with lz4
func CompressValue(value []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(value); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecompressValue decompresses an lz4-compressed message value
func DecompressValue(value []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(value))
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
