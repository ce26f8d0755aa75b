// Package zutil provides whole-buffer zlib inflate and deflate for PNG
// IDAT payloads.
package zutil

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// DefaultLevel is passed through to the deflater when the caller has no
// opinion about the speed/size tradeoff.
const DefaultLevel = zlib.DefaultCompression

// Inflate decompresses a complete zlib stream held in src.
func Inflate(src []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("zlib inflate: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("zlib inflate: %w", err)
	}
	return out, nil
}

// InflateTo decompresses src into dst and verifies the output fills dst
// exactly. The raster assembly depends on every strip inflating to the
// same known size, so a short or long stream is an error, not a partial
// success.
func InflateTo(dst, src []byte) error {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return fmt.Errorf("zlib inflate: %w", err)
	}
	defer r.Close()

	n, err := io.ReadFull(r, dst)
	if err != nil {
		return fmt.Errorf("zlib inflate: read %d of %d bytes: %w", n, len(dst), err)
	}

	// Anything left over means the stream was larger than dst.
	var extra [1]byte
	if m, _ := r.Read(extra[:]); m != 0 {
		return fmt.Errorf("zlib inflate: stream exceeds %d bytes", len(dst))
	}
	return nil
}

// Deflate compresses src at the given zlib level (0-9, or DefaultLevel).
func Deflate(src []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("zlib deflate: %w", err)
	}
	if _, err := w.Write(src); err != nil {
		w.Close()
		return nil, fmt.Errorf("zlib deflate: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zlib deflate: %w", err)
	}
	return buf.Bytes(), nil
}
