package png

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

const (
	lenWidth  = 4
	typeWidth = 4
	crcWidth  = 4
	// Length(4) + Type(4) preceding the payload on the wire.
	headerWidth = lenWidth + typeWidth

	// SignatureSize is the length of the PNG file signature.
	SignatureSize = 8
)

// signature is the 8-byte sequence every PNG datastream starts with.
var signature = [SignatureSize]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

var ErrTruncated = errors.New("png: chunk extends past end of buffer")

// CRCMismatchError reports a chunk whose stored CRC does not match the
// checksum computed over type and payload.
type CRCMismatchError struct {
	ChunkType string
	Expected  uint32 // stored in the chunk
	Computed  uint32
}

func (e *CRCMismatchError) Error() string {
	return fmt.Sprintf("png: %s crc mismatch: stored %#08x, computed %#08x",
		e.ChunkType, e.Expected, e.Computed)
}

// IsPNG reports whether buf starts with the PNG signature.
func IsPNG(buf []byte) bool {
	if len(buf) < SignatureSize {
		return false
	}
	return [SignatureSize]byte(buf[:SignatureSize]) == signature
}

// RawChunk is one unparsed chunk: Length and CRC are host byte order in
// memory, big endian on the wire. Data aliases the buffer it was read from.
type RawChunk struct {
	Length uint32
	Type   [typeWidth]byte
	Data   []byte
	CRC    uint32
}

// TypeString returns the chunk type as ASCII ("IHDR", "IDAT", ...).
func (c *RawChunk) TypeString() string {
	return string(c.Type[:])
}

// ReadChunk decodes the chunk starting at offset and returns it together
// with the offset of the next chunk. The stored CRC is kept verbatim;
// checking it is a separate step (VerifyCRC).
func ReadChunk(buf []byte, offset int) (RawChunk, int, error) {
	var c RawChunk
	if offset+headerWidth > len(buf) {
		return c, offset, ErrTruncated
	}
	c.Length = binary.BigEndian.Uint32(buf[offset : offset+lenWidth])
	copy(c.Type[:], buf[offset+lenWidth:offset+headerWidth])

	end := offset + headerWidth + int(c.Length) + crcWidth
	if end > len(buf) || end < offset {
		return c, offset, ErrTruncated
	}

	// Zero-length chunks (IEND) carry no payload; keep Data nil rather
	// than pointing an empty slice into the buffer.
	if c.Length > 0 {
		c.Data = buf[offset+headerWidth : end-crcWidth]
	}
	c.CRC = binary.BigEndian.Uint32(buf[end-crcWidth : end])
	return c, end, nil
}

// ComputeCRC returns the CRC-32 (IEEE) over type followed by payload,
// which is what the wire CRC field must hold.
func (c *RawChunk) ComputeCRC() uint32 {
	h := crc32.NewIEEE()
	h.Write(c.Type[:])
	h.Write(c.Data)
	return h.Sum32()
}

// VerifyCRC compares the stored CRC against the computed one. A mismatch
// is returned as *CRCMismatchError so callers can decide how hard to fail.
func (c *RawChunk) VerifyCRC() error {
	computed := c.ComputeCRC()
	if computed != c.CRC {
		return &CRCMismatchError{
			ChunkType: c.TypeString(),
			Expected:  c.CRC,
			Computed:  computed,
		}
	}
	return nil
}

// WriteChunk serializes length, type, payload and a freshly computed CRC,
// all multi-byte fields big endian.
func WriteChunk(w io.Writer, c *RawChunk) error {
	var header [headerWidth]byte
	binary.BigEndian.PutUint32(header[:lenWidth], uint32(len(c.Data)))
	copy(header[lenWidth:], c.Type[:])
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if len(c.Data) > 0 {
		if _, err := w.Write(c.Data); err != nil {
			return err
		}
	}
	var trailer [crcWidth]byte
	binary.BigEndian.PutUint32(trailer[:], c.ComputeCRC())
	_, err := w.Write(trailer[:])
	return err
}
