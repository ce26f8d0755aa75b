package png

import (
	"fmt"
	"io"
)

// DumpChunks prints every chunk in buf for debugging: type, payload
// length, and whether the stored CRC verifies. It does not insist on the
// three-chunk layout, so it works on arbitrary PNGs.
func DumpChunks(w io.Writer, buf []byte) error {
	if !IsPNG(buf) {
		return ErrNotPNG
	}

	offset := SignatureSize
	chunkNum := 0

	for offset < len(buf) {
		chunk, next, err := ReadChunk(buf, offset)
		if err != nil {
			return fmt.Errorf("reading chunk %d: %w", chunkNum, err)
		}

		crcState := "ok"
		if chunk.VerifyCRC() != nil {
			crcState = "MISMATCH"
		}

		fmt.Fprintf(w, "Chunk #%d\n", chunkNum)
		fmt.Fprintf(w, "  Type:   %s\n", chunk.TypeString())
		fmt.Fprintf(w, "  Length: %d\n", chunk.Length)
		fmt.Fprintf(w, "  CRC:    %#08x (%s)\n", chunk.CRC, crcState)

		if chunk.Type == typeIHDR && chunk.Length == IHDRDataSize {
			var h IHDRData
			h.Decode(chunk.Data)
			fmt.Fprintf(w, "  IHDR:   %dx%d depth=%d color=%d interlace=%d\n",
				h.Width, h.Height, h.BitDepth, h.ColorType, h.Interlace)
		}
		fmt.Fprintln(w)

		offset = next
		chunkNum++
	}

	fmt.Fprintf(w, "Total: %d chunks\n", chunkNum)
	return nil
}
