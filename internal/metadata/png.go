package metadata

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

var pngSignature = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}

// ExtractPNGChunks returns the raw ancillary chunks (length, type, data and
// CRC) of a PNG stream selected by keep, in file order.
func ExtractPNGChunks(r io.Reader, keep Keep) ([][]byte, error) {
	if !keep.any() {
		return nil, nil
	}
	var chunks [][]byte
	err := walkPNG(r, func(name string) bool { return keepPNGChunk(name, keep) }, func(_ string, raw []byte) {
		chunks = append(chunks, raw)
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// walkPNG reads a PNG stream chunk by chunk up to IEND. Chunks accepted by
// want are handed to visit whole; the rest are skipped unread.
func walkPNG(r io.Reader, want func(name string) bool, visit func(name string, raw []byte)) error {
	br := bufio.NewReader(r)

	sig := make([]byte, len(pngSignature))
	if _, err := io.ReadFull(br, sig); err != nil {
		return err
	}
	if !bytes.Equal(sig, pngSignature) {
		return fmt.Errorf("invalid PNG signature")
	}

	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(br, header); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		length := binary.BigEndian.Uint32(header[:4])
		name := string(header[4:8])
		if name == "IEND" {
			return nil
		}
		if !want(name) {
			if _, err := io.CopyN(io.Discard, br, int64(length)+4); err != nil {
				return err
			}
			continue
		}

		raw := make([]byte, 8+int(length)+4)
		copy(raw, header)
		if _, err := io.ReadFull(br, raw[8:]); err != nil {
			return err
		}
		visit(name, raw)
	}
}

func keepPNGChunk(chunkName string, keep Keep) bool {
	switch chunkName {
	case "tEXt", "zTXt", "iTXt", "eXIf", "tIME":
		return keep.Exif
	case "iCCP":
		return keep.ICC
	default:
		return false
	}
}

// InjectPNGChunks inserts raw chunks directly after the IHDR chunk of data,
// which keeps iCCP and eXIf ahead of PLTE and IDAT as the format requires.
func InjectPNGChunks(data []byte, chunks [][]byte) ([]byte, error) {
	if len(chunks) == 0 {
		return data, nil
	}
	if len(data) < len(pngSignature)+8 || !bytes.Equal(data[:len(pngSignature)], pngSignature) {
		return nil, fmt.Errorf("invalid PNG signature")
	}
	if string(data[12:16]) != "IHDR" {
		return nil, fmt.Errorf("PNG does not start with IHDR")
	}
	insertAt := len(pngSignature) + 8 + int(binary.BigEndian.Uint32(data[8:12])) + 4
	if insertAt > len(data) {
		return nil, fmt.Errorf("truncated PNG IHDR")
	}

	size := len(data)
	for _, chunk := range chunks {
		size += len(chunk)
	}
	out := make([]byte, 0, size)
	out = append(out, data[:insertAt]...)
	for _, chunk := range chunks {
		out = append(out, chunk...)
	}
	out = append(out, data[insertAt:]...)
	return out, nil
}
