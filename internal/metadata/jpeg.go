package metadata

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

var (
	jpegExifHeader = []byte("Exif\x00\x00")
	jpegXmpHeader  = []byte("http://ns.adobe.com/xap/1.0/\x00")
	jpegICCHeader  = []byte("ICC_PROFILE\x00")
)

// Keep selects which metadata blocks survive a re-encode.
type Keep struct {
	Exif bool // EXIF, XMP and PNG text/time chunks
	ICC  bool
}

func (k Keep) any() bool { return k.Exif || k.ICC }

// ExtractJPEGSegments returns the raw APPn segments (marker, length and
// payload) of a JPEG stream selected by keep, in file order. Scanning stops at
// the first SOS marker.
func ExtractJPEGSegments(r io.Reader, keep Keep) ([][]byte, error) {
	if !keep.any() {
		return nil, nil
	}
	br := bufio.NewReader(r)

	soi := make([]byte, 2)
	if _, err := io.ReadFull(br, soi); err != nil {
		return nil, err
	}
	if soi[0] != 0xff || soi[1] != 0xd8 {
		return nil, fmt.Errorf("invalid JPEG SOI")
	}

	var segments [][]byte
	for {
		markerPrefix, err := br.ReadByte()
		if err != nil {
			return nil, err
		}
		for markerPrefix != 0xff {
			markerPrefix, err = br.ReadByte()
			if err != nil {
				return nil, err
			}
		}

		marker, err := br.ReadByte()
		if err != nil {
			return nil, err
		}
		for marker == 0xff {
			marker, err = br.ReadByte()
			if err != nil {
				return nil, err
			}
		}

		if marker == 0xd9 || marker == 0xda { // EOI, SOS
			return segments, nil
		}
		if marker == 0x01 || (marker >= 0xd0 && marker <= 0xd7) {
			continue
		}

		lenBuf := make([]byte, 2)
		if _, err := io.ReadFull(br, lenBuf); err != nil {
			return nil, err
		}
		segLen := int(binary.BigEndian.Uint16(lenBuf))
		if segLen < 2 {
			return nil, fmt.Errorf("invalid JPEG segment length")
		}
		payload := make([]byte, segLen-2)
		if _, err := io.ReadFull(br, payload); err != nil {
			return nil, err
		}

		if keepJPEGSegment(marker, payload, keep) {
			seg := make([]byte, 0, segLen+2)
			seg = append(seg, 0xff, marker)
			seg = append(seg, lenBuf...)
			seg = append(seg, payload...)
			segments = append(segments, seg)
		}
	}
}

func keepJPEGSegment(marker byte, payload []byte, keep Keep) bool {
	switch marker {
	case 0xe1:
		return keep.Exif && (bytes.HasPrefix(payload, jpegExifHeader) || bytes.HasPrefix(payload, jpegXmpHeader))
	case 0xe2:
		return keep.ICC && bytes.HasPrefix(payload, jpegICCHeader)
	}
	return false
}

// InjectJPEGSegments inserts raw segments directly after the SOI marker of data.
func InjectJPEGSegments(data []byte, segments [][]byte) ([]byte, error) {
	if len(segments) == 0 {
		return data, nil
	}
	if len(data) < 2 || data[0] != 0xff || data[1] != 0xd8 {
		return nil, fmt.Errorf("invalid JPEG SOI")
	}

	size := len(data)
	for _, seg := range segments {
		size += len(seg)
	}
	out := make([]byte, 0, size)
	out = append(out, data[:2]...)
	for _, seg := range segments {
		out = append(out, seg...)
	}
	out = append(out, data[2:]...)
	return out, nil
}
