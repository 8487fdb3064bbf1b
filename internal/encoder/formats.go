package encoder

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/chai2010/webp"

	// Decoders for the accepted input formats.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// EncodeImage serializes img in format. Quality is ignored by lossless
// formats; for PNG a quality below 50 selects the fastest compression level.
func EncodeImage(img image.Image, format string, quality int, lossless bool) ([]byte, error) {
	var buf bytes.Buffer
	var err error

	switch NormalizeFormat(format) {
	case "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: clampQuality(quality)})
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if !lossless && quality > 0 && quality < 50 {
			enc.CompressionLevel = png.BestSpeed
		}
		err = enc.Encode(&buf, img)
	case "gif":
		err = gif.Encode(&buf, img, &gif.Options{NumColors: 256})
	case "webp":
		err = webp.Encode(&buf, img, &webp.Options{Lossless: lossless, Quality: float32(clampQuality(quality))})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func clampQuality(q int) int {
	switch {
	case q <= 0:
		return 80
	case q > 100:
		return 100
	default:
		return q
	}
}
