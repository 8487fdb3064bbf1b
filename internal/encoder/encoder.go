// Package encoder turns one source image into encoded output bytes.
//
// Encode is a pure function of the file contents and Options: it decodes the
// source, applies resize and sharpen, encodes to the requested format and,
// when metadata is kept, carries the source's EXIF/ICC blocks across. Every
// failure is reported as an *EncodeError so callers can scope it to one file.
package encoder

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"

	"github.com/LucaCarlo/WebPBatch-Pro/internal/metadata"
	"github.com/LucaCarlo/WebPBatch-Pro/pkg/imgutil"
)

// Encoder is the default image encoder. The zero value is ready to use.
type Encoder struct{}

// New returns an Encoder.
func New() *Encoder { return &Encoder{} }

// Encode reads path and encodes it according to opts.
func (e *Encoder) Encode(ctx context.Context, path string, opts Options) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, &EncodeError{Path: path, Err: err}
	}
	res, err := EncodeBytes(data, opts)
	if err != nil {
		return Result{}, &EncodeError{Path: path, Err: err}
	}
	return res, nil
}

// EncodeBytes encodes an in-memory source image.
func EncodeBytes(data []byte, opts Options) (Result, error) {
	kind := imgutil.Detect(data)
	if kind == imgutil.KindUnknown {
		return Result{}, ErrUnsupportedInput
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("decode %s: %w", kind, err)
	}

	img = resize(img, opts.Resize)
	if opts.Sharpen {
		img = sharpen(img)
	}

	format := NormalizeFormat(opts.Format)
	out, err := EncodeImage(img, format, opts.Quality, opts.Lossless)
	if err != nil {
		return Result{}, err
	}

	out, err = carry(data, kind, out, format, opts)
	if err != nil {
		return Result{}, fmt.Errorf("carry metadata: %w", err)
	}

	res := Result{
		Data:   out,
		Width:  img.Bounds().Dx(),
		Height: img.Bounds().Dy(),
		Format: format,
	}
	if analysis, err := metadata.Analyze(data, kind); err == nil {
		res.MetadataTags = analysis.Leaks()
	}
	return res, nil
}

// carry copies metadata blocks from the source into out when the source and
// output container match. Privacy mode drops EXIF even when metadata is kept.
func carry(src []byte, kind imgutil.Kind, out []byte, format string, opts Options) ([]byte, error) {
	keep := metadata.Keep{
		Exif: !opts.StripMetadata && !opts.PrivacyMode,
		ICC:  opts.KeepICC || (!opts.StripMetadata && !opts.PrivacyMode),
	}
	switch {
	case kind == imgutil.KindJPEG && format == "jpeg":
		segments, err := metadata.ExtractJPEGSegments(bytes.NewReader(src), keep)
		if err != nil {
			return nil, err
		}
		return metadata.InjectJPEGSegments(out, segments)
	case kind == imgutil.KindPNG && format == "png":
		chunks, err := metadata.ExtractPNGChunks(bytes.NewReader(src), keep)
		if err != nil {
			return nil, err
		}
		return metadata.InjectPNGChunks(out, chunks)
	default:
		return out, nil
	}
}
