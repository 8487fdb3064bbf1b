// Package overlay composites a text or image watermark onto encoded images.
package overlay

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/LucaCarlo/WebPBatch-Pro/internal/encoder"
	"github.com/LucaCarlo/WebPBatch-Pro/internal/metadata"
	"github.com/LucaCarlo/WebPBatch-Pro/pkg/imgutil"
)

// Position anchors the watermark inside the image.
type Position string

const (
	TopLeft      Position = "top-left"
	TopCenter    Position = "top-center"
	TopRight     Position = "top-right"
	Center       Position = "center"
	BottomLeft   Position = "bottom-left"
	BottomCenter Position = "bottom-center"
	BottomRight  Position = "bottom-right"
)

const (
	defaultOpacity = 0.5
	defaultMargin  = 20
	defaultScale   = 0.2
	defaultColor   = "#ffffff"
)

// Spec describes one watermark. Either Text or ImagePath must be set for the
// overlay to have any effect.
type Spec struct {
	Text      string   `toml:"text"`
	ImagePath string   `toml:"image_path"`
	Opacity   float64  `toml:"opacity"`
	Position  Position `toml:"position"`
	Margin    int      `toml:"margin"`
	Scale     float64  `toml:"scale"`
	FontSize  int      `toml:"font_size"`
	Color     string   `toml:"color"`
}

// Active reports whether the spec draws anything.
func (s *Spec) Active() bool {
	return s != nil && (strings.TrimSpace(s.Text) != "" || strings.TrimSpace(s.ImagePath) != "")
}

// Frame describes the encoded image the overlay is applied to: its pixel
// size and the encoder settings the result is re-encoded with.
type Frame struct {
	Width    int
	Height   int
	Quality  int
	Lossless bool
}

// Renderer decodes encoded bytes, draws the watermark and re-encodes in the
// same format. Metadata blocks present in the input survive the round trip.
type Renderer struct{}

// Apply returns data with the watermark drawn on it, re-encoded at the
// frame's quality. An inactive spec returns data unchanged.
func (r Renderer) Apply(data []byte, frame Frame, spec *Spec) ([]byte, error) {
	if !spec.Active() {
		return data, nil
	}

	kind := imgutil.Detect(data)
	format, err := formatFor(kind)
	if err != nil {
		return nil, err
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode for overlay: %w", err)
	}
	bounds := src.Bounds()
	if frame.Width <= 0 || frame.Height <= 0 {
		frame.Width, frame.Height = bounds.Dx(), bounds.Dy()
	}

	mark, err := r.render(frame, spec)
	if err != nil {
		return nil, err
	}

	at := place(frame, mark.Bounds().Size(), spec).Add(bounds.Min)
	canvas := imaging.Overlay(src, mark, at, clamp01(opacityOf(spec)))

	out, err := encoder.EncodeImage(canvas, format, qualityOf(frame), frame.Lossless)
	if err != nil {
		return nil, err
	}
	return carryMetadata(data, out, kind)
}

func qualityOf(frame Frame) int {
	if frame.Quality <= 0 {
		return 80
	}
	return frame.Quality
}

func (r Renderer) render(size Frame, spec *Spec) (image.Image, error) {
	if strings.TrimSpace(spec.Text) != "" {
		return renderText(size, spec)
	}
	return renderImage(size, spec)
}

func renderText(size Frame, spec *Spec) (image.Image, error) {
	fill, err := parseHexColor(colorOf(spec))
	if err != nil {
		return nil, err
	}

	face := basicfont.Face7x13
	drawer := &font.Drawer{Face: face}
	textWidth := drawer.MeasureString(spec.Text).Ceil()
	lineHeight := face.Metrics().Height.Ceil()

	small := image.NewRGBA(image.Rect(0, 0, textWidth, lineHeight))
	drawer.Dst = small
	drawer.Src = image.NewUniform(fill)
	drawer.Dot = fixed.P(0, face.Metrics().Ascent.Ceil())
	drawer.DrawString(spec.Text)

	fontSize := spec.FontSize
	if fontSize <= 0 {
		fontSize = max(16, size.Width*4/100)
	}
	scale := float64(fontSize) / float64(lineHeight)
	out := image.NewRGBA(image.Rect(0, 0, max(1, int(float64(textWidth)*scale)), max(1, int(float64(lineHeight)*scale))))
	draw.NearestNeighbor.Scale(out, out.Bounds(), small, small.Bounds(), draw.Over, nil)
	return out, nil
}

func renderImage(size Frame, spec *Spec) (image.Image, error) {
	f, err := os.Open(spec.ImagePath)
	if err != nil {
		return nil, fmt.Errorf("open watermark image: %w", err)
	}
	defer f.Close()

	mark, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode watermark image: %w", err)
	}

	scale := spec.Scale
	if scale <= 0 {
		scale = defaultScale
	}
	b := mark.Bounds()
	width := int(float64(size.Width) * scale)
	if width <= 0 || width >= b.Dx() {
		return mark, nil
	}
	return imaging.Resize(mark, width, 0, imaging.Lanczos), nil
}

func place(size Frame, mark image.Point, spec *Spec) image.Point {
	margin := spec.Margin
	if margin <= 0 {
		margin = defaultMargin
	}
	right := max(0, size.Width-mark.X-margin)
	bottom := max(0, size.Height-mark.Y-margin)
	centerX := max(0, (size.Width-mark.X)/2)
	centerY := max(0, (size.Height-mark.Y)/2)

	switch spec.Position {
	case TopLeft:
		return image.Pt(margin, margin)
	case TopRight:
		return image.Pt(right, margin)
	case TopCenter:
		return image.Pt(centerX, margin)
	case Center:
		return image.Pt(centerX, centerY)
	case BottomLeft:
		return image.Pt(margin, bottom)
	case BottomCenter:
		return image.Pt(centerX, bottom)
	default:
		return image.Pt(right, bottom)
	}
}

func formatFor(kind imgutil.Kind) (string, error) {
	switch kind {
	case imgutil.KindJPEG:
		return "jpeg", nil
	case imgutil.KindPNG:
		return "png", nil
	case imgutil.KindGIF:
		return "gif", nil
	case imgutil.KindWebP:
		return "webp", nil
	default:
		return "", errors.New("overlay: unsupported image format")
	}
}

func carryMetadata(src, out []byte, kind imgutil.Kind) ([]byte, error) {
	keep := metadata.Keep{Exif: true, ICC: true}
	switch kind {
	case imgutil.KindJPEG:
		segments, err := metadata.ExtractJPEGSegments(bytes.NewReader(src), keep)
		if err != nil {
			return nil, err
		}
		return metadata.InjectJPEGSegments(out, segments)
	case imgutil.KindPNG:
		chunks, err := metadata.ExtractPNGChunks(bytes.NewReader(src), keep)
		if err != nil {
			return nil, err
		}
		return metadata.InjectPNGChunks(out, chunks)
	default:
		return out, nil
	}
}

func opacityOf(spec *Spec) float64 {
	if spec.Opacity <= 0 {
		return defaultOpacity
	}
	return spec.Opacity
}

func colorOf(spec *Spec) string {
	if strings.TrimSpace(spec.Color) == "" {
		return defaultColor
	}
	return spec.Color
}

func parseHexColor(value string) (color.RGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(value), "#")
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("overlay color: expected #rrggbb, got %q", value)
	}
	n, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("overlay color: %w", err)
	}
	return color.RGBA{R: uint8(n >> 16), G: uint8(n >> 8), B: uint8(n), A: 0xff}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
