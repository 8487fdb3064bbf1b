package encoder

import (
	"image"

	"github.com/disintegration/imaging"
)

// resize scales src according to r without ever enlarging it.
func resize(src image.Image, r Resize) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return src
	}

	switch r.Mode {
	case ResizeLongEdge:
		if r.LongEdge <= 0 {
			return src
		}
		if w >= h {
			return scaleTo(src, b, fit(w, h, r.LongEdge, 0))
		}
		return scaleTo(src, b, fit(w, h, 0, r.LongEdge))
	case ResizeCustom:
		if r.Width <= 0 && r.Height <= 0 {
			return src
		}
		if r.MaintainAspect {
			return scaleTo(src, b, fit(w, h, r.Width, r.Height))
		}
		tw, th := r.Width, r.Height
		if tw <= 0 || tw > w {
			tw = w
		}
		if th <= 0 || th > h {
			th = h
		}
		return scaleTo(src, b, image.Pt(tw, th))
	case ResizeCrop:
		if r.Width <= 0 || r.Height <= 0 {
			return src
		}
		return cover(src, b, r.Width, r.Height)
	default:
		return src
	}
}

// fit returns the largest size inside maxW x maxH (zero means unbounded) that
// keeps the aspect ratio of w x h and does not exceed it.
func fit(w, h, maxW, maxH int) image.Point {
	scale := 1.0
	if maxW > 0 {
		scale = min(scale, float64(maxW)/float64(w))
	}
	if maxH > 0 {
		scale = min(scale, float64(maxH)/float64(h))
	}
	return image.Pt(max(1, int(float64(w)*scale+0.5)), max(1, int(float64(h)*scale+0.5)))
}

// cover scales src to fill tw x th and crops the centre. The result is
// clipped to the source size rather than enlarged.
func cover(src image.Image, b image.Rectangle, tw, th int) image.Image {
	w, h := b.Dx(), b.Dy()
	scale := max(float64(tw)/float64(w), float64(th)/float64(h))
	if scale > 1 {
		scale = 1
	}
	outW := max(1, min(tw, int(float64(w)*scale+0.5)))
	outH := max(1, min(th, int(float64(h)*scale+0.5)))
	return imaging.Fill(src, outW, outH, imaging.Center, imaging.CatmullRom)
}

func scaleTo(src image.Image, b image.Rectangle, size image.Point) image.Image {
	if size.X == b.Dx() && size.Y == b.Dy() {
		return src
	}
	return imaging.Resize(src, size.X, size.Y, imaging.CatmullRom)
}
