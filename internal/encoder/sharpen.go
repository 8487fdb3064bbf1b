package encoder

import (
	"image"

	"github.com/disintegration/imaging"
)

// sharpenSigma keeps the unsharp mask light enough for downscaled photos.
const sharpenSigma = 0.5

func sharpen(src image.Image) image.Image {
	return imaging.Sharpen(src, sharpenSigma)
}
