package processor

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// optimize converts to opaque RGB and scales down to the optimization
// bounds, preserving aspect ratio. Images already inside the bounds keep
// their size.
func (p *ImageProcessor) optimize(img image.Image) *image.NRGBA {
	flat := flattenAlpha(img)
	return imaging.Fit(flat, p.opts.OptimizeMaxWidth, p.opts.OptimizeMaxHeight, imaging.Lanczos)
}

// flattenAlpha composites img onto a white background when it carries
// transparency; other color models are converted to NRGBA as-is.
func flattenAlpha(img image.Image) *image.NRGBA {
	if !hasAlpha(img) {
		return imaging.Clone(img)
	}
	b := img.Bounds()
	background := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(background, img, image.Pt(0, 0), 1.0)
}

func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return true
}
