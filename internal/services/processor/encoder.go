package processor

import (
	"image"
	"image/png"
	"io"

	"github.com/disintegration/imaging"
	"github.com/phambaophuc/image-relay/internal/models"
)

func (p *ImageProcessor) encodeImage(w io.Writer, img image.Image, format models.ImageFormat, quality int) error {
	switch format {
	case models.FormatPNG:
		return imaging.Encode(w, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
	case models.FormatGIF:
		return imaging.Encode(w, img, imaging.GIF)
	case models.FormatBMP:
		return imaging.Encode(w, img, imaging.BMP)
	case models.FormatTIFF:
		return imaging.Encode(w, img, imaging.TIFF)
	default:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	}
}
