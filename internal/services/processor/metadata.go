package processor

import (
	"bytes"
	"image"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/phambaophuc/image-relay/internal/models"
	"github.com/rwcarlsen/goexif/exif"
)

// extractMetadata collects best-effort information. Any extraction that
// fails simply leaves its keys out.
func (p *ImageProcessor) extractMetadata(data []byte, format models.ImageFormat, img image.Image) map[string]string {
	b := img.Bounds()
	meta := map[string]string{
		"source_format":   string(format),
		"original_width":  strconv.Itoa(b.Dx()),
		"original_height": strconv.Itoa(b.Dy()),
		"source_size":     strconv.Itoa(len(data)),
		"has_alpha":       strconv.FormatBool(hasAlpha(img)),
	}

	if format == models.FormatJPEG || format == models.FormatTIFF {
		addExif(meta, data)
	}

	if n := approximateColorCount(img); n > 0 {
		meta["color_count_approx"] = strconv.Itoa(n)
	}

	return meta
}

func addExif(meta map[string]string, data []byte) {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return
	}

	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil {
			meta["orientation"] = strconv.Itoa(v)
		}
	}
	if tag, err := x.Get(exif.Make); err == nil {
		if v, err := tag.StringVal(); err == nil && v != "" {
			meta["camera_make"] = v
		}
	}
	if tag, err := x.Get(exif.Model); err == nil {
		if v, err := tag.StringVal(); err == nil && v != "" {
			meta["camera_model"] = v
		}
	}
	if tm, err := x.DateTime(); err == nil {
		meta["taken_at"] = tm.UTC().Format("2006-01-02T15:04:05Z")
	}
}

// approximateColorCount counts distinct colors on a small thumbnail with
// channels quantized to 5 bits.
func approximateColorCount(img image.Image) int {
	b := img.Bounds()
	if b.Empty() {
		return 0
	}
	thumb := imaging.Fit(img, thumbnailSide, thumbnailSide, imaging.Box)

	seen := make(map[uint32]struct{})
	tb := thumb.Bounds()
	for y := tb.Min.Y; y < tb.Max.Y; y++ {
		for x := tb.Min.X; x < tb.Max.X; x++ {
			i := thumb.PixOffset(x, y)
			r, g, bl := thumb.Pix[i]>>3, thumb.Pix[i+1]>>3, thumb.Pix[i+2]>>3
			seen[uint32(r)<<10|uint32(g)<<5|uint32(bl)] = struct{}{}
		}
	}
	return len(seen)
}
