package processor

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/gabriel-vasile/mimetype"
	"github.com/phambaophuc/image-relay/internal/models"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ValidateImage runs the size, format, security and dimension checks on
// raw bytes and returns the sniffed format.
func (p *ImageProcessor) ValidateImage(ctx context.Context, data []byte, filename string) (models.ImageFormat, error) {
	if int64(len(data)) > p.opts.MaxFileSize {
		return "", models.Errorf(models.KindTooLarge, "validate",
			"file size %d exceeds maximum allowed size %d", len(data), p.opts.MaxFileSize)
	}

	format, err := DetectFormat(data)
	if err != nil {
		return "", err
	}

	if err := p.scanner.Scan(ctx, ScanInput{Data: data, Filename: filename, Format: format}); err != nil {
		return "", models.NewError(models.KindSecurityRejected, "scan", err)
	}

	if err := p.validateDimensions(data); err != nil {
		return "", err
	}

	return format, nil
}

// DetectFormat sniffs the content; the filename is never consulted.
func DetectFormat(data []byte) (models.ImageFormat, error) {
	if len(data) == 0 {
		return "", models.Errorf(models.KindUnsupportedFormat, "validate", "empty image data")
	}
	mt := mimetype.Detect(data)
	format, ok := models.FormatFromMediaType(mt.String())
	if !ok {
		return "", models.Errorf(models.KindUnsupportedFormat, "validate", "unsupported content type %s", mt.String())
	}
	return format, nil
}

func (p *ImageProcessor) validateDimensions(data []byte) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return models.Errorf(models.KindUnsupportedFormat, "validate", "invalid image header: %v", err)
	}

	w, h := cfg.Width, cfg.Height
	if w > p.opts.MaxWidth || h > p.opts.MaxHeight {
		return models.Errorf(models.KindDimensionOutOfRange, "validate",
			"image dimensions %dx%d exceed maximum %dx%d", w, h, p.opts.MaxWidth, p.opts.MaxHeight)
	}
	if w < p.opts.MinWidth || h < p.opts.MinHeight {
		return models.Errorf(models.KindDimensionOutOfRange, "validate",
			"image dimensions %dx%d below minimum %dx%d", w, h, p.opts.MinWidth, p.opts.MinHeight)
	}
	return nil
}
