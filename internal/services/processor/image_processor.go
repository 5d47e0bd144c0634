package processor

import (
	"bytes"
	"context"
	"image"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phambaophuc/image-relay/internal/config"
	"github.com/phambaophuc/image-relay/internal/metrics"
	"github.com/phambaophuc/image-relay/internal/models"
	"github.com/phambaophuc/image-relay/internal/services/storage"
	"go.uber.org/zap"
)

const (
	DefaultQuality = 85
	// thumbnailSide bounds the image used for approximate color counting.
	thumbnailSide = 64
)

// Options are the limits applied to every upload.
type Options struct {
	MaxFileSize       int64
	MinWidth          int
	MinHeight         int
	MaxWidth          int
	MaxHeight         int
	OptimizeMaxWidth  int
	OptimizeMaxHeight int
	Quality           int
	OutputFormat      models.ImageFormat
}

// OptionsFromConfig maps the image section of the service config.
func OptionsFromConfig(cfg config.ImageConfig) Options {
	return Options{
		MaxFileSize:       cfg.MaxFileSize,
		MinWidth:          cfg.MinWidth,
		MinHeight:         cfg.MinHeight,
		MaxWidth:          cfg.MaxWidth,
		MaxHeight:         cfg.MaxHeight,
		OptimizeMaxWidth:  cfg.OptimizeMaxWidth,
		OptimizeMaxHeight: cfg.OptimizeMaxHeight,
		Quality:           cfg.OptimizeQuality,
		OutputFormat:      models.FormatJPEG,
	}
}

type ImageProcessor struct {
	opts    Options
	store   *storage.TempStore
	scanner SecurityScanner
	logger  *zap.Logger
}

func NewImageProcessor(opts Options, store *storage.TempStore, scanner SecurityScanner, logger *zap.Logger) *ImageProcessor {
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = DefaultQuality
	}
	if opts.OutputFormat == "" {
		opts.OutputFormat = models.FormatJPEG
	}
	if scanner == nil {
		scanner = NewBasicScanner()
	}
	return &ImageProcessor{opts: opts, store: store, scanner: scanner, logger: logger}
}

// ProcessImage validates one upload and writes its normalized derivative to
// the temp store. Cheap checks (size, sniffed format, security) run before
// any decoding.
func (p *ImageProcessor) ProcessImage(ctx context.Context, raw models.RawImage) (*models.ProcessedImage, error) {
	processed, err := p.processImage(ctx, raw)
	if err != nil {
		metrics.ObserveImage(string(models.KindOf(err)), 0)
		return nil, err
	}
	metrics.ObserveImage("", processed.Size)
	return processed, nil
}

func (p *ImageProcessor) processImage(ctx context.Context, raw models.RawImage) (*models.ProcessedImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.NewError(models.KindGenericFailure, "process", err)
	}

	data, err := p.readLimited(raw.Reader)
	if err != nil {
		return nil, err
	}

	format, err := p.ValidateImage(ctx, data, raw.Filename)
	if err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, models.Errorf(models.KindUnsupportedFormat, "decode", "failed to decode %s image: %v", format, err)
	}

	metadata := p.extractMetadata(data, format, img)

	optimized := p.optimize(img)
	bounds := optimized.Bounds()
	metadata["resized"] = strconv.FormatBool(bounds.Dx() != img.Bounds().Dx() || bounds.Dy() != img.Bounds().Dy())

	buffer := &bytes.Buffer{}
	if err := p.encodeImage(buffer, optimized, p.opts.OutputFormat, p.opts.Quality); err != nil {
		return nil, models.Errorf(models.KindGenericFailure, "encode", "failed to encode image: %v", err)
	}
	encoded := buffer.Bytes()

	path, err := p.store.Write(ctx, encoded, p.opts.OutputFormat.Extension())
	if err != nil {
		return nil, models.NewError(models.KindGenericFailure, "store", err)
	}

	processed := &models.ProcessedImage{
		ID:          uuid.New().String(),
		Filename:    displayName(raw.Filename, p.opts.OutputFormat),
		Path:        path,
		Size:        int64(len(encoded)),
		Format:      p.opts.OutputFormat,
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		Fingerprint: models.Fingerprint(encoded),
		Caption:     normalizeCaption(raw.Caption),
		Metadata:    metadata,
		Temporary:   true,
		ProcessedAt: time.Now().UTC(),
	}

	p.logger.Debug("Image processed",
		zap.String("filename", processed.Filename),
		zap.String("source_format", string(format)),
		zap.Int("width", processed.Width),
		zap.Int("height", processed.Height),
		zap.Int64("size", processed.Size))

	return processed, nil
}

// readLimited reads at most MaxFileSize+1 bytes so oversized uploads are
// rejected without buffering them entirely.
func (p *ImageProcessor) readLimited(r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, models.Errorf(models.KindUnsupportedFormat, "read", "no image data")
	}
	data, err := io.ReadAll(io.LimitReader(r, p.opts.MaxFileSize+1))
	if err != nil {
		return nil, models.Errorf(models.KindGenericFailure, "read", "failed to read image: %v", err)
	}
	if int64(len(data)) > p.opts.MaxFileSize {
		return nil, models.Errorf(models.KindTooLarge, "validate",
			"file size exceeds maximum allowed size %d", p.opts.MaxFileSize)
	}
	return data, nil
}

func displayName(original string, format models.ImageFormat) string {
	base := filepath.Base(strings.TrimSpace(original))
	if base == "." || base == "/" || base == "" {
		base = "image"
	}
	return strings.TrimSuffix(base, filepath.Ext(base)) + format.Extension()
}

func normalizeCaption(caption *string) *string {
	if caption == nil {
		return nil
	}
	c := strings.TrimSpace(*caption)
	if c == "" {
		return nil
	}
	return &c
}
