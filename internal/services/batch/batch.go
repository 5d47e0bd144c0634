package batch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/phambaophuc/image-relay/internal/metrics"
	"github.com/phambaophuc/image-relay/internal/models"
	"github.com/phambaophuc/image-relay/internal/services/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ImageProcessor validates and normalizes a single upload.
type ImageProcessor interface {
	ProcessImage(ctx context.Context, raw models.RawImage) (*models.ProcessedImage, error)
}

// Processor runs the image processor over whole batches.
type Processor struct {
	images   ImageProcessor
	store    *storage.TempStore
	batchCap int
	logger   *zap.Logger
}

func NewProcessor(images ImageProcessor, store *storage.TempStore, batchCap int, logger *zap.Logger) *Processor {
	if batchCap < 1 {
		batchCap = 1
	}
	return &Processor{images: images, store: store, batchCap: batchCap, logger: logger}
}

// Process validates every image concurrently. The result keeps input order.
// If any image fails, the ones that succeeded are released before the error
// is returned.
func (p *Processor) Process(ctx context.Context, raws []models.RawImage) ([]*models.ProcessedImage, error) {
	if len(raws) > p.batchCap {
		return nil, models.Errorf(models.KindBatchTooLarge, "batch",
			"%d images exceed the batch limit of %d", len(raws), p.batchCap)
	}
	if len(raws) == 0 {
		return []*models.ProcessedImage{}, nil
	}

	results := make([]*models.ProcessedImage, len(raws))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.batchCap)

	for i := range raws {
		g.Go(func() error {
			img, err := p.images.ProcessImage(gctx, raws[i])
			if err != nil {
				return fmt.Errorf("image %d (%s): %w", i+1, raws[i].Filename, err)
			}
			results[i] = img
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		p.Release(results)
		p.logger.Info("Batch rejected",
			zap.Int("images", len(raws)),
			zap.String("kind", string(models.KindOf(err))),
			zap.Error(err))
		return nil, err
	}

	return results, nil
}

// Release removes the backing files of temporary images. Failures are logged
// and never returned.
func (p *Processor) Release(images []*models.ProcessedImage) int {
	released := 0
	for _, img := range images {
		if img == nil || !img.Temporary {
			continue
		}
		if err := p.store.Remove(img.Path); err != nil {
			p.logger.Warn("Failed to release image",
				zap.String("filename", img.Filename),
				zap.String("path", img.Path),
				zap.Error(err))
			continue
		}
		released++
	}
	return released
}

// Sweep deletes temp files older than maxAge from the shared temp area.
func (p *Processor) Sweep(maxAge time.Duration) (int, error) {
	removed, err := p.store.Sweep(maxAge)
	metrics.TempFilesSwept(removed)
	return removed, err
}

// Summarize aggregates a list of processed images without side effects.
func Summarize(images []*models.ProcessedImage) models.BatchSummary {
	summary := models.BatchSummary{
		Formats:    []models.ImageFormat{},
		Dimensions: make([]models.Dimension, 0, len(images)),
	}

	formats := make(map[models.ImageFormat]struct{})
	for _, img := range images {
		if img == nil {
			continue
		}
		summary.Count++
		summary.TotalSize += img.Size
		summary.Dimensions = append(summary.Dimensions, models.Dimension{Width: img.Width, Height: img.Height})
		if img.HasCaption() {
			summary.WithCaptions++
		}
		formats[img.Format] = struct{}{}
	}

	for f := range formats {
		summary.Formats = append(summary.Formats, f)
	}
	sort.Slice(summary.Formats, func(i, j int) bool { return summary.Formats[i] < summary.Formats[j] })

	if summary.Count > 0 {
		summary.AverageSize = float64(summary.TotalSize) / float64(summary.Count)
	}
	return summary
}
