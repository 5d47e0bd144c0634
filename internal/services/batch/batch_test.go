package batch

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"testing"
	"time"

	"github.com/phambaophuc/image-relay/internal/models"
	"github.com/phambaophuc/image-relay/internal/services/processor"
	"github.com/phambaophuc/image-relay/internal/services/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestBatch(t *testing.T, batchCap int) (*Processor, *storage.TempStore) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store, err := storage.NewTempStore(t.TempDir(), logger)
	require.NoError(t, err)

	images := processor.NewImageProcessor(processor.Options{
		MaxFileSize:       1 << 20,
		MinWidth:          8,
		MinHeight:         8,
		MaxWidth:          2000,
		MaxHeight:         2000,
		OptimizeMaxWidth:  128,
		OptimizeMaxHeight: 128,
		Quality:           80,
	}, store, nil, logger)

	return NewProcessor(images, store, batchCap, logger), store
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func rawImage(data []byte, name string) models.RawImage {
	return models.RawImage{Reader: bytes.NewReader(data), Filename: name, UserID: 42}
}

func countFiles(t *testing.T, store *storage.TempStore) int {
	t.Helper()
	n, err := store.Count()
	require.NoError(t, err)
	return n
}

func TestProcess_PreservesInputOrder(t *testing.T) {
	p, store := newTestBatch(t, 5)

	raws := []models.RawImage{
		rawImage(pngBytes(t, 64, 64), "first.png"),
		rawImage(pngBytes(t, 300, 40), "second.png"),
		rawImage(pngBytes(t, 20, 20), "third.png"),
	}

	images, err := p.Process(context.Background(), raws)
	require.NoError(t, err)
	require.Len(t, images, 3)

	assert.Equal(t, "first.jpg", images[0].Filename)
	assert.Equal(t, "second.jpg", images[1].Filename)
	assert.Equal(t, "third.jpg", images[2].Filename)
	assert.Equal(t, 128, images[1].Width)
	assert.Equal(t, 3, countFiles(t, store))

	assert.Equal(t, 3, p.Release(images))
	assert.Zero(t, countFiles(t, store))
}

type delayedProcessor struct {
	inner  ImageProcessor
	delays map[string]time.Duration
}

func (d delayedProcessor) ProcessImage(ctx context.Context, raw models.RawImage) (*models.ProcessedImage, error) {
	time.Sleep(d.delays[raw.Filename])
	return d.inner.ProcessImage(ctx, raw)
}

func TestProcess_OrderIndependentOfCompletion(t *testing.T) {
	base, store := newTestBatch(t, 3)
	p := NewProcessor(delayedProcessor{
		inner:  base.images,
		delays: map[string]time.Duration{"a.png": 60 * time.Millisecond, "b.png": 30 * time.Millisecond},
	}, store, 3, zaptest.NewLogger(t))

	images, err := p.Process(context.Background(), []models.RawImage{
		rawImage(pngBytes(t, 16, 16), "a.png"),
		rawImage(pngBytes(t, 16, 16), "b.png"),
		rawImage(pngBytes(t, 16, 16), "c.png"),
	})
	require.NoError(t, err)

	names := []string{images[0].Filename, images[1].Filename, images[2].Filename}
	assert.Equal(t, []string{"a.jpg", "b.jpg", "c.jpg"}, names)
	p.Release(images)
}

func TestProcess_BatchTooLargeWritesNothing(t *testing.T) {
	p, store := newTestBatch(t, 2)
	before := countFiles(t, store)

	raws := make([]models.RawImage, 3)
	for i := range raws {
		raws[i] = rawImage(pngBytes(t, 16, 16), fmt.Sprintf("%d.png", i))
	}

	images, err := p.Process(context.Background(), raws)
	require.ErrorIs(t, err, models.ErrBatchTooLarge)
	assert.Nil(t, images)
	assert.Equal(t, before, countFiles(t, store))
}

func TestProcess_OneFailureReleasesSuccesses(t *testing.T) {
	p, store := newTestBatch(t, 4)
	before := countFiles(t, store)

	raws := []models.RawImage{
		rawImage(pngBytes(t, 32, 32), "ok1.png"),
		rawImage(pngBytes(t, 32, 32), "ok2.png"),
		rawImage([]byte("this is not an image at all"), "broken.png"),
		rawImage(pngBytes(t, 32, 32), "ok3.png"),
	}

	images, err := p.Process(context.Background(), raws)
	require.Error(t, err)
	assert.Nil(t, images)
	assert.ErrorIs(t, err, models.ErrUnsupportedFormat)
	assert.Contains(t, err.Error(), "broken.png")
	assert.Equal(t, before, countFiles(t, store), "no temp files leak from a rejected batch")
}

func TestProcess_Empty(t *testing.T) {
	p, _ := newTestBatch(t, 3)
	images, err := p.Process(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, images)
}

func TestRelease_SkipsPersistentAndMissing(t *testing.T) {
	p, store := newTestBatch(t, 3)

	keep := writeTemp(t, store, "keep")
	images := []*models.ProcessedImage{
		nil,
		{Filename: "keep.jpg", Path: keep, Temporary: false},
		{Filename: "gone.jpg", Path: keep + ".missing", Temporary: true},
	}

	assert.Equal(t, 1, p.Release(images), "missing files count as released")
	assert.FileExists(t, keep)
}

func writeTemp(t *testing.T, store *storage.TempStore, name string) string {
	t.Helper()
	path, err := store.Write(context.Background(), []byte(name), ".jpg")
	require.NoError(t, err)
	return path
}

func TestSweep(t *testing.T) {
	p, store := newTestBatch(t, 3)
	old := writeTemp(t, store, "old")
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))
	writeTemp(t, store, "new")

	removed, err := p.Sweep(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	removed, err = p.Sweep(24 * time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestSummarize(t *testing.T) {
	caption := "look"
	empty := ""
	images := []*models.ProcessedImage{
		{Size: 100, Format: models.FormatJPEG, Width: 10, Height: 20, Caption: &caption},
		{Size: 300, Format: models.FormatPNG, Width: 30, Height: 40, Caption: &empty},
		{Size: 200, Format: models.FormatJPEG, Width: 50, Height: 60},
	}

	s := Summarize(images)
	assert.Equal(t, 3, s.Count)
	assert.Equal(t, int64(600), s.TotalSize)
	assert.Equal(t, []models.ImageFormat{models.FormatJPEG, models.FormatPNG}, s.Formats)
	assert.Equal(t, []models.Dimension{{Width: 10, Height: 20}, {Width: 30, Height: 40}, {Width: 50, Height: 60}}, s.Dimensions)
	assert.Equal(t, 1, s.WithCaptions)
	assert.InDelta(t, 200.0, s.AverageSize, 0.001)

	emptySummary := Summarize(nil)
	assert.Zero(t, emptySummary.Count)
	assert.Zero(t, emptySummary.AverageSize)
}
