package session

import (
	"context"

	"github.com/phambaophuc/image-relay/internal/models"
)

// Invoker sends a finalized batch to the external tool.
type Invoker interface {
	Invoke(ctx context.Context, req models.BatchRequest) (*models.InvocationResult, error)
}

// Batcher validates raw uploads and releases processed images.
type Batcher interface {
	Process(ctx context.Context, raws []models.RawImage) ([]*models.ProcessedImage, error)
	Release(images []*models.ProcessedImage) int
}

// Recorder receives session and image records. Errors are logged by the
// manager and never change the session outcome.
type Recorder interface {
	RecordSession(ctx context.Context, rec models.SessionRecord) error
	RecordImage(ctx context.Context, rec models.ImageRecord) error
}

// Localizer resolves a message key, returning fallback when it has no
// translation.
type Localizer interface {
	Localize(key, fallback string) string
}

// Messages is a static Localizer backed by a key/text map.
type Messages map[string]string

func (m Messages) Localize(key, fallback string) string {
	if text, ok := m[key]; ok && text != "" {
		return text
	}
	return fallback
}

type nopRecorder struct{}

func (nopRecorder) RecordSession(context.Context, models.SessionRecord) error { return nil }
func (nopRecorder) RecordImage(context.Context, models.ImageRecord) error     { return nil }
