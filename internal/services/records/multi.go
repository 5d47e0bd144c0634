package records

import (
	"context"
	"errors"

	"github.com/phambaophuc/image-relay/internal/models"
)

// Sink accepts session and image records.
type Sink interface {
	RecordSession(ctx context.Context, rec models.SessionRecord) error
	RecordImage(ctx context.Context, rec models.ImageRecord) error
}

// Multi hands every record to all sinks. One failing sink does not stop the
// others; their errors are joined.
type Multi []Sink

func (m Multi) RecordSession(ctx context.Context, rec models.SessionRecord) error {
	var errs []error
	for _, sink := range m {
		if err := sink.RecordSession(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) RecordImage(ctx context.Context, rec models.ImageRecord) error {
	var errs []error
	for _, sink := range m {
		if err := sink.RecordImage(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
