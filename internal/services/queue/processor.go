package queue

import (
	"context"
	"fmt"

	"github.com/phambaophuc/image-relay/internal/models"
)

// Sink persists records taken off the queue.
type Sink interface {
	RecordSession(ctx context.Context, rec models.SessionRecord) error
	RecordImage(ctx context.Context, rec models.ImageRecord) error
}

// deliver decodes one message body and hands it to the sink. Decoding
// errors are permanent; sink errors may succeed on redelivery.
func deliver(ctx context.Context, sink Sink, body []byte) (retry bool, err error) {
	msg, err := decodeMessage(body)
	if err != nil {
		return false, err
	}

	switch msg.Kind {
	case KindSession:
		err = sink.RecordSession(ctx, *msg.Session)
	case KindImage:
		err = sink.RecordImage(ctx, *msg.Image)
	}
	if err != nil {
		return true, fmt.Errorf("failed to store %s record: %w", msg.Kind, err)
	}
	return false, nil
}
