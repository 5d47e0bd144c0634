package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/phambaophuc/image-relay/internal/models"
)

// Record kinds carried in a RecordMessage.
const (
	KindSession = "session"
	KindImage   = "image"
)

// RecordMessage is the JSON body of one queued record.
type RecordMessage struct {
	Kind        string                `json:"kind"`
	Session     *models.SessionRecord `json:"session,omitempty"`
	Image       *models.ImageRecord   `json:"image,omitempty"`
	PublishedAt time.Time             `json:"published_at"`
}

func encodeMessage(msg RecordMessage) ([]byte, error) {
	if msg.PublishedAt.IsZero() {
		msg.PublishedAt = time.Now().UTC()
	}
	return json.Marshal(msg)
}

func decodeMessage(body []byte) (*RecordMessage, error) {
	var msg RecordMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	switch {
	case msg.Kind == KindSession && msg.Session != nil:
	case msg.Kind == KindImage && msg.Image != nil:
	default:
		return nil, fmt.Errorf("malformed record of kind %q", msg.Kind)
	}
	return &msg, nil
}
