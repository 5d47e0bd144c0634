package models

import "time"

// SessionState is the lifecycle position of a session.
type SessionState string

const (
	StateCollecting SessionState = "collecting"
	StateSubmitting SessionState = "submitting"
	StateCompleted  SessionState = "completed"
	StateFailed     SessionState = "failed"
	StateCancelled  SessionState = "cancelled"
	StateExpired    SessionState = "expired"
)

// Terminal reports whether no further transitions are possible.
func (s SessionState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateExpired:
		return true
	}
	return false
}

// SessionSnapshot is a read-only view of a session.
type SessionSnapshot struct {
	ID          string        `json:"id"`
	UserID      int64         `json:"user_id"`
	State       SessionState  `json:"state"`
	Instruction *string       `json:"instruction,omitempty"`
	ImageCount  int           `json:"image_count"`
	Filenames   []string      `json:"filenames"`
	CreatedAt   time.Time     `json:"created_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
	Timeout     time.Duration `json:"timeout"`
	Summary     BatchSummary  `json:"summary"`
}

// Record statuses.
const (
	ImageStatusUploaded   = "uploaded"
	ImageStatusProcessing = "processing"
	ImageStatusCompleted  = "completed"
	ImageStatusFailed     = "failed"

	SessionStatusActive     = "active"
	SessionStatusProcessing = "processing"
	SessionStatusCompleted  = "completed"
	SessionStatusCancelled  = "cancelled"
	SessionStatusExpired    = "expired"
	SessionStatusFailed     = "failed"
)

// ImageRecord is handed to the storage collaborator.
type ImageRecord struct {
	ImageID     string            `json:"image_id"`
	UserID      int64             `json:"user_id"`
	SessionID   string            `json:"session_id"`
	Filename    string            `json:"filename"`
	Size        int64             `json:"size"`
	Format      ImageFormat       `json:"format"`
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	Fingerprint string            `json:"fingerprint"`
	Caption     *string           `json:"caption,omitempty"`
	Status      string            `json:"status"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	RecordedAt  time.Time         `json:"recorded_at"`
}

// SessionRecord is handed to the storage collaborator.
type SessionRecord struct {
	SessionID   string     `json:"session_id"`
	UserID      int64      `json:"user_id"`
	Instruction *string    `json:"instruction,omitempty"`
	Status      string     `json:"status"`
	ImageCount  int        `json:"image_count"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Cost        *float64   `json:"cost,omitempty"`
}

// NewImageRecord derives a record from a processed image.
func NewImageRecord(userID int64, sessionID string, img *ProcessedImage, status string) ImageRecord {
	return ImageRecord{
		ImageID:     img.ID,
		UserID:      userID,
		SessionID:   sessionID,
		Filename:    img.Filename,
		Size:        img.Size,
		Format:      img.Format,
		Width:       img.Width,
		Height:      img.Height,
		Fingerprint: img.Fingerprint,
		Caption:     img.Caption,
		Status:      status,
		Metadata:    img.Metadata,
		RecordedAt:  time.Now().UTC(),
	}
}
