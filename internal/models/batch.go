package models

import "time"

// BatchRequest is assembled at submission time only.
type BatchRequest struct {
	SessionID         string
	UserID            int64
	Images            []*ProcessedImage
	Prompt            string
	ContinuationToken *string
	WorkDir           string
}

// BatchSummary aggregates a list of processed images.
type BatchSummary struct {
	Count        int           `json:"count"`
	TotalSize    int64         `json:"total_size"`
	Formats      []ImageFormat `json:"formats"`
	Dimensions   []Dimension   `json:"dimensions"`
	WithCaptions int           `json:"with_captions"`
	AverageSize  float64       `json:"average_size"`
}

type Dimension struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// InvocationResult is the outcome of one external tool call.
type InvocationResult struct {
	Output            string        `json:"output"`
	ContinuationToken *string       `json:"continuation_token,omitempty"`
	Cost              *float64      `json:"cost,omitempty"`
	Duration          time.Duration `json:"duration"`
	Success           bool          `json:"success"`
	Strategy          string        `json:"strategy"`
}

// Capabilities is the advisory result of probing the external tool.
type Capabilities struct {
	Version        string    `json:"version"`
	FileAttachment bool      `json:"file_attachment"`
	ImageContent   bool      `json:"image_content"`
	CheckedAt      time.Time `json:"checked_at"`
}

// Instructions carries the raw values shown to users by the transport.
type Instructions struct {
	BatchCap         int           `json:"batch_cap"`
	MaxFileSize      int64         `json:"max_file_size"`
	SupportedFormats []ImageFormat `json:"supported_formats"`
	SessionTimeout   time.Duration `json:"session_timeout"`
	DoneWords        []string      `json:"done_words"`
	CancelWords      []string      `json:"cancel_words"`
}
