package models

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// RawImage is one inbound upload before validation.
type RawImage struct {
	Reader   io.Reader
	Filename string
	Caption  *string
	UserID   int64
}

// ProcessedImage is the validated, normalized derivative of one upload.
// Always handled by pointer: it caches its base64 payload.
type ProcessedImage struct {
	ID          string            `json:"id"`
	Filename    string            `json:"filename"`
	Path        string            `json:"path"`
	Size        int64             `json:"size"`
	Format      ImageFormat       `json:"format"`
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	Fingerprint string            `json:"fingerprint"`
	Caption     *string           `json:"caption,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Temporary   bool              `json:"temporary"`
	ProcessedAt time.Time         `json:"processed_at"`

	mu      sync.Mutex
	encoded string
}

// MediaType returns the MIME type of the stored bytes.
func (p *ProcessedImage) MediaType() string {
	return p.Format.MediaType()
}

// Base64 returns the stored bytes base64-encoded. The file is read and
// encoded on first use only.
func (p *ProcessedImage) Base64() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.encoded != "" {
		return p.encoded, nil
	}
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", p.Filename, err)
	}
	p.encoded = base64.StdEncoding.EncodeToString(data)
	return p.encoded, nil
}

// VerifyFingerprint recomputes the content hash from storage and compares
// it with the recorded fingerprint.
func (p *ProcessedImage) VerifyFingerprint() (bool, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return false, err
	}
	return Fingerprint(data) == p.Fingerprint, nil
}

// HasCaption reports whether a non-empty caption is attached.
func (p *ProcessedImage) HasCaption() bool {
	return p.Caption != nil && *p.Caption != ""
}

// Fingerprint is the sha256 hex digest used as image identity.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
