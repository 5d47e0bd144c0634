package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const tempPrefix = "img_"

// TempStore keeps processed images on the local filesystem for the
// lifetime of a session. All files live directly under one directory.
type TempStore struct {
	dir    string
	logger *zap.Logger
}

func NewTempStore(dir string, logger *zap.Logger) (*TempStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("storage: temp dir is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("storage: ensure temp dir: %w", err)
	}
	return &TempStore{dir: dir, logger: logger}, nil
}

// Dir returns the shared temp area.
func (s *TempStore) Dir() string {
	return s.dir
}

// Write stores data under a fresh name with the given extension. A partially
// written file is removed before the error is returned.
func (s *TempStore) Write(ctx context.Context, data []byte, ext string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := filepath.Join(s.dir, tempPrefix+uuid.New().String()+ext)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("storage: create temp file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		s.Remove(path)
		return "", fmt.Errorf("storage: write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		s.Remove(path)
		return "", fmt.Errorf("storage: close temp file: %w", err)
	}

	return path, nil
}

// Remove deletes a file. Missing files are not an error; other failures are
// logged and returned for the caller to ignore or report.
func (s *TempStore) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("Failed to remove temp file", zap.String("path", path), zap.Error(err))
		return err
	}
	return nil
}

// Sweep deletes temp files older than maxAge and reports how many were
// removed. Running it twice in a row removes nothing the second time.
func (s *TempStore) Sweep(maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, fmt.Errorf("storage: sweep max age must be positive, got %s", maxAge)
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("storage: read temp dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), tempPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := s.Remove(filepath.Join(s.dir, entry.Name())); err == nil {
			removed++
		}
	}

	if removed > 0 {
		s.logger.Info("Temp sweep removed files", zap.Int("removed", removed), zap.Duration("max_age", maxAge))
	}
	return removed, nil
}

// Count returns the number of temp files currently held.
func (s *TempStore) Count() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), tempPrefix) {
			n++
		}
	}
	return n, nil
}
