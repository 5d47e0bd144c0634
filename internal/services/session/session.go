package session

import (
	"context"
	"sync"
	"time"

	"github.com/phambaophuc/image-relay/internal/models"
	"github.com/phambaophuc/image-relay/internal/services/batch"
)

// Session is one user's batch in progress. All fields are guarded by mu;
// transitions for one session never run concurrently.
type Session struct {
	id        string
	userID    int64
	createdAt time.Time
	timeout   time.Duration

	mu          sync.Mutex
	state       models.SessionState
	images      []*models.ProcessedImage
	instruction *string
	timer       *time.Timer
	cancel      context.CancelFunc

	releaseOnce sync.Once
}

// Snapshot returns a read-only copy of the session.
func (s *Session) Snapshot() models.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() models.SessionSnapshot {
	names := make([]string, 0, len(s.images))
	for _, img := range s.images {
		names = append(names, img.Filename)
	}
	var instruction *string
	if s.instruction != nil {
		text := *s.instruction
		instruction = &text
	}
	return models.SessionSnapshot{
		ID:          s.id,
		UserID:      s.userID,
		State:       s.state,
		Instruction: instruction,
		ImageCount:  len(s.images),
		Filenames:   names,
		CreatedAt:   s.createdAt,
		ExpiresAt:   s.createdAt.Add(s.timeout),
		Timeout:     s.timeout,
		Summary:     batch.Summarize(s.images),
	}
}

// stopTimerLocked cancels the pending timeout watcher.
func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// release frees the held images exactly once, however many terminal
// triggers race for it.
func (s *Session) release(b Batcher) int {
	released := 0
	s.releaseOnce.Do(func() {
		s.mu.Lock()
		images := s.images
		s.mu.Unlock()
		released = b.Release(images)
	})
	return released
}
