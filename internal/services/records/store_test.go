package records

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/phambaophuc/image-relay/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_SessionUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	created := time.Now().UTC().Truncate(time.Second)
	instruction := "describe"

	rec := models.SessionRecord{
		SessionID:   "s1",
		UserID:      42,
		Instruction: &instruction,
		Status:      models.SessionStatusActive,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
	require.NoError(t, store.RecordSession(ctx, rec))

	cost := 0.25
	done := created.Add(time.Minute)
	rec.Status = models.SessionStatusCompleted
	rec.ImageCount = 3
	rec.Cost = &cost
	rec.UpdatedAt = done
	rec.CompletedAt = &done
	require.NoError(t, store.RecordSession(ctx, rec))

	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.SessionStatusCompleted, got.Status)
	assert.Equal(t, 3, got.ImageCount)
	require.NotNil(t, got.Instruction)
	assert.Equal(t, "describe", *got.Instruction)
	require.NotNil(t, got.Cost)
	assert.InDelta(t, 0.25, *got.Cost, 1e-9)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(done))
	assert.True(t, got.CreatedAt.Equal(created))

	missing, err := store.GetSession(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_ImageUpsertKeepsOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	caption := "front"

	first := models.ImageRecord{
		ImageID: "img-1", UserID: 42, SessionID: "s1", Filename: "a.jpg", Fingerprint: "aaa",
		Size: 100, Format: models.FormatJPEG, Width: 10, Height: 20,
		Caption: &caption, Status: models.ImageStatusUploaded,
		Metadata: map[string]string{"source_format": "png"}, RecordedAt: now,
	}
	second := first
	second.ImageID, second.Filename, second.Fingerprint = "img-2", "b.jpg", "bbb"
	second.Caption, second.Metadata = nil, nil

	require.NoError(t, store.RecordImage(ctx, first))
	require.NoError(t, store.RecordImage(ctx, second))

	first.Status = models.ImageStatusCompleted
	require.NoError(t, store.RecordImage(ctx, first))

	images, err := store.ListImages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, "img-1", images[0].ImageID)
	assert.Equal(t, "a.jpg", images[0].Filename)
	assert.Equal(t, models.ImageStatusCompleted, images[0].Status)
	assert.Equal(t, "png", images[0].Metadata["source_format"])
	require.NotNil(t, images[0].Caption)
	assert.Equal(t, "front", *images[0].Caption)
	assert.Equal(t, "b.jpg", images[1].Filename)
	assert.Nil(t, images[1].Caption)
	assert.Equal(t, models.FormatJPEG, images[1].Format)
}

func TestStore_DuplicateUploadsKeepSeparateRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := models.ImageRecord{
		ImageID: "img-1", UserID: 42, SessionID: "s1", Filename: "same.jpg", Fingerprint: "abc",
		Format: models.FormatJPEG, Status: models.ImageStatusUploaded, RecordedAt: now,
	}
	second := first
	second.ImageID = "img-2"

	require.NoError(t, store.RecordImage(ctx, first))
	require.NoError(t, store.RecordImage(ctx, second))

	second.Status = models.ImageStatusFailed
	require.NoError(t, store.RecordImage(ctx, second))

	images, err := store.ListImages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, "img-1", images[0].ImageID)
	assert.Equal(t, models.ImageStatusUploaded, images[0].Status)
	assert.Equal(t, "img-2", images[1].ImageID)
	assert.Equal(t, models.ImageStatusFailed, images[1].Status)
}

func TestStore_ImageWithoutIDRejected(t *testing.T) {
	store := newTestStore(t)
	err := store.RecordImage(context.Background(), models.ImageRecord{SessionID: "s1", Filename: "a.jpg"})
	assert.Error(t, err)
}

func TestStore_ListAndPurge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC()

	require.NoError(t, store.RecordSession(ctx, models.SessionRecord{
		SessionID: "old", UserID: 1, Status: models.SessionStatusCompleted,
		CreatedAt: old, UpdatedAt: old, CompletedAt: &old,
	}))
	require.NoError(t, store.RecordImage(ctx, models.ImageRecord{
		ImageID: "img-old", SessionID: "old", UserID: 1, Filename: "x.jpg", Fingerprint: "x",
		Format: models.FormatJPEG, Status: models.ImageStatusCompleted, RecordedAt: old,
	}))
	require.NoError(t, store.RecordSession(ctx, models.SessionRecord{
		SessionID: "new", UserID: 1, Status: models.SessionStatusActive,
		CreatedAt: recent, UpdatedAt: recent,
	}))

	list, err := store.ListSessions(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].SessionID)

	n, err := store.Purge(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	images, err := store.ListImages(ctx, "old")
	require.NoError(t, err)
	assert.Empty(t, images)

	list, err = store.ListSessions(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "new", list[0].SessionID)
}

type failingSink struct{ calls int }

func (f *failingSink) RecordSession(context.Context, models.SessionRecord) error {
	f.calls++
	return errors.New("sink down")
}

func (f *failingSink) RecordImage(context.Context, models.ImageRecord) error {
	f.calls++
	return errors.New("sink down")
}

func TestMulti_ContinuesPastFailures(t *testing.T) {
	store := newTestStore(t)
	bad := &failingSink{}
	multi := Multi{bad, store}
	ctx := context.Background()
	now := time.Now().UTC()

	err := multi.RecordSession(ctx, models.SessionRecord{
		SessionID: "s1", UserID: 7, Status: models.SessionStatusActive, CreatedAt: now, UpdatedAt: now,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink down")
	assert.Equal(t, 1, bad.calls)

	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.NoError(t, Multi{store}.RecordImage(ctx, models.ImageRecord{
		ImageID: "img-a", SessionID: "s1", UserID: 7, Filename: "a.jpg", Fingerprint: "f",
		Format: models.FormatJPEG, Status: models.ImageStatusUploaded, RecordedAt: now,
	}))
}
