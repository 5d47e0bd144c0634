package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/phambaophuc/image-relay/internal/config"
	"github.com/phambaophuc/image-relay/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeBatcher struct {
	mu           sync.Mutex
	released     map[*models.ProcessedImage]int
	processCalls int
	processErr   error
}

func newFakeBatcher() *fakeBatcher {
	return &fakeBatcher{released: make(map[*models.ProcessedImage]int)}
}

func (f *fakeBatcher) Process(_ context.Context, raws []models.RawImage) ([]*models.ProcessedImage, error) {
	f.mu.Lock()
	f.processCalls++
	f.mu.Unlock()
	if f.processErr != nil {
		return nil, f.processErr
	}
	out := make([]*models.ProcessedImage, len(raws))
	for i, raw := range raws {
		out[i] = testImage(raw.Filename)
	}
	return out, nil
}

func (f *fakeBatcher) Release(images []*models.ProcessedImage) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, img := range images {
		if img == nil {
			continue
		}
		f.released[img]++
		n++
	}
	return n
}

func (f *fakeBatcher) releaseCount(img *models.ProcessedImage) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released[img]
}

func (f *fakeBatcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processCalls
}

type fakeInvoker struct {
	mu       sync.Mutex
	requests []models.BatchRequest
	result   *models.InvocationResult
	err      error
	block    bool
	started  chan struct{}
}

func (f *fakeInvoker) Invoke(ctx context.Context, req models.BatchRequest) (*models.InvocationResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.block {
		<-ctx.Done()
		return nil, models.NewError(models.KindGenericFailure, "invoke", ctx.Err())
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &models.InvocationResult{Output: "ok", Success: true}, nil
}

func (f *fakeInvoker) calls() []models.BatchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.BatchRequest(nil), f.requests...)
}

type fakeRecorder struct {
	mu       sync.Mutex
	sessions []string
	images   map[string][]string
}

func (f *fakeRecorder) RecordSession(_ context.Context, rec models.SessionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, rec.Status)
	return nil
}

func (f *fakeRecorder) RecordImage(_ context.Context, rec models.ImageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.images == nil {
		f.images = make(map[string][]string)
	}
	f.images[rec.Filename] = append(f.images[rec.Filename], rec.Status)
	return errors.New("records offline")
}

func testImage(name string) *models.ProcessedImage {
	return &models.ProcessedImage{
		Filename:  name,
		Path:      "/tmp/" + name,
		Format:    models.FormatJPEG,
		Width:     10,
		Height:    10,
		Temporary: true,
	}
}

func testOptions() Options {
	return Options{
		BatchCap:           5,
		Timeout:            time.Minute,
		DoneWords:          []string{"done", "Fertig"},
		CancelWords:        []string{"cancel", "abbrechen"},
		DefaultInstruction: config.DefaultInstruction,
		WorkDir:            "/work",
		MaxFileSize:        1024,
	}
}

func newTestManager(t *testing.T, opts Options, inv *fakeInvoker, options ...Option) (*Manager, *fakeBatcher) {
	t.Helper()
	b := newFakeBatcher()
	m := NewManager(opts, NewRegistry(), b, inv, zaptest.NewLogger(t), options...)
	t.Cleanup(m.Shutdown)
	return m, b
}

func TestDoneSubmitsImagesInOrderWithDefaultInstruction(t *testing.T) {
	inv := &fakeInvoker{}
	m, b := newTestManager(t, testOptions(), inv)
	ctx := context.Background()

	_, err := m.Start(ctx, 42, nil)
	require.NoError(t, err)

	images := []*models.ProcessedImage{testImage("one.jpg"), testImage("two.jpg"), testImage("three.jpg")}
	for _, img := range images {
		out, err := m.AddImage(ctx, 42, img)
		require.NoError(t, err)
		assert.Equal(t, ActionImageAdded, out.Action)
	}

	out, err := m.HandleText(ctx, 42, "  DONE ")
	require.NoError(t, err)
	assert.Equal(t, ActionCompleted, out.Action)
	assert.Equal(t, models.StateCompleted, out.Session.State)
	require.NotNil(t, out.Result)

	calls := inv.calls()
	require.Len(t, calls, 1)
	req := calls[0]
	require.Len(t, req.Images, 3)
	for i, img := range images {
		assert.Same(t, img, req.Images[i])
	}
	assert.True(t, strings.HasPrefix(req.Prompt, config.DefaultInstruction))
	assert.Contains(t, req.Prompt, "1. one.jpg\n2. two.jpg\n3. three.jpg")
	assert.Equal(t, int64(42), req.UserID)
	assert.Equal(t, "/work", req.WorkDir)
	assert.Nil(t, req.ContinuationToken)

	assert.Zero(t, m.Active())
	_, err = m.Status(42)
	assert.ErrorIs(t, err, models.ErrNoActiveSession)
	for _, img := range images {
		assert.Equal(t, 1, b.releaseCount(img))
	}
}

func TestReachingBatchCapSubmits(t *testing.T) {
	inv := &fakeInvoker{}
	m, _ := newTestManager(t, testOptions(), inv)
	ctx := context.Background()

	_, err := m.Start(ctx, 7, nil)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		out, err := m.AddImage(ctx, 7, testImage("img.jpg"))
		require.NoError(t, err)
		assert.Equal(t, ActionImageAdded, out.Action)
		assert.Empty(t, inv.calls())
	}

	out, err := m.AddImage(ctx, 7, testImage("fifth.jpg"))
	require.NoError(t, err)
	assert.Equal(t, ActionCompleted, out.Action)
	require.Len(t, inv.calls(), 1)
	assert.Len(t, inv.calls()[0].Images, 5)
	assert.Zero(t, m.Active())
}

func TestTimeoutExpiresSession(t *testing.T) {
	opts := testOptions()
	opts.Timeout = 20 * time.Millisecond
	m, b := newTestManager(t, opts, &fakeInvoker{})
	ctx := context.Background()

	_, err := m.Start(ctx, 42, nil)
	require.NoError(t, err)
	held := testImage("held.jpg")
	_, err = m.AddImage(ctx, 42, held)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return m.Active() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, b.releaseCount(held))

	late := testImage("late.jpg")
	_, err = m.AddImage(ctx, 42, late)
	require.ErrorIs(t, err, models.ErrNoActiveSession)
	assert.Equal(t, 1, b.releaseCount(late), "rejected images are released")
}

func TestAdapterTimeoutFailsSession(t *testing.T) {
	inv := &fakeInvoker{err: models.Errorf(models.KindTimeout, "invoke", "killed after 1s")}
	rec := &fakeRecorder{}
	m, b := newTestManager(t, testOptions(), inv, WithRecorder(rec))
	ctx := context.Background()

	_, err := m.Start(ctx, 1, nil)
	require.NoError(t, err)
	img := testImage("a.jpg")
	_, err = m.AddImage(ctx, 1, img)
	require.NoError(t, err)

	out, err := m.RequestDone(ctx, 1)
	require.ErrorIs(t, err, models.ErrTimeout)
	require.NotNil(t, out)
	assert.Equal(t, ActionFailed, out.Action)
	assert.Equal(t, models.StateFailed, out.Session.State)
	assert.Equal(t, 1, b.releaseCount(img))
	assert.Zero(t, m.Active())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"active", "processing", "failed"}, rec.sessions)
	assert.Equal(t, []string{"uploaded", "processing", "failed"}, rec.images["a.jpg"])
}

func TestCancelTwiceIsNoop(t *testing.T) {
	m, b := newTestManager(t, testOptions(), &fakeInvoker{})
	ctx := context.Background()

	_, err := m.Start(ctx, 5, nil)
	require.NoError(t, err)
	img := testImage("a.jpg")
	_, err = m.AddImage(ctx, 5, img)
	require.NoError(t, err)

	out, err := m.RequestCancel(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, ActionCancelled, out.Action)
	assert.Equal(t, models.StateCancelled, out.Session.State)

	out, err = m.RequestCancel(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, ActionNoSession, out.Action)
	assert.Equal(t, 1, b.releaseCount(img))
}

func TestConcurrentTerminalTriggersReleaseOnce(t *testing.T) {
	m, b := newTestManager(t, testOptions(), &fakeInvoker{})
	ctx := context.Background()

	out, err := m.Start(ctx, 9, nil)
	require.NoError(t, err)
	id := out.Session.ID
	img := testImage("a.jpg")
	_, err = m.AddImage(ctx, 9, img)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = m.RequestCancel(ctx, 9)
		}()
		go func() {
			defer wg.Done()
			m.expire(9, id)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, b.releaseCount(img))
	assert.Zero(t, m.Active())
}

func TestStartSupersedesActiveSession(t *testing.T) {
	m, b := newTestManager(t, testOptions(), &fakeInvoker{})
	ctx := context.Background()

	first, err := m.Start(ctx, 3, nil)
	require.NoError(t, err)
	old := testImage("old.jpg")
	_, err = m.AddImage(ctx, 3, old)
	require.NoError(t, err)

	second, err := m.Start(ctx, 3, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.Session.ID, second.Session.ID)
	assert.Equal(t, 1, b.releaseCount(old))
	assert.Equal(t, 1, m.Active())

	// A timer left over from the first session must not touch the second.
	m.expire(3, first.Session.ID)
	snap, err := m.Status(3)
	require.NoError(t, err)
	assert.Equal(t, second.Session.ID, snap.ID)
	assert.Equal(t, models.StateCollecting, snap.State)
	assert.Zero(t, snap.ImageCount)
}

func TestCancelWhileSubmitting(t *testing.T) {
	inv := &fakeInvoker{block: true, started: make(chan struct{}, 1)}
	m, b := newTestManager(t, testOptions(), inv)
	ctx := context.Background()

	_, err := m.Start(ctx, 11, nil)
	require.NoError(t, err)
	img := testImage("a.jpg")
	_, err = m.AddImage(ctx, 11, img)
	require.NoError(t, err)

	type result struct {
		out *Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := m.RequestDone(ctx, 11)
		done <- result{out, err}
	}()

	select {
	case <-inv.started:
	case <-time.After(time.Second):
		t.Fatal("invoker never started")
	}

	_, err = m.AddImage(ctx, 11, testImage("b.jpg"))
	assert.ErrorIs(t, err, models.ErrNoActiveSession, "submitting sessions accept no images")

	out, err := m.RequestCancel(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, ActionCancelled, out.Action)

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, ActionCancelled, r.out.Action)
	case <-time.After(time.Second):
		t.Fatal("submission did not return after cancel")
	}
	assert.Equal(t, 1, b.releaseCount(img))
	assert.Zero(t, m.Active())
}

func TestExpireWhileSubmitting(t *testing.T) {
	inv := &fakeInvoker{block: true, started: make(chan struct{}, 1)}
	m, b := newTestManager(t, testOptions(), inv)
	ctx := context.Background()

	started, err := m.Start(ctx, 13, nil)
	require.NoError(t, err)
	id := started.Session.ID
	img := testImage("a.jpg")
	_, err = m.AddImage(ctx, 13, img)
	require.NoError(t, err)

	type result struct {
		out *Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := m.RequestDone(ctx, 13)
		done <- result{out, err}
	}()

	select {
	case <-inv.started:
	case <-time.After(time.Second):
		t.Fatal("invoker never started")
	}

	m.expire(13, id)

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, ActionExpired, r.out.Action)
		assert.Equal(t, models.StateExpired, r.out.Session.State)
	case <-time.After(time.Second):
		t.Fatal("submission did not return after expiry")
	}

	// A second trigger for the same session changes nothing.
	m.expire(13, id)
	out, err := m.RequestCancel(ctx, 13)
	require.NoError(t, err)
	assert.Equal(t, ActionNoSession, out.Action)

	assert.Equal(t, 1, b.releaseCount(img))
	assert.Zero(t, m.Active())
}

func TestDoneWithoutImages(t *testing.T) {
	inv := &fakeInvoker{}
	m, _ := newTestManager(t, testOptions(), inv, WithLocalizer(Messages{"session.no_images": "Noch keine Bilder."}))
	ctx := context.Background()

	_, err := m.Start(ctx, 2, nil)
	require.NoError(t, err)

	out, err := m.HandleText(ctx, 2, "fertig")
	require.NoError(t, err)
	assert.Equal(t, ActionNoImages, out.Action)
	assert.Equal(t, "Noch keine Bilder.", out.Message)
	assert.Empty(t, inv.calls())
	assert.Equal(t, 1, m.Active())
}

func TestLaterInstructionReplacesEarlier(t *testing.T) {
	inv := &fakeInvoker{}
	m, _ := newTestManager(t, testOptions(), inv)
	ctx := context.Background()

	first := "describe"
	_, err := m.Start(ctx, 4, &first)
	require.NoError(t, err)

	out, err := m.HandleText(ctx, 4, "count the cats")
	require.NoError(t, err)
	assert.Equal(t, ActionInstructionSet, out.Action)
	require.NotNil(t, out.Session.Instruction)
	assert.Equal(t, "count the cats", *out.Session.Instruction)

	_, err = m.AddImage(ctx, 4, testImage("cats.jpg"))
	require.NoError(t, err)
	_, err = m.RequestDone(ctx, 4)
	require.NoError(t, err)

	prompt := inv.calls()[0].Prompt
	assert.True(t, strings.HasPrefix(prompt, "count the cats"))
	assert.NotContains(t, prompt, "describe")
}

func TestContinuationTokenCarriesOver(t *testing.T) {
	token := "sess-123"
	inv := &fakeInvoker{result: &models.InvocationResult{Output: "ok", Success: true, ContinuationToken: &token}}
	m, _ := newTestManager(t, testOptions(), inv)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := m.Start(ctx, 8, nil)
		require.NoError(t, err)
		_, err = m.AddImage(ctx, 8, testImage("a.jpg"))
		require.NoError(t, err)
		_, err = m.RequestDone(ctx, 8)
		require.NoError(t, err)
	}

	calls := inv.calls()
	require.Len(t, calls, 2)
	assert.Nil(t, calls[0].ContinuationToken)
	require.NotNil(t, calls[1].ContinuationToken)
	assert.Equal(t, token, *calls[1].ContinuationToken)

	m.Reset(ctx, 8)
	_, ok := m.ContinuationToken(8)
	assert.False(t, ok)
}

func TestAddImagesRejectsOversizedBatchBeforeProcessing(t *testing.T) {
	opts := testOptions()
	opts.BatchCap = 3
	m, b := newTestManager(t, opts, &fakeInvoker{})
	ctx := context.Background()

	_, err := m.Start(ctx, 6, nil)
	require.NoError(t, err)
	_, err = m.AddImage(ctx, 6, testImage("first.jpg"))
	require.NoError(t, err)

	raws := []models.RawImage{{Filename: "a.jpg"}, {Filename: "b.jpg"}, {Filename: "c.jpg"}}
	_, err = m.AddImages(ctx, 6, raws)
	require.ErrorIs(t, err, models.ErrBatchTooLarge)
	assert.Zero(t, b.calls())

	snap, err := m.Status(6)
	require.NoError(t, err)
	assert.Equal(t, models.StateCollecting, snap.State)
	assert.Equal(t, 1, snap.ImageCount)
}

func TestStatusCarriesBatchSummary(t *testing.T) {
	m, _ := newTestManager(t, testOptions(), &fakeInvoker{})
	ctx := context.Background()

	_, err := m.Start(ctx, 12, nil)
	require.NoError(t, err)

	caption := "the left one"
	first := testImage("first.jpg")
	first.Size, first.Caption = 100, &caption
	second := testImage("second.jpg")
	second.Size, second.Width, second.Height = 300, 40, 20
	_, err = m.AddImage(ctx, 12, first)
	require.NoError(t, err)
	_, err = m.AddImage(ctx, 12, second)
	require.NoError(t, err)

	snap, err := m.Status(12)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Summary.Count)
	assert.Equal(t, int64(400), snap.Summary.TotalSize)
	assert.Equal(t, []models.ImageFormat{models.FormatJPEG}, snap.Summary.Formats)
	assert.Equal(t, []models.Dimension{{Width: 10, Height: 10}, {Width: 40, Height: 20}}, snap.Summary.Dimensions)
	assert.Equal(t, 1, snap.Summary.WithCaptions)
	assert.InDelta(t, 200.0, snap.Summary.AverageSize, 0.001)
}

func TestAddImagesValidationErrorKeepsCollecting(t *testing.T) {
	m, b := newTestManager(t, testOptions(), &fakeInvoker{})
	b.processErr = models.Errorf(models.KindUnsupportedFormat, "validate", "not an image")
	ctx := context.Background()

	_, err := m.Start(ctx, 6, nil)
	require.NoError(t, err)

	_, err = m.AddImages(ctx, 6, []models.RawImage{{Filename: "notes.txt"}})
	require.ErrorIs(t, err, models.ErrUnsupportedFormat)
	assert.True(t, models.IsRecoverable(err))

	snap, err := m.Status(6)
	require.NoError(t, err)
	assert.Equal(t, models.StateCollecting, snap.State)
}

func TestAddImagesFillsBatchAndSubmits(t *testing.T) {
	opts := testOptions()
	opts.BatchCap = 2
	inv := &fakeInvoker{}
	m, _ := newTestManager(t, opts, inv)
	ctx := context.Background()

	_, err := m.Start(ctx, 6, nil)
	require.NoError(t, err)

	out, err := m.AddImages(ctx, 6, []models.RawImage{{Filename: "a.jpg"}, {Filename: "b.jpg"}})
	require.NoError(t, err)
	assert.Equal(t, ActionCompleted, out.Action)
	require.Len(t, inv.calls(), 1)
	assert.Equal(t, "a.jpg", inv.calls()[0].Images[0].Filename)
	assert.Equal(t, "b.jpg", inv.calls()[0].Images[1].Filename)
}

func TestMutationsWithoutSession(t *testing.T) {
	m, _ := newTestManager(t, testOptions(), &fakeInvoker{})
	ctx := context.Background()

	_, err := m.SetInstruction(ctx, 99, "hello")
	assert.ErrorIs(t, err, models.ErrNoActiveSession)
	_, err = m.RequestDone(ctx, 99)
	assert.ErrorIs(t, err, models.ErrNoActiveSession)
	_, err = m.AddImages(ctx, 99, []models.RawImage{{Filename: "a.jpg"}})
	assert.ErrorIs(t, err, models.ErrNoActiveSession)

	out, err := m.HandleText(ctx, 99, "ABBRECHEN")
	require.NoError(t, err)
	assert.Equal(t, ActionNoSession, out.Action)

	out, err = m.HandleText(ctx, 99, "   ")
	require.NoError(t, err)
	assert.Equal(t, ActionIgnored, out.Action)
}

func TestShutdownCancelsAllSessions(t *testing.T) {
	m, b := newTestManager(t, testOptions(), &fakeInvoker{})
	ctx := context.Background()

	var held []*models.ProcessedImage
	for user := int64(1); user <= 3; user++ {
		_, err := m.Start(ctx, user, nil)
		require.NoError(t, err)
		img := testImage("a.jpg")
		held = append(held, img)
		_, err = m.AddImage(ctx, user, img)
		require.NoError(t, err)
	}
	require.Equal(t, 3, m.Active())

	m.Shutdown()
	assert.Zero(t, m.Active())
	for _, img := range held {
		assert.Equal(t, 1, b.releaseCount(img))
	}
}

func TestInstructions(t *testing.T) {
	m, _ := newTestManager(t, testOptions(), &fakeInvoker{})
	in := m.Instructions()
	assert.Equal(t, 5, in.BatchCap)
	assert.Equal(t, int64(1024), in.MaxFileSize)
	assert.Equal(t, models.SupportedFormats, in.SupportedFormats)
	assert.Equal(t, time.Minute, in.SessionTimeout)
}
