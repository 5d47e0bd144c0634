package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phambaophuc/image-relay/internal/config"
	"github.com/phambaophuc/image-relay/internal/metrics"
	"github.com/phambaophuc/image-relay/internal/models"
	"go.uber.org/zap"
)

// Action tells the transport what a call did.
type Action string

const (
	ActionStarted        Action = "started"
	ActionImageAdded     Action = "image_added"
	ActionInstructionSet Action = "instruction_set"
	ActionNoImages       Action = "no_images"
	ActionNoSession      Action = "no_session"
	ActionIgnored        Action = "ignored"
	ActionCompleted      Action = "completed"
	ActionFailed         Action = "failed"
	ActionCancelled      Action = "cancelled"
	ActionExpired        Action = "expired"
)

// Outcome is the result of one session operation.
type Outcome struct {
	Action  Action
	Session models.SessionSnapshot
	Result  *models.InvocationResult
	Message string
}

type Options struct {
	BatchCap           int
	Timeout            time.Duration
	DoneWords          []string
	CancelWords        []string
	DefaultInstruction string
	WorkDir            string
	MaxFileSize        int64
	RecordTimeout      time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BatchCap:           cfg.Session.BatchCap,
		Timeout:            cfg.Session.Timeout,
		DoneWords:          cfg.Session.DoneWords,
		CancelWords:        cfg.Session.CancelWords,
		DefaultInstruction: cfg.Session.DefaultInstruction,
		WorkDir:            cfg.Claude.WorkDir,
		MaxFileSize:        cfg.Image.MaxFileSize,
	}
}

// Option configures optional collaborators of a Manager.
type Option func(*Manager)

func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

func WithLocalizer(l Localizer) Option {
	return func(m *Manager) {
		if l != nil {
			m.localizer = l
		}
	}
}

// Manager owns the session lifecycle of every user.
type Manager struct {
	opts      Options
	registry  *Registry
	batch     Batcher
	invoker   Invoker
	recorder  Recorder
	localizer Localizer
	logger    *zap.Logger

	doneWords   map[string]struct{}
	cancelWords map[string]struct{}

	tokensMu sync.Mutex
	tokens   map[int64]string
}

func NewManager(opts Options, registry *Registry, batch Batcher, invoker Invoker, logger *zap.Logger, options ...Option) *Manager {
	if opts.BatchCap < 1 {
		opts.BatchCap = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if strings.TrimSpace(opts.DefaultInstruction) == "" {
		opts.DefaultInstruction = config.DefaultInstruction
	}
	if opts.RecordTimeout <= 0 {
		opts.RecordTimeout = 5 * time.Second
	}
	if registry == nil {
		registry = NewRegistry()
	}

	m := &Manager{
		opts:        opts,
		registry:    registry,
		batch:       batch,
		invoker:     invoker,
		recorder:    nopRecorder{},
		localizer:   Messages{},
		logger:      logger,
		doneWords:   wordSet(opts.DoneWords),
		cancelWords: wordSet(opts.CancelWords),
		tokens:      make(map[int64]string),
	}
	for _, o := range options {
		o(m)
	}
	return m
}

func wordSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}

// Instructions returns the raw limits the transport shows to users.
func (m *Manager) Instructions() models.Instructions {
	return models.Instructions{
		BatchCap:         m.opts.BatchCap,
		MaxFileSize:      m.opts.MaxFileSize,
		SupportedFormats: models.SupportedFormats,
		SessionTimeout:   m.opts.Timeout,
		DoneWords:        m.opts.DoneWords,
		CancelWords:      m.opts.CancelWords,
	}
}

// Active returns the number of sessions collecting or submitting.
func (m *Manager) Active() int {
	return m.registry.Len()
}

// Start opens a new session for the user, superseding any active one.
func (m *Manager) Start(ctx context.Context, userID int64, instruction *string) (*Outcome, error) {
	s := &Session{
		id:          uuid.New().String(),
		userID:      userID,
		createdAt:   time.Now().UTC(),
		timeout:     m.opts.Timeout,
		state:       models.StateCollecting,
		instruction: normalizeInstruction(instruction),
	}

	s.mu.Lock()
	prev := m.registry.Swap(s)
	id := s.id
	s.timer = time.AfterFunc(m.opts.Timeout, func() { m.expire(userID, id) })
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if prev != nil {
		m.terminate(prev, models.StateCancelled, "superseded")
	}

	metrics.SessionStarted()
	m.recordSession(snap, models.SessionStatusActive, nil)
	m.logger.Info("Session started",
		zap.String("session_id", s.id),
		zap.Int64("user_id", userID),
		zap.Duration("timeout", m.opts.Timeout))

	return &Outcome{
		Action:  ActionStarted,
		Session: snap,
		Message: fmt.Sprintf(m.text("session.started",
			"Session started. Send up to %d images, then say done."), m.opts.BatchCap),
	}, nil
}

// AddImage appends an already processed image. The manager takes ownership
// of img: it is released if the session cannot accept it. Reaching the batch
// cap submits the batch.
func (m *Manager) AddImage(ctx context.Context, userID int64, img *models.ProcessedImage) (*Outcome, error) {
	s, err := m.collecting(userID)
	if err != nil {
		m.batch.Release([]*models.ProcessedImage{img})
		return nil, err
	}
	return m.append(ctx, s, []*models.ProcessedImage{img})
}

// AddImages validates raw uploads as one batch and appends them in order.
// A batch that does not fit into the remaining slots is rejected before any
// image is processed.
func (m *Manager) AddImages(ctx context.Context, userID int64, raws []models.RawImage) (*Outcome, error) {
	s, err := m.collecting(userID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	room := m.opts.BatchCap - len(s.images)
	s.mu.Unlock()
	if len(raws) > room {
		return nil, models.Errorf(models.KindBatchTooLarge, "add images",
			"%d images exceed the %d remaining slots", len(raws), room)
	}

	images, err := m.batch.Process(ctx, raws)
	if err != nil {
		return nil, err
	}
	return m.append(ctx, s, images)
}

func (m *Manager) append(ctx context.Context, s *Session, images []*models.ProcessedImage) (*Outcome, error) {
	s.mu.Lock()
	if s.state != models.StateCollecting {
		state := s.state
		s.mu.Unlock()
		m.batch.Release(images)
		return nil, models.Errorf(models.KindNoActiveSession, "add images", "session is %s", state)
	}
	if len(s.images)+len(images) > m.opts.BatchCap {
		room := m.opts.BatchCap - len(s.images)
		s.mu.Unlock()
		m.batch.Release(images)
		return nil, models.Errorf(models.KindBatchTooLarge, "add images",
			"%d images exceed the %d remaining slots", len(images), room)
	}

	s.images = append(s.images, images...)
	var sub *submission
	if len(s.images) >= m.opts.BatchCap {
		sub = m.beginSubmitLocked(ctx, s)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	for _, img := range images {
		m.recordImage(s, img, models.ImageStatusUploaded)
	}

	if sub != nil {
		m.logger.Info("Batch cap reached, submitting",
			zap.String("session_id", s.id),
			zap.Int("images", len(sub.images)))
		return m.runSubmission(sub)
	}

	return &Outcome{
		Action:  ActionImageAdded,
		Session: snap,
		Message: fmt.Sprintf(m.text("session.image_added",
			"Received %d of %d images."), snap.ImageCount, m.opts.BatchCap),
	}, nil
}

// SetInstruction replaces the instruction text. A blank text clears it so the
// default instruction applies.
func (m *Manager) SetInstruction(ctx context.Context, userID int64, text string) (*Outcome, error) {
	s, err := m.collecting(userID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.state != models.StateCollecting {
		state := s.state
		s.mu.Unlock()
		return nil, models.Errorf(models.KindNoActiveSession, "set instruction", "session is %s", state)
	}
	s.instruction = normalizeInstruction(&text)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	return &Outcome{
		Action:  ActionInstructionSet,
		Session: snap,
		Message: m.text("session.instruction_set", "Instruction saved."),
	}, nil
}

// RequestDone submits the batch. Without images it reports ActionNoImages
// and leaves the session collecting.
func (m *Manager) RequestDone(ctx context.Context, userID int64) (*Outcome, error) {
	s, err := m.collecting(userID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.state != models.StateCollecting {
		state := s.state
		s.mu.Unlock()
		return nil, models.Errorf(models.KindNoActiveSession, "done", "session is %s", state)
	}
	if len(s.images) == 0 {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return &Outcome{
			Action:  ActionNoImages,
			Session: snap,
			Message: m.text("session.no_images", "No images yet. Send at least one image first."),
		}, nil
	}
	sub := m.beginSubmitLocked(ctx, s)
	s.mu.Unlock()

	return m.runSubmission(sub)
}

// RequestCancel cancels the active session. Without one it reports
// ActionNoSession; cancelling twice is harmless.
func (m *Manager) RequestCancel(ctx context.Context, userID int64) (*Outcome, error) {
	s, ok := m.registry.Get(userID)
	if !ok || !m.terminate(s, models.StateCancelled, "user request") {
		return &Outcome{
			Action:  ActionNoSession,
			Message: m.text("session.none", "There is no active session."),
		}, nil
	}
	return &Outcome{
		Action:  ActionCancelled,
		Session: s.Snapshot(),
		Message: m.text("session.cancelled", "Session cancelled. Your images were discarded."),
	}, nil
}

// HandleText routes a text message: done and cancel keywords trigger their
// transitions, anything else becomes the instruction.
func (m *Manager) HandleText(ctx context.Context, userID int64, text string) (*Outcome, error) {
	word := strings.ToLower(strings.TrimSpace(text))
	if word == "" {
		return &Outcome{Action: ActionIgnored}, nil
	}
	if _, ok := m.cancelWords[word]; ok {
		return m.RequestCancel(ctx, userID)
	}
	if _, ok := m.doneWords[word]; ok {
		return m.RequestDone(ctx, userID)
	}
	return m.SetInstruction(ctx, userID, text)
}

// Status returns a snapshot of the user's active session.
func (m *Manager) Status(userID int64) (models.SessionSnapshot, error) {
	s, ok := m.registry.Get(userID)
	if !ok {
		return models.SessionSnapshot{}, models.Errorf(models.KindNoActiveSession, "status", "user %d has no active session", userID)
	}
	return s.Snapshot(), nil
}

// Reset cancels the user's session and forgets their continuation token.
func (m *Manager) Reset(ctx context.Context, userID int64) {
	if s, ok := m.registry.Get(userID); ok {
		m.terminate(s, models.StateCancelled, "reset")
	}
	m.tokensMu.Lock()
	delete(m.tokens, userID)
	m.tokensMu.Unlock()
}

// ContinuationToken returns the token remembered from the user's last
// successful invocation.
func (m *Manager) ContinuationToken(userID int64) (string, bool) {
	m.tokensMu.Lock()
	defer m.tokensMu.Unlock()
	token, ok := m.tokens[userID]
	return token, ok
}

// Shutdown cancels every active session.
func (m *Manager) Shutdown() {
	for _, s := range m.registry.All() {
		m.terminate(s, models.StateCancelled, "shutdown")
	}
}

func (m *Manager) collecting(userID int64) (*Session, error) {
	s, ok := m.registry.Get(userID)
	if !ok {
		return nil, models.Errorf(models.KindNoActiveSession, "session", "user %d has no active session", userID)
	}
	return s, nil
}

// expire runs on the session's timer. The id check keeps a stale timer from
// touching a replacement session.
func (m *Manager) expire(userID int64, id string) {
	s, ok := m.registry.Get(userID)
	if !ok || s.id != id {
		return
	}
	m.terminate(s, models.StateExpired, "timeout")
}

// terminate moves s to a terminal state. It returns false when s was already
// terminal. A session interrupted while submitting has its invocation
// cancelled; the submitter releases the images once the process returns.
func (m *Manager) terminate(s *Session, state models.SessionState, reason string) bool {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return false
	}
	prev := s.state
	s.state = state
	s.stopTimerLocked()
	cancel := s.cancel
	snap := s.snapshotLocked()
	s.mu.Unlock()

	m.registry.RemoveIf(s.userID, s.id)
	metrics.SessionEnded(string(state))

	if prev == models.StateSubmitting {
		if cancel != nil {
			cancel()
		}
	} else {
		m.releaseImages(s)
	}

	m.recordSession(snap, sessionStatus(state), nil)
	m.logger.Info("Session ended",
		zap.String("session_id", s.id),
		zap.Int64("user_id", s.userID),
		zap.String("state", string(state)),
		zap.String("reason", reason),
		zap.Int("images", snap.ImageCount))
	return true
}

type submission struct {
	session *Session
	images  []*models.ProcessedImage
	prompt  string
	ctx     context.Context
	cancel  context.CancelFunc
	snap    models.SessionSnapshot
}

// beginSubmitLocked moves s to Submitting. s.mu must be held.
func (m *Manager) beginSubmitLocked(ctx context.Context, s *Session) *submission {
	s.state = models.StateSubmitting
	images := append([]*models.ProcessedImage(nil), s.images...)

	instruction := m.text("session.default_instruction", m.opts.DefaultInstruction)
	if s.instruction != nil {
		instruction = *s.instruction
	}

	invokeCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	return &submission{
		session: s,
		images:  images,
		prompt:  BuildPrompt(instruction, images),
		ctx:     invokeCtx,
		cancel:  cancel,
		snap:    s.snapshotLocked(),
	}
}

func (m *Manager) runSubmission(sub *submission) (*Outcome, error) {
	defer sub.cancel()
	s := sub.session

	m.recordSession(sub.snap, models.SessionStatusProcessing, nil)
	for _, img := range sub.images {
		m.recordImage(s, img, models.ImageStatusProcessing)
	}

	req := models.BatchRequest{
		SessionID: s.id,
		UserID:    s.userID,
		Images:    sub.images,
		Prompt:    sub.prompt,
		WorkDir:   m.opts.WorkDir,
	}
	if token, ok := m.ContinuationToken(s.userID); ok {
		req.ContinuationToken = &token
	}

	result, err := m.invoker.Invoke(sub.ctx, req)
	if err == nil && result == nil {
		err = models.Errorf(models.KindGenericFailure, "invoke", "no result returned")
	}

	s.mu.Lock()
	final := s.state
	interrupted := final != models.StateSubmitting
	if !interrupted {
		final = models.StateCompleted
		if err != nil {
			final = models.StateFailed
		}
		s.state = final
		s.stopTimerLocked()
	}
	s.cancel = nil
	snap := s.snapshotLocked()
	s.mu.Unlock()

	m.releaseImages(s)

	if interrupted {
		action, msg := ActionCancelled, m.text("session.cancelled", "Session cancelled. Your images were discarded.")
		if final == models.StateExpired {
			action, msg = ActionExpired, m.text("session.expired", "Session expired. Your images were discarded.")
		}
		return &Outcome{Action: action, Session: snap, Message: msg}, nil
	}

	m.registry.RemoveIf(s.userID, s.id)
	metrics.SessionEnded(string(final))

	if err != nil {
		for _, img := range sub.images {
			m.recordImage(s, img, models.ImageStatusFailed)
		}
		m.recordSession(snap, models.SessionStatusFailed, nil)
		m.logger.Warn("Batch submission failed",
			zap.String("session_id", s.id),
			zap.Int64("user_id", s.userID),
			zap.String("kind", string(models.KindOf(err))),
			zap.Error(err))
		return &Outcome{
			Action:  ActionFailed,
			Session: snap,
			Message: m.text("session.failed", "Processing failed. Please start a new session and try again."),
		}, err
	}

	if result.ContinuationToken != nil && *result.ContinuationToken != "" {
		m.tokensMu.Lock()
		m.tokens[s.userID] = *result.ContinuationToken
		m.tokensMu.Unlock()
	}

	for _, img := range sub.images {
		m.recordImage(s, img, models.ImageStatusCompleted)
	}
	m.recordSession(snap, models.SessionStatusCompleted, result.Cost)
	m.logger.Info("Batch submitted",
		zap.String("session_id", s.id),
		zap.Int64("user_id", s.userID),
		zap.Int("images", len(sub.images)),
		zap.Duration("duration", result.Duration))

	return &Outcome{Action: ActionCompleted, Session: snap, Result: result}, nil
}

func (m *Manager) releaseImages(s *Session) {
	if n := s.release(m.batch); n > 0 {
		m.logger.Debug("Session images released", zap.String("session_id", s.id), zap.Int("released", n))
	}
}

func (m *Manager) text(key, fallback string) string {
	return m.localizer.Localize(key, fallback)
}

func (m *Manager) recordSession(snap models.SessionSnapshot, status string, cost *float64) {
	now := time.Now().UTC()
	rec := models.SessionRecord{
		SessionID:   snap.ID,
		UserID:      snap.UserID,
		Instruction: snap.Instruction,
		Status:      status,
		ImageCount:  snap.ImageCount,
		CreatedAt:   snap.CreatedAt,
		UpdatedAt:   now,
		Cost:        cost,
	}
	if snap.State.Terminal() {
		rec.CompletedAt = &now
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.RecordTimeout)
	defer cancel()
	if err := m.recorder.RecordSession(ctx, rec); err != nil {
		m.logger.Warn("Failed to record session",
			zap.String("session_id", snap.ID),
			zap.String("status", status),
			zap.Error(err))
	}
}

func (m *Manager) recordImage(s *Session, img *models.ProcessedImage, status string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.RecordTimeout)
	defer cancel()
	if err := m.recorder.RecordImage(ctx, models.NewImageRecord(s.userID, s.id, img, status)); err != nil {
		m.logger.Warn("Failed to record image",
			zap.String("session_id", s.id),
			zap.String("filename", img.Filename),
			zap.Error(err))
	}
}

func sessionStatus(state models.SessionState) string {
	switch state {
	case models.StateCompleted:
		return models.SessionStatusCompleted
	case models.StateFailed:
		return models.SessionStatusFailed
	case models.StateCancelled:
		return models.SessionStatusCancelled
	case models.StateExpired:
		return models.SessionStatusExpired
	case models.StateSubmitting:
		return models.SessionStatusProcessing
	default:
		return models.SessionStatusActive
	}
}

func normalizeInstruction(text *string) *string {
	if text == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*text)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
