package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/phambaophuc/image-relay/internal/config"
	"github.com/phambaophuc/image-relay/internal/models"
	"github.com/phambaophuc/image-relay/internal/services/session"
	"github.com/phambaophuc/image-relay/pkg/utils"
	"go.uber.org/zap"
)

const (
	imagesParamKey   = "images"
	captionsParamKey = "captions"
	userIDParamKey   = "user_id"
)

// CapabilityProber reports what the external tool supports.
type CapabilityProber interface {
	Probe(ctx context.Context) (*models.Capabilities, error)
}

// HealthFunc reports the status of each dependency by name.
type HealthFunc func(ctx context.Context) map[string]string

type SessionHandler struct {
	manager      *session.Manager
	prober       CapabilityProber
	health       HealthFunc
	logger       *zap.Logger
	maxUpload    int64
	segmentLimit int
}

func NewSessionHandler(
	manager *session.Manager,
	prober CapabilityProber,
	health HealthFunc,
	logger *zap.Logger,
	cfg *config.Config,
) *SessionHandler {
	return &SessionHandler{
		manager:      manager,
		prober:       prober,
		health:       health,
		logger:       logger,
		maxUpload:    cfg.Image.MaxFileSize * int64(cfg.Session.BatchCap),
		segmentLimit: utils.DefaultSegmentLimit,
	}
}

// HealthCheck
func (h *SessionHandler) HealthCheck(c *gin.Context) {
	services := map[string]string{}
	if h.health != nil {
		services = h.health(c.Request.Context())
	}
	services["sessions"] = "healthy"
	overall := calculateOverallHealth(services)

	statusCode := http.StatusOK
	if overall == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, models.APIResponse{
		Success: overall == "healthy",
		Data: models.HealthCheck{
			Status:    overall,
			Timestamp: time.Now(),
			Services:  services,
		},
	})
}

// Info returns the limits users need before uploading.
func (h *SessionHandler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Data:    h.manager.Instructions(),
	})
}

func (h *SessionHandler) Capabilities(c *gin.Context) {
	if h.prober == nil {
		h.respondError(c, http.StatusServiceUnavailable, "capability probe not configured")
		return
	}
	caps, err := h.prober.Probe(c.Request.Context())
	if err != nil {
		h.logger.Warn("Capability probe failed", zap.Error(err))
		h.respondError(c, http.StatusBadGateway, "external tool unavailable")
		return
	}
	c.JSON(http.StatusOK, models.APIResponse{Success: true, Data: caps})
}

func (h *SessionHandler) StartSession(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req models.StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.respondError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	outcome, err := h.manager.Start(c.Request.Context(), userID, req.Instruction)
	h.respondOutcome(c, http.StatusCreated, outcome, err)
}

func (h *SessionHandler) Status(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	snap, err := h.manager.Status(userID)
	if err != nil {
		h.respondKindError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.APIResponse{Success: true, Data: snap})
}

// UploadImages adds every file of the multipart field "images" to the
// session as one batch. Captions pair with files by position.
func (h *SessionHandler) UploadImages(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	files, err := h.parseMultipartFiles(c)
	if err != nil {
		h.respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	opened, err := openFiles(files)
	if err != nil {
		h.respondError(c, http.StatusInternalServerError, "Failed to open files: "+err.Error())
		return
	}
	defer closeFiles(opened)

	raws := buildRawImages(userID, files, opened, c.PostFormArray(captionsParamKey))
	outcome, err := h.manager.AddImages(c.Request.Context(), userID, raws)
	h.respondOutcome(c, http.StatusOK, outcome, err)
}

// Message routes free text: keywords finish or cancel, anything else
// becomes the instruction.
func (h *SessionHandler) Message(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req models.MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	outcome, err := h.manager.HandleText(c.Request.Context(), userID, req.Text)
	h.respondOutcome(c, http.StatusOK, outcome, err)
}

func (h *SessionHandler) Done(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	outcome, err := h.manager.RequestDone(c.Request.Context(), userID)
	h.respondOutcome(c, http.StatusOK, outcome, err)
}

func (h *SessionHandler) Cancel(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	outcome, err := h.manager.RequestCancel(c.Request.Context(), userID)
	h.respondOutcome(c, http.StatusOK, outcome, err)
}

// Reset cancels the session and forgets the conversation continuation.
func (h *SessionHandler) Reset(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	h.manager.Reset(c.Request.Context(), userID)
	c.JSON(http.StatusOK, models.APIResponse{Success: true})
}
