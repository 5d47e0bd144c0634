package handlers

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/phambaophuc/image-relay/internal/models"
	"github.com/phambaophuc/image-relay/internal/services/session"
	"github.com/phambaophuc/image-relay/pkg/utils"
	"go.uber.org/zap"
)

// === REQUEST PARSING ===

func (h *SessionHandler) userID(c *gin.Context) (int64, bool) {
	raw := c.Param(userIDParamKey)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.respondError(c, http.StatusBadRequest, fmt.Sprintf("invalid user id %q", raw))
		return 0, false
	}
	return id, true
}

func (h *SessionHandler) parseMultipartFiles(c *gin.Context) ([]*multipart.FileHeader, error) {
	if err := c.Request.ParseMultipartForm(h.maxUpload); err != nil {
		return nil, fmt.Errorf("failed to parse form data: %v", err)
	}

	files := c.Request.MultipartForm.File[imagesParamKey]
	if len(files) == 0 {
		return nil, fmt.Errorf("no images provided")
	}

	for _, fh := range files {
		if ct := fh.Header.Get("Content-Type"); !utils.IsImageContentType(ct) {
			return nil, fmt.Errorf("%s: content type %s is not an image", fh.Filename, ct)
		}
	}

	return files, nil
}

func buildRawImages(userID int64, files []*multipart.FileHeader, opened []multipart.File, captions []string) []models.RawImage {
	raws := make([]models.RawImage, len(files))
	for i, fh := range files {
		raws[i] = models.RawImage{
			Reader:   opened[i],
			Filename: utils.SanitizeFilename(fh.Filename),
			UserID:   userID,
		}
		if i < len(captions) && strings.TrimSpace(captions[i]) != "" {
			caption := captions[i]
			raws[i].Caption = &caption
		}
	}
	return raws
}

// === FILE OPERATIONS ===

func openFiles(files []*multipart.FileHeader) ([]multipart.File, error) {
	var openedFiles []multipart.File

	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			closeFiles(openedFiles)
			return nil, err
		}
		openedFiles = append(openedFiles, f)
	}

	return openedFiles, nil
}

func closeFiles(files []multipart.File) {
	for _, file := range files {
		if file != nil {
			file.Close()
		}
	}
}

// === RESPONSE HANDLING ===

func (h *SessionHandler) respondError(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, models.APIResponse{
		Success: false,
		Error:   message,
	})
}

func (h *SessionHandler) respondKindError(c *gin.Context, err error) {
	kind := models.KindOf(err)
	c.JSON(statusForKind(kind), models.APIResponse{
		Success: false,
		Error:   err.Error(),
		Kind:    kind,
	})
}

// respondOutcome writes the reply of a session operation. A failed
// submission still carries its outcome next to the error.
func (h *SessionHandler) respondOutcome(c *gin.Context, okStatus int, outcome *session.Outcome, err error) {
	if err != nil {
		kind := models.KindOf(err)
		if kind == models.KindGenericFailure {
			h.logger.Error("Session operation failed", zap.String("path", c.FullPath()), zap.Error(err))
		}
		resp := models.APIResponse{Success: false, Error: err.Error(), Kind: kind}
		if outcome != nil {
			resp.Data = h.reply(outcome)
		}
		c.JSON(statusForKind(kind), resp)
		return
	}

	c.JSON(okStatus, models.APIResponse{
		Success: true,
		Data:    h.reply(outcome),
	})
}

func (h *SessionHandler) reply(outcome *session.Outcome) models.ReplyResponse {
	resp := models.ReplyResponse{
		Action: string(outcome.Action),
		Result: outcome.Result,
	}
	if outcome.Session.ID != "" {
		snap := outcome.Session
		resp.Session = &snap
	}

	text := outcome.Message
	if outcome.Result != nil && outcome.Result.Output != "" {
		text = outcome.Result.Output
	}
	resp.Segments = utils.SplitSegments(text, h.segmentLimit)
	return resp
}

// === UTILITY METHODS ===

func statusForKind(kind models.ErrorKind) int {
	switch kind {
	case models.KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case models.KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case models.KindSecurityRejected, models.KindDimensionOutOfRange, models.KindBatchTooLarge:
		return http.StatusUnprocessableEntity
	case models.KindNoActiveSession:
		return http.StatusConflict
	case models.KindTimeout:
		return http.StatusGatewayTimeout
	case models.KindProcessFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func calculateOverallHealth(services map[string]string) string {
	for _, status := range services {
		if status != "healthy" && status != "not configured" {
			return "unhealthy"
		}
	}
	return "healthy"
}
